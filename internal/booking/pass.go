package booking

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"snowpark-booking/internal/models"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// ErrPassNotPaid is returned when an entry pass is requested for a booking
// that the gateway has not confirmed as paid.
var ErrPassNotPaid = errors.New("entry pass requires a paid booking")

// PassGenerator renders the QR entry pass shown at the gate. The payload is
// AES-GCM encrypted so a pass cannot be forged from a screenshot of someone
// else's booking details.
type PassGenerator struct {
	secret []byte
}

func NewPassGenerator(secret string) *PassGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &PassGenerator{secret: hashed[:]}
}

type passPayload struct {
	Serial    string    `json:"serial"`
	BookingID string    `json:"booking_id"`
	Name      string    `json:"name"`
	Tickets   int       `json:"tickets"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Generate returns a PNG QR code for a paid booking.
func (g *PassGenerator) Generate(b models.Booking) ([]byte, error) {
	if b.Status != models.StatusPaid {
		return nil, ErrPassNotPaid
	}

	payload := passPayload{
		Serial:    uuid.NewString(),
		BookingID: b.BookingID,
		Name:      b.Name,
		Tickets:   b.Tickets,
		IssuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	encrypted, err := encryptAES(data, g.secret)
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}
