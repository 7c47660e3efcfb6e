package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// The hosted-checkout API substitutes this token with the created intent's id
// when building the return URLs.
const intentPlaceholder = "{PAYMENT_INTENT_ID}"

// TokenPlaceholder is the value shipped in example env files. A client
// carrying it is treated as unconfigured.
const TokenPlaceholder = "PUT_YOUR_GATEWAY_ACCESS_TOKEN"

// Raw intent statuses the reconciliation mapping acts on. Anything else
// leaves the local booking status untouched.
const (
	IntentCompleted          = "completed"
	IntentFailed             = "failed"
	IntentCanceled           = "canceled"
	IntentRequiresInstrument = "requires_payment_instrument"
)

// ErrNotConfigured is returned before any network call when the bearer
// credential is absent or still the placeholder.
var ErrNotConfigured = errors.New("gateway: access token not configured")

// UnavailableError is a transport-level failure: timeout, connection refused,
// or an unreadable response. Callers treat it as non-fatal.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("gateway unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError is any HTTP status >= 400 from the gateway. The body is
// diagnostic text only and is never parsed further.
type RejectedError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected %s (%d): %s", e.Op, e.StatusCode, e.Body)
}

// Intent is the subset of the gateway's payment intent object this engine
// reads. Status strings are stored verbatim on the booking.
type Intent struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

type Config struct {
	BaseURL       string
	AccessToken   string
	ReturnBaseURL string
	Currency      string
	TestMode      bool
	Timeout       time.Duration
}

// Client is a stateless wrapper around the two gateway operations. It never
// retries; retry policy belongs to the caller.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "AED"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether a usable bearer credential is present.
func (c *Client) Configured() bool {
	return c.cfg.AccessToken != "" && c.cfg.AccessToken != TokenPlaceholder
}

// MinorUnits converts a major-unit amount to the gateway's minor unit
// (fils for AED). Rounding must be exact for currency correctness.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type createIntentRequest struct {
	Amount       int64  `json:"amount"`
	CurrencyCode string `json:"currency_code"`
	Message      string `json:"message"`
	SuccessURL   string `json:"success_url"`
	CancelURL    string `json:"cancel_url"`
	FailureURL   string `json:"failure_url"`
	Test         bool   `json:"test"`
}

func (c *Client) returnURL(result string) string {
	base := strings.TrimRight(c.cfg.ReturnBaseURL, "/")
	return fmt.Sprintf("%s/payment/return?result=%s&pi_id=%s", base, result, intentPlaceholder)
}

// CreateIntent registers a payment attempt with the gateway and returns the
// intent id, hosted-checkout redirect URL and initial status.
func (c *Client) CreateIntent(ctx context.Context, amount float64, message string) (*Intent, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body := createIntentRequest{
		Amount:       MinorUnits(amount),
		CurrencyCode: c.cfg.Currency,
		Message:      message,
		SuccessURL:   c.returnURL("success"),
		CancelURL:    c.returnURL("cancel"),
		FailureURL:   c.returnURL("failure"),
		Test:         c.cfg.TestMode,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/payment_intent", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "create_intent")
}

// GetIntent fetches the current state of a payment intent by id.
func (c *Client) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/payment_intent/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	return c.do(req, "get_intent")
}

func (c *Client) do(req *http.Request, op string) (*Intent, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RejectedError{Op: op, StatusCode: resp.StatusCode, Body: string(diag)}
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, &UnavailableError{Op: op, Err: err}
	}
	if intent.Status == "" {
		intent.Status = IntentRequiresInstrument
	}
	return &intent, nil
}
