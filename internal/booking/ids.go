package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"snowpark-booking/internal/models"
)

// NextBookingID computes the next daily-sequential booking id from a store
// snapshot, e.g. SL-20240101-003. The snapshot must be in creation order:
// the suffix continues from the last id carrying today's prefix. Pure
// function; callers serialize around it.
func NextBookingID(all []models.Booking, now time.Time) string {
	prefix := fmt.Sprintf("SL-%s-", now.Format("20060102"))

	var last string
	count := 0
	for _, b := range all {
		if strings.HasPrefix(b.BookingID, prefix) {
			last = b.BookingID
			count++
		}
	}

	seq := 1
	if last != "" {
		suffix := last[strings.LastIndex(last, "-")+1:]
		if n, err := strconv.Atoi(suffix); err == nil {
			seq = n + 1
		} else {
			// unparsable suffix: degrade to position-based numbering
			// rather than failing the whole creation
			seq = count + 1
		}
	}

	return fmt.Sprintf("%s%03d", prefix, seq)
}
