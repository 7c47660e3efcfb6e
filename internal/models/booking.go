package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusPaid      BookingStatus = "paid"
	StatusCancelled BookingStatus = "cancelled"
)

// PaymentStatusError marks a booking whose payment intent could not be
// created. The booking itself is still recorded.
const PaymentStatusError = "error"

// ValidStatus reports whether s is one of the three booking statuses.
func ValidStatus(s string) bool {
	switch BookingStatus(s) {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	BookingID       string        `bun:"booking_id,pk" json:"booking_id"`
	CreatedAt       time.Time     `bun:"created_at" json:"created_at"`
	Name            string        `bun:"name" json:"name"`
	Phone           string        `bun:"phone" json:"phone"`
	Tickets         int           `bun:"tickets" json:"tickets"`
	TicketPrice     float64       `bun:"ticket_price" json:"ticket_price"`
	TotalAmount     float64       `bun:"total_amount" json:"total_amount"`
	Status          BookingStatus `bun:"status" json:"status"`
	PaymentIntentID string        `bun:"payment_intent_id" json:"payment_intent_id"`
	PaymentStatus   string        `bun:"payment_status" json:"payment_status"`
	RedirectURL     string        `bun:"redirect_url" json:"redirect_url"`
	Notes           string        `bun:"notes" json:"notes"`
}

type BookingRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Tickets int    `json:"tickets"`
	Notes   string `json:"notes,omitempty"`
}

// BookingResponse is what the create endpoint returns. PaymentUnavailable is
// set when the booking was recorded but the gateway could not issue a payment
// link; callers must surface that differently from a rejected booking.
type BookingResponse struct {
	Booking
	PaymentUnavailable bool `json:"payment_unavailable"`
}

type StatusOverrideRequest struct {
	Status string `json:"status"`
}

// SweepReport summarizes one reconciliation pass over all bookings that carry
// a payment reference.
type SweepReport struct {
	Paid      int `json:"paid"`
	Cancelled int `json:"cancelled"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// Summary is the operator dashboard aggregate.
type Summary struct {
	TotalBookings int     `json:"total_bookings"`
	TotalTickets  int     `json:"total_tickets"`
	TotalAmount   float64 `json:"total_amount"`
	PaidAmount    float64 `json:"paid_amount"`
	PendingAmount float64 `json:"pending_amount"`
}

type BookingEvent struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	BookingID string    `json:"booking_id"`
	Booking   *Booking  `json:"booking"`
	Timestamp time.Time `json:"timestamp"`
}
