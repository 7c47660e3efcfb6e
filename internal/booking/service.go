package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snowpark-booking/internal/gateway"
	"snowpark-booking/internal/logger"
	"snowpark-booking/internal/metrics"
	"snowpark-booking/internal/models"
)

// ValidationError rejects malformed booking input at the boundary. The
// booking is not created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid booking: %s %s", e.Field, e.Reason)
}

type Store interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	ListBookings(ctx context.Context) ([]models.Booking, error)
	ListRecentBookings(ctx context.Context, limit int) ([]models.Booking, error)
	ListBookingsWithIntent(ctx context.Context) ([]models.Booking, error)
	UpdateBooking(ctx context.Context, b models.Booking) error
	UpdateBookings(ctx context.Context, bookings []models.Booking) error
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount float64, message string) (*gateway.Intent, error)
	GetIntent(ctx context.Context, id string) (*gateway.Intent, error)
}

// Locker serializes booking creation so that the read-snapshot → allocate-id
// → insert sequence runs under a single writer.
type Locker interface {
	Lock(ctx context.Context) (owner string, err error)
	Unlock(ctx context.Context, owner string) error
}

type Publisher interface {
	PublishBookingCreated(b models.Booking) error
	PublishBookingStatusChanged(b models.Booking) error
}

type Service struct {
	Store   Store
	Gateway Gateway
	Lock    Locker
	Events  Publisher
	Logger  *logger.Logger

	UnitPrice  float64
	MaxTickets int

	// Now is swappable for tests.
	Now func() time.Time
}

func NewService(store Store, gw Gateway, lock Locker, events Publisher, log *logger.Logger, unitPrice float64, maxTickets int) *Service {
	if maxTickets <= 0 {
		maxTickets = 20
	}
	return &Service{
		Store:      store,
		Gateway:    gw,
		Lock:       lock,
		Events:     events,
		Logger:     log,
		UnitPrice:  unitPrice,
		MaxTickets: maxTickets,
		Now:        time.Now,
	}
}

// Create validates the request, allocates a daily-sequential id, registers a
// payment intent with the gateway and persists the booking. Gateway failure
// never blocks creation: the booking is recorded with empty payment fields
// and payment_status "error" so the operator can pick it up later.
func (s *Service) Create(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, &ValidationError{Field: "phone", Reason: "must not be empty"}
	}
	if req.Tickets < 1 || req.Tickets > s.MaxTickets {
		return nil, &ValidationError{
			Field:  "tickets",
			Reason: fmt.Sprintf("must be between 1 and %d", s.MaxTickets),
		}
	}

	owner, err := s.Lock.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking creation lock: %w", err)
	}
	defer func() {
		if err := s.Lock.Unlock(ctx, owner); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("failed to release creation lock: %v", err))
		}
	}()

	all, err := s.Store.ListBookings(ctx)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	b := models.Booking{
		BookingID:   NextBookingID(all, now),
		CreatedAt:   now,
		Name:        req.Name,
		Phone:       req.Phone,
		Tickets:     req.Tickets,
		TicketPrice: s.UnitPrice,
		TotalAmount: float64(req.Tickets) * s.UnitPrice,
		Status:      models.StatusPending,
		Notes:       req.Notes,
	}

	message := fmt.Sprintf("Snowpark booking %s - %s", b.BookingID, b.Name)
	intent, gerr := s.Gateway.CreateIntent(ctx, b.TotalAmount, message)
	if gerr != nil {
		// Losing a ticket request is worse than a missing payment link
		// the operator can chase up, so the booking goes in anyway.
		s.Logger.Error("GATEWAY", fmt.Sprintf("create intent for %s failed: %v", b.BookingID, gerr))
		b.PaymentStatus = models.PaymentStatusError
		metrics.BookingsCreated.WithLabelValues("payment_unavailable").Inc()
	} else {
		b.PaymentIntentID = intent.ID
		b.RedirectURL = intent.RedirectURL
		b.PaymentStatus = intent.Status
		metrics.BookingsCreated.WithLabelValues("ok").Inc()
	}

	if err := s.Store.CreateBooking(ctx, &b); err != nil {
		return nil, err
	}
	s.Logger.LogBooking("CREATE", b.BookingID, fmt.Sprintf("%d ticket(s), %.2f total", b.Tickets, b.TotalAmount))

	if s.Events != nil {
		if err := s.Events.PublishBookingCreated(b); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish booking created: %v", err))
		}
	}
	return &b, nil
}

// Get returns one booking by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Booking, error) {
	return s.Store.GetBookingByID(ctx, id)
}

// List returns bookings for the operator view, newest first. limit <= 0
// returns everything.
func (s *Service) List(ctx context.Context, limit int) ([]models.Booking, error) {
	return s.Store.ListRecentBookings(ctx, limit)
}

// applyIntentStatus maps a raw gateway status onto the booking. The raw value
// is always stored verbatim in payment_status; the local status only moves on
// the statuses in the mapping table. The mapping is total and idempotent.
// Returns (statusChanged, anythingChanged).
func applyIntentStatus(b *models.Booking, raw string) (bool, bool) {
	anyChanged := b.PaymentStatus != raw
	b.PaymentStatus = raw

	statusChanged := false
	switch raw {
	case gateway.IntentCompleted:
		if b.Status != models.StatusPaid {
			b.Status = models.StatusPaid
			statusChanged = true
		}
	case gateway.IntentFailed, gateway.IntentCanceled:
		if b.Status != models.StatusCancelled {
			b.Status = models.StatusCancelled
			statusChanged = true
		}
	}
	return statusChanged, statusChanged || anyChanged
}

// ReconcileOne refreshes the booking that carries the given payment reference
// from the gateway's authoritative intent status. A gateway failure is
// non-fatal and returns the last known local state unchanged. An unknown
// reference is a no-op, not an error, and returns nil.
func (s *Service) ReconcileOne(ctx context.Context, intentID string) (*models.Booking, error) {
	var b *models.Booking
	found, err := s.Store.GetBookingByIntentID(ctx, intentID)
	switch {
	case err == nil:
		b = found
	case errors.Is(err, sql.ErrNoRows):
		// keep going; the intent fetch result still decides the response
	default:
		return nil, fmt.Errorf("store: lookup by intent %s: %w", intentID, err)
	}

	intent, gerr := s.Gateway.GetIntent(ctx, intentID)
	if gerr != nil {
		s.Logger.Error("GATEWAY", fmt.Sprintf("get intent %s failed: %v", intentID, gerr))
		return b, nil
	}
	if b == nil {
		return nil, nil
	}

	statusChanged, anyChanged := applyIntentStatus(b, intent.Status)
	if !anyChanged {
		return b, nil
	}

	if err := s.Store.UpdateBooking(ctx, *b); err != nil {
		return nil, err
	}
	if statusChanged {
		metrics.ReconcileTransitions.WithLabelValues(string(b.Status)).Inc()
		s.Logger.LogBooking("RECONCILE", b.BookingID, fmt.Sprintf("status → %s (gateway: %s)", b.Status, intent.Status))
		if s.Events != nil {
			if err := s.Events.PublishBookingStatusChanged(*b); err != nil {
				s.Logger.Warn("KAFKA", fmt.Sprintf("publish status change: %v", err))
			}
		}
	}
	return b, nil
}

// ReconcileAll sweeps every booking with an outstanding payment reference,
// reapplies the status mapping per record, and performs a single bulk persist
// at the end - but only when at least one record's local status actually
// moved. Safe to run repeatedly.
func (s *Service) ReconcileAll(ctx context.Context) (models.SweepReport, error) {
	var report models.SweepReport

	bookings, err := s.Store.ListBookingsWithIntent(ctx)
	if err != nil {
		return report, err
	}

	var dirty []models.Booking
	var transitioned []models.Booking
	statusChangedAny := false

	for i := range bookings {
		b := &bookings[i]
		intent, gerr := s.Gateway.GetIntent(ctx, b.PaymentIntentID)
		if gerr != nil {
			s.Logger.Warn("GATEWAY", fmt.Sprintf("sweep: get intent %s failed: %v", b.PaymentIntentID, gerr))
			report.Errors++
			continue
		}

		statusChanged, anyChanged := applyIntentStatus(b, intent.Status)
		if statusChanged {
			statusChangedAny = true
			transitioned = append(transitioned, *b)
			switch b.Status {
			case models.StatusPaid:
				report.Paid++
			case models.StatusCancelled:
				report.Cancelled++
			}
			metrics.ReconcileTransitions.WithLabelValues(string(b.Status)).Inc()
		} else {
			report.Unchanged++
		}
		if anyChanged {
			dirty = append(dirty, *b)
		}
	}

	if statusChangedAny {
		if err := s.Store.UpdateBookings(ctx, dirty); err != nil {
			return report, err
		}
		if s.Events != nil {
			for _, b := range transitioned {
				if err := s.Events.PublishBookingStatusChanged(b); err != nil {
					s.Logger.Warn("KAFKA", fmt.Sprintf("publish status change: %v", err))
				}
			}
		}
	}

	metrics.SweepRuns.Inc()
	s.Logger.LogSweep(fmt.Sprintf("paid=%d cancelled=%d unchanged=%d errors=%d",
		report.Paid, report.Cancelled, report.Unchanged, report.Errors))
	return report, nil
}

// Override sets a booking's status directly, bypassing the gateway. It is the
// operator's trapdoor for disputes and deliberately leaves payment_status
// alone. The write always persists immediately.
func (s *Service) Override(ctx context.Context, bookingID, status string) (*models.Booking, error) {
	if !models.ValidStatus(status) {
		return nil, &ValidationError{Field: "status", Reason: "must be pending, paid or cancelled"}
	}

	b, err := s.Store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatus(status)
	if err := s.Store.UpdateBooking(ctx, *b); err != nil {
		return nil, err
	}
	s.Logger.LogBooking("OVERRIDE", b.BookingID, fmt.Sprintf("status set to %s by operator", b.Status))

	if s.Events != nil {
		if err := s.Events.PublishBookingStatusChanged(*b); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish status change: %v", err))
		}
	}
	return b, nil
}

// Summary aggregates the operator dashboard figures over all bookings.
func (s *Service) Summary(ctx context.Context) (models.Summary, error) {
	var sum models.Summary
	bookings, err := s.Store.ListBookings(ctx)
	if err != nil {
		return sum, err
	}
	for _, b := range bookings {
		sum.TotalBookings++
		sum.TotalTickets += b.Tickets
		sum.TotalAmount += b.TotalAmount
		switch b.Status {
		case models.StatusPaid:
			sum.PaidAmount += b.TotalAmount
		case models.StatusPending:
			sum.PendingAmount += b.TotalAmount
		}
	}
	return sum, nil
}
