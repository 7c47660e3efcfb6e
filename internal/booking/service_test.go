package booking_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"snowpark-booking/internal/booking"
	"snowpark-booking/internal/gateway"
	"snowpark-booking/internal/logger"
	"snowpark-booking/internal/models"
)

// Mock implementations
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockStore) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockStore) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockStore) ListBookings(ctx context.Context) ([]models.Booking, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockStore) ListRecentBookings(ctx context.Context, limit int) ([]models.Booking, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockStore) ListBookingsWithIntent(ctx context.Context) ([]models.Booking, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockStore) UpdateBooking(ctx context.Context, b models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockStore) UpdateBookings(ctx context.Context, bookings []models.Booking) error {
	args := m.Called(ctx, bookings)
	return args.Error(0)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateIntent(ctx context.Context, amount float64, message string) (*gateway.Intent, error) {
	args := m.Called(ctx, amount, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockGateway) GetIntent(ctx context.Context, id string) (*gateway.Intent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

// noopLocker always grants the lock; creation serialization is covered by the
// redis package tests.
type noopLocker struct{}

func (noopLocker) Lock(ctx context.Context) (string, error)       { return "owner", nil }
func (noopLocker) Unlock(ctx context.Context, owner string) error { return nil }

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishBookingCreated(b models.Booking) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockPublisher) PublishBookingStatusChanged(b models.Booking) error {
	args := m.Called(b)
	return args.Error(0)
}

func newTestService(store *MockStore, gw *MockGateway) *booking.Service {
	svc := booking.NewService(store, gw, noopLocker{}, nil, logger.Discard(), 175.0, 20)
	svc.Now = func() time.Time {
		return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	return svc
}

// Tests start here
func TestCreateBooking(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	existing := []models.Booking{
		{BookingID: "SL-20240101-001"},
		{BookingID: "SL-20240101-002"},
	}
	mockStore.On("ListBookings", mock.Anything).Return(existing, nil)
	mockGateway.On("CreateIntent", mock.Anything, 350.0, mock.Anything).Return(&gateway.Intent{
		ID:          "pi_1",
		Status:      "requires_payment_instrument",
		RedirectURL: "https://pay.example/pi_1",
	}, nil)
	mockStore.On("CreateBooking", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
		return b.BookingID == "SL-20240101-003"
	})).Return(nil)

	b, err := svc.Create(context.Background(), models.BookingRequest{
		Name:    "Aisha",
		Phone:   "+971500000001",
		Tickets: 2,
	})

	assert.NoError(t, err)
	assert.Equal(t, "SL-20240101-003", b.BookingID)
	assert.Equal(t, 350.0, b.TotalAmount)
	assert.Equal(t, 175.0, b.TicketPrice)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, "pi_1", b.PaymentIntentID)
	assert.Equal(t, "https://pay.example/pi_1", b.RedirectURL)
	assert.Equal(t, "requires_payment_instrument", b.PaymentStatus)

	mockStore.AssertExpectations(t)
	mockGateway.AssertExpectations(t)
}

func TestCreateBookingGatewayDown(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	mockStore.On("ListBookings", mock.Anything).Return([]models.Booking{}, nil)
	mockGateway.On("CreateIntent", mock.Anything, 175.0, mock.Anything).
		Return(nil, &gateway.UnavailableError{Op: "create intent", Err: errors.New("connection refused")})
	mockStore.On("CreateBooking", mock.Anything, mock.Anything).Return(nil)

	b, err := svc.Create(context.Background(), models.BookingRequest{
		Name:    "Omar",
		Phone:   "+971500000002",
		Tickets: 1,
	})

	// The booking is recorded even though no payment link exists.
	assert.NoError(t, err)
	assert.Equal(t, "SL-20240101-001", b.BookingID)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.PaymentStatusError, b.PaymentStatus)
	assert.Empty(t, b.PaymentIntentID)
	assert.Empty(t, b.RedirectURL)

	mockStore.AssertExpectations(t)
}

func TestCreateBookingValidation(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	cases := []struct {
		name string
		req  models.BookingRequest
	}{
		{"empty name", models.BookingRequest{Name: "  ", Phone: "+97150", Tickets: 1}},
		{"empty phone", models.BookingRequest{Name: "Aisha", Phone: "", Tickets: 1}},
		{"zero tickets", models.BookingRequest{Name: "Aisha", Phone: "+97150", Tickets: 0}},
		{"negative tickets", models.BookingRequest{Name: "Aisha", Phone: "+97150", Tickets: -3}},
		{"too many tickets", models.BookingRequest{Name: "Aisha", Phone: "+97150", Tickets: 21}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := svc.Create(context.Background(), tc.req)
			assert.Nil(t, b)
			var verr *booking.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	// Nothing should have reached the store or the gateway.
	mockStore.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	mockGateway.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBookingSequentialIDs(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	var stored []models.Booking
	mockGateway.On("CreateIntent", mock.Anything, mock.Anything, mock.Anything).Return(&gateway.Intent{
		ID:          "pi_any",
		Status:      "requires_payment_instrument",
		RedirectURL: "https://pay.example/pi_any",
	}, nil)
	mockStore.On("CreateBooking", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = append(stored, *args.Get(1).(*models.Booking))
	}).Return(nil)

	want := []string{"SL-20240101-001", "SL-20240101-002", "SL-20240101-003", "SL-20240101-004"}
	for i, id := range want {
		mockStore.On("ListBookings", mock.Anything).
			Return(append([]models.Booking(nil), stored...), nil).Once()
		b, err := svc.Create(context.Background(), models.BookingRequest{
			Name:    "Guest",
			Phone:   "+97150",
			Tickets: 1 + i,
		})
		assert.NoError(t, err)
		assert.Equal(t, id, b.BookingID)
	}
}

func TestReconcileOnePaid(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	b := &models.Booking{
		BookingID:       "SL-20240101-001",
		Status:          models.StatusPending,
		PaymentIntentID: "pi_1",
		PaymentStatus:   "requires_payment_instrument",
	}
	mockStore.On("GetBookingByIntentID", mock.Anything, "pi_1").Return(b, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: "completed"}, nil)
	mockStore.On("UpdateBooking", mock.Anything, mock.MatchedBy(func(u models.Booking) bool {
		return u.Status == models.StatusPaid && u.PaymentStatus == "completed"
	})).Return(nil)

	got, err := svc.ReconcileOne(context.Background(), "pi_1")

	assert.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	assert.Equal(t, "completed", got.PaymentStatus)
	mockStore.AssertExpectations(t)
}

func TestReconcileOneCancelled(t *testing.T) {
	for _, raw := range []string{"failed", "canceled"} {
		t.Run(raw, func(t *testing.T) {
			mockStore := new(MockStore)
			mockGateway := new(MockGateway)
			svc := newTestService(mockStore, mockGateway)

			b := &models.Booking{
				BookingID:       "SL-20240101-001",
				Status:          models.StatusPending,
				PaymentIntentID: "pi_1",
			}
			mockStore.On("GetBookingByIntentID", mock.Anything, "pi_1").Return(b, nil)
			mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: raw}, nil)
			mockStore.On("UpdateBooking", mock.Anything, mock.Anything).Return(nil)

			got, err := svc.ReconcileOne(context.Background(), "pi_1")

			assert.NoError(t, err)
			assert.Equal(t, models.StatusCancelled, got.Status)
			assert.Equal(t, raw, got.PaymentStatus)
		})
	}
}

func TestReconcileOneIdempotent(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	b := &models.Booking{
		BookingID:       "SL-20240101-001",
		Status:          models.StatusPaid,
		PaymentIntentID: "pi_1",
		PaymentStatus:   "completed",
	}
	mockStore.On("GetBookingByIntentID", mock.Anything, "pi_1").Return(b, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: "completed"}, nil)

	got, err := svc.ReconcileOne(context.Background(), "pi_1")

	// Already reconciled: no write should happen.
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	mockStore.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything)
}

func TestReconcileOneIntermediateStatus(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	b := &models.Booking{
		BookingID:       "SL-20240101-001",
		Status:          models.StatusPending,
		PaymentIntentID: "pi_1",
		PaymentStatus:   "requires_payment_instrument",
	}
	mockStore.On("GetBookingByIntentID", mock.Anything, "pi_1").Return(b, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: "pending"}, nil)
	mockStore.On("UpdateBooking", mock.Anything, mock.Anything).Return(nil)

	got, err := svc.ReconcileOne(context.Background(), "pi_1")

	// The raw status is recorded verbatim but the booking stays pending.
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, "pending", got.PaymentStatus)
}

func TestReconcileOneUnknownIntent(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	mockStore.On("GetBookingByIntentID", mock.Anything, "pi_ghost").Return(nil, sql.ErrNoRows)
	mockGateway.On("GetIntent", mock.Anything, "pi_ghost").Return(&gateway.Intent{ID: "pi_ghost", Status: "completed"}, nil)

	got, err := svc.ReconcileOne(context.Background(), "pi_ghost")

	assert.NoError(t, err)
	assert.Nil(t, got)
	mockStore.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything)
}

func TestReconcileOneGatewayDown(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	b := &models.Booking{
		BookingID:       "SL-20240101-001",
		Status:          models.StatusPending,
		PaymentIntentID: "pi_1",
	}
	mockStore.On("GetBookingByIntentID", mock.Anything, "pi_1").Return(b, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").
		Return(nil, &gateway.UnavailableError{Op: "get intent", Err: errors.New("timeout")})

	got, err := svc.ReconcileOne(context.Background(), "pi_1")

	// Last known state comes back unchanged; the caller is not failed.
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	mockStore.AssertNotCalled(t, "UpdateBooking", mock.Anything, mock.Anything)
}

func TestReconcileAll(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	bookings := []models.Booking{
		{BookingID: "SL-20240101-001", Status: models.StatusPending, PaymentIntentID: "pi_1"},
		{BookingID: "SL-20240101-002", Status: models.StatusPending, PaymentIntentID: "pi_2"},
		{BookingID: "SL-20240101-003", Status: models.StatusPending, PaymentIntentID: "pi_3", PaymentStatus: "pending"},
		{BookingID: "SL-20240101-004", Status: models.StatusPending, PaymentIntentID: "pi_4"},
	}
	mockStore.On("ListBookingsWithIntent", mock.Anything).Return(bookings, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: "completed"}, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_2").Return(&gateway.Intent{ID: "pi_2", Status: "canceled"}, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_3").Return(&gateway.Intent{ID: "pi_3", Status: "pending"}, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_4").
		Return(nil, &gateway.UnavailableError{Op: "get intent", Err: errors.New("timeout")})
	mockStore.On("UpdateBookings", mock.Anything, mock.MatchedBy(func(dirty []models.Booking) bool {
		return len(dirty) == 2
	})).Return(nil)

	report, err := svc.ReconcileAll(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, report.Paid)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Errors)
	mockStore.AssertExpectations(t)
}

func TestReconcileAllNothingToPersist(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	bookings := []models.Booking{
		{BookingID: "SL-20240101-001", Status: models.StatusPaid, PaymentIntentID: "pi_1", PaymentStatus: "completed"},
		{BookingID: "SL-20240101-002", Status: models.StatusPending, PaymentIntentID: "pi_2", PaymentStatus: "pending"},
	}
	mockStore.On("ListBookingsWithIntent", mock.Anything).Return(bookings, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_1").Return(&gateway.Intent{ID: "pi_1", Status: "completed"}, nil)
	mockGateway.On("GetIntent", mock.Anything, "pi_2").Return(&gateway.Intent{ID: "pi_2", Status: "pending"}, nil)

	report, err := svc.ReconcileAll(context.Background())

	// No local status moved, so the sweep must not write anything.
	assert.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
	mockStore.AssertNotCalled(t, "UpdateBookings", mock.Anything, mock.Anything)
}

func TestOverrideStatus(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	b := &models.Booking{
		BookingID:     "SL-20240101-001",
		Status:        models.StatusPending,
		PaymentStatus: "pending",
	}
	mockStore.On("GetBookingByID", mock.Anything, "SL-20240101-001").Return(b, nil)
	mockStore.On("UpdateBooking", mock.Anything, mock.MatchedBy(func(u models.Booking) bool {
		return u.Status == models.StatusPaid && u.PaymentStatus == "pending"
	})).Return(nil)

	got, err := svc.Override(context.Background(), "SL-20240101-001", "paid")

	assert.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	mockStore.AssertExpectations(t)
}

func TestOverrideStatusInvalid(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	got, err := svc.Override(context.Background(), "SL-20240101-001", "refunded")

	assert.Nil(t, got)
	var verr *booking.ValidationError
	assert.ErrorAs(t, err, &verr)
	mockStore.AssertNotCalled(t, "GetBookingByID", mock.Anything, mock.Anything)
}

func TestSummary(t *testing.T) {
	mockStore := new(MockStore)
	mockGateway := new(MockGateway)
	svc := newTestService(mockStore, mockGateway)

	mockStore.On("ListBookings", mock.Anything).Return([]models.Booking{
		{Tickets: 2, TotalAmount: 350, Status: models.StatusPaid},
		{Tickets: 1, TotalAmount: 175, Status: models.StatusPending},
		{Tickets: 4, TotalAmount: 700, Status: models.StatusCancelled},
	}, nil)

	sum, err := svc.Summary(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 3, sum.TotalBookings)
	assert.Equal(t, 7, sum.TotalTickets)
	assert.Equal(t, 1225.0, sum.TotalAmount)
	assert.Equal(t, 350.0, sum.PaidAmount)
	assert.Equal(t, 175.0, sum.PendingAmount)
}
