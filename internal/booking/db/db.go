package db

import (
	"context"
	"database/sql"
	"fmt"

	"snowpark-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// CreateBooking → insert a new booking row
func (d *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := d.Bun.NewInsert().Model(b).Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: insert booking %s: %w", b.BookingID, err)
	}
	return nil
}

// GetBookingByID → fetch one booking by its id
func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("booking_id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByIntentID → find the booking carrying a gateway payment
// reference. sql.ErrNoRows when no booking matches.
func (d *DB) GetBookingByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("payment_intent_id = ?", intentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookings → full snapshot in insertion order. The id allocator depends
// on this ordering.
func (d *DB) ListBookings(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Order("created_at ASC", "booking_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list bookings: %w", err)
	}
	return bookings, nil
}

// ListRecentBookings → newest first, for the operator dashboard.
func (d *DB) ListRecentBookings(ctx context.Context, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	q := d.Bun.NewSelect().
		Model(&bookings).
		Order("created_at DESC", "booking_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list recent bookings: %w", err)
	}
	return bookings, nil
}

// ListBookingsWithIntent → every booking with an outstanding payment
// reference, in insertion order.
func (d *DB) ListBookingsWithIntent(ctx context.Context) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("payment_intent_id <> ''").
		Order("created_at ASC", "booking_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list bookings with intent: %w", err)
	}
	return bookings, nil
}

// UpdateBooking → in-place update of the mutable fields
func (d *DB) UpdateBooking(ctx context.Context, b models.Booking) error {
	_, err := d.Bun.NewUpdate().
		Model(&b).
		Column("status", "payment_status", "notes").
		Where("booking_id = ?", b.BookingID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update booking %s: %w", b.BookingID, err)
	}
	return nil
}

// UpdateBookings → the single bulk persist of a reconcile-all pass. All
// updates land in one transaction or none do.
func (d *DB) UpdateBookings(ctx context.Context, bookings []models.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for i := range bookings {
			_, err := tx.NewUpdate().
				Model(&bookings[i]).
				Column("status", "payment_status").
				Where("booking_id = ?", bookings[i].BookingID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: bulk update %d bookings: %w", len(bookings), err)
	}
	return nil
}
