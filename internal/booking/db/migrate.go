package db

import (
	"context"

	"snowpark-booking/internal/models"

	"github.com/uptrace/bun"
)

// Migrate creates the bookings table if it does not exist. Bookings are never
// deleted, so there is no drop path.
func Migrate(db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*models.Booking)(nil)).
		IfNotExists().
		Exec(context.Background())
	return err
}
