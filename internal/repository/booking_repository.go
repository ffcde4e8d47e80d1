package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

func bookingSchema() Schema[models.Booking] {
	return Schema[models.Booking]{
		Table: "bookings",
		Alias: "t",
		Joins: "JOIN tours tr ON tr.id = t.tour_id",
		Columns: []Column{
			{Field: "id", DB: "id", Kind: KindID},
			{Field: "tour", DB: "tour_id", Kind: KindID},
			{Field: "user", DB: "user_id", Kind: KindID},
			{Field: "price", DB: "price", Kind: KindNumber},
			{Field: "paid", DB: "paid", Kind: KindBool},
			{Field: "tourName", DB: "tour_name", Expr: "tr.name", Kind: KindString, ReadOnly: true},
			{Field: "createdAt", DB: "created_at", Kind: KindTime, ReadOnly: true},
		},
		ID: func(b *models.Booking) *string { return &b.ID },
	}
}

// BookingRepository provides database access for bookings.
type BookingRepository struct {
	*Table[models.Booking]
}

// NewBookingRepository creates a new instance of BookingRepository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{Table: NewTable(db, bookingSchema())}
}

// ListByUser returns the bookings of one user, oldest first.
func (r *BookingRepository) ListByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	return r.FindAll(ctx, query.Term{Field: "user", Op: query.OpEq, Value: userID})
}
