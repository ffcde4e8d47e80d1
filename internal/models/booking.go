package models

import "time"

// Booking records that a user booked a tour at a price.
type Booking struct {
	ID        string    `db:"id" json:"id"`
	TourID    string    `db:"tour_id" json:"tour" validate:"required,uuid"`
	UserID    string    `db:"user_id" json:"user" validate:"required,uuid"`
	Price     float64   `db:"price" json:"price" validate:"required,gt=0"`
	Paid      bool      `db:"paid" json:"paid"`
	TourName  string    `db:"tour_name" json:"tourName,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
