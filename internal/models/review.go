package models

import "time"

// Review is a user's rating of a tour. One review per user and tour.
type Review struct {
	ID        string    `db:"id" json:"id"`
	Review    string    `db:"review" json:"review" validate:"required,max=2000"`
	Rating    float64   `db:"rating" json:"rating" validate:"required,min=1,max=5"`
	TourID    string    `db:"tour_id" json:"tour" validate:"required,uuid"`
	UserID    string    `db:"user_id" json:"user" validate:"required,uuid"`
	UserName  string    `db:"user_name" json:"userName,omitempty"`
	UserPhoto string    `db:"user_photo" json:"userPhoto,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// RatingSummary is the aggregate of all reviews of one tour.
type RatingSummary struct {
	Quantity int     `db:"quantity"`
	Average  float64 `db:"average"`
}
