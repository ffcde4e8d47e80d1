package models

import (
	"time"

	"github.com/lib/pq"
)

// Difficulty levels accepted for tours.
const (
	DifficultyEasy      = "easy"
	DifficultyMedium    = "medium"
	DifficultyDifficult = "difficult"
)

// Rating rollup defaults applied to tours without reviews.
const (
	DefaultRatingsAverage  = 4.5
	DefaultRatingsQuantity = 0
)

// Tour is a bookable guided tour.
type Tour struct {
	ID              string         `db:"id" json:"id"`
	Name            string         `db:"name" json:"name" validate:"required,min=10,max=40"`
	Slug            string         `db:"slug" json:"slug"`
	Duration        int            `db:"duration" json:"duration" validate:"required,gt=0"`
	DurationWeeks   float64        `db:"duration_weeks" json:"durationWeeks"`
	MaxGroupSize    int            `db:"max_group_size" json:"maxGroupSize" validate:"required,gt=0"`
	Difficulty      string         `db:"difficulty" json:"difficulty" validate:"required,oneof=easy medium difficult"`
	RatingsAverage  float64        `db:"ratings_average" json:"ratingsAverage" validate:"min=1,max=5"`
	RatingsQuantity int            `db:"ratings_quantity" json:"ratingsQuantity" validate:"min=0"`
	Price           float64        `db:"price" json:"price" validate:"required,gt=0"`
	PriceDiscount   float64        `db:"price_discount" json:"priceDiscount,omitempty" validate:"omitempty,gte=0,ltfield=Price"`
	Summary         string         `db:"summary" json:"summary" validate:"required"`
	Description     string         `db:"description" json:"description,omitempty"`
	ImageCover      string         `db:"image_cover" json:"imageCover" validate:"required"`
	Images          pq.StringArray `db:"images" json:"images"`
	StartDates      StartDates     `db:"start_dates" json:"startDates"`
	SecretTour      bool           `db:"secret_tour" json:"secretTour,omitempty"`
	StartLocation   GeoPoint       `db:"start_location" json:"startLocation"`
	Locations       Locations      `db:"locations" json:"locations" validate:"dive"`
	Guides          pq.StringArray `db:"guides" json:"guides" validate:"dive,uuid"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
}
