package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

func reviewSchema() Schema[models.Review] {
	return Schema[models.Review]{
		Table: "reviews",
		Alias: "t",
		Joins: "JOIN users u ON u.id = t.user_id",
		Columns: []Column{
			{Field: "id", DB: "id", Kind: KindID},
			{Field: "review", DB: "review", Kind: KindString},
			{Field: "rating", DB: "rating", Kind: KindNumber},
			{Field: "tour", DB: "tour_id", Kind: KindID, Immutable: true},
			{Field: "user", DB: "user_id", Kind: KindID, Immutable: true},
			{Field: "userName", DB: "user_name", Expr: "u.name", Kind: KindString, ReadOnly: true},
			{Field: "userPhoto", DB: "user_photo", Expr: "u.photo", Kind: KindString, ReadOnly: true},
			{Field: "createdAt", DB: "created_at", Kind: KindTime, ReadOnly: true},
		},
		Uniques: map[string]Unique{
			"reviews_tour_id_user_id_key": {Field: "tour", Message: "you have already reviewed this tour"},
		},
		ID: func(r *models.Review) *string { return &r.ID },
	}
}

// ReviewRepository provides database access for reviews.
type ReviewRepository struct {
	*Table[models.Review]
}

// NewReviewRepository creates a new instance of ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{Table: NewTable(db, reviewSchema())}
}

// ListByTour returns every review of a tour, oldest first.
func (r *ReviewRepository) ListByTour(ctx context.Context, tourID string) ([]models.Review, error) {
	return r.FindAll(ctx, query.Term{Field: "tour", Op: query.OpEq, Value: tourID})
}

// RatingSummary counts and averages the ratings of a tour.
func (r *ReviewRepository) RatingSummary(ctx context.Context, tourID string) (models.RatingSummary, error) {
	const stmt = `SELECT COUNT(*) AS quantity, COALESCE(AVG(rating), 0)::float8 AS average FROM reviews WHERE tour_id = $1`
	var summary models.RatingSummary
	if err := r.DB().GetContext(ctx, &summary, stmt, tourID); err != nil {
		return models.RatingSummary{}, fmt.Errorf("rating summary: %w", err)
	}
	return summary, nil
}
