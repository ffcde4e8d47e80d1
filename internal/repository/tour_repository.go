package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tour-booking-api/internal/dto"
	"github.com/noah-isme/tour-booking-api/internal/models"
)

const tourScope = "t.secret_tour = FALSE"

func tourSchema() Schema[models.Tour] {
	return Schema[models.Tour]{
		Table: "tours",
		Alias: "t",
		Scope: tourScope,
		Columns: []Column{
			{Field: "id", DB: "id", Kind: KindID},
			{Field: "name", DB: "name", Kind: KindString},
			{Field: "slug", DB: "slug", Kind: KindString},
			{Field: "duration", DB: "duration", Kind: KindNumber},
			{Field: "durationWeeks", DB: "duration_weeks", Expr: "t.duration / 7.0", Kind: KindNumber, ReadOnly: true},
			{Field: "maxGroupSize", DB: "max_group_size", Kind: KindNumber},
			{Field: "difficulty", DB: "difficulty", Kind: KindString},
			{Field: "ratingsAverage", DB: "ratings_average", Kind: KindNumber},
			{Field: "ratingsQuantity", DB: "ratings_quantity", Kind: KindNumber},
			{Field: "price", DB: "price", Kind: KindNumber},
			{Field: "priceDiscount", DB: "price_discount", Kind: KindNumber},
			{Field: "summary", DB: "summary", Kind: KindString},
			{Field: "description", DB: "description", Kind: KindString},
			{Field: "imageCover", DB: "image_cover", Kind: KindString},
			{Field: "images", DB: "images", Kind: KindJSON},
			{Field: "startDates", DB: "start_dates", Kind: KindJSON},
			{Field: "secretTour", DB: "secret_tour", Kind: KindBool, Hidden: true},
			{Field: "startLocation", DB: "start_location", Kind: KindJSON},
			{Field: "locations", DB: "locations", Kind: KindJSON},
			{Field: "guides", DB: "guides", Kind: KindJSON},
			{Field: "createdAt", DB: "created_at", Kind: KindTime, ReadOnly: true, Hidden: true},
		},
		Uniques: map[string]Unique{
			"tours_name_key": {Field: "name", Message: "a tour with this name already exists"},
			"tours_slug_key": {Field: "name", Message: "a tour with this name already exists"},
		},
		ID: func(t *models.Tour) *string { return &t.ID },
	}
}

// TourRepository provides database access for tours.
type TourRepository struct {
	*Table[models.Tour]
}

// NewTourRepository creates a new instance of TourRepository.
func NewTourRepository(db *sqlx.DB) *TourRepository {
	return &TourRepository{Table: NewTable(db, tourSchema())}
}

// UpdateRatings stores the review rollup of a tour. Secret tours are
// included.
func (r *TourRepository) UpdateRatings(ctx context.Context, id string, quantity int, average float64) error {
	const query = `UPDATE tours SET ratings_quantity = $2, ratings_average = $3 WHERE id = $1`
	res, err := r.DB().ExecContext(ctx, query, id, quantity, average)
	if err != nil {
		return fmt.Errorf("update tour ratings: %w", err)
	}
	return requireAffected(res)
}

// SetImages replaces the cover and gallery images of a tour.
func (r *TourRepository) SetImages(ctx context.Context, id, cover string, images []string) error {
	const query = `UPDATE tours SET image_cover = COALESCE(NULLIF($2, ''), image_cover), images = COALESCE($3, images) WHERE id = $1 AND secret_tour = FALSE`
	var gallery interface{}
	if images != nil {
		gallery = pq.StringArray(images)
	}
	res, err := r.DB().ExecContext(ctx, query, id, cover, gallery)
	if err != nil {
		return fmt.Errorf("update tour images: %w", err)
	}
	return requireAffected(res)
}

// Stats aggregates visible tours rated at least minRating by difficulty,
// cheapest group first.
func (r *TourRepository) Stats(ctx context.Context, minRating float64) ([]dto.TourStat, error) {
	const query = `SELECT UPPER(t.difficulty) AS difficulty,
		COUNT(*) AS num_tours,
		COALESCE(SUM(t.ratings_quantity), 0) AS num_ratings,
		ROUND(AVG(t.ratings_average)::numeric, 2)::float8 AS avg_rating,
		ROUND(AVG(t.price)::numeric, 2)::float8 AS avg_price,
		MIN(t.price)::float8 AS min_price,
		MAX(t.price)::float8 AS max_price
	FROM tours t
	WHERE t.secret_tour = FALSE AND t.ratings_average >= $1
	GROUP BY UPPER(t.difficulty)
	ORDER BY avg_price ASC`
	stats := make([]dto.TourStat, 0)
	if err := r.DB().SelectContext(ctx, &stats, query, minRating); err != nil {
		return nil, fmt.Errorf("tour stats: %w", err)
	}
	return stats, nil
}

type monthRow struct {
	Month         int            `db:"month"`
	NumTourStarts int            `db:"num_tour_starts"`
	Tours         pq.StringArray `db:"tours"`
}

// MonthlyPlan counts tour starts per month of year (UTC), busiest first.
func (r *TourRepository) MonthlyPlan(ctx context.Context, year, limit int) ([]dto.MonthlyPlanEntry, error) {
	const query = `SELECT EXTRACT(MONTH FROM d.start_date AT TIME ZONE 'UTC')::int AS month,
		COUNT(*) AS num_tour_starts,
		ARRAY_AGG(t.name ORDER BY t.name) AS tours
	FROM tours t
	CROSS JOIN LATERAL (
		SELECT value::timestamptz AS start_date FROM jsonb_array_elements_text(t.start_dates)
	) d
	WHERE t.secret_tour = FALSE AND d.start_date >= $1 AND d.start_date < $2
	GROUP BY month
	ORDER BY num_tour_starts DESC, month ASC
	LIMIT $3`
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	var rows []monthRow
	if err := r.DB().SelectContext(ctx, &rows, query, from, to, limit); err != nil {
		return nil, fmt.Errorf("monthly plan: %w", err)
	}
	plan := make([]dto.MonthlyPlanEntry, len(rows))
	for i, row := range rows {
		plan[i] = dto.MonthlyPlanEntry{Month: row.Month, NumTourStarts: row.NumTourStarts, Tours: []string(row.Tours)}
	}
	return plan, nil
}

// ListStartLocations returns id, name and start location of visible tours.
func (r *TourRepository) ListStartLocations(ctx context.Context) ([]models.Tour, error) {
	const query = `SELECT t.id, t.name, t.start_location FROM tours t WHERE t.secret_tour = FALSE AND t.start_location IS NOT NULL ORDER BY t.created_at, t.id`
	tours := make([]models.Tour, 0)
	if err := r.DB().SelectContext(ctx, &tours, query); err != nil {
		return nil, fmt.Errorf("list tour start locations: %w", err)
	}
	return tours, nil
}

// FindByIDs returns visible tours with the given ids.
func (r *TourRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Tour, error) {
	if len(ids) == 0 {
		return []models.Tour{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE t.id = ANY($1) AND %s ORDER BY t.created_at, t.id", r.selectList(), r.from(), tourScope)
	tours := make([]models.Tour, 0, len(ids))
	if err := r.DB().SelectContext(ctx, &tours, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find tours by ids: %w", err)
	}
	return tours, nil
}
