package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/dto"
	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/export"
	"github.com/noah-isme/tour-booking-api/pkg/geo"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

const (
	statsMinRating   = 4.5
	monthlyPlanLimit = 6
)

type tourRepository interface {
	ResourceStore[models.Tour]
	FindByIDs(ctx context.Context, ids []string) ([]models.Tour, error)
	UpdateRatings(ctx context.Context, id string, quantity int, average float64) error
	SetImages(ctx context.Context, id, cover string, images []string) error
	Stats(ctx context.Context, minRating float64) ([]dto.TourStat, error)
	MonthlyPlan(ctx context.Context, year, limit int) ([]dto.MonthlyPlanEntry, error)
	ListStartLocations(ctx context.Context) ([]models.Tour, error)
}

type tourReviewSource interface {
	ListByTour(ctx context.Context, tourID string) ([]models.Review, error)
	RatingSummary(ctx context.Context, tourID string) (models.RatingSummary, error)
}

type guideDirectory interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// ExportFile is a rendered report download.
type ExportFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// TourService serves tours, their reports and the rating rollup.
type TourService struct {
	crud    *ResourceService[models.Tour]
	repo    tourRepository
	reviews tourReviewSource
	guides  guideDirectory
	images  ImageStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	locks   *keyedMutex
	now     func() time.Time
}

// NewTourService constructs a TourService.
func NewTourService(repo tourRepository, reviews tourReviewSource, guides guideDirectory, images ImageStore, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TourService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TourService{
		repo:    repo,
		reviews: reviews,
		guides:  guides,
		images:  images,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
	s.crud = NewResourceService[models.Tour](repo, Resource[models.Tour]{
		Name:      "tour",
		ID:        func(t *models.Tour) *string { return &t.ID },
		Normalize: normalizeTour,
		Protect:   protectTour,
		Check:     s.checkGuides,
		Expansions: map[string]Expansion[models.Tour]{
			"reviews": func(ctx context.Context, t *models.Tour) (interface{}, error) {
				return reviews.ListByTour(ctx, t.ID)
			},
			"guides": func(ctx context.Context, t *models.Tour) (interface{}, error) {
				return guides.FindByIDs(ctx, t.Guides)
			},
		},
	}, validate, logger)
	return s
}

func normalizeTour(t *models.Tour) {
	t.Name = strings.TrimSpace(t.Name)
	t.Slug = slug.Make(t.Name)
	if t.Images == nil {
		t.Images = pq.StringArray{}
	}
	if t.Guides == nil {
		t.Guides = pq.StringArray{}
	}
	if len(t.StartLocation.Coordinates) > 0 && t.StartLocation.Type == "" {
		t.StartLocation.Type = "Point"
	}
	for i := range t.Locations {
		if t.Locations[i].Type == "" {
			t.Locations[i].Type = "Point"
		}
	}
}

// protectTour keeps the rollup and audit fields owned by the server.
func protectTour(prev, next *models.Tour) {
	next.RatingsAverage = prev.RatingsAverage
	next.RatingsQuantity = prev.RatingsQuantity
	next.CreatedAt = prev.CreatedAt
}

func (s *TourService) checkGuides(ctx context.Context, t *models.Tour) error {
	if len(t.Guides) == 0 {
		return nil
	}
	found, err := s.guides.FindByIDs(ctx, t.Guides)
	if err != nil {
		return storeError("user", err)
	}
	known := make(map[string]bool, len(found))
	for _, u := range found {
		known[u.ID] = u.HasRole(models.RoleGuide, models.RoleLeadGuide)
	}
	for _, id := range t.Guides {
		if !known[id] {
			return appErrors.FieldError("guides", fmt.Sprintf("%s is not a guide", id))
		}
	}
	return nil
}

// CreateOne creates a tour. The rating rollup starts at its defaults.
func (s *TourService) CreateOne(ctx context.Context, tour *models.Tour) (*models.Tour, error) {
	tour.RatingsAverage = models.DefaultRatingsAverage
	tour.RatingsQuantity = models.DefaultRatingsQuantity
	created, err := s.crud.CreateOne(ctx, tour)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return created, nil
}

// GetOne fetches a tour with the requested relations.
func (s *TourService) GetOne(ctx context.Context, id string, expand ...string) (*Detail[models.Tour], error) {
	return s.crud.GetOne(ctx, id, expand...)
}

// UpdateOne applies a partial update.
func (s *TourService) UpdateOne(ctx context.Context, id string, patch []byte) (*models.Tour, error) {
	updated, err := s.crud.UpdateOne(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return updated, nil
}

// DeleteOne removes a tour and, through the schema, its reviews.
func (s *TourService) DeleteOne(ctx context.Context, id string) error {
	if err := s.crud.DeleteOne(ctx, id); err != nil {
		return err
	}
	s.invalidateReports(ctx)
	return nil
}

// GetAll lists visible tours.
func (s *TourService) GetAll(ctx context.Context, raw map[string]string, scope ...query.Term) (*Page[models.Tour], error) {
	return s.crud.GetAll(ctx, raw, scope...)
}

// RecomputeRatingRollup recomputes the rating count and average of a tour
// from its reviews. A tour without reviews returns to the defaults.
// Recomputations of the same tour run one at a time.
func (s *TourService) RecomputeRatingRollup(ctx context.Context, tourID string) (err error) {
	defer func() { s.metrics.RecordRollup(err) }()

	unlock := s.locks.lock(tourID)
	defer unlock()

	summary, err := s.reviews.RatingSummary(ctx, tourID)
	if err != nil {
		return storeError("review", err)
	}
	quantity, average := models.DefaultRatingsQuantity, models.DefaultRatingsAverage
	if summary.Quantity > 0 {
		quantity = summary.Quantity
		average = math.Round(summary.Average*10) / 10
	}
	if err := s.repo.UpdateRatings(ctx, tourID, quantity, average); err != nil {
		return storeError("tour", err)
	}
	s.invalidateReports(ctx)
	return nil
}

// Stats aggregates highly rated tours by difficulty.
func (s *TourService) Stats(ctx context.Context) ([]dto.TourStat, error) {
	return cached(ctx, s.cache, cacheKeyTourStats, func() ([]dto.TourStat, error) {
		stats, err := s.repo.Stats(ctx, statsMinRating)
		if err != nil {
			return nil, storeError("tour", err)
		}
		return stats, nil
	})
}

// MonthlyPlan returns the busiest months of year by tour starts.
func (s *TourService) MonthlyPlan(ctx context.Context, year int) ([]dto.MonthlyPlanEntry, error) {
	return cached(ctx, s.cache, fmt.Sprintf(cacheKeyMonthlyPlanFmt, year), func() ([]dto.MonthlyPlanEntry, error) {
		plan, err := s.repo.MonthlyPlan(ctx, year, monthlyPlanLimit)
		if err != nil {
			return nil, storeError("tour", err)
		}
		return plan, nil
	})
}

// ExportMonthlyPlan renders the monthly plan of year as csv or pdf.
func (s *TourService) ExportMonthlyPlan(ctx context.Context, year int, format string) (*ExportFile, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, invalidParam("format", err.Error())
	}
	plan, err := s.MonthlyPlan(ctx, year)
	if err != nil {
		return nil, err
	}
	table := export.Table{
		Title:   fmt.Sprintf("Monthly plan %d", year),
		Headers: []string{"Month", "Tour starts", "Tours"},
		Rows:    make([][]string, len(plan)),
	}
	for i, entry := range plan {
		table.Rows[i] = []string{
			time.Month(entry.Month).String(),
			strconv.Itoa(entry.NumTourStarts),
			strings.Join(entry.Tours, ", "),
		}
	}
	content, err := exporter.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render monthly plan")
	}
	return &ExportFile{
		Name:        fmt.Sprintf("monthly-plan-%d.%s", year, exporter.Extension()),
		ContentType: exporter.ContentType(),
		Content:     content,
	}, nil
}

// ToursWithin returns visible tours starting within distance of latlng.
func (s *TourService) ToursWithin(ctx context.Context, distance float64, latlng, unit string) ([]models.Tour, error) {
	center, u, err := parseGeoParams(latlng, unit)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance <= 0 {
		return nil, invalidParam("distance", "must be a positive number")
	}

	starts, err := s.repo.ListStartLocations(ctx)
	if err != nil {
		return nil, storeError("tour", err)
	}
	radius := geo.AngularRadius(distance, u)
	ids := make([]string, 0, len(starts))
	for _, t := range starts {
		p, ok := t.StartLocation.Point()
		if ok && geo.Within(center, p, radius) {
			ids = append(ids, t.ID)
		}
	}
	tours, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("tour", err)
	}
	return tours, nil
}

// Distances returns the distance from latlng to every visible tour start,
// nearest first.
func (s *TourService) Distances(ctx context.Context, latlng, unit string) ([]dto.TourDistance, error) {
	center, u, err := parseGeoParams(latlng, unit)
	if err != nil {
		return nil, err
	}
	starts, err := s.repo.ListStartLocations(ctx)
	if err != nil {
		return nil, storeError("tour", err)
	}
	out := make([]dto.TourDistance, 0, len(starts))
	for _, t := range starts {
		p, ok := t.StartLocation.Point()
		if !ok {
			continue
		}
		out = append(out, dto.TourDistance{ID: t.ID, Name: t.Name, Distance: geo.Distance(center, p, u)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// UpdateImages stores an optional cover and gallery for a tour. A nil cover
// or empty gallery leaves that part unchanged.
func (s *TourService) UpdateImages(ctx context.Context, id string, cover io.Reader, gallery []io.Reader) (*models.Tour, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, storeError("tour", err)
	}
	stamp := s.now().UnixMilli()

	var coverPath string
	if cover != nil {
		path, err := s.images.SaveImage("tours", fmt.Sprintf("tour-%s-%d-cover", id, stamp), cover)
		if err != nil {
			return nil, uploadError("imageCover", err)
		}
		coverPath = path
	}
	var galleryPaths []string
	for i, r := range gallery {
		path, err := s.images.SaveImage("tours", fmt.Sprintf("tour-%s-%d-%d", id, stamp, i+1), r)
		if err != nil {
			return nil, uploadError("images", err)
		}
		galleryPaths = append(galleryPaths, path)
	}

	if err := s.repo.SetImages(ctx, id, coverPath, galleryPaths); err != nil {
		return nil, storeError("tour", err)
	}
	s.invalidateReports(ctx)
	updated, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("tour", err)
	}
	return updated, nil
}

func (s *TourService) invalidateReports(ctx context.Context) {
	// Failures are logged by the cache service.
	_ = s.cache.Invalidate(ctx, cachePatternTourReports)
}

func parseGeoParams(latlng, unit string) (geo.Point, geo.Unit, error) {
	u, err := geo.ParseUnit(unit)
	if err != nil {
		return geo.Point{}, "", invalidParam("unit", err.Error())
	}
	center, err := geo.ParseLatLng(latlng)
	if err != nil {
		return geo.Point{}, "", invalidParam("latlng", "please provide latitude and longitude in the format lat,lng")
	}
	return center, u, nil
}

func invalidParam(param, reason string) error {
	appErr := appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("invalid parameter %s: %s", param, reason))
	appErr.Details = map[string]string{param: reason}
	return appErr
}
