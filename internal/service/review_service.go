package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

type tourLookup interface {
	FindByID(ctx context.Context, id string) (*models.Tour, error)
}

type ratingRollup interface {
	RecomputeRatingRollup(ctx context.Context, tourID string) error
}

// ReviewService manages reviews and keeps tour rating rollups current.
type ReviewService struct {
	crud   *ResourceService[models.Review]
	rollup ratingRollup
	logger *zap.Logger
}

// NewReviewService constructs a ReviewService.
func NewReviewService(repo ResourceStore[models.Review], tours tourLookup, rollup ratingRollup, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	crud := NewResourceService[models.Review](repo, Resource[models.Review]{
		Name: "review",
		ID:   func(r *models.Review) *string { return &r.ID },
		Normalize: func(r *models.Review) {
			r.Review = strings.TrimSpace(r.Review)
		},
		Protect: func(prev, next *models.Review) {
			next.TourID = prev.TourID
			next.UserID = prev.UserID
			next.UserName = prev.UserName
			next.UserPhoto = prev.UserPhoto
			next.CreatedAt = prev.CreatedAt
		},
		Check: func(ctx context.Context, r *models.Review) error {
			if _, err := tours.FindByID(ctx, r.TourID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return appErrors.FieldError("tour", "no tour found with that ID")
				}
				return storeError("tour", err)
			}
			return nil
		},
	}, validate, logger)
	return &ReviewService{crud: crud, rollup: rollup, logger: logger}
}

// CreateOne stores a review and refreshes the rating rollup of its tour.
func (s *ReviewService) CreateOne(ctx context.Context, review *models.Review) (*models.Review, error) {
	created, err := s.crud.CreateOne(ctx, review)
	if err != nil {
		return nil, err
	}
	s.refreshRollup(ctx, created.TourID)
	return created, nil
}

// GetOne fetches a review.
func (s *ReviewService) GetOne(ctx context.Context, id string) (*models.Review, error) {
	detail, err := s.crud.GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail.Record, nil
}

// GetAll lists reviews, optionally scoped to one tour.
func (s *ReviewService) GetAll(ctx context.Context, raw map[string]string, scope ...query.Term) (*Page[models.Review], error) {
	return s.crud.GetAll(ctx, raw, scope...)
}

// UpdateOne edits a review owned by actor, or any review for admins.
func (s *ReviewService) UpdateOne(ctx context.Context, actor *models.User, id string, patch []byte) (*models.Review, error) {
	if _, err := s.authorized(ctx, actor, id); err != nil {
		return nil, err
	}
	updated, err := s.crud.UpdateOne(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.refreshRollup(ctx, updated.TourID)
	return updated, nil
}

// DeleteOne removes a review owned by actor, or any review for admins.
func (s *ReviewService) DeleteOne(ctx context.Context, actor *models.User, id string) error {
	existing, err := s.authorized(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.crud.DeleteOne(ctx, id); err != nil {
		return err
	}
	s.refreshRollup(ctx, existing.TourID)
	return nil
}

func (s *ReviewService) authorized(ctx context.Context, actor *models.User, id string) (*models.Review, error) {
	review, err := s.GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequireRole(actor, models.RoleUser, models.RoleAdmin); err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && review.UserID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only change your own reviews")
	}
	return review, nil
}

// refreshRollup recomputes the rollup after a committed review change.
// Failures are logged and the change stands.
func (s *ReviewService) refreshRollup(ctx context.Context, tourID string) {
	if err := s.rollup.RecomputeRatingRollup(context.WithoutCancel(ctx), tourID); err != nil {
		s.logger.Warn("failed to recompute rating rollup", zap.String("tour_id", tourID), zap.Error(err))
	}
}
