package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

type failingRollup struct {
	calls []string
}

func (f *failingRollup) RecomputeRatingRollup(_ context.Context, tourID string) error {
	f.calls = append(f.calls, tourID)
	return errors.New("tours table locked")
}

func newReviewFixture() (*ReviewService, *tourFixture) {
	tours := newTourFixture()
	return NewReviewService(tours.reviews, tours.repo, tours.svc, nil, nil), tours
}

func tourRating(t *testing.T, tours *tourFixture, id string) (float64, int) {
	t.Helper()
	tour, err := tours.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return tour.RatingsAverage, tour.RatingsQuantity
}

func TestReviewLifecycleMaintainsRollup(t *testing.T) {
	svc, tours := newReviewFixture()
	tour := validTour("The Forest Hiker")
	tour.RatingsAverage = models.DefaultRatingsAverage
	tourID := tours.repo.put(*tour)
	ana := &models.User{ID: uuid.NewString(), Role: models.RoleUser}
	bo := &models.User{ID: uuid.NewString(), Role: models.RoleUser}

	first, err := svc.CreateOne(context.Background(), &models.Review{Review: "Loved it", Rating: 4, TourID: tourID, UserID: ana.ID})
	require.NoError(t, err)
	second, err := svc.CreateOne(context.Background(), &models.Review{Review: "Superb", Rating: 5, TourID: tourID, UserID: bo.ID})
	require.NoError(t, err)

	avg, qty := tourRating(t, tours, tourID)
	assert.Equal(t, 4.5, avg)
	assert.Equal(t, 2, qty)

	_, err = svc.UpdateOne(context.Background(), ana, first.ID, []byte(`{"rating": 2}`))
	require.NoError(t, err)
	avg, qty = tourRating(t, tours, tourID)
	assert.Equal(t, 3.5, avg)
	assert.Equal(t, 2, qty)

	require.NoError(t, svc.DeleteOne(context.Background(), ana, first.ID))
	avg, qty = tourRating(t, tours, tourID)
	assert.Equal(t, 5.0, avg)
	assert.Equal(t, 1, qty)

	require.NoError(t, svc.DeleteOne(context.Background(), bo, second.ID))
	avg, qty = tourRating(t, tours, tourID)
	assert.Equal(t, 4.5, avg)
	assert.Equal(t, 0, qty)
}

func TestCreateReviewRequiresExistingTour(t *testing.T) {
	svc, tours := newReviewFixture()

	_, err := svc.CreateOne(context.Background(), &models.Review{Review: "Nice", Rating: 4, TourID: uuid.NewString(), UserID: uuid.NewString()})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "no tour found with that ID", appErr.Details["tour"])
	assert.Empty(t, tours.reviews.all())
}

func TestCreateReviewValidatesRating(t *testing.T) {
	svc, tours := newReviewFixture()
	tourID := tours.repo.put(*validTour("The Forest Hiker"))

	_, err := svc.CreateOne(context.Background(), &models.Review{Review: "Nice", Rating: 6, TourID: tourID, UserID: uuid.NewString()})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "must be at most 5", appErr.Details["rating"])
}

func TestReviewMutationSurvivesRollupFailure(t *testing.T) {
	tours := newTourFixture()
	rollup := &failingRollup{}
	core, logs := observer.New(zap.WarnLevel)
	svc := NewReviewService(tours.reviews, tours.repo, rollup, nil, zap.New(core))
	tourID := tours.repo.put(*validTour("The Forest Hiker"))

	created, err := svc.CreateOne(context.Background(), &models.Review{Review: "Great", Rating: 5, TourID: tourID, UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{tourID}, rollup.calls)
	assert.Equal(t, 1, logs.FilterMessage("failed to recompute rating rollup").Len())

	stored, err := svc.GetOne(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Great", stored.Review)
}

func TestReviewOwnership(t *testing.T) {
	svc, tours := newReviewFixture()
	tourID := tours.repo.put(*validTour("The Forest Hiker"))
	owner := &models.User{ID: uuid.NewString(), Role: models.RoleUser}
	review := tours.reviews.put(models.Review{Review: "Fine", Rating: 3, TourID: tourID, UserID: owner.ID})

	other := &models.User{ID: uuid.NewString(), Role: models.RoleUser}
	_, err := svc.UpdateOne(context.Background(), other, review, []byte(`{"rating": 1}`))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteOne(context.Background(), other, review), appErrors.ErrForbidden)

	guide := &models.User{ID: owner.ID, Role: models.RoleGuide}
	assert.ErrorIs(t, svc.DeleteOne(context.Background(), guide, review), appErrors.ErrForbidden)
	assert.ErrorIs(t, svc.DeleteOne(context.Background(), nil, review), appErrors.ErrUnauthorized)

	admin := &models.User{ID: uuid.NewString(), Role: models.RoleAdmin}
	updated, err := svc.UpdateOne(context.Background(), admin, review, []byte(`{"rating": 1, "user": "someone-else"}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, updated.Rating)
	assert.Equal(t, owner.ID, updated.UserID)
}

func TestReviewMissingIsNotFound(t *testing.T) {
	svc, _ := newReviewFixture()
	admin := &models.User{ID: uuid.NewString(), Role: models.RoleAdmin}

	_, err := svc.GetOne(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteOne(context.Background(), admin, "missing"), appErrors.ErrNotFound)
}

func TestReviewGetAllScopedToTour(t *testing.T) {
	svc, tours := newReviewFixture()

	scope := query.Term{Field: "tour", Op: query.OpEq, Value: "t1"}
	_, err := svc.GetAll(context.Background(), map[string]string{}, scope)
	require.NoError(t, err)
	assert.Equal(t, []query.Term{scope}, tours.reviews.lastScope)
}
