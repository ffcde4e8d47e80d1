package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

type bookingRepository interface {
	ResourceStore[models.Booking]
	ListByUser(ctx context.Context, userID string) ([]models.Booking, error)
}

type tourCatalog interface {
	FindByID(ctx context.Context, id string) (*models.Tour, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Tour, error)
}

// BookingService records tour bookings. Payment is handled elsewhere.
type BookingService struct {
	*ResourceService[models.Booking]
	repo  bookingRepository
	tours tourCatalog
}

// NewBookingService constructs a BookingService.
func NewBookingService(repo bookingRepository, tours tourCatalog, validate *validator.Validate, logger *zap.Logger) *BookingService {
	crud := NewResourceService[models.Booking](repo, Resource[models.Booking]{
		Name: "booking",
		ID:   func(b *models.Booking) *string { return &b.ID },
		Protect: func(prev, next *models.Booking) {
			next.TourName = prev.TourName
			next.CreatedAt = prev.CreatedAt
		},
	}, validate, logger)
	return &BookingService{ResourceService: crud, repo: repo, tours: tours}
}

// CreateOne books a tour. Without an explicit price the current tour price
// applies.
func (s *BookingService) CreateOne(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	tour, err := s.tours.FindByID(ctx, booking.TourID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.FieldError("tour", "no tour found with that ID")
		}
		return nil, storeError("tour", err)
	}
	if booking.Price == 0 {
		booking.Price = tour.Price
	}
	return s.ResourceService.CreateOne(ctx, booking)
}

// MyTours returns the tours booked by user.
func (s *BookingService) MyTours(ctx context.Context, user *models.User) ([]models.Tour, error) {
	bookings, err := s.repo.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, storeError("booking", err)
	}
	ids := make([]string, 0, len(bookings))
	seen := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		if _, dup := seen[b.TourID]; dup {
			continue
		}
		seen[b.TourID] = struct{}{}
		ids = append(ids, b.TourID)
	}
	tours, err := s.tours.FindByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("tour", err)
	}
	return tours, nil
}
