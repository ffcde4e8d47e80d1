package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

type userRepository interface {
	ResourceStore[models.User]
	Deactivate(ctx context.Context, id string) error
}

// UserService manages accounts: self-service profile changes and admin CRUD.
type UserService struct {
	*ResourceService[models.User]
	repo      userRepository
	images    ImageStore
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService constructs a UserService.
func NewUserService(repo userRepository, images ImageStore, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	crud := NewResourceService[models.User](repo, Resource[models.User]{
		Name: "user",
		ID:   func(u *models.User) *string { return &u.ID },
		Normalize: func(u *models.User) {
			u.Name = strings.TrimSpace(u.Name)
			u.Email = normalizeEmail(u.Email)
			if u.Photo == "" {
				u.Photo = models.DefaultPhoto
			}
		},
		Protect: func(prev, next *models.User) {
			next.CreatedAt = prev.CreatedAt
		},
	}, validate, logger)
	return &UserService{
		ResourceService: crud,
		repo:            repo,
		images:          images,
		validator:       validate,
		logger:          logger,
		now:             time.Now,
	}
}

// CreateOne is not offered; accounts are created through signup.
func (s *UserService) CreateOne(context.Context, *models.User) (*models.User, error) {
	return nil, appErrors.Clone(appErrors.ErrForbidden, "this route is not defined, please use /signup instead")
}

// Me returns the current user as stored.
func (s *UserService) Me(ctx context.Context, user *models.User) (*models.User, error) {
	detail, err := s.GetOne(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return detail.Record, nil
}

// UpdateMe changes the name, email or photo of the current user. Passwords
// are changed through the auth flow only.
func (s *UserService) UpdateMe(ctx context.Context, user *models.User, req models.UpdateMeRequest, photo io.Reader) (*models.User, error) {
	if req.Password != nil || req.PasswordConfirm != nil {
		return nil, appErrors.FieldError("password", "this route is not for password updates, please use /updateMyPassword")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid profile data")
	}

	patch := make(map[string]string, 3)
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.Email != nil {
		patch["email"] = *req.Email
	}
	if photo != nil {
		name := fmt.Sprintf("user-%s-%d", user.ID, s.now().UnixMilli())
		path, err := s.images.SaveImage("users", name, photo)
		if err != nil {
			return nil, uploadError("photo", err)
		}
		patch["photo"] = path
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode profile update")
	}
	return s.UpdateOne(ctx, user.ID, body)
}

// DeleteMe deactivates the current user. Deactivated users can no longer
// sign in and are hidden from every listing.
func (s *UserService) DeleteMe(ctx context.Context, user *models.User) error {
	if err := s.repo.Deactivate(ctx, user.ID); err != nil {
		return storeError("user", err)
	}
	return nil
}
