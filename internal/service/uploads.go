package service

import (
	"errors"
	"fmt"
	"io"

	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/storage"
)

// ImageStore persists uploaded images and returns their relative path.
type ImageStore interface {
	SaveImage(dir, name string, r io.Reader) (string, error)
}

func uploadError(field string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotImage):
		return appErrors.FieldError(field, "not an image, please upload only images")
	case errors.Is(err, storage.ErrTooLarge):
		return appErrors.FieldError(field, "image is too large")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to store %s", field))
	}
}
