package service

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
)

// NewValidator returns a validator reporting fields by their json names so
// validation details match request payloads.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func notFound(resource string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s found with that ID", resource))
}

// storeError maps repository failures onto the error taxonomy. Typed errors
// raised by the store (validation, invalid query) pass through.
func storeError(resource string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(resource)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, fmt.Sprintf("failed to access %s records", resource))
}
