package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/models"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResourceStore is the record collection capability the CRUD operations run
// against. Absent records are reported as sql.ErrNoRows.
type ResourceStore[T any] interface {
	Find(ctx context.Context, spec query.Spec, scope ...query.Term) ([]T, int, error)
	Fields(p query.Projection) ([]string, error)
	FindByID(ctx context.Context, id string) (*T, error)
	Insert(ctx context.Context, record *T) (string, error)
	Update(ctx context.Context, record *T) error
	Delete(ctx context.Context, id string) error
}

// Expansion loads a related collection for a record.
type Expansion[T any] func(ctx context.Context, record *T) (interface{}, error)

// Resource describes a record type to the generic operations.
type Resource[T any] struct {
	// Name is the singular resource name used in error messages.
	Name string
	// ID exposes the primary key of a record.
	ID func(*T) *string
	// Normalize derives server-side fields before validation.
	Normalize func(*T)
	// Protect restores fields of next that callers must not change.
	Protect func(prev, next *T)
	// Check runs checks that need the store, after field validation.
	Check func(ctx context.Context, record *T) error
	// Expansions are the related collections getOne may embed, by name.
	Expansions map[string]Expansion[T]
}

// Detail is a record with its expanded relations.
type Detail[T any] struct {
	Record  *T
	Related map[string]interface{}
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T
	Fields     []string
	Pagination models.Pagination
}

// ResourceService implements createOne, getOne, updateOne, deleteOne and
// getAll for one resource type.
type ResourceService[T any] struct {
	store     ResourceStore[T]
	resource  Resource[T]
	builder   *query.Builder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResourceService constructs the CRUD operation set.
func NewResourceService[T any](store ResourceStore[T], resource Resource[T], validate *validator.Validate, logger *zap.Logger) *ResourceService[T] {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceService[T]{
		store:     store,
		resource:  resource,
		builder:   query.NewBuilder(),
		validator: validate,
		logger:    logger.With(zap.String("resource", resource.Name)),
	}
}

// CreateOne validates and persists record, returning the stored version.
func (s *ResourceService[T]) CreateOne(ctx context.Context, record *T) (*T, error) {
	if s.resource.Normalize != nil {
		s.resource.Normalize(record)
	}
	if err := s.validator.Struct(record); err != nil {
		return nil, appErrors.Validation(err, fmt.Sprintf("invalid %s data", s.resource.Name))
	}
	if err := s.check(ctx, record); err != nil {
		return nil, err
	}
	id, err := s.store.Insert(ctx, record)
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	stored, err := s.store.FindByID(ctx, id)
	if err != nil {
		// Records outside the default scope cannot be read back.
		if errors.Is(err, sql.ErrNoRows) {
			return record, nil
		}
		return nil, storeError(s.resource.Name, err)
	}
	return stored, nil
}

// GetOne fetches a record and the named expansions.
func (s *ResourceService[T]) GetOne(ctx context.Context, id string, expand ...string) (*Detail[T], error) {
	for _, name := range expand {
		if _, ok := s.resource.Expansions[name]; !ok {
			return nil, appErrors.FieldError("expand", fmt.Sprintf("%s has no relation %q", s.resource.Name, name))
		}
	}
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	detail := &Detail[T]{Record: record}
	if len(expand) == 0 {
		return detail, nil
	}
	detail.Related = make(map[string]interface{}, len(expand))
	for _, name := range expand {
		related, err := s.resource.Expansions[name](ctx, record)
		if err != nil {
			return nil, storeError(name, err)
		}
		detail.Related[name] = related
	}
	return detail, nil
}

// UpdateOne merges a JSON patch onto the stored record, re-runs validation
// and returns the record as stored after the update.
func (s *ResourceService[T]) UpdateOne(ctx context.Context, id string, patch []byte) (*T, error) {
	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	next := *current
	if err := json.Unmarshal(patch, &next); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	*s.resource.ID(&next) = *s.resource.ID(current)
	if s.resource.Protect != nil {
		s.resource.Protect(current, &next)
	}
	if s.resource.Normalize != nil {
		s.resource.Normalize(&next)
	}
	if err := s.validator.Struct(&next); err != nil {
		return nil, appErrors.Validation(err, fmt.Sprintf("invalid %s data", s.resource.Name))
	}
	if err := s.check(ctx, &next); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &next); err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	updated, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	return updated, nil
}

// DeleteOne removes a record.
func (s *ResourceService[T]) DeleteOne(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return storeError(s.resource.Name, err)
	}
	return nil
}

// GetAll lists records matching the raw query parameters intersected with
// scope.
func (s *ResourceService[T]) GetAll(ctx context.Context, raw map[string]string, scope ...query.Term) (*Page[T], error) {
	spec, err := s.builder.Build(raw)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.Fields(spec.Projection())
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	items, total, err := s.store.Find(ctx, spec, scope...)
	if err != nil {
		return nil, storeError(s.resource.Name, err)
	}
	return &Page[T]{
		Items:  items,
		Fields: fields,
		Pagination: models.Pagination{
			Page:    spec.Page(),
			Limit:   spec.Limit(),
			Results: len(items),
			Total:   total,
		},
	}, nil
}

func (s *ResourceService[T]) check(ctx context.Context, record *T) error {
	if s.resource.Check == nil {
		return nil
	}
	return s.resource.Check(ctx, record)
}
