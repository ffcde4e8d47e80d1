package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/noah-isme/tour-booking-api/internal/service"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ResourceOperations is the CRUD operation set a ResourceHandler serves.
type ResourceOperations[T any] interface {
	CreateOne(ctx context.Context, record *T) (*T, error)
	GetOne(ctx context.Context, id string, expand ...string) (*service.Detail[T], error)
	UpdateOne(ctx context.Context, id string, patch []byte) (*T, error)
	DeleteOne(ctx context.Context, id string) error
	GetAll(ctx context.Context, raw map[string]string, scope ...query.Term) (*service.Page[T], error)
}

// ResourceHandler maps the generic CRUD operations onto gin handlers.
type ResourceHandler[T any] struct {
	service ResourceOperations[T]
	expand  []string
}

// NewResourceHandler creates a handler. Relations listed in expand are
// always included by GetOne; clients may ask for more with ?expand=.
func NewResourceHandler[T any](svc ResourceOperations[T], expand ...string) *ResourceHandler[T] {
	return &ResourceHandler[T]{service: svc, expand: expand}
}

// GetAll lists records shaped to the requested fields.
func (h *ResourceHandler[T]) GetAll(c *gin.Context) {
	h.list(c)
}

func (h *ResourceHandler[T]) list(c *gin.Context, scope ...query.Term) {
	page, err := h.service.GetAll(c.Request.Context(), query.FromValues(c.Request.URL.Query()), scope...)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := project(page.Items, page.Fields)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &page.Pagination)
}

// GetOne returns a single record with its expanded relations.
func (h *ResourceHandler[T]) GetOne(c *gin.Context) {
	expand := append(append([]string(nil), h.expand...), splitParam(c.Query("expand"))...)
	detail, err := h.service.GetOne(c.Request.Context(), c.Param("id"), expand...)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(detail.Related) == 0 {
		response.OK(c, detail.Record)
		return
	}
	doc, err := toDocument(detail.Record)
	if err != nil {
		response.Error(c, err)
		return
	}
	for name, related := range detail.Related {
		doc[name] = related
	}
	response.OK(c, doc)
}

// CreateOne creates a record from the JSON body.
func (h *ResourceHandler[T]) CreateOne(c *gin.Context) {
	var record T
	if err := c.ShouldBindJSON(&record); err != nil {
		response.Error(c, invalidBody(err))
		return
	}
	created, err := h.service.CreateOne(c.Request.Context(), &record)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// UpdateOne merges the JSON body onto the stored record.
func (h *ResourceHandler[T]) UpdateOne(c *gin.Context) {
	patch, err := c.GetRawData()
	if err != nil {
		response.Error(c, invalidBody(err))
		return
	}
	updated, err := h.service.UpdateOne(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, updated)
}

// DeleteOne removes a record.
func (h *ResourceHandler[T]) DeleteOne(c *gin.Context) {
	if err := h.service.DeleteOne(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// project keeps only fields of every item, keyed by their JSON names.
func project[T any](items []T, fields []string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		doc, err := toDocument(&items[i])
		if err != nil {
			return nil, err
		}
		shaped := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if value, ok := doc[field]; ok {
				shaped[field] = value
			}
		}
		out = append(out, shaped)
	}
	return out, nil
}

func toDocument(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode record")
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode record")
	}
	return doc, nil
}

func invalidBody(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
}

func splitParam(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
