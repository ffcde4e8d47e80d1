package handler

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tour-booking-api/internal/dto"
	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/service"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
	"github.com/noah-isme/tour-booking-api/pkg/response"
)

// maxGalleryImages bounds the images accepted by one gallery upload.
const maxGalleryImages = 3

// TourOperations is the tour service surface used by TourHandler.
type TourOperations interface {
	ResourceOperations[models.Tour]
	Stats(ctx context.Context) ([]dto.TourStat, error)
	MonthlyPlan(ctx context.Context, year int) ([]dto.MonthlyPlanEntry, error)
	ExportMonthlyPlan(ctx context.Context, year int, format string) (*service.ExportFile, error)
	ToursWithin(ctx context.Context, distance float64, latlng, unit string) ([]models.Tour, error)
	Distances(ctx context.Context, latlng, unit string) ([]dto.TourDistance, error)
	UpdateImages(ctx context.Context, id string, cover io.Reader, gallery []io.Reader) (*models.Tour, error)
}

// TourHandler serves the tour catalogue and its reports.
type TourHandler struct {
	*ResourceHandler[models.Tour]
	tours TourOperations
}

// NewTourHandler creates a TourHandler. Single tours always include their
// reviews.
func NewTourHandler(svc TourOperations) *TourHandler {
	return &TourHandler{ResourceHandler: NewResourceHandler[models.Tour](svc, "reviews"), tours: svc}
}

// AliasTopTours rewrites the query to the five best rated, cheapest tours.
func AliasTopTours() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		q.Set(query.KeyLimit, "5")
		q.Set(query.KeySort, "-ratingsAverage,price")
		q.Set(query.KeyFields, "name,price,ratingsAverage,summary,difficulty")
		c.Request.URL.RawQuery = q.Encode()
		c.Next()
	}
}

// Stats godoc
// @Summary Tour statistics
// @Description Aggregates tours rated 4.5 or better by difficulty
// @Tags Tours
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /tours/tour-stats [get]
func (h *TourHandler) Stats(c *gin.Context) {
	stats, err := h.tours.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// MonthlyPlan godoc
// @Summary Monthly plan
// @Description Busiest months of a year by tour starts, as JSON, CSV or PDF
// @Tags Tours
// @Produce json,text/csv,application/pdf
// @Param year path int true "Year"
// @Param format query string false "json, csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tours/monthly-plan/{year} [get]
func (h *TourHandler) MonthlyPlan(c *gin.Context) {
	var req dto.MonthlyPlanRequest
	if err := c.ShouldBindUri(&req); err != nil {
		response.Error(c, invalidQuery("year", "must be a year between 1970 and 9999", err))
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, invalidQuery("format", "must be json, csv or pdf", err))
		return
	}

	if req.Format == "" || req.Format == "json" {
		plan, err := h.tours.MonthlyPlan(c.Request.Context(), req.Year)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, plan)
		return
	}

	file, err := h.tours.ExportMonthlyPlan(c.Request.Context(), req.Year, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// ToursWithin godoc
// @Summary Tours within a radius
// @Tags Tours
// @Produce json
// @Param distance path number true "Radius"
// @Param latlng path string true "lat,lng"
// @Param unit path string true "mi or km"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tours/tours-within/{distance}/center/{latlng}/unit/{unit} [get]
func (h *TourHandler) ToursWithin(c *gin.Context) {
	distance, err := strconv.ParseFloat(c.Param("distance"), 64)
	if err != nil {
		response.Error(c, invalidQuery("distance", "must be a positive number", err))
		return
	}
	tours, err := h.tours.ToursWithin(c.Request.Context(), distance, c.Param("latlng"), c.Param("unit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tours, nil, map[string]interface{}{"results": len(tours)})
}

// Distances godoc
// @Summary Distances to every tour start
// @Tags Tours
// @Produce json
// @Param latlng path string true "lat,lng"
// @Param unit path string true "mi or km"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tours/distances/{latlng}/unit/{unit} [get]
func (h *TourHandler) Distances(c *gin.Context) {
	distances, err := h.tours.Distances(c.Request.Context(), c.Param("latlng"), c.Param("unit"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, distances)
}

// UpdateImages godoc
// @Summary Upload tour images
// @Description Multipart upload of imageCover and up to three images
// @Tags Tours
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Tour ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tours/{id}/images [patch]
func (h *TourHandler) UpdateImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, invalidBody(err))
		return
	}
	if len(form.File["images"]) > maxGalleryImages {
		response.Error(c, appErrors.FieldError("images", fmt.Sprintf("at most %d images are allowed", maxGalleryImages)))
		return
	}

	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	open := func(fh *multipart.FileHeader) (io.Reader, error) {
		f, err := fh.Open()
		if err != nil {
			return nil, invalidBody(err)
		}
		opened = append(opened, f)
		return f, nil
	}

	var cover io.Reader
	if files := form.File["imageCover"]; len(files) > 0 {
		if cover, err = open(files[0]); err != nil {
			response.Error(c, err)
			return
		}
	}
	var gallery []io.Reader
	for _, fh := range form.File["images"] {
		r, err := open(fh)
		if err != nil {
			response.Error(c, err)
			return
		}
		gallery = append(gallery, r)
	}

	tour, err := h.tours.UpdateImages(c.Request.Context(), c.Param("id"), cover, gallery)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tour)
}

func invalidQuery(param, reason string, err error) error {
	appErr := appErrors.Wrap(err, appErrors.ErrInvalidQuery.Code, appErrors.ErrInvalidQuery.Status, fmt.Sprintf("invalid parameter %s: %s", param, reason))
	appErr.Details = map[string]string{param: reason}
	return appErr
}
