package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-booking-api/internal/dto"
	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/service"
	appErrors "github.com/noah-isme/tour-booking-api/pkg/errors"
	"github.com/noah-isme/tour-booking-api/pkg/query"
)

type fakeTourSrv struct {
	tours     []models.Tour
	fields    []string
	lastRaw   map[string]string
	lastScope []query.Term
	lastPatch []byte
	expanded  []string
	deleted   string
	created   *models.Tour
	getErr    error

	plan      []dto.MonthlyPlanEntry
	exported  string
	within    float64
	coverSeen string
	gallery   int
}

func (f *fakeTourSrv) CreateOne(_ context.Context, t *models.Tour) (*models.Tour, error) {
	f.created = t
	t.ID = "new-tour"
	return t, nil
}

func (f *fakeTourSrv) GetOne(_ context.Context, id string, expand ...string) (*service.Detail[models.Tour], error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.expanded = expand
	detail := &service.Detail[models.Tour]{Record: &models.Tour{ID: id, Name: "The Forest Hiker"}}
	if len(expand) > 0 {
		detail.Related = map[string]interface{}{"reviews": []models.Review{{ID: "r1", Rating: 5}}}
	}
	return detail, nil
}

func (f *fakeTourSrv) UpdateOne(_ context.Context, id string, patch []byte) (*models.Tour, error) {
	f.lastPatch = patch
	return &models.Tour{ID: id, Name: "Updated"}, nil
}

func (f *fakeTourSrv) DeleteOne(_ context.Context, id string) error {
	f.deleted = id
	return nil
}

func (f *fakeTourSrv) GetAll(_ context.Context, raw map[string]string, scope ...query.Term) (*service.Page[models.Tour], error) {
	f.lastRaw, f.lastScope = raw, scope
	return &service.Page[models.Tour]{
		Items:      f.tours,
		Fields:     f.fields,
		Pagination: models.Pagination{Page: 1, Limit: 100, Results: len(f.tours), Total: len(f.tours)},
	}, nil
}

func (f *fakeTourSrv) Stats(context.Context) ([]dto.TourStat, error) {
	return []dto.TourStat{{Difficulty: "EASY", NumTours: 2}}, nil
}

func (f *fakeTourSrv) MonthlyPlan(context.Context, int) ([]dto.MonthlyPlanEntry, error) {
	return f.plan, nil
}

func (f *fakeTourSrv) ExportMonthlyPlan(_ context.Context, year int, format string) (*service.ExportFile, error) {
	f.exported = format
	return &service.ExportFile{Name: "monthly-plan-2021.csv", ContentType: "text/csv", Content: []byte("Month,Tour starts,Tours\n")}, nil
}

func (f *fakeTourSrv) ToursWithin(_ context.Context, distance float64, _, _ string) ([]models.Tour, error) {
	f.within = distance
	return f.tours, nil
}

func (f *fakeTourSrv) Distances(context.Context, string, string) ([]dto.TourDistance, error) {
	return []dto.TourDistance{{ID: "t1", Distance: 1.5}}, nil
}

func (f *fakeTourSrv) UpdateImages(_ context.Context, id string, cover io.Reader, gallery []io.Reader) (*models.Tour, error) {
	if cover != nil {
		raw, _ := io.ReadAll(cover)
		f.coverSeen = string(raw)
	}
	f.gallery = len(gallery)
	return &models.Tour{ID: id}, nil
}

func newTourRouter(svc *fakeTourSrv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTourHandler(svc)
	r := gin.New()
	r.GET("/tours", h.GetAll)
	r.GET("/tours/top-5-cheap", AliasTopTours(), h.GetAll)
	r.GET("/tours/monthly-plan/:year", h.MonthlyPlan)
	r.GET("/tours/tours-within/:distance/center/:latlng/unit/:unit", h.ToursWithin)
	r.GET("/tours/distances/:latlng/unit/:unit", h.Distances)
	r.POST("/tours", h.CreateOne)
	r.GET("/tours/:id", h.GetOne)
	r.PATCH("/tours/:id", h.UpdateOne)
	r.PATCH("/tours/:id/images", h.UpdateImages)
	r.DELETE("/tours/:id", h.DeleteOne)
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type listEnvelope struct {
	Status     string                   `json:"status"`
	Data       []map[string]interface{} `json:"data"`
	Pagination models.Pagination        `json:"pagination"`
}

func TestGetAllShapesProjection(t *testing.T) {
	svc := &fakeTourSrv{
		tours:  []models.Tour{{ID: "t1", Name: "The Forest Hiker", Price: 397, Summary: "hidden"}},
		fields: []string{"id", "name", "price"},
	}
	w := serve(newTourRouter(svc), httptest.NewRequest(http.MethodGet, "/tours?fields=name,price&price[lt]=500&page=1&page=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body listEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, map[string]interface{}{"id": "t1", "name": "The Forest Hiker", "price": 397.0}, body.Data[0])
	assert.Equal(t, 1, body.Pagination.Results)
	assert.Equal(t, "500", svc.lastRaw["price[lt]"])
	assert.Equal(t, "2", svc.lastRaw["page"])
}

func TestTopFiveCheapAlias(t *testing.T) {
	svc := &fakeTourSrv{}
	w := serve(newTourRouter(svc), httptest.NewRequest(http.MethodGet, "/tours/top-5-cheap?limit=50", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", svc.lastRaw["limit"])
	assert.Equal(t, "-ratingsAverage,price", svc.lastRaw["sort"])
	assert.Equal(t, "name,price,ratingsAverage,summary,difficulty", svc.lastRaw["fields"])
}

func TestGetOneMergesRelations(t *testing.T) {
	svc := &fakeTourSrv{}
	w := serve(newTourRouter(svc), httptest.NewRequest(http.MethodGet, "/tours/t1?expand=guides", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"reviews", "guides"}, svc.expanded)
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "The Forest Hiker", body.Data["name"])
	assert.Len(t, body.Data["reviews"], 1)

	svc.getErr = appErrors.Clone(appErrors.ErrNotFound, "no tour found with that ID")
	w = serve(newTourRouter(svc), httptest.NewRequest(http.MethodGet, "/tours/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no tour found with that ID")
}

func TestCreateUpdateDelete(t *testing.T) {
	svc := &fakeTourSrv{}
	r := newTourRouter(svc)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/tours", strings.NewReader(`{"name":"The Forest Hiker","price":397}`)))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 397.0, svc.created.Price)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/tours", strings.NewReader(`{"name":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodPatch, "/tours/t1", strings.NewReader(`{"price":10}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"price":10}`, string(svc.lastPatch))

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/tours/t1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "t1", svc.deleted)
}

func TestMonthlyPlanFormats(t *testing.T) {
	svc := &fakeTourSrv{plan: []dto.MonthlyPlanEntry{{Month: 7, NumTourStarts: 3}}}
	r := newTourRouter(svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/tours/monthly-plan/2021", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"numTourStarts":3`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/monthly-plan/2021?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", svc.exported)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="monthly-plan-2021.csv"`, w.Header().Get("Content-Disposition"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/monthly-plan/20x1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrInvalidQuery.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/monthly-plan/2021?format=xlsx", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGeoRoutes(t *testing.T) {
	svc := &fakeTourSrv{tours: []models.Tour{{ID: "t1"}}}
	r := newTourRouter(svc)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/tours/tours-within/250/center/34.1,-118.1/unit/mi", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 250.0, svc.within)
	assert.Contains(t, w.Body.String(), `"results":1`)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/tours-within/far/center/34.1,-118.1/unit/mi", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/distances/34.1,-118.1/unit/km", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"distance":1.5`)
}

func multipartBody(t *testing.T, files map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for field, contents := range files {
		for i, content := range contents {
			part, err := mw.CreateFormFile(field, field+string(rune('a'+i))+".jpg")
			require.NoError(t, err)
			_, err = part.Write([]byte(content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUpdateImagesMultipart(t *testing.T) {
	svc := &fakeTourSrv{}
	r := newTourRouter(svc)

	body, contentType := multipartBody(t, map[string][]string{"imageCover": {"cover"}, "images": {"1", "2"}})
	req := httptest.NewRequest(http.MethodPatch, "/tours/t1/images", body)
	req.Header.Set("Content-Type", contentType)
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cover", svc.coverSeen)
	assert.Equal(t, 2, svc.gallery)

	body, contentType = multipartBody(t, map[string][]string{"images": {"1", "2", "3", "4"}})
	req = httptest.NewRequest(http.MethodPatch, "/tours/t1/images", body)
	req.Header.Set("Content-Type", contentType)
	w = serve(r, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeAuthSrv struct {
	result     *models.AuthResult
	err        error
	forgot     models.ForgotPasswordRequest
	resetToken string
	updatedFor *models.User
}

func (f *fakeAuthSrv) Signup(context.Context, models.SignupRequest) (*models.AuthResult, error) {
	return f.result, f.err
}

func (f *fakeAuthSrv) Login(context.Context, models.LoginRequest) (*models.AuthResult, error) {
	return f.result, f.err
}

func (f *fakeAuthSrv) ForgotPassword(_ context.Context, req models.ForgotPasswordRequest) error {
	f.forgot = req
	return f.err
}

func (f *fakeAuthSrv) ResetPassword(_ context.Context, token string, _ models.ResetPasswordRequest) (*models.AuthResult, error) {
	f.resetToken = token
	return f.result, f.err
}

func (f *fakeAuthSrv) UpdatePassword(_ context.Context, user *models.User, _ models.UpdatePasswordRequest) (*models.AuthResult, error) {
	f.updatedFor = user
	return f.result, f.err
}

func newAuthRouter(svc *fakeAuthSrv, user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(svc, CookieConfig{MaxAge: time.Hour, Secure: true})
	r := gin.New()
	r.POST("/signup", h.Signup)
	r.POST("/login", h.Login)
	r.GET("/logout", h.Logout)
	r.POST("/forgotPassword", h.ForgotPassword)
	r.PATCH("/resetPassword/:token", h.ResetPassword)
	r.PATCH("/updateMyPassword", func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.ContextUserKey, user)
		}
	}, h.UpdatePassword)
	return r
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == middleware.SessionCookie {
			return cookie
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func TestLoginSetsSessionCookie(t *testing.T) {
	svc := &fakeAuthSrv{result: &models.AuthResult{Token: "signed", ExpiresAt: time.Now().Add(time.Hour), User: &models.User{ID: "u1", PasswordHash: "secret-hash"}}}
	w := serve(newAuthRouter(svc, nil), httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@x.com","password":"pass1234"}`)))

	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)
	assert.Equal(t, "signed", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.Contains(t, w.Body.String(), `"token":"signed"`)
	assert.NotContains(t, w.Body.String(), "secret-hash")
}

func TestLoginFailureSetsNoCookie(t *testing.T) {
	svc := &fakeAuthSrv{err: appErrors.Clone(appErrors.ErrInvalidCredentials, "")}
	w := serve(newAuthRouter(svc, nil), httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"a@x.com","password":"bad"}`)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func TestSignupReturnsCreated(t *testing.T) {
	svc := &fakeAuthSrv{result: &models.AuthResult{Token: "signed", ExpiresAt: time.Now().Add(time.Hour), User: &models.User{ID: "u1"}}}
	w := serve(newAuthRouter(svc, nil), httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(`{"name":"Ana"}`)))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestLogoutOverwritesCookie(t *testing.T) {
	w := serve(newAuthRouter(&fakeAuthSrv{}, nil), httptest.NewRequest(http.MethodGet, "/logout", nil))

	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(t, w)
	assert.Equal(t, middleware.LoggedOutValue, cookie.Value)
	assert.Equal(t, 10, cookie.MaxAge)
}

func TestForgotAndResetPassword(t *testing.T) {
	svc := &fakeAuthSrv{result: &models.AuthResult{Token: "fresh", ExpiresAt: time.Now().Add(time.Hour), User: &models.User{ID: "u1"}}}
	r := newAuthRouter(svc, nil)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/forgotPassword", strings.NewReader(`{"email":"a@x.com"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a@x.com", svc.forgot.Email)

	w = serve(r, httptest.NewRequest(http.MethodPatch, "/resetPassword/abc123", strings.NewReader(`{"password":"newpass123","passwordConfirm":"newpass123"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", svc.resetToken)
	assert.Equal(t, "fresh", sessionCookie(t, w).Value)

	svc.err = appErrors.Wrap(errors.New("smtp down"), appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "there was an error sending the email, try again later")
	w = serve(r, httptest.NewRequest(http.MethodPost, "/forgotPassword", strings.NewReader(`{"email":"a@x.com"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "smtp down")
}

func TestUpdatePasswordRequiresUser(t *testing.T) {
	svc := &fakeAuthSrv{result: &models.AuthResult{Token: "fresh", ExpiresAt: time.Now().Add(time.Hour), User: &models.User{ID: "u1"}}}
	payload := `{"passwordCurrent":"a","password":"newpass123","passwordConfirm":"newpass123"}`

	w := serve(newAuthRouter(svc, nil), httptest.NewRequest(http.MethodPatch, "/updateMyPassword", strings.NewReader(payload)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	user := &models.User{ID: "u1"}
	w = serve(newAuthRouter(svc, user), httptest.NewRequest(http.MethodPatch, "/updateMyPassword", strings.NewReader(payload)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, user, svc.updatedFor)
}

type fakeReviewSrv struct {
	created   *models.Review
	scope     []query.Term
	actor     *models.User
	deleteErr error
}

func (f *fakeReviewSrv) CreateOne(_ context.Context, r *models.Review) (*models.Review, error) {
	f.created = r
	return r, nil
}

func (f *fakeReviewSrv) GetOne(_ context.Context, id string) (*models.Review, error) {
	return &models.Review{ID: id}, nil
}

func (f *fakeReviewSrv) GetAll(_ context.Context, _ map[string]string, scope ...query.Term) (*service.Page[models.Review], error) {
	f.scope = scope
	return &service.Page[models.Review]{Fields: []string{"id"}}, nil
}

func (f *fakeReviewSrv) UpdateOne(_ context.Context, actor *models.User, id string, _ []byte) (*models.Review, error) {
	f.actor = actor
	return &models.Review{ID: id}, nil
}

func (f *fakeReviewSrv) DeleteOne(_ context.Context, actor *models.User, _ string) error {
	f.actor = actor
	return f.deleteErr
}

func newReviewRouter(svc *fakeReviewSrv, user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewReviewHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.ContextUserKey, user) })
	r.GET("/tours/:tourId/reviews", h.GetAll)
	r.POST("/tours/:tourId/reviews", h.CreateOne)
	r.POST("/reviews", h.CreateOne)
	r.PATCH("/reviews/:id", h.UpdateOne)
	r.DELETE("/reviews/:id", h.DeleteOne)
	return r
}

func TestNestedReviewRoutes(t *testing.T) {
	svc := &fakeReviewSrv{}
	user := &models.User{ID: "u1", Role: models.RoleUser}
	r := newReviewRouter(svc, user)

	w := serve(r, httptest.NewRequest(http.MethodPost, "/tours/t9/reviews", strings.NewReader(`{"review":"Great","rating":5,"tour":"other","user":"someone"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "t9", svc.created.TourID)
	assert.Equal(t, "u1", svc.created.UserID)

	w = serve(r, httptest.NewRequest(http.MethodPost, "/reviews", strings.NewReader(`{"review":"Great","rating":5,"tour":"t2"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "t2", svc.created.TourID)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/tours/t9/reviews", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []query.Term{{Field: "tour", Op: query.OpEq, Value: "t9"}}, svc.scope)
}

func TestReviewMutationsPassActor(t *testing.T) {
	svc := &fakeReviewSrv{deleteErr: appErrors.Clone(appErrors.ErrForbidden, "you can only change your own reviews")}
	user := &models.User{ID: "u1", Role: models.RoleUser}
	r := newReviewRouter(svc, user)

	w := serve(r, httptest.NewRequest(http.MethodPatch, "/reviews/r1", strings.NewReader(`{"rating":4}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, user, svc.actor)

	w = serve(r, httptest.NewRequest(http.MethodDelete, "/reviews/r1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"disabled": nil,
	})
	r := gin.New()
	r.GET("/ready", h.Ready)
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Prometheus)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.NotContains(t, w.Body.String(), "disabled")

	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}
