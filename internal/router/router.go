package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tour-booking-api/internal/handler"
	"github.com/noah-isme/tour-booking-api/internal/middleware"
	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/pkg/config"
	"github.com/noah-isme/tour-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tour-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tour-booking-api/pkg/middleware/requestid"
	"github.com/noah-isme/tour-booking-api/pkg/ratelimit"
)

// Handlers groups every HTTP handler mounted by New.
type Handlers struct {
	Auth     *handler.AuthHandler
	Tours    *handler.TourHandler
	Reviews  *handler.ReviewHandler
	Users    *handler.UserHandler
	Bookings *handler.BookingHandler
	Metrics  *handler.MetricsHandler
}

// Deps carries the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Auth     middleware.Authenticator
	Observer middleware.RequestObserver
	Limiter  ratelimit.Limiter
	Logger   *zap.Logger
}

// New builds the gin engine with the global middleware chain and every route.
func New(cfg *config.Config, deps Deps, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	if deps.Observer != nil {
		r.Use(middleware.Metrics(deps.Observer))
	}

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	if cfg.RateLimit.Enabled && deps.Limiter != nil {
		api.Use(middleware.RateLimit(deps.Limiter, deps.Logger))
	}
	api.Use(middleware.IsLoggedIn(deps.Auth))

	protect := middleware.Protect(deps.Auth)
	registerTours(api, h, protect)
	registerUsers(api, h, protect)
	registerReviews(api.Group("/reviews", protect), h.Reviews)
	registerBookings(api, h.Bookings, protect)

	return r
}

func registerTours(api *gin.RouterGroup, h Handlers, protect gin.HandlerFunc) {
	staff := middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide)

	g := api.Group("/tours")
	g.GET("", h.Tours.GetAll)
	g.GET("/top-5-cheap", handler.AliasTopTours(), h.Tours.GetAll)
	g.GET("/tour-stats", h.Tours.Stats)
	g.GET("/monthly-plan/:year", protect, middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide, models.RoleGuide), h.Tours.MonthlyPlan)
	g.GET("/tours-within/:distance/center/:latlng/unit/:unit", h.Tours.ToursWithin)
	g.GET("/distances/:latlng/unit/:unit", h.Tours.Distances)
	g.POST("", protect, staff, h.Tours.CreateOne)
	g.GET("/:id", h.Tours.GetOne)
	g.PATCH("/:id", protect, staff, h.Tours.UpdateOne)
	g.PATCH("/:id/images", protect, staff, h.Tours.UpdateImages)
	g.DELETE("/:id", protect, staff, h.Tours.DeleteOne)

	nested := g.Group("/:id/reviews", protect, scopeToTour("id"))
	nested.GET("", h.Reviews.GetAll)
	nested.POST("", middleware.RestrictTo(models.RoleUser), h.Reviews.CreateOne)
}

func registerUsers(api *gin.RouterGroup, h Handlers, protect gin.HandlerFunc) {
	g := api.Group("/users")
	g.POST("/signup", h.Auth.Signup)
	g.POST("/login", h.Auth.Login)
	g.GET("/logout", h.Auth.Logout)
	g.POST("/forgotPassword", h.Auth.ForgotPassword)
	g.PATCH("/resetPassword/:token", h.Auth.ResetPassword)

	self := g.Group("", protect)
	self.PATCH("/updateMyPassword", h.Auth.UpdatePassword)
	self.GET("/me", h.Users.Me)
	self.PATCH("/updateMe", h.Users.UpdateMe)
	self.DELETE("/deleteMe", h.Users.DeleteMe)

	admin := g.Group("", protect, middleware.RestrictTo(models.RoleAdmin))
	admin.GET("", h.Users.GetAll)
	admin.POST("", h.Users.CreateOne)
	admin.GET("/:id", h.Users.GetOne)
	admin.PATCH("/:id", h.Users.UpdateOne)
	admin.DELETE("/:id", h.Users.DeleteOne)
}

func registerReviews(g *gin.RouterGroup, h *handler.ReviewHandler) {
	authors := middleware.RestrictTo(models.RoleUser, models.RoleAdmin)

	g.GET("", h.GetAll)
	g.POST("", middleware.RestrictTo(models.RoleUser), h.CreateOne)
	g.GET("/:id", h.GetOne)
	g.PATCH("/:id", authors, h.UpdateOne)
	g.DELETE("/:id", authors, h.DeleteOne)
}

func registerBookings(api *gin.RouterGroup, h *handler.BookingHandler, protect gin.HandlerFunc) {
	g := api.Group("/bookings", protect)
	g.GET("/me", h.MyTours)

	staff := g.Group("", middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide))
	staff.GET("", h.GetAll)
	staff.POST("", h.CreateOne)
	staff.GET("/:id", h.GetOne)
	staff.PATCH("/:id", h.UpdateOne)
	staff.DELETE("/:id", h.DeleteOne)
}

// scopeToTour exposes the tour id of a nested route under handler.TourParam.
func scopeToTour(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: handler.TourParam, Value: c.Param(param)})
		c.Next()
	}
}
