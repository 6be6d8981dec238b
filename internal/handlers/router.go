package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ukydev/fleet-monitor/internal/middleware"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// RouterConfig carries the collaborators and settings of the HTTP surface.
type RouterConfig struct {
	Trips    TripService
	Registry RegistryService
	Location LocationService
	Query    QueryService
	Feed     LiveFeed

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimitMiddleware

	RateLimitRequests      int
	RateLimitWindowSeconds int
	AllowedOrigins         []string
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	trips := NewTripHandler(cfg.Trips)
	drivers := NewDriverHandler(cfg.Registry, cfg.Trips)
	vehicles := NewVehicleHandler(cfg.Registry, cfg.Location)
	monitor := NewMonitorHandler(cfg.Query, cfg.Feed)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindowSeconds)
	}
	can := cfg.Auth.RequirePermission
	gate := func(r chi.Router, action string) chi.Router {
		return r.With(limit, can(action))
	}
	adminOnly := cfg.Auth.RequireRole(models.RoleAdmin)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, CodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeValidation, "Method not allowed")
	})

	r.Get("/health", Health)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)
		r.With(adminOnly).Get("/ws", monitor.Stream)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)

		r.Route("/trips", func(r chi.Router) {
			gate(r, models.ActionOperateTrip).Post("/checkout", trips.Checkout)
			gate(r, models.ActionOperateTrip).Post("/checkin", trips.Checkin)
			r.With(limit, adminOnly).Get("/", trips.ListTrips)
			gate(r, models.ActionOperateTrip).Get("/{id}", trips.GetTrip)
		})

		r.Route("/drivers", func(r chi.Router) {
			gate(r, models.ActionManageFleet).Get("/", drivers.ListDrivers)
			gate(r, models.ActionManageFleet).Post("/", drivers.CreateDriver)
			gate(r, models.ActionOperateTrip).Get("/{id}", drivers.GetDriver)
			gate(r, models.ActionOperateTrip).Get("/{id}/active-trip", drivers.GetActiveTrip)
			gate(r, models.ActionOperateTrip).Get("/{id}/trips", drivers.GetHistory)
		})

		r.Route("/vehicles", func(r chi.Router) {
			gate(r, models.ActionViewFleet).Get("/", vehicles.ListVehicles)
			gate(r, models.ActionManageFleet).Post("/", vehicles.CreateVehicle)
			gate(r, models.ActionViewFleet).Get("/{id}", vehicles.GetVehicle)
			gate(r, models.ActionManageFleet).Put("/{id}/maintenance", vehicles.HoldForMaintenance)
			gate(r, models.ActionManageFleet).Delete("/{id}/maintenance", vehicles.ReleaseFromMaintenance)
			// Location reports stream at tracker rate and bypass the limiter.
			r.With(can(models.ActionReportLocation)).Put("/{id}/location", vehicles.ReportLocation)
		})

		gate(r, models.ActionViewFleet).Get("/live", monitor.LiveFleet)
		r.With(limit, adminOnly).Get("/dashboard/summary", monitor.DashboardSummary)
	})

	return r
}
