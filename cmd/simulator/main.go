// Command simulator drives a fleet through the HTTP API: it registers
// vehicles and drivers, checks them out, streams positions along road
// routes and checks them back in.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/models"
	"golang.org/x/sync/errgroup"
)

// Location is a point in WGS84 degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

var cities = []Location{
	{Lat: 41.0082, Lng: 28.9784}, // Istanbul
	{Lat: 39.9334, Lng: 32.8597}, // Ankara
	{Lat: 38.4237, Lng: 27.1428}, // Izmir
	{Lat: 40.1885, Lng: 29.0610}, // Bursa
	{Lat: 36.8969, Lng: 30.7133}, // Antalya
	{Lat: 51.5074, Lng: -0.1278}, // London
	{Lat: 48.8566, Lng: 2.3522},  // Paris
	{Lat: 52.5200, Lng: 13.4050}, // Berlin
}

var (
	brands = []string{"Ford", "Fiat", "Renault", "Toyota", "Volkswagen"}
	names  = []string{"Ayse", "Mehmet", "Elif", "Can", "Zeynep", "Emre", "Deniz", "Selin"}
)

type settings struct {
	apiURL       string
	token        string
	fleetSize    int
	interval     time.Duration
	tripTicks    int
	staleEvery   int
	osrmURL      string
	requestLimit time.Duration
}

func loadSettings() settings {
	s := settings{
		apiURL:       os.Getenv("API_BASE_URL"),
		token:        os.Getenv("SIM_AUTH_TOKEN"),
		fleetSize:    envInt("FLEET_SIZE", 5),
		interval:     time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second,
		tripTicks:    envInt("SIM_TRIP_TICKS", 30),
		staleEvery:   envInt("SIM_STALE_EVERY", 10),
		osrmURL:      os.Getenv("OSRM_URL"),
		requestLimit: 10 * time.Second,
	}
	if s.apiURL == "" {
		s.apiURL = "http://localhost:8080/api"
	}
	if s.osrmURL == "" {
		s.osrmURL = "https://router.project-osrm.org"
	}
	return s
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			return n
		}
	}
	return def
}

// --- API client ---

type apiError struct {
	Status int
	Code   string
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Msg)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	return &apiClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes the envelope's data into dst.
func (c *apiClient) do(ctx context.Context, method, path string, body, dst interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Code    string          `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &apiError{Status: resp.StatusCode, Code: env.Code, Msg: env.Error}
	}
	if dst != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, dst)
	}
	return nil
}

func (c *apiClient) createVehicle(ctx context.Context, i int) (*models.Vehicle, error) {
	req := models.VehicleRequest{
		LicensePlate: fmt.Sprintf("SIM %03d %04d", i, rand.Intn(10000)),
		Brand:        brands[rand.Intn(len(brands))],
		Model:        "Cargo",
		Year:         2018 + rand.Intn(7),
	}
	var v models.Vehicle
	if err := c.do(ctx, http.MethodPost, "/vehicles", req, &v); err != nil {
		return nil, fmt.Errorf("create vehicle: %w", err)
	}
	return &v, nil
}

func (c *apiClient) createDriver(ctx context.Context, i int) (*models.Driver, error) {
	req := models.DriverRequest{
		Name:          fmt.Sprintf("%s %d", names[rand.Intn(len(names))], i),
		LicenseNumber: fmt.Sprintf("SIM-%d-%06d", i, rand.Intn(1000000)),
	}
	var d models.Driver
	if err := c.do(ctx, http.MethodPost, "/drivers", req, &d); err != nil {
		return nil, fmt.Errorf("create driver: %w", err)
	}
	return &d, nil
}

func (c *apiClient) checkout(ctx context.Context, carID, driverID int64, startKm int) (*models.Trip, error) {
	var t models.Trip
	err := c.do(ctx, http.MethodPost, "/trips/checkout",
		models.CheckoutRequest{CarID: carID, DriverID: driverID, StartKm: startKm, Notes: "simulated"}, &t)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	return &t, nil
}

func (c *apiClient) checkin(ctx context.Context, tripID int64, endKm int) error {
	if err := c.do(ctx, http.MethodPost, "/trips/checkin", models.CheckinRequest{TripID: tripID, EndKm: endKm}, nil); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	return nil
}

type locationAck struct {
	Applied bool `json:"applied"`
}

func (c *apiClient) reportLocation(ctx context.Context, carID int64, loc Location, ts time.Time) (bool, error) {
	body := struct {
		Lat       float64   `json:"lat"`
		Lng       float64   `json:"lng"`
		Timestamp time.Time `json:"timestamp"`
	}{loc.Lat, loc.Lng, ts}
	var ack locationAck
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/vehicles/%d/location", carID), body, &ack); err != nil {
		return false, err
	}
	return ack.Applied, nil
}

// --- Routing & movement ---

type route struct {
	Points    []Location
	SegIndex  int
	SegOffset float64 // km along current segment
}

type vehicleSim struct {
	Vehicle  *models.Vehicle
	Driver   *models.Driver
	Position Location
	SpeedKmh float64
	Odometer float64
	Route    *route
}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rand.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func randomLocation() Location {
	return jitterLocation(cities[rand.Intn(len(cities))], 500)
}

func haversineKm(a, b Location) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return R * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func lerp(a, b Location, t float64) Location {
	return Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

type router struct {
	baseURL string
	http    *http.Client
}

func (r *router) fetch(ctx context.Context, start, end Location) ([]Location, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		r.baseURL, start.Lng, start.Lat, end.Lng, end.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, errors.New("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, Location{Lat: c[1], Lng: c[0]})
	}
	return pts, nil
}

// plan picks a nearby destination and routes to it, falling back to a
// straight leg when the routing service is unavailable.
func (r *router) plan(ctx context.Context, s *vehicleSim) {
	start := s.Position
	end := jitterLocation(start, 5000)
	pts, err := r.fetch(ctx, start, end)
	if err != nil || len(pts) < 2 {
		log.WithError(err).Debug("Routing unavailable, using straight leg")
		s.Route = &route{Points: []Location{start, end}}
		return
	}
	s.Route = &route{Points: pts}
}

func (r *router) step(ctx context.Context, s *vehicleSim, tickSec float64) {
	if s.Route == nil || len(s.Route.Points) < 2 {
		r.plan(ctx, s)
	}
	stepAlong(s, s.SpeedKmh*(tickSec/3600.0))
	if s.Route.SegIndex >= len(s.Route.Points)-1 {
		r.plan(ctx, s)
	}
}

// stepAlong advances s by km along its route.
func stepAlong(s *vehicleSim, km float64) {
	s.Odometer += km
	for km > 0 && s.Route.SegIndex < len(s.Route.Points)-1 {
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		segLen := haversineKm(a, b)
		left := segLen - s.Route.SegOffset
		if km >= left {
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			km -= left
			continue
		}
		t := (s.Route.SegOffset + km) / segLen
		s.Position = lerp(a, b, math.Max(0, math.Min(1, t)))
		s.Route.SegOffset += km
		km = 0
	}
}

// --- Simulation ---

type simulator struct {
	cfg    settings
	api    *apiClient
	router *router
}

func (sim *simulator) setup(ctx context.Context) ([]*vehicleSim, error) {
	fleet := make([]*vehicleSim, 0, sim.cfg.fleetSize)
	for i := 0; i < sim.cfg.fleetSize; i++ {
		v, err := sim.api.createVehicle(ctx, i+1)
		if err != nil {
			return fleet, err
		}
		d, err := sim.api.createDriver(ctx, i+1)
		if err != nil {
			return fleet, err
		}
		log.WithFields(log.Fields{"car_id": v.ID, "plate": v.LicensePlate, "driver_id": d.ID}).Info("Registered vehicle and driver")
		fleet = append(fleet, &vehicleSim{
			Vehicle:  v,
			Driver:   d,
			Position: randomLocation(),
			SpeedKmh: 30 + rand.Float64()*30,
			Odometer: float64(10000 + rand.Intn(90000)),
		})
	}
	return fleet, nil
}

// drive runs back-to-back trips for s until ctx is cancelled.
func (sim *simulator) drive(ctx context.Context, s *vehicleSim) error {
	logger := log.WithField("car_id", s.Vehicle.ID)
	ticker := time.NewTicker(sim.cfg.interval)
	defer ticker.Stop()

	for {
		trip, err := sim.api.checkout(ctx, s.Vehicle.ID, s.Driver.ID, int(s.Odometer))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("Checkout failed, retrying")
			if !wait(ctx, ticker) {
				return nil
			}
			continue
		}
		logger.WithField("trip_id", trip.ID).Info("Trip started")

		var last time.Time
		for tick := 1; tick <= sim.cfg.tripTicks; tick++ {
			if !wait(ctx, ticker) {
				sim.closeTrip(s, trip.ID)
				return nil
			}
			s.SpeedKmh = math.Max(15, math.Min(90, s.SpeedKmh+(rand.Float64()*2-1)*1.5))
			sim.router.step(ctx, s, sim.cfg.interval.Seconds())

			ts := time.Now().UTC()
			// Resend an outdated report now and then; it must be ignored.
			if sim.cfg.staleEvery > 0 && tick%sim.cfg.staleEvery == 0 && !last.IsZero() {
				ts = last.Add(-time.Second)
			}
			applied, err := sim.api.reportLocation(ctx, s.Vehicle.ID, s.Position, ts)
			if err != nil {
				logger.WithError(err).Warn("Location report failed")
				continue
			}
			if applied {
				last = ts
			}
			logger.WithFields(log.Fields{"lat": s.Position.Lat, "lng": s.Position.Lng, "applied": applied}).Debug("Reported location")
		}

		if err := sim.api.checkin(ctx, trip.ID, int(s.Odometer)+1); err != nil {
			logger.WithError(err).Warn("Checkin failed")
			continue
		}
		logger.WithFields(log.Fields{"trip_id": trip.ID, "km": int(s.Odometer)}).Info("Trip finished")
	}
}

// closeTrip checks a trip in on shutdown with a fresh context.
func (sim *simulator) closeTrip(s *vehicleSim, tripID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), sim.cfg.requestLimit)
	defer cancel()
	if err := sim.api.checkin(ctx, tripID, int(s.Odometer)+1); err != nil {
		log.WithError(err).WithField("trip_id", tripID).Warn("Failed to close trip on shutdown")
	}
}

func wait(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
		return true
	}
}

func (sim *simulator) run(ctx context.Context) error {
	fleet, err := sim.setup(ctx)
	if err != nil && len(fleet) == 0 {
		return err
	}
	if err != nil {
		log.WithError(err).Warn("Fleet partially registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range fleet {
		s := s
		g.Go(func() error { return sim.drive(gctx, s) })
	}
	log.WithField("vehicles", len(fleet)).Info("Simulation started")
	return g.Wait()
}

func main() {
	cfg := loadSettings()
	if cfg.token == "" {
		log.Fatal("SIM_AUTH_TOKEN is required; use an admin token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"fleet_size": cfg.fleetSize,
		"api_url":    cfg.apiURL,
		"interval":   cfg.interval,
	}).Info("Starting fleet simulation")

	sim := &simulator{
		cfg:    cfg,
		api:    newAPIClient(cfg.apiURL, cfg.token, cfg.requestLimit),
		router: &router{baseURL: cfg.osrmURL, http: &http.Client{Timeout: cfg.requestLimit}},
	}
	if err := sim.run(ctx); err != nil {
		log.WithError(err).Fatal("Simulation failed")
	}
	log.Info("Simulation stopped")
}
