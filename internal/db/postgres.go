package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// ConnectPostgres opens and pings a PostgreSQL connection pool.
func ConnectPostgres(ctx context.Context, dbURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id BIGSERIAL PRIMARY KEY,
		license_plate TEXT NOT NULL UNIQUE,
		brand TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		year INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK(status IN ('AVAILABLE', 'IN_USE', 'MAINTENANCE')),
		current_driver_id BIGINT,
		current_driver_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS drivers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		license_number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK(status IN ('ACTIVE', 'OFF_DUTY')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS drivers_license_number_key
		ON drivers (license_number) WHERE license_number <> ''`,

	`CREATE TABLE IF NOT EXISTS trips (
		id BIGSERIAL PRIMARY KEY,
		car_id BIGINT NOT NULL REFERENCES vehicles(id),
		driver_id BIGINT NOT NULL REFERENCES drivers(id),
		start_time TIMESTAMPTZ NOT NULL,
		start_km BIGINT NOT NULL CHECK(start_km >= 0),
		end_time TIMESTAMPTZ,
		end_km BIGINT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK(end_km IS NULL OR end_km >= start_km)
	)`,
	`ALTER TABLE trips ALTER COLUMN start_km TYPE BIGINT, ALTER COLUMN end_km TYPE BIGINT`,
	// At most one open trip per vehicle and per driver.
	`CREATE UNIQUE INDEX IF NOT EXISTS trips_open_car_key ON trips (car_id) WHERE end_time IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS trips_open_driver_key ON trips (driver_id) WHERE end_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS trips_driver_id_idx ON trips (driver_id, id DESC)`,

	`CREATE TABLE IF NOT EXISTS vehicle_positions (
		vehicle_id BIGINT PRIMARY KEY REFERENCES vehicles(id),
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		reported_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStore is a Store backed by PostgreSQL. Trip transactions lock
// rows with SELECT ... FOR NO KEY UPDATE in vehicle, driver order (trip
// first on checkin). Position upserts only take the key-share lock of the
// foreign key, so they never wait on a trip transaction.
type PostgresStore struct {
	db    *sqlx.DB
	clock fleet.Clock
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB, clock fleet.Clock) *PostgresStore {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	return &PostgresStore{db: db, clock: clock}
}

// Migrate creates the schema when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, m := range postgresMigrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}

type vehicleRow struct {
	ID                int64           `db:"id"`
	LicensePlate      string          `db:"license_plate"`
	Brand             string          `db:"brand"`
	Model             string          `db:"model"`
	Year              int             `db:"year"`
	Status            string          `db:"status"`
	CurrentDriverID   sql.NullInt64   `db:"current_driver_id"`
	CurrentDriverName sql.NullString  `db:"current_driver_name"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	Lat               sql.NullFloat64 `db:"lat"`
	Lng               sql.NullFloat64 `db:"lng"`
	ReportedAt        sql.NullTime    `db:"reported_at"`
}

func (r vehicleRow) toModel() models.Vehicle {
	v := models.Vehicle{
		ID:           r.ID,
		LicensePlate: r.LicensePlate,
		Brand:        r.Brand,
		Model:        r.Model,
		Year:         r.Year,
		Status:       models.VehicleStatus(r.Status),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.CurrentDriverID.Valid {
		v.CurrentDriver = &models.DriverRef{ID: r.CurrentDriverID.Int64, Name: r.CurrentDriverName.String}
	}
	if r.ReportedAt.Valid {
		v.Position = &models.Position{Lat: r.Lat.Float64, Lng: r.Lng.Float64, Timestamp: r.ReportedAt.Time.UTC()}
	}
	return v
}

type driverRow struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	PhoneNumber   string    `db:"phone_number"`
	LicenseNumber string    `db:"license_number"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r driverRow) toModel() models.Driver {
	return models.Driver{
		ID:            r.ID,
		Name:          r.Name,
		PhoneNumber:   r.PhoneNumber,
		LicenseNumber: r.LicenseNumber,
		Status:        models.DriverStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type tripRow struct {
	ID        int64         `db:"id"`
	CarID     int64         `db:"car_id"`
	DriverID  int64         `db:"driver_id"`
	StartTime time.Time     `db:"start_time"`
	StartKm   int           `db:"start_km"`
	EndTime   sql.NullTime  `db:"end_time"`
	EndKm     sql.NullInt64 `db:"end_km"`
	Notes     string        `db:"notes"`
	CreatedAt time.Time     `db:"created_at"`
}

func (r tripRow) toModel() models.Trip {
	t := models.Trip{
		ID:        r.ID,
		CarID:     r.CarID,
		DriverID:  r.DriverID,
		StartTime: r.StartTime.UTC(),
		StartKm:   r.StartKm,
		Notes:     r.Notes,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time.UTC()
		t.EndTime = &end
	}
	if r.EndKm.Valid {
		km := int(r.EndKm.Int64)
		t.EndKm = &km
	}
	return t
}

const (
	vehicleSelect = `SELECT v.id, v.license_plate, v.brand, v.model, v.year, v.status,
		v.current_driver_id, v.current_driver_name, v.created_at, v.updated_at,
		p.lat, p.lng, p.reported_at
		FROM vehicles v LEFT JOIN vehicle_positions p ON p.vehicle_id = v.id`
	driverColumns = `id, name, phone_number, license_number, status, created_at, updated_at`
	tripColumns   = `id, car_id, driver_id, start_time, start_km, end_time, end_km, notes, created_at`
)

// --- vehicles ---

// GetVehicle returns a vehicle joined with its position.
func (s *PostgresStore) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	var row vehicleRow
	err := s.db.GetContext(ctx, &row, vehicleSelect+` WHERE v.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fleet.NotFoundError{Entity: "vehicle", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle %d: %w", id, err)
	}
	v := row.toModel()
	return &v, nil
}

// ListVehicles returns vehicles newest first.
func (s *PostgresStore) ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) ([]models.Vehicle, int64, error) {
	var w whereBuilder
	if filter.Status != "" {
		w.add("v.status = ?", string(filter.Status))
	}
	if filter.IDBelow > 0 {
		w.add("v.id < ?", filter.IDBelow)
	}
	w.search(filter.Search, "v.license_plate", "v.brand", "v.model")

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM vehicles v`+w.sql(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count vehicles: %w", err)
	}
	page = page.Normalize()
	query, args := w.paged(vehicleSelect+w.sql()+` ORDER BY v.id DESC`, page)
	var rows []vehicleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list vehicles: %w", err)
	}
	vehicles := make([]models.Vehicle, len(rows))
	for i, r := range rows {
		vehicles[i] = r.toModel()
	}
	return vehicles, total, nil
}

// CreateVehicle inserts a vehicle and stores its initial position if given.
func (s *PostgresStore) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	now := s.clock.Now()
	err := s.db.GetContext(ctx, &vehicle.ID,
		`INSERT INTO vehicles (license_plate, brand, model, year, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		vehicle.LicensePlate, vehicle.Brand, vehicle.Model, vehicle.Year, string(vehicle.Status), now)
	if isPQCode(err, pqUniqueViolation) {
		return &fleet.ConflictError{Entity: "vehicle", Reason: "license plate already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	if vehicle.Position != nil {
		if _, err := s.UpdatePosition(ctx, vehicle.ID, *vehicle.Position); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwapVehicleStatus moves a vehicle between non-trip states.
func (s *PostgresStore) CompareAndSwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus) error {
	if expected == models.VehicleInUse || next == models.VehicleInUse {
		return fleet.Invalid("status", "%s can only be changed by checkout or checkin", models.VehicleInUse)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), s.clock.Now(), id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to swap vehicle %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		v, err := s.GetVehicle(ctx, id)
		if err != nil {
			return err
		}
		return &fleet.ConflictError{Entity: "vehicle", ID: id, Status: string(v.Status)}
	}
	return nil
}

// CountVehiclesByStatus groups vehicles by status.
func (s *PostgresStore) CountVehiclesByStatus(ctx context.Context) (map[models.VehicleStatus]int64, error) {
	rows, err := s.countByStatus(ctx, "vehicles")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.VehicleStatus]int64, len(rows))
	for status, n := range rows {
		counts[models.VehicleStatus(status)] = n
	}
	return counts, nil
}

// UpdatePosition upserts the position unless the stored one is newer.
func (s *PostgresStore) UpdatePosition(ctx context.Context, vehicleID int64, pos models.Position) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO vehicle_positions (vehicle_id, lat, lng, reported_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (vehicle_id) DO UPDATE
		 SET lat = EXCLUDED.lat, lng = EXCLUDED.lng, reported_at = EXCLUDED.reported_at
		 WHERE vehicle_positions.reported_at <= EXCLUDED.reported_at`,
		vehicleID, pos.Lat, pos.Lng, pos.Timestamp)
	if isPQCode(err, pqForeignKeyViolation) {
		return false, &fleet.NotFoundError{Entity: "vehicle", ID: vehicleID}
	}
	if err != nil {
		return false, fmt.Errorf("failed to update position of vehicle %d: %w", vehicleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update position of vehicle %d: %w", vehicleID, err)
	}
	return n > 0, nil
}

// --- drivers ---

// GetDriver returns a driver by id.
func (s *PostgresStore) GetDriver(ctx context.Context, id int64) (*models.Driver, error) {
	return getDriver(ctx, s.db, id, "")
}

func getDriver(ctx context.Context, q sqlx.QueryerContext, id int64, suffix string) (*models.Driver, error) {
	var row driverRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`+suffix, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fleet.NotFoundError{Entity: "driver", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver %d: %w", id, err)
	}
	d := row.toModel()
	return &d, nil
}

// ListDrivers returns drivers newest first.
func (s *PostgresStore) ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) ([]models.Driver, int64, error) {
	var w whereBuilder
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	w.search(filter.Search, "name", "phone_number", "license_number")

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM drivers`+w.sql(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count drivers: %w", err)
	}
	page = page.Normalize()
	query, args := w.paged(`SELECT `+driverColumns+` FROM drivers`+w.sql()+` ORDER BY id DESC`, page)
	var rows []driverRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list drivers: %w", err)
	}
	drivers := make([]models.Driver, len(rows))
	for i, r := range rows {
		drivers[i] = r.toModel()
	}
	return drivers, total, nil
}

// CreateDriver inserts a driver.
func (s *PostgresStore) CreateDriver(ctx context.Context, driver *models.Driver) error {
	now := s.clock.Now()
	err := s.db.GetContext(ctx, &driver.ID,
		`INSERT INTO drivers (name, phone_number, license_number, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		driver.Name, driver.PhoneNumber, driver.LicenseNumber, string(driver.Status), now)
	if isPQCode(err, pqUniqueViolation) {
		return &fleet.ConflictError{Entity: "driver", Reason: "license number already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	driver.CreatedAt = now
	driver.UpdatedAt = now
	return nil
}

// CountDriversByStatus groups drivers by status.
func (s *PostgresStore) CountDriversByStatus(ctx context.Context) (map[models.DriverStatus]int64, error) {
	rows, err := s.countByStatus(ctx, "drivers")
	if err != nil {
		return nil, err
	}
	counts := make(map[models.DriverStatus]int64, len(rows))
	for status, n := range rows {
		counts[models.DriverStatus(status)] = n
	}
	return counts, nil
}

func (s *PostgresStore) countByStatus(ctx context.Context, table string) (map[string]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM `+table+` GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// --- trips ---

// GetTrip returns a trip by id.
func (s *PostgresStore) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	t, err := getTrip(ctx, s.db, `WHERE id = $1`, id)
	if err == nil && t == nil {
		return nil, &fleet.NotFoundError{Entity: "trip", ID: id}
	}
	return t, err
}

// getTrip returns nil, nil when no row matches.
func getTrip(ctx context.Context, q sqlx.QueryerContext, where string, args ...interface{}) (*models.Trip, error) {
	var row tripRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+tripColumns+` FROM trips `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	t := row.toModel()
	return &t, nil
}

// ActiveTripByDriver returns the open trip of a driver or nil.
func (s *PostgresStore) ActiveTripByDriver(ctx context.Context, driverID int64) (*models.Trip, error) {
	return getTrip(ctx, s.db, `WHERE driver_id = $1 AND end_time IS NULL`, driverID)
}

// ListTrips returns trips by id descending.
func (s *PostgresStore) ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) ([]models.Trip, int64, error) {
	var w whereBuilder
	if filter.CarID != 0 {
		w.add("car_id = ?", filter.CarID)
	}
	if filter.DriverID != 0 {
		w.add("driver_id = ?", filter.DriverID)
	}
	if filter.Active != nil {
		if *filter.Active {
			w.add("end_time IS NULL")
		} else {
			w.add("end_time IS NOT NULL")
		}
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM trips`+w.sql(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}
	page = page.Normalize()
	query, args := w.paged(`SELECT `+tripColumns+` FROM trips`+w.sql()+` ORDER BY id DESC`, page)
	trips, err := s.selectTrips(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return trips, total, nil
}

// RecentTrips returns the latest trips by id.
func (s *PostgresStore) RecentTrips(ctx context.Context, limit int) ([]models.Trip, error) {
	return s.selectTrips(ctx, `SELECT `+tripColumns+` FROM trips ORDER BY id DESC LIMIT $1`, limit)
}

func (s *PostgresStore) selectTrips(ctx context.Context, query string, args ...interface{}) ([]models.Trip, error) {
	var rows []tripRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list trips: %w", err)
	}
	trips := make([]models.Trip, len(rows))
	for i, r := range rows {
		trips[i] = r.toModel()
	}
	return trips, nil
}

// --- transactions ---

// RunInTx runs fn in a READ COMMITTED transaction. Rows are locked as the
// Tx reads them, so scope is not needed up front.
func (s *PostgresStore) RunInTx(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx, clock: s.clock}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx    *sqlx.Tx
	clock fleet.Clock
}

const forUpdate = ` FOR NO KEY UPDATE`

func (t *pgTx) VehicleForUpdate(ctx context.Context, id int64) (*models.Vehicle, error) {
	var row vehicleRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT id, license_plate, brand, model, year, status, current_driver_id, current_driver_name,
		 created_at, updated_at FROM vehicles WHERE id = $1`+forUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &fleet.NotFoundError{Entity: "vehicle", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock vehicle %d: %w", id, err)
	}
	v := row.toModel()
	return &v, nil
}

func (t *pgTx) DriverForUpdate(ctx context.Context, id int64) (*models.Driver, error) {
	return getDriver(ctx, t.tx, id, forUpdate)
}

func (t *pgTx) TripForUpdate(ctx context.Context, id int64) (*models.Trip, error) {
	trip, err := getTrip(ctx, t.tx, `WHERE id = $1`+forUpdate, id)
	if err == nil && trip == nil {
		return nil, &fleet.NotFoundError{Entity: "trip", ID: id}
	}
	return trip, err
}

func (t *pgTx) OpenTripForVehicle(ctx context.Context, vehicleID int64) (*models.Trip, error) {
	return getTrip(ctx, t.tx, `WHERE car_id = $1 AND end_time IS NULL`, vehicleID)
}

func (t *pgTx) OpenTripForDriver(ctx context.Context, driverID int64) (*models.Trip, error) {
	return getTrip(ctx, t.tx, `WHERE driver_id = $1 AND end_time IS NULL`, driverID)
}

func (t *pgTx) InsertTrip(ctx context.Context, trip *models.Trip) error {
	if trip.ID != 0 {
		return fmt.Errorf("postgres tx: trip already has id %d", trip.ID)
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = t.clock.Now()
	}
	err := t.tx.GetContext(ctx, &trip.ID,
		`INSERT INTO trips (car_id, driver_id, start_time, start_km, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		trip.CarID, trip.DriverID, trip.StartTime, trip.StartKm, trip.Notes, trip.CreatedAt)
	if isPQCode(err, pqUniqueViolation) {
		return &fleet.ConflictError{Entity: "vehicle", ID: trip.CarID, Reason: "an open trip already exists"}
	}
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

func (t *pgTx) CloseTrip(ctx context.Context, trip *models.Trip) error {
	if trip.EndTime == nil || trip.EndKm == nil {
		return fmt.Errorf("postgres tx: close of trip %d without end fields", trip.ID)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE trips SET end_time = $1, end_km = $2, notes = $3 WHERE id = $4 AND end_time IS NULL`,
		*trip.EndTime, *trip.EndKm, trip.Notes, trip.ID)
	if err != nil {
		return fmt.Errorf("failed to close trip %d: %w", trip.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.TripForUpdate(ctx, trip.ID); err != nil {
			return err
		}
		return &fleet.AlreadyClosedError{TripID: trip.ID}
	}
	return nil
}

func (t *pgTx) SwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus, driver *models.DriverRef) error {
	var driverID sql.NullInt64
	var driverName sql.NullString
	if driver != nil {
		driverID = sql.NullInt64{Int64: driver.ID, Valid: true}
		driverName = sql.NullString{String: driver.Name, Valid: true}
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE vehicles SET status = $1, current_driver_id = $2, current_driver_name = $3, updated_at = $4
		 WHERE id = $5 AND status = $6`,
		string(next), driverID, driverName, t.clock.Now(), id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to swap vehicle %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		v, err := t.VehicleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return &fleet.ConflictError{Entity: "vehicle", ID: id, Status: string(v.Status)}
	}
	return nil
}

func (t *pgTx) SwapDriverStatus(ctx context.Context, id int64, expected, next models.DriverStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE drivers SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), t.clock.Now(), id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to swap driver %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		d, err := t.DriverForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return &fleet.ConflictError{Entity: "driver", ID: id, Status: string(d.Status)}
	}
	return nil
}

// --- query helpers ---

// whereBuilder collects AND-ed conditions written with ? placeholders and
// numbers them for lib/pq.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) search(term string, columns ...string) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	w.args = append(w.args, "%"+escapeLike(term)+"%")
	n := len(w.args)
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE $%d", c, n)
	}
	w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// paged appends LIMIT and OFFSET placeholders after the filter arguments.
func (w *whereBuilder) paged(query string, page models.PageRequest) (string, []interface{}) {
	n := len(w.args)
	args := append(append([]interface{}(nil), w.args...), page.Limit, page.Offset())
	return fmt.Sprintf("%s LIMIT $%d OFFSET $%d", query, n+1, n+2), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
