package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

// MemoryStore is an in-process Store. Trip transactions lock the vehicle,
// driver and trip they touch; readers never take those locks and only
// wait for the short copy-in of a commit. Positions live in per-vehicle
// cells updated with a compare-and-swap loop, so reports for different
// vehicles never contend.
type MemoryStore struct {
	locks *keyedLocker
	clock fleet.Clock

	mu            sync.RWMutex
	vehicles      map[int64]models.Vehicle
	drivers       map[int64]models.Driver
	trips         map[int64]models.Trip
	openByVehicle map[int64]int64
	openByDriver  map[int64]int64

	positions sync.Map // int64 -> *positionCell

	vehicleSeq atomic.Int64
	driverSeq  atomic.Int64
	tripSeq    atomic.Int64
}

type positionCell struct {
	p atomic.Pointer[models.Position]
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock fleet.Clock) *MemoryStore {
	if clock == nil {
		clock = fleet.SystemClock{}
	}
	return &MemoryStore{
		locks:         newKeyedLocker(),
		clock:         clock,
		vehicles:      make(map[int64]models.Vehicle),
		drivers:       make(map[int64]models.Driver),
		trips:         make(map[int64]models.Trip),
		openByVehicle: make(map[int64]int64),
		openByDriver:  make(map[int64]int64),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// --- vehicles ---

// GetVehicle returns a copy of the vehicle with its latest position.
func (s *MemoryStore) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	s.mu.RLock()
	v, ok := s.vehicles[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &fleet.NotFoundError{Entity: "vehicle", ID: id}
	}
	out := s.withPosition(cloneVehicle(v))
	return &out, nil
}

// ListVehicles returns vehicles matching filter, newest first.
func (s *MemoryStore) ListVehicles(ctx context.Context, filter models.VehicleFilter, page models.PageRequest) ([]models.Vehicle, int64, error) {
	s.mu.RLock()
	matched := make([]models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.IDBelow > 0 && v.ID >= filter.IDBelow {
			continue
		}
		if !containsFold(filter.Search, v.LicensePlate, v.Brand, v.Model) {
			continue
		}
		matched = append(matched, cloneVehicle(v))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	window := paginate(matched, page)
	for i := range window {
		window[i] = s.withPosition(window[i])
	}
	return window, int64(len(matched)), nil
}

// CreateVehicle registers a vehicle and assigns its id.
func (s *MemoryStore) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vehicles {
		if strings.EqualFold(v.LicensePlate, vehicle.LicensePlate) {
			return &fleet.ConflictError{Entity: "vehicle", ID: v.ID, Reason: "license plate already exists"}
		}
	}
	now := s.clock.Now()
	vehicle.ID = s.vehicleSeq.Add(1)
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	stored := cloneVehicle(*vehicle)
	stored.Position = nil
	s.vehicles[vehicle.ID] = stored

	cell := &positionCell{}
	if vehicle.Position != nil {
		p := *vehicle.Position
		cell.p.Store(&p)
	}
	s.positions.Store(vehicle.ID, cell)
	return nil
}

// CompareAndSwapVehicleStatus moves a vehicle between states that do not
// involve a driver. IN_USE is reserved for trip transactions.
func (s *MemoryStore) CompareAndSwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus) error {
	if expected == models.VehicleInUse || next == models.VehicleInUse {
		return fleet.Invalid("status", "%s can only be changed by checkout or checkin", models.VehicleInUse)
	}
	release := s.locks.acquire(vehicleKey(id))
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return &fleet.NotFoundError{Entity: "vehicle", ID: id}
	}
	if v.Status != expected {
		return &fleet.ConflictError{Entity: "vehicle", ID: id, Status: string(v.Status)}
	}
	v.Status = next
	v.UpdatedAt = s.clock.Now()
	s.vehicles[id] = v
	return nil
}

// CountVehiclesByStatus counts vehicles per status.
func (s *MemoryStore) CountVehiclesByStatus(ctx context.Context) (map[models.VehicleStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.VehicleStatus]int64, 3)
	for _, v := range s.vehicles {
		counts[v.Status]++
	}
	return counts, nil
}

// UpdatePosition applies pos with last-writer-wins by timestamp.
func (s *MemoryStore) UpdatePosition(ctx context.Context, vehicleID int64, pos models.Position) (bool, error) {
	raw, ok := s.positions.Load(vehicleID)
	if !ok {
		return false, &fleet.NotFoundError{Entity: "vehicle", ID: vehicleID}
	}
	cell := raw.(*positionCell)
	next := pos
	for {
		cur := cell.p.Load()
		if cur != nil && pos.Timestamp.Before(cur.Timestamp) {
			return false, nil
		}
		if cell.p.CompareAndSwap(cur, &next) {
			return true, nil
		}
	}
}

func (s *MemoryStore) withPosition(v models.Vehicle) models.Vehicle {
	if raw, ok := s.positions.Load(v.ID); ok {
		if p := raw.(*positionCell).p.Load(); p != nil {
			cp := *p
			v.Position = &cp
		}
	}
	return v
}

// --- drivers ---

// GetDriver returns a copy of the driver.
func (s *MemoryStore) GetDriver(ctx context.Context, id int64) (*models.Driver, error) {
	s.mu.RLock()
	d, ok := s.drivers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &fleet.NotFoundError{Entity: "driver", ID: id}
	}
	return &d, nil
}

// ListDrivers returns drivers matching filter, newest first.
func (s *MemoryStore) ListDrivers(ctx context.Context, filter models.DriverFilter, page models.PageRequest) ([]models.Driver, int64, error) {
	s.mu.RLock()
	matched := make([]models.Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if !containsFold(filter.Search, d.Name, d.PhoneNumber, d.LicenseNumber) {
			continue
		}
		matched = append(matched, d)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return paginate(matched, page), int64(len(matched)), nil
}

// CreateDriver registers a driver and assigns its id.
func (s *MemoryStore) CreateDriver(ctx context.Context, driver *models.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if driver.LicenseNumber != "" {
		for _, d := range s.drivers {
			if strings.EqualFold(d.LicenseNumber, driver.LicenseNumber) {
				return &fleet.ConflictError{Entity: "driver", ID: d.ID, Reason: "license number already exists"}
			}
		}
	}
	now := s.clock.Now()
	driver.ID = s.driverSeq.Add(1)
	driver.CreatedAt = now
	driver.UpdatedAt = now
	s.drivers[driver.ID] = *driver
	return nil
}

// CountDriversByStatus counts drivers per status.
func (s *MemoryStore) CountDriversByStatus(ctx context.Context) (map[models.DriverStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.DriverStatus]int64, 2)
	for _, d := range s.drivers {
		counts[d.Status]++
	}
	return counts, nil
}

// --- trips ---

// GetTrip returns a copy of the trip.
func (s *MemoryStore) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	s.mu.RLock()
	t, ok := s.trips[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &fleet.NotFoundError{Entity: "trip", ID: id}
	}
	out := cloneTrip(t)
	return &out, nil
}

// ActiveTripByDriver returns the driver's open trip or nil.
func (s *MemoryStore) ActiveTripByDriver(ctx context.Context, driverID int64) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openByDriver[driverID]
	if !ok {
		return nil, nil
	}
	out := cloneTrip(s.trips[id])
	return &out, nil
}

// ListTrips returns trips matching filter ordered by id descending.
func (s *MemoryStore) ListTrips(ctx context.Context, filter models.TripFilter, page models.PageRequest) ([]models.Trip, int64, error) {
	s.mu.RLock()
	matched := make([]models.Trip, 0)
	for _, t := range s.trips {
		if filter.CarID != 0 && t.CarID != filter.CarID {
			continue
		}
		if filter.DriverID != 0 && t.DriverID != filter.DriverID {
			continue
		}
		if filter.Active != nil && t.IsOpen() != *filter.Active {
			continue
		}
		matched = append(matched, cloneTrip(t))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return paginate(matched, page), int64(len(matched)), nil
}

// RecentTrips returns the latest trips by id.
func (s *MemoryStore) RecentTrips(ctx context.Context, limit int) ([]models.Trip, error) {
	trips, _, err := s.ListTrips(ctx, models.TripFilter{}, models.PageRequest{Page: 1, Limit: limit})
	return trips, err
}

// --- transactions ---

// RunInTx locks the scoped entities in a fixed order, runs fn against a
// staging view and publishes the staged writes in one step on success.
func (s *MemoryStore) RunInTx(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error {
	keys := scope.keys()
	release := s.locks.acquire(keys...)
	defer release()

	tx := &memTx{
		s:        s,
		scope:    make(map[string]bool, len(keys)),
		vehicles: make(map[int64]models.Vehicle),
		drivers:  make(map[int64]models.Driver),
		trips:    make(map[int64]models.Trip),
	}
	for _, k := range keys {
		tx.scope[k] = true
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (sc Scope) keys() []string {
	keys := make([]string, 0, 3)
	if sc.VehicleID != 0 {
		keys = append(keys, vehicleKey(sc.VehicleID))
	}
	if sc.DriverID != 0 {
		keys = append(keys, driverKey(sc.DriverID))
	}
	if sc.TripID != 0 {
		keys = append(keys, tripKey(sc.TripID))
	}
	return keys
}

func vehicleKey(id int64) string { return fmt.Sprintf("vehicle:%d", id) }
func driverKey(id int64) string  { return fmt.Sprintf("driver:%d", id) }
func tripKey(id int64) string    { return fmt.Sprintf("trip:%d", id) }

type memTx struct {
	s        *MemoryStore
	scope    map[string]bool
	vehicles map[int64]models.Vehicle
	drivers  map[int64]models.Driver
	trips    map[int64]models.Trip
}

func (tx *memTx) require(key string) error {
	if !tx.scope[key] {
		return fmt.Errorf("memory tx: %s is outside the transaction scope", key)
	}
	return nil
}

func (tx *memTx) VehicleForUpdate(ctx context.Context, id int64) (*models.Vehicle, error) {
	if err := tx.require(vehicleKey(id)); err != nil {
		return nil, err
	}
	if v, ok := tx.vehicles[id]; ok {
		out := cloneVehicle(v)
		return &out, nil
	}
	return tx.s.GetVehicle(ctx, id)
}

func (tx *memTx) DriverForUpdate(ctx context.Context, id int64) (*models.Driver, error) {
	if err := tx.require(driverKey(id)); err != nil {
		return nil, err
	}
	if d, ok := tx.drivers[id]; ok {
		return &d, nil
	}
	return tx.s.GetDriver(ctx, id)
}

func (tx *memTx) TripForUpdate(ctx context.Context, id int64) (*models.Trip, error) {
	if t, ok := tx.trips[id]; ok {
		out := cloneTrip(t)
		return &out, nil
	}
	if err := tx.require(tripKey(id)); err != nil {
		return nil, err
	}
	return tx.s.GetTrip(ctx, id)
}

func (tx *memTx) OpenTripForVehicle(ctx context.Context, vehicleID int64) (*models.Trip, error) {
	if err := tx.require(vehicleKey(vehicleID)); err != nil {
		return nil, err
	}
	for _, t := range tx.trips {
		if t.CarID == vehicleID && t.IsOpen() {
			out := cloneTrip(t)
			return &out, nil
		}
	}
	tx.s.mu.RLock()
	id, ok := tx.s.openByVehicle[vehicleID]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return tx.openTrip(ctx, id)
}

func (tx *memTx) OpenTripForDriver(ctx context.Context, driverID int64) (*models.Trip, error) {
	if err := tx.require(driverKey(driverID)); err != nil {
		return nil, err
	}
	for _, t := range tx.trips {
		if t.DriverID == driverID && t.IsOpen() {
			out := cloneTrip(t)
			return &out, nil
		}
	}
	tx.s.mu.RLock()
	id, ok := tx.s.openByDriver[driverID]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return tx.openTrip(ctx, id)
}

// openTrip resolves a committed open trip, honouring a staged close.
func (tx *memTx) openTrip(ctx context.Context, id int64) (*models.Trip, error) {
	if t, ok := tx.trips[id]; ok {
		if !t.IsOpen() {
			return nil, nil
		}
		out := cloneTrip(t)
		return &out, nil
	}
	return tx.s.GetTrip(ctx, id)
}

func (tx *memTx) InsertTrip(ctx context.Context, trip *models.Trip) error {
	if trip.ID != 0 {
		return fmt.Errorf("memory tx: trip already has id %d", trip.ID)
	}
	trip.ID = tx.s.tripSeq.Add(1)
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = tx.s.clock.Now()
	}
	tx.trips[trip.ID] = cloneTrip(*trip)
	return nil
}

func (tx *memTx) CloseTrip(ctx context.Context, trip *models.Trip) error {
	current, err := tx.TripForUpdate(ctx, trip.ID)
	if err != nil {
		return err
	}
	if !current.IsOpen() {
		return &fleet.AlreadyClosedError{TripID: trip.ID}
	}
	if trip.EndTime == nil || trip.EndKm == nil {
		return fmt.Errorf("memory tx: close of trip %d without end fields", trip.ID)
	}
	tx.trips[trip.ID] = cloneTrip(*trip)
	return nil
}

func (tx *memTx) SwapVehicleStatus(ctx context.Context, id int64, expected, next models.VehicleStatus, driver *models.DriverRef) error {
	v, err := tx.VehicleForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != expected {
		return &fleet.ConflictError{Entity: "vehicle", ID: id, Status: string(v.Status)}
	}
	v.Status = next
	v.CurrentDriver = cloneDriverRef(driver)
	v.Position = nil
	v.UpdatedAt = tx.s.clock.Now()
	tx.vehicles[id] = *v
	return nil
}

func (tx *memTx) SwapDriverStatus(ctx context.Context, id int64, expected, next models.DriverStatus) error {
	d, err := tx.DriverForUpdate(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != expected {
		return &fleet.ConflictError{Entity: "driver", ID: id, Status: string(d.Status)}
	}
	d.Status = next
	d.UpdatedAt = tx.s.clock.Now()
	tx.drivers[id] = *d
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range tx.vehicles {
		s.vehicles[id] = v
	}
	for id, d := range tx.drivers {
		s.drivers[id] = d
	}
	for id, t := range tx.trips {
		s.trips[id] = t
		if t.IsOpen() {
			s.openByVehicle[t.CarID] = id
			s.openByDriver[t.DriverID] = id
			continue
		}
		if s.openByVehicle[t.CarID] == id {
			delete(s.openByVehicle, t.CarID)
		}
		if s.openByDriver[t.DriverID] == id {
			delete(s.openByDriver, t.DriverID)
		}
	}
}

// --- helpers ---

func cloneVehicle(v models.Vehicle) models.Vehicle {
	v.CurrentDriver = cloneDriverRef(v.CurrentDriver)
	if v.Position != nil {
		p := *v.Position
		v.Position = &p
	}
	return v
}

func cloneDriverRef(r *models.DriverRef) *models.DriverRef {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func cloneTrip(t models.Trip) models.Trip {
	if t.EndTime != nil {
		end := *t.EndTime
		t.EndTime = &end
	}
	if t.EndKm != nil {
		km := *t.EndKm
		t.EndKm = &km
	}
	return t
}

func containsFold(search string, fields ...string) bool {
	search = strings.TrimSpace(search)
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, page models.PageRequest) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// keyedLocker hands out one mutex per key and forgets it once unused.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

// acquire locks keys in sorted order and returns the matching release.
func (k *keyedLocker) acquire(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		uniq = append(uniq, key)
	}
	for _, key := range uniq {
		k.lock(key)
	}
	return func() {
		for i := len(uniq) - 1; i >= 0; i-- {
			k.unlock(uniq[i])
		}
	}
}

func (k *keyedLocker) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()
	l.Lock()
}

func (k *keyedLocker) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
	l.Unlock()
}
