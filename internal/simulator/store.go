package simulator

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-sync/internal/models"
)

// ErrRideNotFound is returned for unknown ride ids.
var ErrRideNotFound = errors.New("ride not found")

// RideStore persists rides for the dev backend.
type RideStore interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
	GetRide(id string) (*models.Ride, error)
	ListByRider(riderID string) ([]*models.Ride, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrRideNotFound
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListByRider(riderID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.PassengerID == riderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, rider_id, driver_id, status, ride_type, pickup_lat, pickup_lng, pickup_address, dest_lat, dest_lng, dest_address, fare_amount, requested_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.PassengerID, nullable(r.DriverID), string(r.Status), r.RideType,
		r.Pickup.Coordinate.Lat, r.Pickup.Coordinate.Lng, r.Pickup.Address,
		r.Destination.Coordinate.Lat, r.Destination.Coordinate.Lng, r.Destination.Address,
		r.FareAmount, r.RequestedAt, time.Now())
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	res, err := p.db.Exec(`UPDATE rides SET driver_id=$1, status=$2, fare_amount=$3, updated_at=$4 WHERE id=$5`,
		nullable(r.DriverID), string(r.Status), r.FareAmount, time.Now(), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRideNotFound
	}
	return nil
}

func (p *PostgresStore) GetRide(id string) (*models.Ride, error) {
	row := p.db.QueryRow(`SELECT id, rider_id, COALESCE(driver_id,''), status, ride_type, pickup_lat, pickup_lng, pickup_address, dest_lat, dest_lng, dest_address, fare_amount, requested_at FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) ListByRider(riderID string) ([]*models.Ride, error) {
	rows, err := p.db.Query(`SELECT id, rider_id, COALESCE(driver_id,''), status, ride_type, pickup_lat, pickup_lng, pickup_address, dest_lat, dest_lng, dest_address, fare_amount, requested_at FROM rides WHERE rider_id=$1 ORDER BY requested_at DESC`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var status string
	err := row.Scan(&r.ID, &r.PassengerID, &r.DriverID, &status, &r.RideType,
		&r.Pickup.Coordinate.Lat, &r.Pickup.Coordinate.Lng, &r.Pickup.Address,
		&r.Destination.Coordinate.Lat, &r.Destination.Coordinate.Lng, &r.Destination.Address,
		&r.FareAmount, &r.RequestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
