package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-lifetrack/internal/db"
	"backend-lifetrack/internal/tracking"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrNotFound     = errors.New("activity not found")
	ErrInvalidInput = errors.New("invalid activity input")
)

type Store struct {
	db     db.Querier
	energy tracking.EnergyModel
}

func NewStore(q db.Querier, energy tracking.EnergyModel) *Store {
	if energy == nil {
		energy = tracking.LinearEnergyModel{KcalPerKm: tracking.DefaultKcalPerKm}
	}
	return &Store{db: q, energy: energy}
}

// ForOwner binds the store to a user so the tracker can hand it finished
// records without knowing who owns them.
func (s *Store) ForOwner(ownerID string) tracking.RecordSink {
	return ownerSink{store: s, ownerID: ownerID}
}

type ownerSink struct {
	store   *Store
	ownerID string
}

func (o ownerSink) Submit(ctx context.Context, rec tracking.Record) error {
	_, err := o.store.Save(ctx, o.ownerID, rec)
	return err
}

// Save inserts rec for ownerID. Saving the same record ID twice is a no-op,
// so a retried submission cannot duplicate an activity.
func (s *Store) Save(ctx context.Context, ownerID string, rec tracking.Record) (tracking.Record, error) {
	if ownerID == "" {
		return tracking.Record{}, fmt.Errorf("%w: owner required", ErrInvalidInput)
	}
	rec.OwnerID = ownerID
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	path, err := encodePath(rec.Path)
	if err != nil {
		return tracking.Record{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO activities (id, owner_id, started_at, distance_m, duration_ms, avg_speed_kmh, calories, path, note, manual)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.OwnerID, rec.StartedAt, rec.DistanceM, rec.DurationMs, rec.AvgSpeedKmh, rec.Calories, path, rec.Note, rec.Manual)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, nil
		}
		return tracking.Record{}, err
	}
	return rec, nil
}

func (s *Store) CreateManual(ctx context.Context, ownerID string, in ManualInput) (tracking.Record, error) {
	if in.DistanceM < 0 || in.DurationMs <= 0 {
		return tracking.Record{}, fmt.Errorf("%w: distance must be >= 0 and duration > 0", ErrInvalidInput)
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = time.Now()
	}
	rec := tracking.NewManualRecord(in.StartedAt, in.DistanceM, time.Duration(in.DurationMs)*time.Millisecond, in.Note, s.energy)
	return s.Save(ctx, ownerID, rec)
}

func (s *Store) Get(ctx context.Context, ownerID, id string) (tracking.Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, owner_id, started_at, distance_m, duration_ms, avg_speed_kmh, calories, COALESCE(path::text, ''), COALESCE(note, ''), manual, created_at
		FROM activities WHERE id=$1 AND owner_id=$2
	`, id, ownerID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracking.Record{}, ErrNotFound
	}
	return rec, err
}

func (s *Store) List(ctx context.Context, ownerID string, limit int) ([]tracking.Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, started_at, distance_m, duration_ms, avg_speed_kmh, calories, COALESCE(path::text, ''), COALESCE(note, ''), manual, created_at
		FROM activities WHERE owner_id=$1
		ORDER BY started_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tracking.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Totals(ctx context.Context, ownerID string) (Totals, error) {
	var t Totals
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(distance_m),0), COALESCE(SUM(duration_ms),0), COALESCE(SUM(calories),0)
		FROM activities WHERE owner_id=$1
	`, ownerID)
	if err := row.Scan(&t.Count, &t.DistanceM, &t.DurationMs, &t.Calories); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM activities WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (tracking.Record, error) {
	var rec tracking.Record
	var path string
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.StartedAt, &rec.DistanceM, &rec.DurationMs, &rec.AvgSpeedKmh, &rec.Calories, &path, &rec.Note, &rec.Manual, &rec.CreatedAt); err != nil {
		return tracking.Record{}, err
	}
	ls, err := decodePath(path)
	if err != nil {
		return tracking.Record{}, err
	}
	rec.Path = ls
	return rec, nil
}

// encodePath stores the path as a GeoJSON LineString; manual records have
// none and are stored as NULL.
func encodePath(path orb.LineString) (*string, error) {
	if len(path) == 0 {
		return nil, nil
	}
	data, err := geojson.NewGeometry(path).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode path: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodePath(data string) (orb.LineString, error) {
	if data == "" {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode path: %w", err)
	}
	ls, ok := g.Geometry().(orb.LineString)
	if !ok {
		return nil, fmt.Errorf("decode path: unexpected geometry %s", g.Geometry().GeoJSONType())
	}
	return ls, nil
}
