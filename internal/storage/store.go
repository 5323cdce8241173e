package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"sewerwatch/internal/config"
	"sewerwatch/internal/model"
)

// ErrDuplicateCode is returned by CreateManhole when the human-readable code
// is already taken.
var ErrDuplicateCode = errors.New("manhole code already exists")

// ReadingFilter narrows ReadingsByManhole. Zero values mean "no filter".
type ReadingFilter struct {
	Since  time.Time
	Status model.ReadingStatus
	Limit  int
}

type Store interface {
	Init(ctx context.Context) error
	Close() error

	// Readings are append-only: SaveReading is the only write.
	SaveReading(ctx context.Context, r model.Reading) error
	ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]model.Reading, error)
	CriticalReadings(ctx context.Context, since time.Time, limit int) ([]model.Reading, error)
	MetricSamples(ctx context.Context, metric string, since time.Time, manholeID string) ([]model.MetricSample, error)

	CreateManhole(ctx context.Context, m model.Manhole) error
	ManholeByID(ctx context.Context, id string) (*model.Manhole, error)
	ManholeByCode(ctx context.Context, code string) (*model.Manhole, error)
	ListManholes(ctx context.Context) ([]model.Manhole, error)
	ManholesByZone(ctx context.Context, zone string) ([]model.Manhole, error)
	MaxManholeID(ctx context.Context) (int, error)
	MarkNeedsAttention(ctx context.Context, id string, ts time.Time) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// metricColumns maps the wire metric names onto reading columns. Only these
// four are queryable by the analytics surface.
var metricColumns = map[string]string{
	"sewageLevel":  "sewage_level",
	"methaneLevel": "methane_level",
	"flowRate":     "flow_rate",
	"temperature":  "temperature",
}

func MetricColumn(metric string) (string, bool) {
	col, ok := metricColumns[metric]
	return col, ok
}

func errUnknownMetric(metric string) error {
	return errors.New("unknown metric: " + metric)
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeAlerts(raw string) []model.AlertKind {
	if raw == "" {
		return nil
	}
	var out []model.AlertKind
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func nullToPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func ptrToNull(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
