package storage

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sewerwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sewerwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id UUID PRIMARY KEY,
			manhole_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			sewage_level DOUBLE PRECISION,
			methane_level DOUBLE PRECISION,
			flow_rate DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			battery_level DOUBLE PRECISION,
			max_distance DOUBLE PRECISION NOT NULL,
			max_gas DOUBLE PRECISION NOT NULL,
			min_flow DOUBLE PRECISION NOT NULL,
			last_calibration TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			alerts_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_manhole_ts ON readings(manhole_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_status_ts ON readings(status, ts)`,
		`CREATE TABLE IF NOT EXISTS manholes (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			lng DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			elevation DOUBLE PRECISION NOT NULL,
			zone TEXT NOT NULL,
			status TEXT NOT NULL,
			cover_status TEXT NOT NULL,
			overflow_level TEXT NOT NULL,
			connections_json JSONB NOT NULL,
			notes TEXT NOT NULL,
			last_inspection TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_manholes_zone ON manholes(zone)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (id, manhole_id, ts, sewage_level, methane_level, flow_rate, temperature, humidity, battery_level, max_distance, max_gas, min_flow, last_calibration, status, alerts_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID,
		r.ManholeID,
		r.Timestamp.UTC(),
		ptrToNull(r.Sensors.SewageLevel),
		ptrToNull(r.Sensors.MethaneLevel),
		ptrToNull(r.Sensors.FlowRate),
		ptrToNull(r.Sensors.Temperature),
		ptrToNull(r.Sensors.Humidity),
		ptrToNull(r.Sensors.BatteryLevel),
		r.Thresholds.MaxDistance,
		r.Thresholds.MaxGas,
		r.Thresholds.MinFlow,
		r.LastCalibration.UTC(),
		string(r.Status),
		encodeJSON(r.AlertTypes),
	)
	return err
}

const pgReadingCols = `id, manhole_id, ts, sewage_level, methane_level, flow_rate, temperature, humidity, battery_level, max_distance, max_gas, min_flow, last_calibration, status, alerts_json`

func (s *postgresStore) ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]model.Reading, error) {
	query := `SELECT ` + pgReadingCols + ` FROM readings WHERE manhole_id = $1`
	args := []any{manholeID}
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		query += ` AND ts >= $` + itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	query += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGReadings(rows)
}

func (s *postgresStore) CriticalReadings(ctx context.Context, since time.Time, limit int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgReadingCols+` FROM readings WHERE status = $1 AND ts >= $2 ORDER BY ts DESC LIMIT $3`,
		string(model.StatusCritical),
		since.UTC(),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGReadings(rows)
}

func (s *postgresStore) MetricSamples(ctx context.Context, metric string, since time.Time, manholeID string) ([]model.MetricSample, error) {
	col, ok := MetricColumn(metric)
	if !ok {
		return nil, errUnknownMetric(metric)
	}
	query := `SELECT ts, ` + col + ` FROM readings WHERE ` + col + ` IS NOT NULL AND ts >= $1`
	args := []any{since.UTC()}
	if manholeID != "" {
		args = append(args, manholeID)
		query += ` AND manhole_id = $` + itoa(len(args))
	}
	query += ` ORDER BY ts ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	samples := make([]model.MetricSample, 0, 64)
	for rows.Next() {
		var sample model.MetricSample
		if err := rows.Scan(&sample.Timestamp, &sample.Value); err != nil {
			return nil, err
		}
		sample.Timestamp = sample.Timestamp.UTC()
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *postgresStore) CreateManhole(ctx context.Context, m model.Manhole) error {
	if s.db == nil {
		return nil
	}
	var lastInspection any
	if m.LastInspection != nil {
		lastInspection = m.LastInspection.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manholes (id, code, lng, lat, elevation, zone, status, cover_status, overflow_level, connections_json, notes, last_inspection)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID,
		m.Code,
		m.Longitude,
		m.Latitude,
		m.Elevation,
		m.Zone,
		m.Status,
		m.CoverStatus,
		m.OverflowLevel,
		encodeJSON(m.Connections),
		m.Notes,
		lastInspection,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateCode
	}
	return err
}

const pgManholeCols = `id, code, lng, lat, elevation, zone, status, cover_status, overflow_level, connections_json, notes, last_inspection`

func (s *postgresStore) ManholeByID(ctx context.Context, id string) (*model.Manhole, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgManholeCols+` FROM manholes WHERE id = $1`, id)
	return scanPGManholeRow(row)
}

func (s *postgresStore) ManholeByCode(ctx context.Context, code string) (*model.Manhole, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgManholeCols+` FROM manholes WHERE code = $1`, code)
	return scanPGManholeRow(row)
}

func (s *postgresStore) ListManholes(ctx context.Context) ([]model.Manhole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pgManholeCols+` FROM manholes ORDER BY id::bigint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGManholes(rows)
}

func (s *postgresStore) ManholesByZone(ctx context.Context, zone string) ([]model.Manhole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pgManholeCols+` FROM manholes WHERE zone = $1 ORDER BY id::bigint`, zone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPGManholes(rows)
}

func (s *postgresStore) MaxManholeID(ctx context.Context) (int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id::bigint) FROM manholes`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (s *postgresStore) MarkNeedsAttention(ctx context.Context, id string, ts time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE manholes SET status = $1, last_inspection = $2 WHERE id = $3`,
		model.ManholeNeedsAttention,
		ts.UTC(),
		id,
	)
	return err
}

func scanPGReadings(rows *sql.Rows) ([]model.Reading, error) {
	out := make([]model.Reading, 0, 32)
	for rows.Next() {
		var (
			r           model.Reading
			status      string
			alertsJSON  string
			sewage      sql.NullFloat64
			methane     sql.NullFloat64
			flow        sql.NullFloat64
			temperature sql.NullFloat64
			humidity    sql.NullFloat64
			battery     sql.NullFloat64
		)
		if err := rows.Scan(
			&r.ID, &r.ManholeID, &r.Timestamp,
			&sewage, &methane, &flow, &temperature, &humidity, &battery,
			&r.Thresholds.MaxDistance, &r.Thresholds.MaxGas, &r.Thresholds.MinFlow,
			&r.LastCalibration, &status, &alertsJSON,
		); err != nil {
			return nil, err
		}
		r.Timestamp = r.Timestamp.UTC()
		r.LastCalibration = r.LastCalibration.UTC()
		r.Status = model.ReadingStatus(status)
		r.AlertTypes = decodeAlerts(alertsJSON)
		r.Sensors = model.SensorSnapshot{
			SewageLevel:  nullToPtr(sewage),
			MethaneLevel: nullToPtr(methane),
			FlowRate:     nullToPtr(flow),
			Temperature:  nullToPtr(temperature),
			Humidity:     nullToPtr(humidity),
			BatteryLevel: nullToPtr(battery),
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanPGManholeRow(row *sql.Row) (*model.Manhole, error) {
	var (
		m               model.Manhole
		connectionsJSON string
		lastInspection  sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.Code, &m.Longitude, &m.Latitude, &m.Elevation,
		&m.Zone, &m.Status, &m.CoverStatus, &m.OverflowLevel,
		&connectionsJSON, &m.Notes, &lastInspection,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Connections = decodeStrings(connectionsJSON)
	if lastInspection.Valid {
		utc := lastInspection.Time.UTC()
		m.LastInspection = &utc
	}
	return &m, nil
}

func scanPGManholes(rows *sql.Rows) ([]model.Manhole, error) {
	out := make([]model.Manhole, 0, 32)
	for rows.Next() {
		var (
			m               model.Manhole
			connectionsJSON string
			lastInspection  sql.NullTime
		)
		if err := rows.Scan(
			&m.ID, &m.Code, &m.Longitude, &m.Latitude, &m.Elevation,
			&m.Zone, &m.Status, &m.CoverStatus, &m.OverflowLevel,
			&connectionsJSON, &m.Notes, &lastInspection,
		); err != nil {
			return nil, err
		}
		m.Connections = decodeStrings(connectionsJSON)
		if lastInspection.Valid {
			utc := lastInspection.Time.UTC()
			m.LastInspection = &utc
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
