package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sewerwatch/internal/model"
)

// sqliteTimeLayout is fixed-width so stored timestamps compare
// chronologically under text ordering.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sewerwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			manhole_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			sewage_level REAL,
			methane_level REAL,
			flow_rate REAL,
			temperature REAL,
			humidity REAL,
			battery_level REAL,
			max_distance REAL NOT NULL,
			max_gas REAL NOT NULL,
			min_flow REAL NOT NULL,
			last_calibration TEXT NOT NULL,
			status TEXT NOT NULL,
			alerts_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_manhole_ts ON readings(manhole_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_status_ts ON readings(status, ts)`,
		`CREATE TABLE IF NOT EXISTS manholes (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			lng REAL NOT NULL,
			lat REAL NOT NULL,
			elevation REAL NOT NULL,
			zone TEXT NOT NULL,
			status TEXT NOT NULL,
			cover_status TEXT NOT NULL,
			overflow_level TEXT NOT NULL,
			connections_json TEXT NOT NULL,
			notes TEXT NOT NULL,
			last_inspection TEXT
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

func (s *sqliteStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (id, manhole_id, ts, sewage_level, methane_level, flow_rate, temperature, humidity, battery_level, max_distance, max_gas, min_flow, last_calibration, status, alerts_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.ManholeID,
		r.Timestamp.UTC().Format(sqliteTimeLayout),
		ptrToNull(r.Sensors.SewageLevel),
		ptrToNull(r.Sensors.MethaneLevel),
		ptrToNull(r.Sensors.FlowRate),
		ptrToNull(r.Sensors.Temperature),
		ptrToNull(r.Sensors.Humidity),
		ptrToNull(r.Sensors.BatteryLevel),
		r.Thresholds.MaxDistance,
		r.Thresholds.MaxGas,
		r.Thresholds.MinFlow,
		r.LastCalibration.UTC().Format(sqliteTimeLayout),
		string(r.Status),
		encodeJSON(r.AlertTypes),
	)
	return err
}

const sqliteReadingCols = `id, manhole_id, ts, sewage_level, methane_level, flow_rate, temperature, humidity, battery_level, max_distance, max_gas, min_flow, last_calibration, status, alerts_json`

func (s *sqliteStore) ReadingsByManhole(ctx context.Context, manholeID string, f ReadingFilter) ([]model.Reading, error) {
	query := `SELECT ` + sqliteReadingCols + ` FROM readings WHERE manhole_id = ?`
	args := []any{manholeID}
	if !f.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, f.Since.UTC().Format(sqliteTimeLayout))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY ts DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteReadings(rows)
}

func (s *sqliteStore) CriticalReadings(ctx context.Context, since time.Time, limit int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReadingCols+` FROM readings WHERE status = ? AND ts >= ? ORDER BY ts DESC LIMIT ?`,
		string(model.StatusCritical),
		since.UTC().Format(sqliteTimeLayout),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteReadings(rows)
}

func (s *sqliteStore) MetricSamples(ctx context.Context, metric string, since time.Time, manholeID string) ([]model.MetricSample, error) {
	col, ok := MetricColumn(metric)
	if !ok {
		return nil, errUnknownMetric(metric)
	}
	query := `SELECT ts, ` + col + ` FROM readings WHERE ` + col + ` IS NOT NULL AND ts >= ?`
	args := []any{since.UTC().Format(sqliteTimeLayout)}
	if manholeID != "" {
		query += ` AND manhole_id = ?`
		args = append(args, manholeID)
	}
	query += ` ORDER BY ts ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	samples := make([]model.MetricSample, 0, 64)
	for rows.Next() {
		var ts string
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, err
		}
		samples = append(samples, model.MetricSample{Timestamp: parsed.UTC(), Value: value})
	}
	return samples, rows.Err()
}

func (s *sqliteStore) CreateManhole(ctx context.Context, m model.Manhole) error {
	if s.db == nil {
		return nil
	}
	var lastInspection any
	if m.LastInspection != nil {
		lastInspection = m.LastInspection.UTC().Format(sqliteTimeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manholes (id, code, lng, lat, elevation, zone, status, cover_status, overflow_level, connections_json, notes, last_inspection)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicateCode
	}
	return err
}

const sqliteManholeCols = `id, code, lng, lat, elevation, zone, status, cover_status, overflow_level, connections_json, notes, last_inspection`

func (s *sqliteStore) ManholeByID(ctx context.Context, id string) (*model.Manhole, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteManholeCols+` FROM manholes WHERE id = ?`, id)
	return scanSQLiteManholeRow(row)
}

func (s *sqliteStore) ManholeByCode(ctx context.Context, code string) (*model.Manhole, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteManholeCols+` FROM manholes WHERE code = ?`, code)
	return scanSQLiteManholeRow(row)
}

func (s *sqliteStore) ListManholes(ctx context.Context) ([]model.Manhole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteManholeCols+` FROM manholes ORDER BY CAST(id AS INTEGER)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteManholes(rows)
}

func (s *sqliteStore) ManholesByZone(ctx context.Context, zone string) ([]model.Manhole, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteManholeCols+` FROM manholes WHERE zone = ? ORDER BY CAST(id AS INTEGER)`, zone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteManholes(rows)
}

func (s *sqliteStore) MaxManholeID(ctx context.Context) (int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(CAST(id AS INTEGER)) FROM manholes`).Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64), nil
}

func (s *sqliteStore) MarkNeedsAttention(ctx context.Context, id string, ts time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE manholes SET status = ?, last_inspection = ? WHERE id = ?`,
		model.ManholeNeedsAttention,
		ts.UTC().Format(sqliteTimeLayout),
		id,
	)
	return err
}

func scanSQLiteReadings(rows *sql.Rows) ([]model.Reading, error) {
	out := make([]model.Reading, 0, 32)
	for rows.Next() {
		var (
			r           model.Reading
			ts, cal     string
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
			&r.ID, &r.ManholeID, &ts,
			&sewage, &methane, &flow, &temperature, &humidity, &battery,
			&r.Thresholds.MaxDistance, &r.Thresholds.MaxGas, &r.Thresholds.MinFlow,
			&cal, &status, &alertsJSON,
		); err != nil {
			return nil, err
		}
		parsedTS, err := time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, err
		}
		parsedCal, err := time.Parse(sqliteTimeLayout, cal)
		if err != nil {
			return nil, err
		}
		r.Timestamp = parsedTS.UTC()
		r.LastCalibration = parsedCal.UTC()
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

func scanSQLiteManholeRow(row *sql.Row) (*model.Manhole, error) {
	var (
		m               model.Manhole
		connectionsJSON string
		lastInspection  sql.NullString
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
		if ts, err := time.Parse(sqliteTimeLayout, lastInspection.String); err == nil {
			utc := ts.UTC()
			m.LastInspection = &utc
		}
	}
	return &m, nil
}

func scanSQLiteManholes(rows *sql.Rows) ([]model.Manhole, error) {
	out := make([]model.Manhole, 0, 32)
	for rows.Next() {
		var (
			m               model.Manhole
			connectionsJSON string
			lastInspection  sql.NullString
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
			if ts, err := time.Parse(sqliteTimeLayout, lastInspection.String); err == nil {
				utc := ts.UTC()
				m.LastInspection = &utc
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
