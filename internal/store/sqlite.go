package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/airwatch/internal/telemetry"
)

const (
	insertReadingSQL = `
INSERT INTO readings (id, location, ts_ns, aqi, pollutants, temperature_c, humidity_pct, wind_speed_ms, source, provider)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectReadingColumns = `id, location, ts_ns, aqi, pollutants, temperature_c, humidity_pct, wind_speed_ms, source, provider`

	recentReadingsSQL = `SELECT ` + selectReadingColumns + `
FROM readings WHERE location = ? ORDER BY ts_ns DESC, seq DESC LIMIT ?`

	rangeReadingsSQL = `SELECT ` + selectReadingColumns + `
FROM readings WHERE location = ? AND ts_ns BETWEEN ? AND ? ORDER BY ts_ns ASC, seq ASC`

	locationExistsSQL = `SELECT EXISTS(SELECT 1 FROM readings WHERE location = ?)`

	insertDeviceReadingSQL = `
INSERT INTO device_readings (id, device_id, location, ts_ns, pm25, pm10, temperature_c, humidity_pct, battery_level, signal_strength)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	recentDeviceReadingsSQL = `
SELECT id, device_id, location, ts_ns, pm25, pm10, temperature_c, humidity_pct, battery_level, signal_strength
FROM device_readings WHERE device_id = ? ORDER BY seq DESC LIMIT ?`
)

// SQLiteStore is a durable telemetry.Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
// path may be a plain file path, a "file:" URI or ":memory:".
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	// If caller provided something like "file:/data/app.db?x=y", don't double-wrap.
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts a reading.
func (s *SQLiteStore) Append(ctx context.Context, r telemetry.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	pollutants, err := json.Marshal(r.Pollutants)
	if err != nil {
		return fmt.Errorf("encode pollutants: %w", err)
	}
	if r.Pollutants == nil {
		pollutants = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, insertReadingSQL,
		r.ID,
		r.Location,
		r.Timestamp.UTC().UnixNano(),
		r.AQI,
		string(pollutants),
		nullFloat(r.Temperature),
		nullFloat(r.Humidity),
		nullFloat(r.WindSpeed),
		string(r.Source),
		r.Provider,
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// Latest returns the most recent reading for a location.
func (s *SQLiteStore) Latest(ctx context.Context, location string) (telemetry.Reading, error) {
	readings, err := s.Recent(ctx, location, 1)
	if err != nil {
		return telemetry.Reading{}, err
	}
	return readings[0], nil
}

// Recent returns up to n readings, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, location string, n int) ([]telemetry.Reading, error) {
	if n <= 0 {
		if err := s.ensureLocation(ctx, location); err != nil {
			return nil, err
		}
		return []telemetry.Reading{}, nil
	}

	rows, err := s.db.QueryContext(ctx, recentReadingsSQL, location, n)
	if err != nil {
		return nil, fmt.Errorf("query recent readings: %w", err)
	}
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, telemetry.ErrNoData
	}
	return readings, nil
}

// Range returns readings in [from, to], oldest first.
func (s *SQLiteStore) Range(ctx context.Context, location string, from, to time.Time) ([]telemetry.Reading, error) {
	rows, err := s.db.QueryContext(ctx, rangeReadingsSQL, location, clampedUnixNano(from), clampedUnixNano(to))
	if err != nil {
		return nil, fmt.Errorf("query reading range: %w", err)
	}
	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		if err := s.ensureLocation(ctx, location); err != nil {
			return nil, err
		}
		return []telemetry.Reading{}, nil
	}
	return readings, nil
}

func (s *SQLiteStore) ensureLocation(ctx context.Context, location string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, locationExistsSQL, location).Scan(&exists); err != nil {
		return fmt.Errorf("check location: %w", err)
	}
	if !exists {
		return telemetry.ErrNoData
	}
	return nil
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	var out []telemetry.Reading
	for rows.Next() {
		var (
			r                    telemetry.Reading
			tsNano               int64
			pollutants, source   string
			temp, humidity, wind sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Location, &tsNano, &r.AQI, &pollutants, &temp, &humidity, &wind, &source, &r.Provider); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal([]byte(pollutants), &r.Pollutants); err != nil {
			return nil, fmt.Errorf("decode pollutants: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano).UTC()
		r.Temperature = floatPtr(temp)
		r.Humidity = floatPtr(humidity)
		r.WindSpeed = floatPtr(wind)
		r.Source = telemetry.Source(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendDevice inserts a device-originated sample.
func (s *SQLiteStore) AppendDevice(ctx context.Context, r telemetry.DeviceReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, insertDeviceReadingSQL,
		r.ID,
		r.DeviceID,
		r.Location,
		r.Timestamp.UTC().UnixNano(),
		r.PM25,
		r.PM10,
		nullFloat(r.Temperature),
		nullFloat(r.Humidity),
		nullFloat(r.BatteryLevel),
		nullFloat(r.SignalStrength),
	)
	if err != nil {
		return fmt.Errorf("insert device reading: %w", err)
	}
	return nil
}

// RecentDevice returns up to n samples of a device, most recent first.
func (s *SQLiteStore) RecentDevice(ctx context.Context, deviceID string, n int) ([]telemetry.DeviceReading, error) {
	rows, err := s.db.QueryContext(ctx, recentDeviceReadingsSQL, deviceID, max(n, 1))
	if err != nil {
		return nil, fmt.Errorf("query device readings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close device readings rows", "error", err)
		}
	}()

	var out []telemetry.DeviceReading
	for rows.Next() {
		var (
			r                                 telemetry.DeviceReading
			tsNano                            int64
			temp, humidity, battery, strength sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Location, &tsNano, &r.PM25, &r.PM10, &temp, &humidity, &battery, &strength); err != nil {
			return nil, fmt.Errorf("scan device reading: %w", err)
		}
		r.Timestamp = time.Unix(0, tsNano).UTC()
		r.Temperature = floatPtr(temp)
		r.Humidity = floatPtr(humidity)
		r.BatteryLevel = floatPtr(battery)
		r.SignalStrength = floatPtr(strength)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, telemetry.ErrNoData
	}
	if n <= 0 {
		return []telemetry.DeviceReading{}, nil
	}
	return out, nil
}

// clampedUnixNano maps bounds outside the representable range onto its edges;
// stored timestamps are always inside it.
func clampedUnixNano(t time.Time) int64 {
	switch {
	case t.Before(telemetry.MinTimestamp):
		return math.MinInt64
	case t.After(telemetry.MaxTimestamp):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
