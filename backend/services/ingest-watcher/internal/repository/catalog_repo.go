package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"psws/backend/services/ingest-watcher/internal/ingesterr"
	"psws/backend/services/ingest-watcher/internal/models"
)

var (
	ErrStationNotFound    = errors.New("repository: station not found")
	ErrInstrumentNotFound = errors.New("repository: instrument not registered to station")
)

// frequencyTolerance matches a MHz value against the 3-decimal reference column.
const frequencyTolerance = 0.0005

// Target is a resolved (station, instrument) pair.
type Target struct {
	Station    models.Station
	Instrument models.Instrument
}

// UpsertResult describes the outcome of one catalog write.
type UpsertResult struct {
	ObservationID      int64
	Created            bool
	SkippedFrequencies []float64
	LastAlive          time.Time
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CatalogRepository writes observations and station liveness.
type CatalogRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	logger  *zap.Logger
}

// NewCatalogRepository returns repository.
func NewCatalogRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, dialect: dialect, now: time.Now, logger: logger}
}

// WithClock replaces the liveness clock.
func (r *CatalogRepository) WithClock(now func() time.Time) *CatalogRepository {
	r.now = now
	return r
}

func (r *CatalogRepository) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	query, args = r.dialect.Bind(query, args...)
	return q.QueryRowContext(ctx, query, args...)
}

func (r *CatalogRepository) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	query, args = r.dialect.Bind(query, args...)
	return q.ExecContext(ctx, query, args...)
}

// Resolve looks up the station by code and the instrument by identifier. A
// numeric identifier is tried as an instrument id first, then as a name; both
// are scoped to the station.
func (r *CatalogRepository) Resolve(ctx context.Context, stationCode, instrument string) (Target, error) {
	station, err := r.station(ctx, r.db, stationCode)
	if err != nil {
		return Target{}, err
	}

	inst, err := r.instrument(ctx, station, instrument)
	if err != nil {
		return Target{}, err
	}
	return Target{Station: station, Instrument: inst}, nil
}

// Station returns the station registered under code.
func (r *CatalogRepository) Station(ctx context.Context, code string) (models.Station, error) {
	return r.station(ctx, r.db, code)
}

func (r *CatalogRepository) station(ctx context.Context, q queryer, code string) (models.Station, error) {
	const query = `
		SELECT id, station_id, nickname, latitude, longitude, grid, last_alive, station_status
		FROM stations
		WHERE station_id = $1
	`
	var (
		st        models.Station
		lat, long sql.NullFloat64
		grid      sql.NullString
		lastAlive sql.NullTime
	)
	err := r.queryRow(ctx, q, query, code).Scan(&st.ID, &st.Code, &st.Nickname, &lat, &long, &grid, &lastAlive, &st.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Station{}, ingesterr.Lookup(fmt.Sprintf("station %s not registered", code), ErrStationNotFound)
	}
	if err != nil {
		return models.Station{}, ingesterr.Persistence("load station", err)
	}
	if lat.Valid {
		st.Latitude = &lat.Float64
	}
	if long.Valid {
		st.Longitude = &long.Float64
	}
	st.Grid = grid.String
	if lastAlive.Valid {
		t := lastAlive.Time.UTC()
		st.LastAlive = &t
	}
	return st, nil
}

func (r *CatalogRepository) instrument(ctx context.Context, station models.Station, ident string) (models.Instrument, error) {
	const byID = `
		SELECT i.id, i.instrument, COALESCE(t.instrument_type, ''), i.station_id
		FROM instruments i
		LEFT JOIN instrument_types t ON t.id = i.instrument_type_id
		WHERE i.id = $1 AND i.station_id = $2
	`
	const byName = `
		SELECT i.id, i.instrument, COALESCE(t.instrument_type, ''), i.station_id
		FROM instruments i
		LEFT JOIN instrument_types t ON t.id = i.instrument_type_id
		WHERE i.instrument = $1 AND i.station_id = $2
		ORDER BY i.id
		LIMIT 1
	`
	ident = strings.TrimSpace(ident)
	var inst models.Instrument

	if id, err := strconv.ParseInt(ident, 10, 64); err == nil {
		err := r.queryRow(ctx, r.db, byID, id, station.ID).Scan(&inst.ID, &inst.Name, &inst.TypeName, &inst.StationID)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Instrument{}, ingesterr.Persistence("load instrument", err)
		}
	}

	err := r.queryRow(ctx, r.db, byName, ident, station.ID).Scan(&inst.ID, &inst.Name, &inst.TypeName, &inst.StationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Instrument{}, ingesterr.Lookup(
			fmt.Sprintf("instrument %s not registered to station %s", ident, station.Code), ErrInstrumentNotFound)
	}
	if err != nil {
		return models.Instrument{}, ingesterr.Persistence("load instrument", err)
	}
	return inst, nil
}

// Upsert records obs under target in one transaction: insert-or-update by
// natural key, links on first insert, then the station liveness refresh.
// Only end date and size change on an existing observation.
func (r *CatalogRepository) Upsert(ctx context.Context, target Target, obs models.Observation) (UpsertResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, ingesterr.Persistence("begin transaction", err)
	}
	defer tx.Rollback()

	var res UpsertResult
	obs.StationID = target.Station.ID
	obs.InstrumentID = target.Instrument.ID

	id, found, err := r.findObservation(ctx, tx, obs)
	if err != nil {
		return UpsertResult{}, err
	}
	if !found {
		id, found, err = r.insertObservation(ctx, tx, obs)
		if err != nil {
			return UpsertResult{}, err
		}
		res.Created = !found
	}
	if found {
		if err := r.updateObservation(ctx, tx, id, obs); err != nil {
			return UpsertResult{}, err
		}
	}
	res.ObservationID = id

	if res.Created {
		skipped, err := r.linkFrequencies(ctx, tx, id, obs.CenterFrequencies)
		if err != nil {
			return UpsertResult{}, err
		}
		res.SkippedFrequencies = skipped
		if err := r.linkDataType(ctx, tx, id, obs.DataType); err != nil {
			return UpsertResult{}, err
		}
	}

	alive, err := r.touchStation(ctx, tx, target.Station.ID)
	if err != nil {
		return UpsertResult{}, err
	}
	res.LastAlive = alive

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, ingesterr.Persistence("commit", err)
	}
	return res, nil
}

func (r *CatalogRepository) findObservation(ctx context.Context, tx *sql.Tx, obs models.Observation) (int64, bool, error) {
	const query = `
		SELECT id FROM observations
		WHERE station_id = $1 AND instrument_id = $2 AND file_name = $3
	`
	var id int64
	err := r.queryRow(ctx, tx, query, obs.StationID, obs.InstrumentID, obs.FileName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ingesterr.Persistence("find observation", err)
	}
	return id, true, nil
}

// insertObservation reports found=true when a concurrent writer won the
// natural key, in which case the caller falls back to an update.
func (r *CatalogRepository) insertObservation(ctx context.Context, tx *sql.Tx, obs models.Observation) (int64, bool, error) {
	const query = `
		INSERT INTO observations (station_id, instrument_id, file_name, path, data_rate, size, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (station_id, instrument_id, file_name) DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.queryRow(ctx, tx, query,
		obs.StationID,
		obs.InstrumentID,
		obs.FileName,
		obs.Path,
		obs.DataRate,
		obs.Size,
		obs.StartDate.UTC(),
		obs.EndDate.UTC(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		id, found, err := r.findObservation(ctx, tx, obs)
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, ingesterr.Persistence("insert observation", errors.New("conflicting row vanished"))
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, ingesterr.Persistence("insert observation", err)
	}
	return id, false, nil
}

func (r *CatalogRepository) updateObservation(ctx context.Context, tx *sql.Tx, id int64, obs models.Observation) error {
	const query = `
		UPDATE observations
		SET end_date = $1,
		    size = $2
		WHERE id = $3
	`
	if _, err := r.exec(ctx, tx, query, obs.EndDate.UTC(), obs.Size, id); err != nil {
		return ingesterr.Persistence("update observation", err)
	}
	return nil
}

// linkFrequencies attaches reference frequencies and returns the values that
// have no reference row.
func (r *CatalogRepository) linkFrequencies(ctx context.Context, tx *sql.Tx, obsID int64, freqs []float64) ([]float64, error) {
	const lookup = `
		SELECT id FROM center_frequencies
		WHERE ABS(center_frequency - $1) < $2
		ORDER BY id
		LIMIT 1
	`
	const link = `
		INSERT INTO observation_center_frequencies (observation_id, center_frequency_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	var skipped []float64
	for _, f := range freqs {
		var cfID int64
		err := r.queryRow(ctx, tx, lookup, f, frequencyTolerance).Scan(&cfID)
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("center frequency not in reference table, link skipped",
				zap.Float64("center_frequency", f),
				zap.Int64("observation_id", obsID),
				zap.String("error_kind", ingesterr.KindLookup.String()),
			)
			skipped = append(skipped, f)
			continue
		}
		if err != nil {
			return nil, ingesterr.Persistence("lookup center frequency", err)
		}
		if _, err := r.exec(ctx, tx, link, obsID, cfID); err != nil {
			return nil, ingesterr.Persistence("link center frequency", err)
		}
	}
	return skipped, nil
}

func (r *CatalogRepository) linkDataType(ctx context.Context, tx *sql.Tx, obsID int64, dataType string) error {
	if dataType == "" {
		return nil
	}
	const lookup = `SELECT id FROM data_types WHERE data_type = $1`
	const link = `
		INSERT INTO observation_data_types (observation_id, data_type_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	var dtID int64
	err := r.queryRow(ctx, tx, lookup, dataType).Scan(&dtID)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("data type not in reference table, tag skipped",
			zap.String("data_type", dataType),
			zap.Int64("observation_id", obsID),
		)
		return nil
	}
	if err != nil {
		return ingesterr.Persistence("lookup data type", err)
	}
	if _, err := r.exec(ctx, tx, link, obsID, dtID); err != nil {
		return ingesterr.Persistence("link data type", err)
	}
	return nil
}

// touchStation moves last_alive forward to now and marks the station online.
// An existing later value is kept.
func (r *CatalogRepository) touchStation(ctx context.Context, tx *sql.Tx, stationID int64) (time.Time, error) {
	const read = `SELECT last_alive FROM stations WHERE id = $1`
	const write = `
		UPDATE stations
		SET last_alive = $1,
		    station_status = $2
		WHERE id = $3
	`
	var current sql.NullTime
	if err := r.queryRow(ctx, tx, read, stationID).Scan(&current); err != nil {
		return time.Time{}, ingesterr.Persistence("read station liveness", err)
	}

	alive := r.now().UTC()
	if current.Valid && current.Time.After(alive) {
		alive = current.Time.UTC()
	}
	if _, err := r.exec(ctx, tx, write, alive, models.StationOnline, stationID); err != nil {
		return time.Time{}, ingesterr.Persistence("refresh station liveness", err)
	}
	return alive, nil
}
