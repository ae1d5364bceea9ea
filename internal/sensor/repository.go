package sensor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/trf-bridge/internal/infrastructure/database"
)

// Repository defines persistence for the parameter catalog and sensor places.
type Repository interface {
	// SeedParams upserts the catalog. Safe to run on every start.
	SeedParams(ctx context.Context, params []Param) error

	// ListParams returns the catalog ordered by ID. Advanced parameters are
	// omitted unless includeAdvanced is set.
	ListParams(ctx context.Context, includeAdvanced bool) ([]Param, error)

	// ListPlaces returns all places ordered by section, then device.
	ListPlaces(ctx context.Context) ([]Place, error)

	// CreatePlace inserts p and sets its ID and CreatedAt.
	// Returns ErrPlaceExists if the device and pin are already placed.
	CreatePlace(ctx context.Context, p *Place) error

	// DeletePlace removes a place. Returns ErrPlaceNotFound if absent.
	DeletePlace(ctx context.Context, id int64) (*Place, error)

	// FindSection returns the section fed by deviceID's paramID input.
	// Returns ErrPlaceNotFound when no place matches.
	FindSection(ctx context.Context, deviceID string, paramID uint8) (string, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SeedParams upserts every descriptor in one transaction.
func (r *SQLiteRepository) SeedParams(ctx context.Context, params []Param) error {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trf_params (param_id, param_name, is_advance, is_settable, default_value, detail)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (param_id) DO UPDATE SET
				param_name    = excluded.param_name,
				is_advance    = excluded.is_advance,
				is_settable   = excluded.is_settable,
				default_value = excluded.default_value,
				detail        = excluded.detail`)
		if err != nil {
			return fmt.Errorf("preparing param upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range params {
			if _, err := stmt.ExecContext(ctx,
				p.ID, p.Name, boolToInt(p.IsAdvanced), boolToInt(p.IsSettable), p.Default, p.Detail,
			); err != nil {
				return fmt.Errorf("upserting param %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

// ListParams returns the catalog.
func (r *SQLiteRepository) ListParams(ctx context.Context, includeAdvanced bool) ([]Param, error) {
	query := `
		SELECT param_id, param_name, is_advance, is_settable, default_value, detail
		FROM trf_params`
	if !includeAdvanced {
		query += ` WHERE is_advance = 0`
	}
	query += ` ORDER BY param_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying params: %w", err)
	}
	defer rows.Close()

	var params []Param
	for rows.Next() {
		var p Param
		var advanced, settable int
		if err := rows.Scan(&p.ID, &p.Name, &advanced, &settable, &p.Default, &p.Detail); err != nil {
			return nil, fmt.Errorf("scanning param: %w", err)
		}
		p.IsAdvanced = advanced == 1
		p.IsSettable = settable == 1
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating params: %w", err)
	}
	return params, nil
}

const placeColumns = `
	SELECT sp.id, sp.device_id, sp.pin_param_id, COALESCE(tp.param_name, ''), sp.section, sp.created_at
	FROM sensor_places sp
	LEFT JOIN trf_params tp ON tp.param_id = sp.pin_param_id`

// ListPlaces returns every sensor place.
func (r *SQLiteRepository) ListPlaces(ctx context.Context) ([]Place, error) {
	rows, err := r.db.QueryContext(ctx, placeColumns+` ORDER BY sp.section, sp.device_id, sp.pin_param_id`)
	if err != nil {
		return nil, fmt.Errorf("querying places: %w", err)
	}
	defer rows.Close()

	var places []Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating places: %w", err)
	}
	return places, nil
}

// CreatePlace inserts a place. The pin must exist in trf_params.
func (r *SQLiteRepository) CreatePlace(ctx context.Context, p *Place) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sensor_places (device_id, pin_param_id, section, created_at)
		VALUES (?, ?, ?, ?)`,
		p.DeviceID, p.PinParamID, p.Section, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		switch {
		case isConstraint(err, sqlite3.ErrConstraintUnique):
			return ErrPlaceExists
		case isConstraint(err, sqlite3.ErrConstraintForeignKey):
			return fmt.Errorf("%w: %d", ErrParamNotFound, p.PinParamID)
		}
		return fmt.Errorf("inserting place: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading place id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	return nil
}

// DeletePlace removes a place and returns what was removed.
func (r *SQLiteRepository) DeletePlace(ctx context.Context, id int64) (*Place, error) {
	var removed *Place
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		p, err := scanPlace(tx.QueryRowContext(ctx, placeColumns+` WHERE sp.id = ?`, id))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sensor_places WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting place: %w", err)
		}
		removed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// FindSection looks up the section for one hub input.
func (r *SQLiteRepository) FindSection(ctx context.Context, deviceID string, paramID uint8) (string, error) {
	var section string
	err := r.db.QueryRowContext(ctx,
		`SELECT section FROM sensor_places WHERE device_id = ? AND pin_param_id = ?`,
		deviceID, paramID,
	).Scan(&section)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPlaceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying section: %w", err)
	}
	return section, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlace(row rowScanner) (*Place, error) {
	var p Place
	var createdAt string
	if err := row.Scan(&p.ID, &p.DeviceID, &p.PinParamID, &p.PinName, &p.Section, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("scanning place: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	return &p, nil
}

// isConstraint reports whether err is the given SQLite constraint failure.
func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
