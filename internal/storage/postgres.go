package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB wraps a PostgreSQL connection pool for fleet decode history.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// CreateSchema creates the fleet history tables if they do not exist.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicle_decodes (
		vin           TEXT PRIMARY KEY,
		decoded_at    TIMESTAMPTZ NOT NULL,
		valid         BOOLEAN NOT NULL,
		make          TEXT,
		model         TEXT,
		model_year    INTEGER,
		body_class    TEXT,
		country       TEXT,
		confidence    DOUBLE PRECISION,
		error_codes   TEXT,
		result_json   JSONB NOT NULL,
		decode_count  INTEGER NOT NULL DEFAULT 1,
		first_seen    TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen     TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_vehicle_decodes_make ON vehicle_decodes(make);
	CREATE INDEX IF NOT EXISTS idx_vehicle_decodes_model ON vehicle_decodes(model);
	CREATE INDEX IF NOT EXISTS idx_vehicle_decodes_year ON vehicle_decodes(model_year);
	CREATE INDEX IF NOT EXISTS idx_vehicle_decodes_last_seen ON vehicle_decodes(last_seen);
	`
	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertDecode stores the latest decode for a VIN, bumping the decode count
// on repeats.
func (d *PostgresDB) UpsertDecode(ctx context.Context, p *InsertParams) error {
	resultJSON, err := p.marshalResult()
	if err != nil {
		return err
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO vehicle_decodes (vin, decoded_at, valid, make, model, model_year, body_class, country, confidence, error_codes, result_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (vin) DO UPDATE SET
			decoded_at = EXCLUDED.decoded_at,
			valid = EXCLUDED.valid,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			model_year = EXCLUDED.model_year,
			body_class = EXCLUDED.body_class,
			country = EXCLUDED.country,
			confidence = EXCLUDED.confidence,
			error_codes = EXCLUDED.error_codes,
			result_json = EXCLUDED.result_json,
			decode_count = vehicle_decodes.decode_count + 1,
			last_seen = now()
	`, p.VIN, p.DecodedAt, p.Valid, p.Make, p.Model, p.ModelYear, p.BodyClass,
		p.Country, p.Confidence, p.errorCodesCSV(), resultJSON)
	if err != nil {
		return fmt.Errorf("upsert decode: %w", err)
	}
	return nil
}

// GetByVIN returns the stored decode for a VIN, or nil.
func (d *PostgresDB) GetByVIN(ctx context.Context, v string) (*Record, error) {
	var r Record
	var year *int
	var mk, model, body, country, codes *string
	var confidence *float64

	err := d.pool.QueryRow(ctx, `
		SELECT vin, decoded_at, valid, make, model, model_year, body_class, country, confidence, error_codes, result_json::text
		FROM vehicle_decodes WHERE vin = $1
	`, v).Scan(&r.VIN, &r.DecodedAt, &r.Valid, &mk, &model, &year, &body, &country, &confidence, &codes, &r.ResultJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decode: %w", err)
	}
	if mk != nil {
		r.Make = *mk
	}
	if model != nil {
		r.Model = *model
	}
	if year != nil {
		r.ModelYear = *year
	}
	if body != nil {
		r.BodyClass = *body
	}
	if country != nil {
		r.Country = *country
	}
	if confidence != nil {
		r.Confidence = *confidence
	}
	if codes != nil {
		r.ErrorCodes = *codes
	}
	return &r, nil
}

// Recent returns the most recently seen decodes, newest first.
func (d *PostgresDB) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx, `
		SELECT vin, decoded_at, valid, COALESCE(make, ''), COALESCE(model, ''), COALESCE(model_year, 0),
			COALESCE(body_class, ''), COALESCE(country, ''), COALESCE(confidence, 0), COALESCE(error_codes, ''), result_json::text
		FROM vehicle_decodes ORDER BY last_seen DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decodes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.VIN, &r.DecodedAt, &r.Valid, &r.Make, &r.Model, &r.ModelYear,
			&r.BodyClass, &r.Country, &r.Confidence, &r.ErrorCodes, &r.ResultJSON); err != nil {
			return nil, fmt.Errorf("scan decode: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
