package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database for local decode history.
type DB struct {
	db *sql.DB
}

// Open opens or creates a history database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS decodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vin TEXT NOT NULL,
		decoded_at TEXT NOT NULL,
		valid INTEGER NOT NULL,
		make TEXT,
		model TEXT,
		model_year INTEGER,
		body_class TEXT,
		country TEXT,
		confidence REAL,
		error_codes TEXT,
		result_json TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_decodes_vin ON decodes(vin);
	CREATE INDEX IF NOT EXISTS idx_decodes_make ON decodes(make);
	CREATE INDEX IF NOT EXISTS idx_decodes_model ON decodes(model);
	CREATE INDEX IF NOT EXISTS idx_decodes_year ON decodes(model_year);
	CREATE INDEX IF NOT EXISTS idx_decodes_valid ON decodes(valid);
	`
	_, err := db.Exec(schema)
	return err
}

// Insert stores one decode outcome and returns its row id.
func (d *DB) Insert(p *InsertParams) (int64, error) {
	resultJSON, err := p.marshalResult()
	if err != nil {
		return 0, err
	}

	valid := 0
	if p.Valid {
		valid = 1
	}
	result, err := d.db.Exec(`
		INSERT INTO decodes (vin, decoded_at, valid, make, model, model_year, body_class, country, confidence, error_codes, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.VIN, p.DecodedAt.Format(time.RFC3339), valid, p.Make, p.Model, p.ModelYear,
		p.BodyClass, p.Country, p.Confidence, p.errorCodesCSV(), resultJSON)
	if err != nil {
		return 0, fmt.Errorf("insert decode: %w", err)
	}
	return result.LastInsertId()
}

// QueryParams filters history queries.
type QueryParams struct {
	VIN         string // Exact VIN match.
	Make        string // Exact make match.
	Model       string // LIKE match.
	ModelYear   int    // Exact year match.
	InvalidOnly bool   // Only failed decodes.
	Limit       int    // Max results (default 100).
	Offset      int    // Pagination offset.
}

// Query returns history rows matching the parameters, newest first.
func (d *DB) Query(p QueryParams) ([]Record, error) {
	var conditions []string
	var args []any

	if p.VIN != "" {
		conditions = append(conditions, "vin = ?")
		args = append(args, p.VIN)
	}
	if p.Make != "" {
		conditions = append(conditions, "make = ?")
		args = append(args, p.Make)
	}
	if p.Model != "" {
		conditions = append(conditions, "model LIKE ?")
		args = append(args, "%"+p.Model+"%")
	}
	if p.ModelYear != 0 {
		conditions = append(conditions, "model_year = ?")
		args = append(args, p.ModelYear)
	}
	if p.InvalidOnly {
		conditions = append(conditions, "valid = 0")
	}

	query := `SELECT id, vin, decoded_at, valid, make, model, model_year, body_class, country, confidence, error_codes, result_json FROM decodes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC"

	limit := 100
	if p.Limit > 0 {
		limit = p.Limit
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, p.Offset)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var ts string
	var valid int
	var mk, model, body, country, codes sql.NullString
	var year sql.NullInt64
	var confidence sql.NullFloat64

	err := rows.Scan(&r.ID, &r.VIN, &ts, &valid, &mk, &model, &year, &body, &country, &confidence, &codes, &r.ResultJSON)
	if err != nil {
		return Record{}, fmt.Errorf("scan row: %w", err)
	}
	r.DecodedAt, _ = time.Parse(time.RFC3339, ts)
	r.Valid = valid == 1
	if mk.Valid {
		r.Make = mk.String
	}
	if model.Valid {
		r.Model = model.String
	}
	if year.Valid {
		r.ModelYear = int(year.Int64)
	}
	if body.Valid {
		r.BodyClass = body.String
	}
	if country.Valid {
		r.Country = country.String
	}
	if confidence.Valid {
		r.Confidence = confidence.Float64
	}
	if codes.Valid {
		r.ErrorCodes = codes.String
	}
	return r, nil
}

// Stats aggregates the stored history.
type Stats struct {
	TotalDecodes int
	InvalidCount int
	ByMake       map[string]int
	ByYear       map[int]int
}

// GetStats returns aggregate statistics about stored decodes.
func (d *DB) GetStats() (*Stats, error) {
	stats := &Stats{
		ByMake: make(map[string]int),
		ByYear: make(map[int]int),
	}

	row := d.db.QueryRow("SELECT COUNT(*) FROM decodes")
	if err := row.Scan(&stats.TotalDecodes); err != nil {
		return nil, err
	}

	row = d.db.QueryRow("SELECT COUNT(*) FROM decodes WHERE valid = 0")
	if err := row.Scan(&stats.InvalidCount); err != nil {
		return nil, err
	}

	rows, err := d.db.Query("SELECT make, COUNT(*) FROM decodes WHERE make != '' GROUP BY make ORDER BY COUNT(*) DESC LIMIT 20")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var mk string
		var count int
		if err := rows.Scan(&mk, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByMake[mk] = count
	}
	_ = rows.Close()

	rows, err = d.db.Query("SELECT model_year, COUNT(*) FROM decodes WHERE model_year != 0 GROUP BY model_year")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var year, count int
		if err := rows.Scan(&year, &count); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByYear[year] = count
	}
	_ = rows.Close()

	return stats, nil
}

// LatestByVIN returns the most recent decode of a VIN, or nil.
func (d *DB) LatestByVIN(v string) (*Record, error) {
	records, err := d.Query(QueryParams{VIN: v, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}
