package catalog

import (
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore reads a vPIC-derived catalog from an embedded SQLite file.
// The handle is opened read-only, elements are preloaded and validated at
// open, and per-schema pattern lists are cached for the handle's lifetime.
type SQLiteStore struct {
	db     *sql.DB
	source Source

	// tempPath is set when the catalog was decompressed to a scratch file.
	tempPath string

	elements map[int64]Element

	patternMu    sync.RWMutex
	patternCache map[int64][]Pattern

	stmtMu      sync.Mutex
	lookupStmts map[string]*sql.Stmt
}

// lookupQueries maps the closed set of lookup tables to their resolution
// queries. Unknown table names never reach SQL.
var lookupQueries = map[string]string{
	"Make":                 "SELECT Name FROM Make WHERE Id = ?",
	"Model":                "SELECT Name FROM Model WHERE Id = ?",
	"BodyStyle":            "SELECT Name FROM BodyStyle WHERE Id = ?",
	"FuelType":             "SELECT Name FROM FuelType WHERE Id = ?",
	"DriveType":            "SELECT Name FROM DriveType WHERE Id = ?",
	"ElectrificationLevel": "SELECT Name FROM ElectrificationLevel WHERE Id = ?",
	"Transmission":         "SELECT Name FROM Transmission WHERE Id = ?",
	"Country":              "SELECT Name FROM Country WHERE Id = ?",
	"Manufacturer":         "SELECT Name FROM Manufacturer WHERE Id = ?",
	"VehicleType":          "SELECT Name FROM VehicleType WHERE Id = ?",
}

// OpenSQLite opens a catalog file as the given source layer. Files ending in
// .gz are decompressed to a scratch file first. The connection is forced
// read-only; a catalog is never written through this package.
func OpenSQLite(path string, source Source) (*SQLiteStore, error) {
	var tempPath string
	if strings.HasSuffix(path, ".gz") {
		p, err := decompressCatalog(path)
		if err != nil {
			return nil, err
		}
		tempPath = p
		path = p
	}

	// query_only goes in the DSN so every pooled connection is read-only,
	// not just the one a PRAGMA statement happens to run on.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	s := &SQLiteStore{
		db:           db,
		source:       source,
		tempPath:     tempPath,
		patternCache: make(map[int64][]Pattern),
		lookupStmts:  make(map[string]*sql.Stmt),
	}
	if err := s.loadElements(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// decompressCatalog inflates a .gz catalog into a scratch file.
func decompressCatalog(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open compressed catalog: %w", err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("read compressed catalog: %w", err)
	}
	defer zr.Close()

	out, err := os.CreateTemp("", "corgi-catalog-*.db")
	if err != nil {
		return "", fmt.Errorf("create scratch catalog: %w", err)
	}
	if _, err := io.Copy(out, zr); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("decompress catalog: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", fmt.Errorf("close scratch catalog: %w", err)
	}
	return out.Name(), nil
}

// loadElements preloads the Element table and validates every lookup table
// reference against the closed set.
func (s *SQLiteStore) loadElements() error {
	rows, err := s.db.Query("SELECT Id, Name, LookupTable, Weight FROM Element")
	if err != nil {
		return fmt.Errorf("load elements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	elements := make(map[int64]Element)
	for rows.Next() {
		var e Element
		var lookup sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &lookup, &e.Weight); err != nil {
			return fmt.Errorf("scan element: %w", err)
		}
		if lookup.Valid {
			e.LookupTable = lookup.String
		}
		if err := ValidateElement(e); err != nil {
			return fmt.Errorf("catalog validation: %w", err)
		}
		elements[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load elements: %w", err)
	}
	s.elements = elements
	return nil
}

// Close releases the catalog handle and any scratch file.
func (s *SQLiteStore) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.lookupStmts {
		_ = stmt.Close()
	}
	s.lookupStmts = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	err := s.db.Close()
	if s.tempPath != "" {
		_ = os.Remove(s.tempPath)
	}
	return err
}

// WMIByCode implements Store.
func (s *SQLiteStore) WMIByCode(ctx context.Context, code string) ([]Wmi, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT Id, Wmi, ManufacturerId, MakeId, VehicleTypeId, CountryId FROM Wmi WHERE Wmi = ? ORDER BY Id",
		code)
	if err != nil {
		return nil, fmt.Errorf("query wmi %q: %w", code, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Wmi
	for rows.Next() {
		var w Wmi
		var makeID sql.NullInt64
		if err := rows.Scan(&w.ID, &w.Code, &w.ManufacturerID, &makeID, &w.VehicleTypeID, &w.CountryID); err != nil {
			return nil, fmt.Errorf("scan wmi: %w", err)
		}
		if makeID.Valid {
			w.MakeID = makeID.Int64
		}
		w.Source = s.source
		out = append(out, w)
	}
	return out, rows.Err()
}

// WmiMakeIDs implements Store.
func (s *SQLiteStore) WmiMakeIDs(ctx context.Context, wmiID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT MakeId FROM Wmi_Make WHERE WmiId = ? ORDER BY MakeId", wmiID)
	if err != nil {
		return nil, fmt.Errorf("query wmi makes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wmi make: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SchemasForWMI implements Store. A year of 0 selects every link for the WMI.
func (s *SQLiteStore) SchemasForWMI(ctx context.Context, wmiID int64, year int) ([]WmiVinSchema, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT Id, WmiId, VinSchemaId, YearFrom, YearTo
		FROM Wmi_VinSchema
		WHERE WmiId = ?
		  AND (? = 0 OR (YearFrom <= ? AND (YearTo IS NULL OR YearTo >= ?)))
		ORDER BY Id`,
		wmiID, year, year, year)
	if err != nil {
		return nil, fmt.Errorf("query schemas for wmi: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WmiVinSchema
	for rows.Next() {
		var link WmiVinSchema
		var yearTo sql.NullInt64
		if err := rows.Scan(&link.ID, &link.WmiID, &link.VinSchemaID, &link.YearFrom, &yearTo); err != nil {
			return nil, fmt.Errorf("scan schema link: %w", err)
		}
		if yearTo.Valid {
			link.YearTo = int(yearTo.Int64)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// Schema implements Store.
func (s *SQLiteStore) Schema(ctx context.Context, id int64) (VinSchema, bool, error) {
	var schema VinSchema
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT Id, Name, sourcewmi, Notes FROM VinSchema WHERE Id = ?", id).
		Scan(&schema.ID, &schema.Name, &schema.SourceWMI, &notes)
	if err == sql.ErrNoRows {
		return VinSchema{}, false, nil
	}
	if err != nil {
		return VinSchema{}, false, fmt.Errorf("query schema %d: %w", id, err)
	}
	if notes.Valid {
		schema.Notes = notes.String
	}
	return schema, true, nil
}

// PatternsForSchema implements Store. Results are cached per schema id with
// a populate-once read/write lock; concurrent decodes share the cache.
func (s *SQLiteStore) PatternsForSchema(ctx context.Context, schemaID int64) ([]Pattern, error) {
	s.patternMu.RLock()
	cached, ok := s.patternCache[schemaID]
	s.patternMu.RUnlock()
	if ok {
		return cached, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT Id, VinSchemaId, Keys, ElementId, AttributeId FROM Pattern WHERE VinSchemaId = ? ORDER BY Id",
		schemaID)
	if err != nil {
		return nil, fmt.Errorf("query patterns for schema %d: %w", schemaID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Pattern
	for rows.Next() {
		var p Pattern
		var attr string
		if err := rows.Scan(&p.ID, &p.VinSchemaID, &p.Keys, &p.ElementID, &attr); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		elem, ok := s.elements[p.ElementID]
		if !ok {
			return nil, fmt.Errorf("pattern %d references unknown element %d", p.ID, p.ElementID)
		}
		p.Attribute = ParseAttribute(elem, attr)
		p.Source = s.source
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.patternMu.Lock()
	if existing, ok := s.patternCache[schemaID]; ok {
		out = existing
	} else {
		s.patternCache[schemaID] = out
	}
	s.patternMu.Unlock()
	return out, nil
}

// Element implements Store.
func (s *SQLiteStore) Element(_ context.Context, id int64) (Element, bool, error) {
	e, ok := s.elements[id]
	return e, ok, nil
}

// lookupStmt returns the prepared resolution statement for a lookup table,
// preparing it on first use.
func (s *SQLiteStore) lookupStmt(table string) (*sql.Stmt, error) {
	query, ok := lookupQueries[table]
	if !ok {
		return nil, fmt.Errorf("unknown lookup table %q", table)
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.lookupStmts[table]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare %s lookup: %w", table, err)
	}
	s.lookupStmts[table] = stmt
	return stmt, nil
}

// LookupName implements Store.
func (s *SQLiteStore) LookupName(ctx context.Context, table string, id int64) (string, bool, error) {
	stmt, err := s.lookupStmt(table)
	if err != nil {
		return "", false, err
	}
	var name string
	err = stmt.QueryRowContext(ctx, id).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %d: %w", table, id, err)
	}
	return name, true, nil
}

// ModelNameForMake implements Store.
func (s *SQLiteStore) ModelNameForMake(ctx context.Context, makeID, modelID int64) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT m.Name FROM Model m
		JOIN Make_Model mm ON mm.ModelId = m.Id
		WHERE mm.MakeId = ? AND m.Id = ?`,
		makeID, modelID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup model %d under make %d: %w", modelID, makeID, err)
	}
	return name, true, nil
}
