package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// writeTestCatalog creates a minimal catalog file with the persisted layout.
func writeTestCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("create catalog: %v", err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE Wmi (Id INTEGER PRIMARY KEY, Wmi TEXT NOT NULL, ManufacturerId INTEGER NOT NULL,
			MakeId INTEGER, VehicleTypeId INTEGER NOT NULL, CountryId INTEGER NOT NULL)`,
		`CREATE TABLE Wmi_Make (WmiId INTEGER NOT NULL, MakeId INTEGER NOT NULL)`,
		`CREATE TABLE VinSchema (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL, sourcewmi TEXT NOT NULL, Notes TEXT)`,
		`CREATE TABLE Wmi_VinSchema (Id INTEGER PRIMARY KEY, WmiId INTEGER NOT NULL, VinSchemaId INTEGER NOT NULL,
			YearFrom INTEGER NOT NULL, YearTo INTEGER)`,
		`CREATE TABLE Pattern (Id INTEGER PRIMARY KEY, VinSchemaId INTEGER NOT NULL, Keys TEXT NOT NULL,
			ElementId INTEGER NOT NULL, AttributeId TEXT NOT NULL)`,
		`CREATE TABLE Element (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL, LookupTable TEXT, Weight INTEGER NOT NULL)`,
		`CREATE TABLE Make (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Model (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Make_Model (MakeId INTEGER NOT NULL, ModelId INTEGER NOT NULL)`,
		`CREATE TABLE BodyStyle (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE FuelType (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE DriveType (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE ElectrificationLevel (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Transmission (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Country (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE Manufacturer (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,
		`CREATE TABLE VehicleType (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL)`,

		`INSERT INTO Manufacturer VALUES (1, 'FORD MOTOR COMPANY')`,
		`INSERT INTO Make VALUES (460, 'Ford')`,
		`INSERT INTO Model VALUES (1801, 'F-150')`,
		`INSERT INTO Make_Model VALUES (460, 1801)`,
		`INSERT INTO Country VALUES (6, 'United States')`,
		`INSERT INTO VehicleType VALUES (3, 'Truck')`,
		`INSERT INTO BodyStyle VALUES (60, 'Pickup')`,

		`INSERT INTO Element VALUES (28, 'Model', 'Model', 95)`,
		`INSERT INTO Element VALUES (5, 'Body Class', 'BodyStyle', 80)`,
		`INSERT INTO Element VALUES (18, 'Engine Model', NULL, 50)`,

		`INSERT INTO Wmi VALUES (100, '1FT', 1, 460, 3, 6)`,
		`INSERT INTO Wmi_Make VALUES (100, 460)`,
		`INSERT INTO VinSchema VALUES (10, 'Ford Truck 2024', '1FT', NULL)`,
		`INSERT INTO Wmi_VinSchema VALUES (1, 100, 10, 2021, NULL)`,
		`INSERT INTO Pattern VALUES (1000, 10, 'FW****', 28, '1801')`,
		`INSERT INTO Pattern VALUES (1001, 10, 'FW****', 5, '60')`,
		`INSERT INTO Pattern VALUES (1002, 10, '***L8*', 18, '3.5L V6')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(writeTestCatalog(t), SourceOfficial)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = store.Close() }()

	wmis, err := store.WMIByCode(ctx, "1FT")
	if err != nil {
		t.Fatalf("WMIByCode: %v", err)
	}
	if len(wmis) != 1 || wmis[0].MakeID != 460 || wmis[0].Source != SourceOfficial {
		t.Fatalf("wmis = %+v", wmis)
	}

	if ids, err := store.WmiMakeIDs(ctx, 100); err != nil || len(ids) != 1 || ids[0] != 460 {
		t.Errorf("WmiMakeIDs = (%v, %v)", ids, err)
	}

	links, err := store.SchemasForWMI(ctx, 100, 2024)
	if err != nil || len(links) != 1 {
		t.Fatalf("SchemasForWMI(2024) = (%v, %v)", links, err)
	}
	if links, _ := store.SchemasForWMI(ctx, 100, 2019); len(links) != 0 {
		t.Errorf("SchemasForWMI(2019) = %v, want none", links)
	}
	if links, _ := store.SchemasForWMI(ctx, 100, 0); len(links) != 1 {
		t.Errorf("SchemasForWMI(0) = %v", links)
	}

	schema, ok, err := store.Schema(ctx, 10)
	if err != nil || !ok || schema.Name != "Ford Truck 2024" {
		t.Errorf("Schema = (%+v, %v, %v)", schema, ok, err)
	}

	patterns, err := store.PatternsForSchema(ctx, 10)
	if err != nil || len(patterns) != 3 {
		t.Fatalf("PatternsForSchema = (%v, %v)", patterns, err)
	}
	if !patterns[0].Attribute.IsRef || patterns[0].Attribute.Ref != 1801 {
		t.Errorf("model attribute = %+v", patterns[0].Attribute)
	}
	if patterns[2].Attribute.IsRef {
		t.Errorf("literal attribute decoded as ref: %+v", patterns[2].Attribute)
	}

	// Second read comes from the populate-once cache.
	again, err := store.PatternsForSchema(ctx, 10)
	if err != nil || len(again) != len(patterns) {
		t.Errorf("cached PatternsForSchema = (%v, %v)", again, err)
	}

	if name, ok, err := store.LookupName(ctx, "BodyStyle", 60); err != nil || !ok || name != "Pickup" {
		t.Errorf("LookupName = (%q, %v, %v)", name, ok, err)
	}
	if _, ok, _ := store.LookupName(ctx, "Make", 99999); ok {
		t.Error("missing lookup row resolved")
	}
	if _, _, err := store.LookupName(ctx, "Wmi; DROP", 1); err == nil {
		t.Error("unknown lookup table reached SQL")
	}

	if name, ok, err := store.ModelNameForMake(ctx, 460, 1801); err != nil || !ok || name != "F-150" {
		t.Errorf("ModelNameForMake = (%q, %v, %v)", name, ok, err)
	}
	if _, ok, _ := store.ModelNameForMake(ctx, 461, 1801); ok {
		t.Error("model resolved under wrong make")
	}

	if e, ok, _ := store.Element(ctx, 28); !ok || e.LookupTable != "Model" {
		t.Errorf("Element(28) = (%+v, %v)", e, ok)
	}
}

func TestOpenSQLiteRejectsBadLookupTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE Element (Id INTEGER PRIMARY KEY, Name TEXT, LookupTable TEXT, Weight INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO Element VALUES (1, 'Custom', 'NoSuchTable', 1)`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := OpenSQLite(path, SourceOfficial); err == nil {
		t.Error("catalog with unknown lookup table opened")
	}
}
