package decode

import (
	"testing"
	"time"

	"github.com/cardog-ai/corgi/internal/catalog"
)

// fixtureNow pins the clock so model-year disambiguation is stable.
var fixtureNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// addElements defines the element set shared by the base and overlay
// fixtures. Weights follow the catalog convention: identity attributes
// outrank auxiliary encodings.
func addElements(b *catalog.Builder) {
	b.Element(catalog.ElementModel, "Model", 95)
	b.Element(catalog.ElementBodyClass, "BodyStyle", 80)
	b.Element(catalog.ElementSeries, "", 70)
	b.Element(catalog.ElementDriveType, "DriveType", 60)
	b.Element(catalog.ElementFuelType, "FuelType", 55)
	b.Element(catalog.ElementElectrification, "ElectrificationLevel", 55)
	b.Element(catalog.ElementEngineModel, "", 45)
	b.Element(catalog.ElementDoors, "", 40)
	b.Element(catalog.ElementPlantCity, "", 30)
	b.Element(catalog.ElementPlantCountry, "Country", 30)
}

// buildBaseCatalog assembles the official fixture: Ford trucks with the
// F-150/F-550 schema overlap, Honda CR-V and Accord, BMW X1, a brand-shared
// code, and a low-volume 6-character WMI.
func buildBaseCatalog(t *testing.T) *catalog.MemoryStore {
	t.Helper()
	b := catalog.NewBuilder(catalog.SourceOfficial)
	addElements(b)

	// Ford trucks. Both schemas carry an equally specific Model pattern
	// for VDS "FW5L86"; only schema coherence separates F-150 from F-550.
	ford := b.WMI("1FT", "FORD MOTOR COMPANY", "Ford", "United States", "Truck")
	f150 := b.Schema("Ford F-150 2021+", "1FT")
	b.Link(ford, f150, 2021, 0)
	b.Pattern(f150, "FW****", catalog.ElementModel, "F-150")
	b.Pattern(f150, "FW****", catalog.ElementBodyClass, "Pickup")
	b.Pattern(f150, "FW5***", catalog.ElementSeries, "XL")
	b.Pattern(f150, "***L8*", catalog.ElementEngineModel, "3.5L V6 EcoBoost")
	b.Pattern(f150, "FW****", catalog.ElementDriveType, "4WD")
	b.MakeModel("Ford", "F-150")

	f550 := b.Schema("Ford F-550 2021+", "1FT")
	b.Link(ford, f550, 2021, 0)
	b.Pattern(f550, "FW****", catalog.ElementModel, "F-550")
	b.Pattern(f550, "F3****", catalog.ElementBodyClass, "Chassis Cab")
	b.MakeModel("Ford", "F-550")

	// Honda CR-V built in Canada.
	hondaCA := b.WMI("2HK", "HONDA OF CANADA MFG", "Honda", "Canada", "Multipurpose Passenger Vehicle")
	crv := b.Schema("Honda CR-V 2017+", "2HK")
	b.Link(hondaCA, crv, 2017, 0)
	b.Pattern(crv, "RW****", catalog.ElementModel, "CR-V")
	b.Pattern(crv, "RW****", catalog.ElementBodyClass, "Sport Utility Vehicle")
	b.Pattern(crv, "RW2***", catalog.ElementDriveType, "AWD")
	b.Pattern(crv, "RW****", catalog.ElementDoors, "4")
	b.MakeModel("Honda", "CR-V")

	// Honda Accord, US built, closed year range.
	hondaUS := b.WMI("1HG", "AMERICAN HONDA MOTOR CO", "Honda", "United States", "Passenger Car")
	accord := b.Schema("Honda Accord 2003-2007", "1HG")
	b.Link(hondaUS, accord, 2003, 2007)
	b.Pattern(accord, "CM****", catalog.ElementModel, "Accord")
	b.Pattern(accord, "CM****", catalog.ElementBodyClass, "Coupe")
	b.MakeModel("Honda", "Accord")

	// BMW X1, Germany.
	bmw := b.WMI("WBA", "BMW AG", "BMW", "Germany", "Passenger Car")
	x1 := b.Schema("BMW X1 2013-2016", "WBA")
	b.Link(bmw, x1, 2013, 2016)
	b.Pattern(x1, "VL****", catalog.ElementModel, "X1")
	b.Pattern(x1, "VL****", catalog.ElementBodyClass, "Sport Utility Vehicle")
	b.Pattern(x1, "VL1***", catalog.ElementSeries, "sDrive28i")
	b.MakeModel("BMW", "X1")

	// A code shared across brands: the make-less row comes first (lowest
	// id), the row with an inline make must still win.
	b.WMINoMake("5T1", "SHARED ASSEMBLER", "United States", "Truck")
	shared := b.WMI("5T1", "SHARED ASSEMBLER", "Toyota", "United States", "Truck")
	sharedSchema := b.Schema("Shared 5T1", "5T1")
	b.Link(shared, sharedSchema, 2000, 0)
	b.Pattern(sharedSchema, "******", catalog.ElementBodyClass, "Pickup")

	// A model published under no make: resolution falls back to the
	// global Model table and flags the mismatch.
	orphan := b.WMI("1ZZ", "ORPHAN MOTORS", "Orphan", "United States", "Passenger Car")
	orphanSchema := b.Schema("Orphan 2020+", "1ZZ")
	b.Link(orphan, orphanSchema, 2020, 0)
	b.Pattern(orphanSchema, "PH****", catalog.ElementModel, "Phantom")

	// Low-volume manufacturer: the 6-character code extends the WMI with
	// positions 12-14.
	kodiak := b.WMI("1A9BBB", "KODIAK CUSTOM COACH", "Kodiak", "United States", "Truck")
	coach := b.Schema("Kodiak Coach", "1A9BBB")
	b.Link(kodiak, coach, 2020, 0)
	b.Pattern(coach, "RV****", catalog.ElementModel, "Road Ranger")
	b.MakeModel("Kodiak", "Road Ranger")

	s, err := b.Build()
	if err != nil {
		t.Fatalf("build base catalog: %v", err)
	}
	return s
}

// buildOverlayCatalog assembles the community layer: Tesla Shanghai.
func buildOverlayCatalog(t *testing.T) *catalog.MemoryStore {
	t.Helper()
	b := catalog.NewBuilder(catalog.SourceCommunity)
	addElements(b)

	tesla := b.WMI("LRW", "TESLA SHANGHAI", "Tesla", "China", "Passenger Car")
	modelY := b.Schema("Tesla Model Y China", "LRW")
	b.Link(tesla, modelY, 2021, 0)
	b.Pattern(modelY, "YG****", catalog.ElementModel, "Model Y")
	b.Pattern(modelY, "YG****", catalog.ElementBodyClass, "Sport Utility Vehicle")
	b.Pattern(modelY, "YG****", catalog.ElementFuelType, "Electric")
	b.Pattern(modelY, "YG****", catalog.ElementElectrification, "BEV")
	b.Pattern(modelY, "****E*", catalog.ElementDriveType, "RWD")
	b.Pattern(modelY, "****F*", catalog.ElementDriveType, "AWD")
	b.Pattern(modelY, "******", catalog.ElementPlantCity, "Shanghai")
	b.Pattern(modelY, "******", catalog.ElementPlantCountry, "China")
	b.MakeModel("Tesla", "Model Y")

	s, err := b.Build()
	if err != nil {
		t.Fatalf("build overlay catalog: %v", err)
	}
	return s
}

// newFixtureDecoder returns a decoder over base + community overlay.
func newFixtureDecoder(t *testing.T) *Decoder {
	t.Helper()
	store := catalog.NewLayered(buildBaseCatalog(t), buildOverlayCatalog(t))
	d := NewWithStore(store, Config{Now: func() time.Time { return fixtureNow }})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// newBaseOnlyDecoder returns a decoder without the community overlay.
func newBaseOnlyDecoder(t *testing.T) *Decoder {
	t.Helper()
	d := NewWithStore(buildBaseCatalog(t), Config{Now: func() time.Time { return fixtureNow }})
	t.Cleanup(func() { _ = d.Close() })
	return d
}
