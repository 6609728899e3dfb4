package catalog

import (
	"context"
	"fmt"
	"sort"
)

// MemoryStore is an immutable in-memory catalog. It backs unit tests,
// injected adapters, and community overlays loaded from contributed rows.
// Construct one through a Builder; a built store is safe for concurrent
// readers because nothing mutates it afterwards.
type MemoryStore struct {
	source Source

	wmisByCode       map[string][]Wmi
	wmiMakes         map[int64][]int64
	schemas          map[int64]VinSchema
	linksByWMI       map[int64][]WmiVinSchema
	patternsBySchema map[int64][]Pattern
	elements         map[int64]Element
	lookups          map[string]map[int64]string
	makeModels       map[int64]map[int64]bool
}

// WMIByCode implements Store.
func (m *MemoryStore) WMIByCode(_ context.Context, code string) ([]Wmi, error) {
	rows := m.wmisByCode[code]
	out := make([]Wmi, len(rows))
	copy(out, rows)
	return out, nil
}

// WmiMakeIDs implements Store.
func (m *MemoryStore) WmiMakeIDs(_ context.Context, wmiID int64) ([]int64, error) {
	ids := m.wmiMakes[wmiID]
	out := make([]int64, len(ids))
	copy(out, ids)
	return out, nil
}

// SchemasForWMI implements Store.
func (m *MemoryStore) SchemasForWMI(_ context.Context, wmiID int64, year int) ([]WmiVinSchema, error) {
	var out []WmiVinSchema
	for _, link := range m.linksByWMI[wmiID] {
		if year != 0 {
			if link.YearFrom > year {
				continue
			}
			if link.YearTo != 0 && link.YearTo < year {
				continue
			}
		}
		out = append(out, link)
	}
	return out, nil
}

// Schema implements Store.
func (m *MemoryStore) Schema(_ context.Context, id int64) (VinSchema, bool, error) {
	s, ok := m.schemas[id]
	return s, ok, nil
}

// PatternsForSchema implements Store.
func (m *MemoryStore) PatternsForSchema(_ context.Context, schemaID int64) ([]Pattern, error) {
	rows := m.patternsBySchema[schemaID]
	out := make([]Pattern, len(rows))
	copy(out, rows)
	return out, nil
}

// Element implements Store.
func (m *MemoryStore) Element(_ context.Context, id int64) (Element, bool, error) {
	e, ok := m.elements[id]
	return e, ok, nil
}

// LookupName implements Store.
func (m *MemoryStore) LookupName(_ context.Context, table string, id int64) (string, bool, error) {
	if !KnownLookupTable(table) {
		return "", false, fmt.Errorf("unknown lookup table %q", table)
	}
	name, ok := m.lookups[table][id]
	return name, ok, nil
}

// ModelNameForMake implements Store.
func (m *MemoryStore) ModelNameForMake(_ context.Context, makeID, modelID int64) (string, bool, error) {
	if !m.makeModels[makeID][modelID] {
		return "", false, nil
	}
	name, ok := m.lookups["Model"][modelID]
	return name, ok, nil
}

// Close implements Store. A memory store holds no resources.
func (m *MemoryStore) Close() error { return nil }

// Builder assembles a MemoryStore row by row, assigning ids and resolving
// foreign keys by name. Community overlay rows arrive with names rather than
// ids, so name resolution at build time is what lets an overlay compose with
// a base catalog without sharing its id space.
type Builder struct {
	s         *MemoryStore
	nextID    int64
	lookupIDs map[string]map[string]int64
	errs      []error
}

// NewBuilder returns an empty catalog builder. Rows it produces are tagged
// with the given source.
func NewBuilder(source Source) *Builder {
	return &Builder{
		s: &MemoryStore{
			source:           source,
			wmisByCode:       make(map[string][]Wmi),
			wmiMakes:         make(map[int64][]int64),
			schemas:          make(map[int64]VinSchema),
			linksByWMI:       make(map[int64][]WmiVinSchema),
			patternsBySchema: make(map[int64][]Pattern),
			elements:         make(map[int64]Element),
			lookups:          make(map[string]map[int64]string),
			makeModels:       make(map[int64]map[int64]bool),
		},
		nextID:    1,
		lookupIDs: make(map[string]map[string]int64),
	}
}

func (b *Builder) id() int64 {
	id := b.nextID
	b.nextID++
	return id
}

// Lookup returns the id of name in the given lookup table, inserting the row
// on first use.
func (b *Builder) Lookup(table, name string) int64 {
	if !KnownLookupTable(table) {
		b.errs = append(b.errs, fmt.Errorf("unknown lookup table %q", table))
		return 0
	}
	if b.lookupIDs[table] == nil {
		b.lookupIDs[table] = make(map[string]int64)
		b.s.lookups[table] = make(map[int64]string)
	}
	if id, ok := b.lookupIDs[table][name]; ok {
		return id
	}
	id := b.id()
	b.lookupIDs[table][name] = id
	b.s.lookups[table][id] = name
	return id
}

// Element adds an element definition and returns its id. Adding the same
// name twice returns the existing id.
func (b *Builder) Element(name, lookupTable string, weight int) int64 {
	for id, e := range b.s.elements {
		if e.Name == name {
			return id
		}
	}
	e := Element{ID: b.id(), Name: name, LookupTable: lookupTable, Weight: weight}
	if err := ValidateElement(e); err != nil {
		b.errs = append(b.errs, err)
	}
	b.s.elements[e.ID] = e
	return e.ID
}

// WMI adds a WMI row, creating the manufacturer, make, country and vehicle
// type lookup rows as needed. makeName may be empty for rows that carry no
// make; a non-empty makeName also records the Wmi_Make link.
func (b *Builder) WMI(code, manufacturer, makeName, country, vehicleType string) int64 {
	w := Wmi{
		ID:             b.id(),
		Code:           code,
		ManufacturerID: b.Lookup("Manufacturer", manufacturer),
		VehicleTypeID:  b.Lookup("VehicleType", vehicleType),
		CountryID:      b.Lookup("Country", country),
		Source:         b.s.source,
	}
	if makeName != "" {
		w.MakeID = b.Lookup("Make", makeName)
		b.s.wmiMakes[w.ID] = append(b.s.wmiMakes[w.ID], w.MakeID)
	}
	b.s.wmisByCode[code] = append(b.s.wmisByCode[code], w)
	return w.ID
}

// WMINoMake adds a WMI row without a make, for codes shared across brands
// where the make is carried by sibling rows.
func (b *Builder) WMINoMake(code, manufacturer, country, vehicleType string) int64 {
	return b.WMI(code, manufacturer, "", country, vehicleType)
}

// Schema adds a VIN schema and returns its id.
func (b *Builder) Schema(name, sourceWMI string) int64 {
	s := VinSchema{ID: b.id(), Name: name, SourceWMI: sourceWMI}
	b.s.schemas[s.ID] = s
	return s.ID
}

// Link ties a schema to a WMI over a model-year range. yearTo of 0 leaves
// the range open-ended.
func (b *Builder) Link(wmiID, schemaID int64, yearFrom, yearTo int) {
	link := WmiVinSchema{
		ID:          b.id(),
		WmiID:       wmiID,
		VinSchemaID: schemaID,
		YearFrom:    yearFrom,
		YearTo:      yearTo,
	}
	b.s.linksByWMI[wmiID] = append(b.s.linksByWMI[wmiID], link)
}

// Pattern adds a pattern row. The attribute is given by name: for elements
// with a lookup table it is resolved (or inserted) there; otherwise it is
// stored as a literal.
func (b *Builder) Pattern(schemaID int64, keys, elementName, attribute string) int64 {
	if len(keys) != PatternKeyLength {
		b.errs = append(b.errs, fmt.Errorf("pattern keys %q: want %d characters", keys, PatternKeyLength))
		return 0
	}
	var elem Element
	found := false
	for _, e := range b.s.elements {
		if e.Name == elementName {
			elem, found = e, true
			break
		}
	}
	if !found {
		b.errs = append(b.errs, fmt.Errorf("pattern references unknown element %q", elementName))
		return 0
	}
	p := Pattern{
		ID:          b.id(),
		VinSchemaID: schemaID,
		Keys:        keys,
		ElementID:   elem.ID,
		Source:      b.s.source,
	}
	if elem.LookupTable != "" {
		p.Attribute = AttributeValue{
			Table:   elem.LookupTable,
			Ref:     b.Lookup(elem.LookupTable, attribute),
			Literal: attribute,
			IsRef:   true,
		}
	} else {
		p.Attribute = AttributeValue{Literal: attribute}
	}
	b.s.patternsBySchema[schemaID] = append(b.s.patternsBySchema[schemaID], p)
	return p.ID
}

// MakeModel records a Make_Model join row by names.
func (b *Builder) MakeModel(makeName, modelName string) {
	makeID := b.Lookup("Make", makeName)
	modelID := b.Lookup("Model", modelName)
	if b.s.makeModels[makeID] == nil {
		b.s.makeModels[makeID] = make(map[int64]bool)
	}
	b.s.makeModels[makeID][modelID] = true
}

// Build finalizes the store. Pattern lists are sorted by id so selection
// tiebreaks see a deterministic order regardless of insertion.
func (b *Builder) Build() (*MemoryStore, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	for id := range b.s.patternsBySchema {
		rows := b.s.patternsBySchema[id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	}
	return b.s, nil
}
