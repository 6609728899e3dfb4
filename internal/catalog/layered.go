package catalog

import (
	"context"
	"errors"
	"fmt"
)

// layerStride partitions the virtual id space of a layered catalog. Each
// layer keeps its own local ids; the union view offsets them by the layer
// index so rows from different layers never collide.
const layerStride = int64(1) << 40

// Layered composes a base catalog with community overlays into one virtual
// union view. Overlays never mutate the base; reads fan out to every layer
// (or route by id), and every id crossing the boundary is translated between
// the layer's local space and the shared virtual space.
type Layered struct {
	layers []Store
}

// NewLayered builds a union view over a base store and zero or more
// overlays. Layer order is significant: the base is layer 0 and its rows
// surface first in fan-out reads.
func NewLayered(base Store, overlays ...Store) *Layered {
	layers := make([]Store, 0, 1+len(overlays))
	layers = append(layers, base)
	layers = append(layers, overlays...)
	return &Layered{layers: layers}
}

func (l *Layered) locate(id int64) (int, int64, error) {
	idx := int(id / layerStride)
	if idx < 0 || idx >= len(l.layers) {
		return 0, 0, fmt.Errorf("id %d outside layered catalog", id)
	}
	return idx, id % layerStride, nil
}

func globalID(layer int, id int64) int64 {
	if id == 0 {
		return 0
	}
	return int64(layer)*layerStride + id
}

func (l *Layered) globalizeWMI(layer int, w Wmi) Wmi {
	w.ID = globalID(layer, w.ID)
	w.ManufacturerID = globalID(layer, w.ManufacturerID)
	w.MakeID = globalID(layer, w.MakeID)
	w.VehicleTypeID = globalID(layer, w.VehicleTypeID)
	w.CountryID = globalID(layer, w.CountryID)
	return w
}

// WMIByCode implements Store by collecting matches from every layer,
// base first.
func (l *Layered) WMIByCode(ctx context.Context, code string) ([]Wmi, error) {
	var out []Wmi
	for i, layer := range l.layers {
		rows, err := layer.WMIByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		for _, w := range rows {
			out = append(out, l.globalizeWMI(i, w))
		}
	}
	return out, nil
}

// WmiMakeIDs implements Store.
func (l *Layered) WmiMakeIDs(ctx context.Context, wmiID int64) ([]int64, error) {
	layer, local, err := l.locate(wmiID)
	if err != nil {
		return nil, err
	}
	ids, err := l.layers[layer].WmiMakeIDs(ctx, local)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = globalID(layer, id)
	}
	return out, nil
}

// SchemasForWMI implements Store.
func (l *Layered) SchemasForWMI(ctx context.Context, wmiID int64, year int) ([]WmiVinSchema, error) {
	layer, local, err := l.locate(wmiID)
	if err != nil {
		return nil, err
	}
	links, err := l.layers[layer].SchemasForWMI(ctx, local, year)
	if err != nil {
		return nil, err
	}
	out := make([]WmiVinSchema, len(links))
	for i, link := range links {
		link.ID = globalID(layer, link.ID)
		link.WmiID = globalID(layer, link.WmiID)
		link.VinSchemaID = globalID(layer, link.VinSchemaID)
		out[i] = link
	}
	return out, nil
}

// Schema implements Store.
func (l *Layered) Schema(ctx context.Context, id int64) (VinSchema, bool, error) {
	layer, local, err := l.locate(id)
	if err != nil {
		return VinSchema{}, false, err
	}
	s, ok, err := l.layers[layer].Schema(ctx, local)
	if err != nil || !ok {
		return VinSchema{}, ok, err
	}
	s.ID = globalID(layer, s.ID)
	return s, true, nil
}

// PatternsForSchema implements Store.
func (l *Layered) PatternsForSchema(ctx context.Context, schemaID int64) ([]Pattern, error) {
	layer, local, err := l.locate(schemaID)
	if err != nil {
		return nil, err
	}
	rows, err := l.layers[layer].PatternsForSchema(ctx, local)
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, len(rows))
	for i, p := range rows {
		p.ID = globalID(layer, p.ID)
		p.VinSchemaID = globalID(layer, p.VinSchemaID)
		p.ElementID = globalID(layer, p.ElementID)
		if p.Attribute.IsRef {
			p.Attribute.Ref = globalID(layer, p.Attribute.Ref)
		}
		out[i] = p
	}
	return out, nil
}

// Element implements Store.
func (l *Layered) Element(ctx context.Context, id int64) (Element, bool, error) {
	layer, local, err := l.locate(id)
	if err != nil {
		return Element{}, false, err
	}
	e, ok, err := l.layers[layer].Element(ctx, local)
	if err != nil || !ok {
		return Element{}, ok, err
	}
	e.ID = globalID(layer, e.ID)
	return e, true, nil
}

// LookupName implements Store.
func (l *Layered) LookupName(ctx context.Context, table string, id int64) (string, bool, error) {
	layer, local, err := l.locate(id)
	if err != nil {
		return "", false, err
	}
	return l.layers[layer].LookupName(ctx, table, local)
}

// ModelNameForMake implements Store. A make and model from different layers
// are never linked; Make_Model joins exist only within a layer.
func (l *Layered) ModelNameForMake(ctx context.Context, makeID, modelID int64) (string, bool, error) {
	makeLayer, localMake, err := l.locate(makeID)
	if err != nil {
		return "", false, err
	}
	modelLayer, localModel, err := l.locate(modelID)
	if err != nil {
		return "", false, err
	}
	if makeLayer != modelLayer {
		return "", false, nil
	}
	return l.layers[makeLayer].ModelNameForMake(ctx, localMake, localModel)
}

// Close implements Store by closing every layer.
func (l *Layered) Close() error {
	var errs []error
	for _, layer := range l.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
