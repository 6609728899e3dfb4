package decode

import (
	"context"
	"math"
	"sort"

	"github.com/cardog-ai/corgi/internal/catalog"
	"github.com/cardog-ai/corgi/internal/vin"
)

// matchedPattern is one pattern that matched the VIN descriptor, with its
// element definition and literal-position count.
type matchedPattern struct {
	pattern     catalog.Pattern
	element     catalog.Element
	specificity int
}

// schemaMatch is one selected schema and everything it matched against the
// current VIN. len(matched) is the schema's coherence.
type schemaMatch struct {
	schema  catalog.VinSchema
	link    catalog.WmiVinSchema
	matched []matchedPattern
}

// matchKeys matches a 6-character pattern against the VDS. Each position
// matches iff the pattern character is the wildcard or equals the VIN
// character; specificity counts the literal positions.
func matchKeys(keys, vds string) (bool, int) {
	if len(keys) != catalog.PatternKeyLength || len(vds) != catalog.PatternKeyLength {
		return false, 0
	}
	specificity := 0
	for i := 0; i < catalog.PatternKeyLength; i++ {
		if keys[i] == catalog.Wildcard {
			continue
		}
		if keys[i] != vds[i] {
			return false, 0
		}
		specificity++
	}
	return true, specificity
}

// collectSchemaMatches loads every schema active for (wmiID, year) and
// matches its patterns against the VIN descriptor. A year of 0 selects all
// schemas for the WMI. Schemas that match nothing stay in the slice so the
// diagnostics can report how many were considered.
func (d *Decoder) collectSchemaMatches(ctx context.Context, wmiID int64, year int, v vin.VIN) ([]schemaMatch, error) {
	links, err := d.store.SchemasForWMI(ctx, wmiID, year)
	if err != nil {
		return nil, err
	}
	vds := v.DescriptorKeys()

	var out []schemaMatch
	for _, link := range links {
		schema, ok, err := d.store.Schema(ctx, link.VinSchemaID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		patterns, err := d.store.PatternsForSchema(ctx, link.VinSchemaID)
		if err != nil {
			return nil, err
		}
		sm := schemaMatch{schema: schema, link: link}
		for _, p := range patterns {
			ok, specificity := matchKeys(p.Keys, vds)
			if !ok {
				continue
			}
			elem, found, err := d.store.Element(ctx, p.ElementID)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			sm.matched = append(sm.matched, matchedPattern{pattern: p, element: elem, specificity: specificity})
		}
		out = append(out, sm)
	}
	return out, nil
}

// candidate is one (element, pattern) assignment competing for its element.
type candidate struct {
	mp            matchedPattern
	schema        catalog.VinSchema
	schemaMatches int
}

// selectedAttr is the winning assignment for one element, value resolved.
type selectedAttr struct {
	element    catalog.Element
	value      string
	confidence float64
}

// sourceRank orders catalog layers for same-element conflicts: the official
// layer wins unless the decoder is configured to prefer community patterns.
func (d *Decoder) sourceRank(s catalog.Source) int {
	official := 0
	community := 1
	if d.cfg.PreferCommunity {
		official, community = 1, 0
	}
	if s == catalog.SourceCommunity {
		return community
	}
	return official
}

// rankLess is the selection order within one element: element weight
// descending, schema coherence descending, specificity descending, layer
// preference, then pattern id ascending for determinism.
func (d *Decoder) rankLess(a, b candidate) bool {
	if a.mp.element.Weight != b.mp.element.Weight {
		return a.mp.element.Weight > b.mp.element.Weight
	}
	if a.schemaMatches != b.schemaMatches {
		return a.schemaMatches > b.schemaMatches
	}
	if a.mp.specificity != b.mp.specificity {
		return a.mp.specificity > b.mp.specificity
	}
	ra, rb := d.sourceRank(a.mp.pattern.Source), d.sourceRank(b.mp.pattern.Source)
	if ra != rb {
		return ra < rb
	}
	return a.mp.pattern.ID < b.mp.pattern.ID
}

// selectAttributes ranks every candidate per element, resolves the winners'
// values through the lookup tables, and computes per-attribute confidence.
func (d *Decoder) selectAttributes(ctx context.Context, matches []schemaMatch, w *wmiResolution, o Options, res *Result) map[string]selectedAttr {
	byElement := make(map[string][]candidate)
	total := 0
	bestCoherence := 0
	for _, sm := range matches {
		if len(sm.matched) > bestCoherence {
			bestCoherence = len(sm.matched)
		}
		for _, mp := range sm.matched {
			byElement[mp.element.Name] = append(byElement[mp.element.Name], candidate{
				mp:            mp,
				schema:        sm.schema,
				schemaMatches: len(sm.matched),
			})
			total++
		}
	}
	if total == 0 {
		res.addError(warnPatternNoMatch())
		return nil
	}

	selected := make(map[string]selectedAttr, len(byElement))
	names := make([]string, 0, len(byElement))
	for name := range byElement {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := byElement[name]
		sort.Slice(group, func(i, j int) bool { return d.rankLess(group[i], group[j]) })

		winner := group[0]
		value := d.resolveValue(ctx, winner, w, res)
		confidence := attributeConfidence(winner, bestCoherence)

		if o.IncludePatternDetails {
			for i, c := range group {
				pm := PatternMatch{
					Element:       name,
					Value:         c.mp.pattern.Attribute.Literal,
					Schema:        c.schema.Name,
					SchemaID:      c.schema.ID,
					Keys:          c.mp.pattern.Keys,
					Specificity:   c.mp.specificity,
					SchemaMatches: c.schemaMatches,
					PatternID:     c.mp.pattern.ID,
					Source:        string(c.mp.pattern.Source),
					Confidence:    attributeConfidence(c, bestCoherence),
				}
				if i == 0 {
					pm.Value = value
					pm.Selected = true
				}
				res.Patterns = append(res.Patterns, pm)
			}
		}
		if o.IncludeRawData {
			if res.RawData == nil {
				res.RawData = make(map[string]string)
			}
			res.RawData[name] = winner.mp.pattern.Attribute.Literal
		}

		if o.ConfidenceThreshold > 0 && confidence < o.ConfidenceThreshold {
			continue
		}
		selected[name] = selectedAttr{element: winner.mp.element, value: value, confidence: confidence}
	}
	return selected
}

// resolveValue turns the winning pattern's attribute into a human-readable
// value. Model resolution goes through Make_Model for the current make with
// a global fallback; other lookup tables resolve directly. Misses surface as
// warnings and return the raw attribute.
func (d *Decoder) resolveValue(ctx context.Context, c candidate, w *wmiResolution, res *Result) string {
	attr := c.mp.pattern.Attribute
	if !attr.IsRef {
		return attr.Literal
	}

	if attr.Table == "Model" {
		if w.makeID != 0 {
			name, ok, err := d.store.ModelNameForMake(ctx, w.makeID, attr.Ref)
			if err == nil && ok {
				return name
			}
		}
		name, ok, err := d.store.LookupName(ctx, "Model", attr.Ref)
		if err == nil && ok {
			res.addError(warnModelMakeMismatch(name, w.makeName))
			return name
		}
		res.addError(warnLookupMiss("Model", attr.Ref))
		return attr.Literal
	}

	name, ok, err := d.store.LookupName(ctx, attr.Table, attr.Ref)
	if err != nil || !ok {
		res.addError(warnLookupMiss(attr.Table, attr.Ref))
		return attr.Literal
	}
	return name
}

// attributeConfidence scores a candidate in [0,1]:
// normalized element weight, times a specificity term anchored at 0.5 for a
// fully wildcarded pattern, times a coherence factor rewarding membership in
// the schema with the most matched patterns.
func attributeConfidence(c candidate, bestCoherence int) float64 {
	weight := float64(c.mp.element.Weight) / 100.0
	if weight > 1 {
		weight = 1
	}
	if weight < 0 {
		weight = 0
	}
	specificity := 0.5 + 0.5*float64(c.mp.specificity)/float64(catalog.PatternKeyLength)
	coherence := 1.0
	if bestCoherence > 0 {
		coherence = 0.75 + 0.25*float64(c.schemaMatches)/float64(bestCoherence)
	}
	return weight * specificity * coherence
}

// overallConfidence is the geometric mean over the core attribute set
// {Make, Model, Year, Body Class}, skipping members that did not resolve.
// Make comes from the WMI rather than a pattern, so when present it enters
// at a fixed confidence of 1.0 — which still widens the mean's denominator.
func overallConfidence(w *wmiResolution, my ModelYear, selected map[string]selectedAttr) float64 {
	var logs []float64
	if w != nil && w.makeName != "" {
		logs = append(logs, math.Log(1.0))
	}
	if a, ok := selected[catalog.ElementModel]; ok && a.confidence > 0 {
		logs = append(logs, math.Log(a.confidence))
	}
	if a, ok := selected[catalog.ElementBodyClass]; ok && a.confidence > 0 {
		logs = append(logs, math.Log(a.confidence))
	}
	if my.Year != 0 && my.Confidence > 0 {
		logs = append(logs, math.Log(my.Confidence))
	}
	if len(logs) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range logs {
		sum += l
	}
	return math.Exp(sum / float64(len(logs)))
}
