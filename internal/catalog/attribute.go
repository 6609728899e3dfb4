package catalog

import "strconv"

// AttributeValue is the decoded form of Pattern.AttributeId. The persisted
// column stores either a numeric foreign key into the element's lookup table
// or a literal string when the element has none. The variant is decided once
// at load time so the matcher never has to guess.
type AttributeValue struct {
	// Table is the lookup table the Ref points into. Empty for literals.
	Table string
	// Ref is the lookup row id. Only meaningful when IsRef is true.
	Ref int64
	// Literal is the raw attribute string for elements without a lookup
	// table, and the fallback rendering for refs.
	Literal string
	// IsRef distinguishes the two variants.
	IsRef bool
}

// ParseAttribute decodes a raw AttributeId string in the context of its
// element. A numeric value under an element with a lookup table becomes a
// typed reference; everything else stays a literal.
func ParseAttribute(e Element, raw string) AttributeValue {
	if e.LookupTable != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return AttributeValue{Table: e.LookupTable, Ref: id, Literal: raw, IsRef: true}
		}
	}
	return AttributeValue{Literal: raw}
}
