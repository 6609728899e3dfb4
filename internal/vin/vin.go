// Package vin provides the Vehicle Identification Number value type and the
// structural algorithms defined by ISO 3779: normalization, alphabet checks,
// the weighted mod-11 check digit, and model-year cycle resolution.
package vin

import "strings"

// Length is the fixed length of an ISO 3779 VIN.
const Length = 17

// VIN is a normalized 17-character vehicle identification number.
// Positions are 1-indexed throughout, matching ISO 3779.
type VIN string

// Normalize uppercases and trims an input string. It does not validate;
// callers that need a guaranteed well-formed value go through the decoder's
// validation stage first.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Position returns the character at the given 1-indexed position,
// or 0 if out of range.
func (v VIN) Position(n int) byte {
	if n < 1 || n > len(v) {
		return 0
	}
	return v[n-1]
}

// WMI returns the World Manufacturer Identifier, positions 1-3.
func (v VIN) WMI() string { return string(v[0:3]) }

// VDS returns the Vehicle Descriptor Section, positions 4-9.
// Position 9 is the check digit.
func (v VIN) VDS() string { return string(v[3:9]) }

// VIS returns the Vehicle Identifier Section, positions 10-17.
func (v VIN) VIS() string { return string(v[9:17]) }

// DescriptorKeys returns the six VDS characters matched against catalog
// pattern keys (positions 4-9).
func (v VIN) DescriptorKeys() string { return string(v[3:9]) }

// YearCode returns the model-year code at position 10.
func (v VIN) YearCode() byte { return v[9] }

// CheckDigitChar returns the check digit character at position 9.
func (v VIN) CheckDigitChar() byte { return v[8] }

// PlantCode returns the assembly plant code at position 11.
func (v VIN) PlantCode() byte { return v[10] }

// SerialNumber returns the production sequence, positions 12-17.
func (v VIN) SerialNumber() string { return string(v[11:17]) }

// LowVolumeExtension returns positions 12-14, which extend the WMI for
// manufacturers producing fewer than 1000 vehicles per year.
func (v VIN) LowVolumeExtension() string { return string(v[11:14]) }

// ExtendedWMI returns the 6-character WMI (positions 1-3 plus 12-14) used
// for low-volume manufacturer lookups.
func (v VIN) ExtendedWMI() string { return v.WMI() + v.LowVolumeExtension() }

// forbidden letters never appear in a VIN at any position.
func isForbidden(c byte) bool { return c == 'I' || c == 'O' || c == 'Q' }

// validChar reports whether c is in the VIN alphabet {A-Z, 0-9} \ {I,O,Q}.
func validChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return !isForbidden(c)
	}
	return false
}

// InvalidPositions returns the 1-indexed positions of every character outside
// the VIN alphabet. Position 10 additionally rejects 'U' and 'Z', which are
// not valid model-year codes.
func InvalidPositions(s string) []int {
	var bad []int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !validChar(c) {
			bad = append(bad, i+1)
			continue
		}
		if i == 9 && (c == 'U' || c == 'Z') {
			bad = append(bad, i+1)
		}
	}
	return bad
}
