package vin

import "time"

// yearCodeBase maps the position-10 code to the first year of its 30-year
// cycle. The letter sequence skips I, O, Q (forbidden) and U, Z ('0' is a
// non-US marker, not a year code). Codes repeat every 30 years: 'A' is both
// 1980 and 2010, 'R' both 1994 and 2024.
var yearCodeBase = map[byte]int{
	'A': 1980, 'B': 1981, 'C': 1982, 'D': 1983, 'E': 1984, 'F': 1985,
	'G': 1986, 'H': 1987, 'J': 1988, 'K': 1989, 'L': 1990, 'M': 1991,
	'N': 1992, 'P': 1993, 'R': 1994, 'S': 1995, 'T': 1996, 'V': 1997,
	'W': 1998, 'X': 1999, 'Y': 2000,
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
}

// YearCycleLength is the repeat period of the position-10 year code.
const YearCycleLength = 30

// YearCandidates returns the two model years a position-10 code can encode,
// one from each 30-year cycle. ok is false for codes that do not encode a
// year (including '0', used by some non-US markets).
func YearCandidates(code byte) (low, high int, ok bool) {
	base, ok := yearCodeBase[code]
	if !ok {
		return 0, 0, false
	}
	return base, base + YearCycleLength, true
}

// isDigit reports whether c is '0'-'9'.
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ResolveModelYear disambiguates the 30-year cycle using the position-7
// character: vehicles from 2010 onward carry an alphabetic position 7, earlier
// ones a numeric one. If the chosen year lands more than two years past now,
// the other cycle is used instead. ok is false when the code encodes no year.
func ResolveModelYear(code, pos7 byte, now time.Time) (year int, ok bool) {
	low, high, ok := YearCandidates(code)
	if !ok {
		return 0, false
	}
	year = low
	if !isDigit(pos7) {
		year = high
	}
	if year > now.Year()+2 {
		if other := low + high - year; other <= now.Year()+2 {
			year = other
		}
	}
	return year, true
}
