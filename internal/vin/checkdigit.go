package vin

// letterValues is the ISO 3779 transliteration table for the check digit
// calculation. Digits contribute their face value; I, O and Q have no value
// because they never appear in a VIN.
var letterValues = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5,
	'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

// positionWeights holds the per-position multipliers. Position 9 (the check
// digit itself) carries weight 0.
var positionWeights = [Length]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// charValue returns the transliterated value of a VIN character.
func charValue(c byte) int {
	if c >= '0' && c <= '9' {
		return int(c - '0')
	}
	return letterValues[c]
}

// ComputeCheckDigit calculates the expected position-9 check digit for a
// 17-character VIN: the weighted sum of transliterated values mod 11, with
// a remainder of 10 written as 'X'.
func ComputeCheckDigit(v VIN) byte {
	sum := 0
	for i := 0; i < Length && i < len(v); i++ {
		sum += charValue(v[i]) * positionWeights[i]
	}
	r := sum % 11
	if r == 10 {
		return 'X'
	}
	return byte('0' + r)
}

// VerifyCheckDigit compares the computed check digit against position 9.
// A mismatch indicates a transcription error somewhere in the VIN, but the
// rest of the number may still decode.
func VerifyCheckDigit(v VIN) (expected, actual byte, ok bool) {
	expected = ComputeCheckDigit(v)
	actual = v.CheckDigitChar()
	return expected, actual, expected == actual
}
