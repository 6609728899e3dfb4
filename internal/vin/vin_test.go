package vin

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{" 1ftfw5l86rfb45612 ", "1FTFW5L86RFB45612"},
		{"WBAVL1C5XFVY41004", "WBAVL1C5XFVY41004"},
		{"\t2hkrw2h20nh207506\n", "2HKRW2H20NH207506"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSubfields(t *testing.T) {
	v := VIN("1FTFW5L86RFB45612")
	if got := v.WMI(); got != "1FT" {
		t.Errorf("WMI = %q", got)
	}
	if got := v.VDS(); got != "FW5L86" {
		t.Errorf("VDS = %q", got)
	}
	if got := v.VIS(); got != "RFB45612" {
		t.Errorf("VIS = %q", got)
	}
	if got := v.YearCode(); got != 'R' {
		t.Errorf("YearCode = %c", got)
	}
	if got := v.PlantCode(); got != 'F' {
		t.Errorf("PlantCode = %c", got)
	}
	if got := v.LowVolumeExtension(); got != "B45" {
		t.Errorf("LowVolumeExtension = %q", got)
	}
	if got := v.ExtendedWMI(); got != "1FTB45" {
		t.Errorf("ExtendedWMI = %q", got)
	}
	if got := v.Position(1); got != '1' {
		t.Errorf("Position(1) = %c", got)
	}
	if got := v.Position(18); got != 0 {
		t.Errorf("Position(18) = %d, want 0", got)
	}
}

func TestInvalidPositions(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []int
	}{
		{"clean", "1FTFW5L86RFB45612", nil},
		{"contains I", "1HGCM826I3A004352", []int{9}},
		{"contains O and Q", "1OGCM8264QA004352", []int{2, 10}},
		{"U at position 10", "1HGCM8264UA004352", []int{10}},
		{"Z at position 10", "1HGCM8264ZA004352", []int{10}},
		{"Z elsewhere is fine", "1HGZM82643A004352", nil},
		{"lowercase rejected", "1hGCM82643A004352", []int{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := InvalidPositions(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("InvalidPositions = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("InvalidPositions = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestYearCandidates(t *testing.T) {
	cases := []struct {
		code      byte
		low, high int
		ok        bool
	}{
		{'A', 1980, 2010, true},
		{'B', 1981, 2011, true},
		{'R', 1994, 2024, true},
		{'Y', 2000, 2030, true},
		{'1', 2001, 2031, true},
		{'9', 2009, 2039, true},
		{'0', 0, 0, false},
		{'U', 0, 0, false},
		{'Z', 0, 0, false},
		{'I', 0, 0, false},
	}
	for _, tc := range cases {
		low, high, ok := YearCandidates(tc.code)
		if low != tc.low || high != tc.high || ok != tc.ok {
			t.Errorf("YearCandidates(%c) = (%d, %d, %v), want (%d, %d, %v)",
				tc.code, low, high, ok, tc.low, tc.high, tc.ok)
		}
	}
}

func TestResolveModelYear(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		code byte
		pos7 byte
		want int
	}{
		// Alphabetic position 7 selects the 2010+ cycle.
		{"F-150 2024", 'R', 'L', 2024},
		{"CR-V 2022", 'N', 'H', 2022},
		{"X1 2015", 'F', 'C', 2015},
		{"Model Y 2023", 'P', 'E', 2023},
		// Numeric position 7 selects the earlier cycle.
		{"1998 with numeric pos7", 'W', '4', 1998},
		// A future year beyond now+2 falls back to the other cycle.
		{"code X alpha clamps to 1999", 'X', 'B', 1999},
		{"code T alpha within horizon", 'T', 'B', 2026},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveModelYear(tc.code, tc.pos7, now)
			if !ok {
				t.Fatal("ResolveModelYear not ok")
			}
			if got != tc.want {
				t.Errorf("ResolveModelYear(%c, %c) = %d, want %d", tc.code, tc.pos7, got, tc.want)
			}
		})
	}

	if _, ok := ResolveModelYear('0', 'A', now); ok {
		t.Error("code '0' should not resolve to a year")
	}
}
