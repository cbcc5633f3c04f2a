package lotwizard

import (
	"testing"
	"time"
)

func TestFormatLotNoPadsSequence(t *testing.T) {
	if got := FormatLotNo("UC", "26-27", 7); got != "UC/26-27/0007" {
		t.Fatalf("unexpected lot number %s", got)
	}
	if got := FormatLotNo("", "26-27", 12345); got != "UC/26-27/12345" {
		t.Fatalf("unexpected lot number %s", got)
	}
}

func TestParseLotSequence(t *testing.T) {
	cases := []struct {
		lotNo string
		seq   int
		ok    bool
	}{
		{"UC/26-27/0007", 7, true},
		{"UC/26-27/0120", 120, true},
		{"UC/25-26/0007", 0, false},
		{"KP/26-27/0007", 0, false},
		{"UC/26-27/7A", 0, false},
		{"UC/26-27/0000", 0, false},
	}
	for _, tc := range cases {
		seq, ok := ParseLotSequence(tc.lotNo, "UC", "26-27")
		if seq != tc.seq || ok != tc.ok {
			t.Fatalf("%s: got (%d, %v), want (%d, %v)", tc.lotNo, seq, ok, tc.seq, tc.ok)
		}
	}
}

func TestSeasonCodeCalendarYear(t *testing.T) {
	at := time.Date(2026, time.December, 31, 23, 0, 0, 0, time.UTC)
	if got := SeasonCode(at, time.January); got != "26-27" {
		t.Fatalf("unexpected season %s", got)
	}
	if got := SeasonCode(at, 0); got != "26-27" {
		t.Fatalf("expected invalid month to fall back to January, got %s", got)
	}
}
