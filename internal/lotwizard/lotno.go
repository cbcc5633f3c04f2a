package lotwizard

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLotPrefix = "UC"
	firstSequence    = 1
)

// SeasonCode returns the "yy-yy" season label for t. Seasons begin on
// startMonth; 1 makes them calendar years.
func SeasonCode(t time.Time, startMonth time.Month) string {
	if startMonth < time.January || startMonth > time.December {
		startMonth = time.January
	}
	year := t.Year()
	if t.Month() < startMonth {
		year--
	}
	return fmt.Sprintf("%02d-%02d", year%100, (year+1)%100)
}

func FormatLotNo(prefix string, season string, seq int) string {
	return fmt.Sprintf("%s%04d", SeasonPrefix(prefix, season), seq)
}

// SeasonPrefix is the part every lot number of a season starts with.
func SeasonPrefix(prefix string, season string) string {
	if prefix == "" {
		prefix = DefaultLotPrefix
	}
	return prefix + "/" + season + "/"
}

// ParseLotSequence extracts the running number from a lot number of the
// given season. Hand-typed numbers that do not follow the pattern are
// reported as not ok.
func ParseLotSequence(lotNo string, prefix string, season string) (int, bool) {
	rest, ok := strings.CutPrefix(lotNo, SeasonPrefix(prefix, season))
	if !ok {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// FallbackLotNo is used when the next lot number cannot be fetched. It is
// not checked against existing lots; the server rejects a duplicate on
// submit.
func FallbackLotNo(prefix string, now time.Time) string {
	return FormatLotNo(prefix, SeasonCode(now, time.January), firstSequence)
}
