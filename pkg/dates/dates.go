// Package dates turns user supplied dates and the locale formatted timestamps
// rendered by the web client ("HH:MM, DD/MM/YYYY") into YYYY-MM-DD calendar keys.
//
// All arithmetic is calendar-only: no timezone conversion ever happens, so the
// same input string always yields the same key.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical calendar key layout.
const Layout = "2006-01-02"

var (
	isoDateRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	localeDateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	embeddedTSRe  = regexp.MustCompile(`\b(\d{1,2}):(\d{2}),\s*(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	todayWords    = map[string]bool{"today": true, "hoje": true}
	yesterdayWord = map[string]bool{"yesterday": true, "ontem": true}
)

// Today returns the calendar key of now in its own location.
func Today(now time.Time) string {
	return now.Format(Layout)
}

// NormalizeQueryDate accepts "YYYY-MM-DD", "DD/MM/YYYY" and the keywords
// today/yesterday (English or Portuguese, any case). The second return value
// is false for anything else, including impossible dates like 31/02/2025.
func NormalizeQueryDate(input string, now time.Time) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return "", false
	}

	switch {
	case todayWords[s]:
		return Today(now), true
	case yesterdayWord[s]:
		return Today(now.AddDate(0, 0, -1)), true
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := localeDateRe.FindStringSubmatch(s); m != nil {
		return civilDate(m[3], m[2], m[1])
	}
	return "", false
}

// ExtractCalendarDate finds the first valid "HH:MM, DD/MM/YYYY" occurrence
// anywhere in raw and returns its date as a calendar key. Occurrences whose
// time or date does not exist are skipped. It reports false when none is valid.
func ExtractCalendarDate(raw string) (string, bool) {
	_, date, ok := firstValidTimestamp(raw)
	return date, ok
}

// ExtractTimestamp returns the first valid "HH:MM, DD/MM/YYYY" substring of raw.
func ExtractTimestamp(raw string) (string, bool) {
	loc, _, ok := firstValidTimestamp(raw)
	if !ok {
		return "", false
	}
	return raw[loc[0]:loc[1]], true
}

func firstValidTimestamp(raw string) ([]int, string, bool) {
	for _, loc := range embeddedTSRe.FindAllStringSubmatchIndex(raw, -1) {
		group := func(i int) string { return raw[loc[2*i]:loc[2*i+1]] }
		hour, _ := strconv.Atoi(group(1))
		minute, _ := strconv.Atoi(group(2))
		if hour > 23 || minute > 59 {
			continue
		}
		if date, ok := civilDate(group(5), group(4), group(3)); ok {
			return loc, date, true
		}
	}
	return nil, "", false
}

func civilDate(year, month, day string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31/02 -> 03/03); reject it.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return t.Format(Layout), true
}
