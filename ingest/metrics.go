package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// metricPattern matches "Revenue for FY2023: $12.4M" style statements: a
// label, a separator, then the first numeric value with optional currency and
// magnitude suffix.
var metricPattern = regexp.MustCompile(`(?i)^(.+?)[:\s]+(?:was|is|of|at)?\s*[$€£]?\s*(-?\d[\d,]*\.?\d*)\s*(k|m|b|thousand|million|billion|mm|bn)?\b`)

var magnitudes = map[string]float64{
	"k": 1e3, "thousand": 1e3,
	"m": 1e6, "mm": 1e6, "million": 1e6,
	"b": 1e9, "bn": 1e9, "billion": 1e9,
}

// parseMetricFinding extracts a normalized metric name and value from a
// metric finding's text. Returns ok=false for prose that carries no clean
// number; those findings are skipped by contradiction detection rather than
// guessed at.
func parseMetricFinding(text string) (name string, value float64, ok bool) {
	m := metricPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", 0, false
	}

	name = normalizeMetricName(m[1])
	if name == "" {
		return "", 0, false
	}

	raw := strings.ReplaceAll(m[2], ",", "")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, false
	}
	if scale, found := magnitudes[strings.ToLower(m[3])]; found {
		value *= scale
	}
	return name, value, true
}

// normalizeMetricName lowercases and strips filler so "FY2023 Revenue" and
// "revenue (FY2023)" compare equal.
func normalizeMetricName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, strip := range []string{"(", ")", "the ", "total ", "approximately ", "approx. ", "~"} {
		s = strings.ReplaceAll(s, strip, "")
	}
	return strings.Join(strings.Fields(s), " ")
}
