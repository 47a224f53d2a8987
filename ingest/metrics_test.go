package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricFinding(t *testing.T) {
	cases := []struct {
		text  string
		name  string
		value float64
	}{
		{"Revenue for FY2023: $12.4M", "revenue for fy2023", 12.4e6},
		{"EBITDA margin is 23.5", "ebitda margin", 23.5},
		{"Total headcount: 1,240", "headcount", 1240},
		{"Net debt was €45 million", "net debt", 45e6},
	}
	for _, c := range cases {
		name, value, ok := parseMetricFinding(c.text)
		require.True(t, ok, "should parse %q", c.text)
		assert.Equal(t, c.name, name)
		assert.InDelta(t, c.value, value, 1e-6)
	}
}

func TestParseMetricFindingRejectsProse(t *testing.T) {
	_, _, ok := parseMetricFinding("The company operates in three markets")
	assert.False(t, ok)

	_, _, ok = parseMetricFinding("")
	assert.False(t, ok)
}

func TestNormalizeMetricName(t *testing.T) {
	assert.Equal(t, normalizeMetricName("Total Revenue"), normalizeMetricName("revenue"))
	assert.Equal(t, "revenue fy2023", normalizeMetricName("Revenue (FY2023)"))
}

func TestValuesDiverge(t *testing.T) {
	// Rounding noise is tolerated.
	assert.False(t, valuesDiverge(12.4e6, 12.41e6))
	assert.False(t, valuesDiverge(0, 0))
	// Real disagreement is not.
	assert.True(t, valuesDiverge(12.4e6, 15.0e6))
	assert.True(t, valuesDiverge(100, -100))
}
