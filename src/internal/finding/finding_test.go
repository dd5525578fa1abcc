package finding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in       string
		want     Severity
		inferred bool
	}{
		{"Critical", SeverityCritical, false},
		{" HIGH ", SeverityHigh, false},
		{"moderate", SeverityMedium, false},
		{"low", SeverityLow, false},
		{"Informational", SeverityInfo, false},
		{"", SeverityMedium, true},
		{"catastrophic-ish", SeverityMedium, true},
	}
	for _, tc := range cases {
		got, inferred := ParseSeverity(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.inferred, inferred, tc.in)
	}
}

func TestSeverityRankOrder(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		assert.Greater(t, Severities[i-1].Rank(), Severities[i].Rank())
	}
	assert.False(t, Severity("bogus").Valid())
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("gas_optimization")
	assert.True(t, ok)
	assert.Equal(t, CategoryGasOptimization, c)

	c, ok = ParseCategory("Code-Quality")
	assert.True(t, ok)
	assert.Equal(t, CategoryCodeQuality, c)

	_, ok = ParseCategory("misc")
	assert.False(t, ok)
}

func TestSortMerged(t *testing.T) {
	merged := []MergedFinding{
		{ID: "a", ResolvedSeverity: SeverityLow, Confidence: 1},
		{ID: "b", ResolvedSeverity: SeverityHigh, Confidence: 0.5},
		{ID: "c", ResolvedSeverity: SeverityHigh, Confidence: 1},
		{ID: "d", ResolvedSeverity: SeverityCritical, Confidence: 0.2},
		{ID: "e", ResolvedSeverity: SeverityHigh, Confidence: 0.5},
	}
	SortMerged(merged)

	var ids []string
	for _, m := range merged {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"d", "c", "b", "e", "a"}, ids)
}

func TestHasCritical(t *testing.T) {
	merged := []MergedFinding{{ResolvedSeverity: SeverityCritical, Confidence: 0.4}}
	assert.False(t, HasCritical(merged, 0.5))
	merged[0].Confidence = 0.5
	assert.True(t, HasCritical(merged, 0.5))
}
