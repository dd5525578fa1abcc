package score

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

func merged(sev finding.Severity, conf float64, cat finding.Category) finding.MergedFinding {
	return finding.MergedFinding{ResolvedSeverity: sev, Confidence: conf, Category: cat}
}

func TestSynthesize_NoFindingsIsBaseline(t *testing.T) {
	res := NewSynthesizer(nil).Synthesize(nil)

	assert.Equal(t, 100, res.SecurityScore)
	assert.Equal(t, RiskSafe, res.RiskLevel)
	require.Len(t, res.CategoryScores, 3)
	for _, c := range finding.Categories {
		assert.Equal(t, 100, res.CategoryScores[c])
	}
}

func TestSynthesize_ConfidenceScalesPenalty(t *testing.T) {
	s := NewSynthesizer(nil)

	full := s.Synthesize([]finding.MergedFinding{merged(finding.SeverityHigh, 1, finding.CategoryVulnerability)})
	half := s.Synthesize([]finding.MergedFinding{merged(finding.SeverityHigh, 0.5, finding.CategoryVulnerability)})

	assert.Equal(t, 85, full.SecurityScore)
	assert.Equal(t, 93, half.SecurityScore) // 100 - 7.5 rounds half away from zero
	assert.Equal(t, 85, full.CategoryScores[finding.CategoryVulnerability])
	assert.Equal(t, 100, full.CategoryScores[finding.CategoryGasOptimization])
}

func TestSynthesize_ClampsAtZero(t *testing.T) {
	var ms []finding.MergedFinding
	for i := 0; i < 10; i++ {
		ms = append(ms, merged(finding.SeverityCritical, 1, finding.CategoryVulnerability))
	}
	res := NewSynthesizer(nil).Synthesize(ms)

	assert.Equal(t, 0, res.SecurityScore)
	assert.Equal(t, RiskCritical, res.RiskLevel)
	assert.False(t, res.Overridden)
}

func TestSynthesize_CriticalOverride(t *testing.T) {
	s := NewSynthesizer(nil)

	// one corroborated critical: 100-25 = 75 would be LOW
	res := s.Synthesize([]finding.MergedFinding{merged(finding.SeverityCritical, 1, finding.CategoryVulnerability)})
	assert.Equal(t, 75, res.SecurityScore)
	assert.Equal(t, RiskCritical, res.RiskLevel)
	assert.True(t, res.Overridden)

	// weakly supported critical does not force the bucket
	res = s.Synthesize([]finding.MergedFinding{merged(finding.SeverityCritical, 0.25, finding.CategoryVulnerability)})
	assert.Equal(t, 94, res.SecurityScore)
	assert.Equal(t, RiskSafe, res.RiskLevel)
	assert.False(t, res.Overridden)
}

func TestRiskFromScore(t *testing.T) {
	cases := map[int]RiskLevel{
		100: RiskSafe, 90: RiskSafe, 89: RiskLow, 75: RiskLow, 74: RiskMedium,
		50: RiskMedium, 49: RiskHigh, 25: RiskHigh, 24: RiskCritical, 0: RiskCritical,
	}
	for in, want := range cases {
		assert.Equal(t, want, RiskFromScore(in), in)
	}
}

func TestOnChainMapping(t *testing.T) {
	assert.Equal(t, OnChainLow, RiskSafe.OnChain())
	assert.Equal(t, OnChainLow, RiskLow.OnChain())
	assert.Equal(t, OnChainMedium, RiskMedium.OnChain())
	assert.Equal(t, OnChainHigh, RiskHigh.OnChain())
	assert.Equal(t, OnChainCritical, RiskCritical.OnChain())
	assert.Equal(t, "CRITICAL", RiskCritical.OnChain().String())
}

func TestParseRiskLevel(t *testing.T) {
	r, ok := ParseRiskLevel(" medium ")
	assert.True(t, ok)
	assert.Equal(t, RiskMedium, r)
	_, ok = ParseRiskLevel("catastrophic")
	assert.False(t, ok)
}

func TestSynthesize_ScoreAlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	s := NewSynthesizer(nil)
	for iter := 0; iter < 500; iter++ {
		var ms []finding.MergedFinding
		for i := r.Intn(30); i > 0; i-- {
			ms = append(ms, merged(
				finding.Severities[r.Intn(len(finding.Severities))],
				r.Float64(),
				finding.Categories[r.Intn(len(finding.Categories))],
			))
		}
		res := s.Synthesize(ms)
		assert.GreaterOrEqual(t, res.SecurityScore, 0)
		assert.LessOrEqual(t, res.SecurityScore, 100)
		for _, v := range res.CategoryScores {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
		}
	}
}

func TestSynthesize_SingleFindingChangeIsBoundedByCap(t *testing.T) {
	s := NewSynthesizer(nil)
	base := []finding.MergedFinding{
		merged(finding.SeverityHigh, 0.5, finding.CategoryVulnerability),
		merged(finding.SeverityLow, 1, finding.CategoryCodeQuality),
	}
	before := s.Synthesize(base).SecurityScore

	// a third model corroborates the HIGH finding only
	after := s.Synthesize([]finding.MergedFinding{
		merged(finding.SeverityHigh, 2.0/3.0, finding.CategoryVulnerability),
		merged(finding.SeverityLow, 2.0/3.0, finding.CategoryCodeQuality),
	}).SecurityScore

	assert.LessOrEqual(t, float64(before-after), s.MaxFindingPenalty())
	assert.Equal(t, 25.0, s.MaxFindingPenalty())
}
