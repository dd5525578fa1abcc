package score

import (
	"math"
	"strings"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

const (
	MaxScore = 100
	MinScore = 0

	// CriticalOverrideConfidence 触发 CRITICAL 覆盖所需的最低置信度
	CriticalOverrideConfidence = 0.5
)

// OnChainRisk 证书合约里的四值枚举
type OnChainRisk uint8

const (
	OnChainLow OnChainRisk = iota
	OnChainMedium
	OnChainHigh
	OnChainCritical
)

func (r OnChainRisk) String() string {
	switch r {
	case OnChainMedium:
		return "MEDIUM"
	case OnChainHigh:
		return "HIGH"
	case OnChainCritical:
		return "CRITICAL"
	default:
		return "LOW"
	}
}

// OnChain 映射到链上枚举，SAFE 记为 LOW
func (r RiskLevel) OnChain() OnChainRisk {
	switch r {
	case RiskMedium:
		return OnChainMedium
	case RiskHigh:
		return OnChainHigh
	case RiskCritical:
		return OnChainCritical
	default:
		return OnChainLow
	}
}

// ParseRiskLevel 大小写不敏感，无法识别时 ok=false
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case RiskSafe:
		return RiskSafe, true
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	default:
		return "", false
	}
}

// Penalties 每个严重性对应的满置信度扣分
type Penalties map[finding.Severity]float64

func DefaultPenalties() Penalties {
	return Penalties{
		finding.SeverityCritical: 25,
		finding.SeverityHigh:     15,
		finding.SeverityMedium:   8,
		finding.SeverityLow:      3,
		finding.SeverityInfo:     1,
	}
}

// Max 单个发现可能造成的最大扣分
func (p Penalties) Max() float64 {
	top := 0.0
	for _, v := range p {
		if v > top {
			top = v
		}
	}
	return top
}

// Result 分数合成结果
type Result struct {
	SecurityScore  int                      `json:"securityScore"`
	RiskLevel      RiskLevel                `json:"riskLevel"`
	CategoryScores map[finding.Category]int `json:"categoryScores"`
	Penalty        float64                  `json:"penalty"`
	Overridden     bool                     `json:"overridden,omitempty"`
}

// Synthesizer 由合并发现计算安全分与风险等级
type Synthesizer struct {
	penalties Penalties
}

func NewSynthesizer(p Penalties) *Synthesizer {
	if len(p) == 0 {
		p = DefaultPenalties()
	}
	return &Synthesizer{penalties: p}
}

// MaxFindingPenalty 单个合并发现的扣分上限
func (s *Synthesizer) MaxFindingPenalty() float64 {
	return s.penalties.Max()
}

// FindingPenalty 严重性扣分乘以置信度
func (s *Synthesizer) FindingPenalty(m finding.MergedFinding) float64 {
	c := math.Max(0, math.Min(1, m.Confidence))
	return s.penalties[m.ResolvedSeverity] * c
}

// Synthesize 从 100 分开始扣分并截断到 [0,100]
func (s *Synthesizer) Synthesize(merged []finding.MergedFinding) Result {
	total := 0.0
	byCategory := make(map[finding.Category]float64, len(finding.Categories))
	for _, m := range merged {
		p := s.FindingPenalty(m)
		total += p
		byCategory[m.Category] += p
	}

	res := Result{
		SecurityScore:  clamp(total),
		Penalty:        total,
		CategoryScores: make(map[finding.Category]int, len(finding.Categories)),
	}
	for _, c := range finding.Categories {
		res.CategoryScores[c] = clamp(byCategory[c])
	}

	res.RiskLevel = RiskFromScore(res.SecurityScore)
	if finding.HasCritical(merged, CriticalOverrideConfidence) && res.RiskLevel != RiskCritical {
		res.RiskLevel = RiskCritical
		res.Overridden = true
	}
	return res
}

// RiskFromScore 纯分数映射
func RiskFromScore(score int) RiskLevel {
	switch {
	case score >= 90:
		return RiskSafe
	case score >= 75:
		return RiskLow
	case score >= 50:
		return RiskMedium
	case score >= 25:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func clamp(penalty float64) int {
	v := int(math.Round(MaxScore - penalty))
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
