package patch

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

// DefaultTopN 默认为前 3 个合并发现生成补丁
const DefaultTopN = 3

// Patch 针对一个合并发现的修改建议，SuggestedCode 只是建议文本，不会被自动应用
type Patch struct {
	FindingRef    string           `json:"findingRef"`
	Title         string           `json:"title"`
	Severity      finding.Severity `json:"severity"`
	OriginalCode  string           `json:"originalCode"`
	SuggestedCode string           `json:"suggestedCode"`
	Rationale     string           `json:"rationale"`
	StartLine     int              `json:"startLine,omitempty"`
	EndLine       int              `json:"endLine,omitempty"`
	Rule          string           `json:"rule,omitempty"`
	// Precise 是否定位到了真实源码
	Precise bool `json:"precise"`
}

// Generator 补丁生成器
type Generator struct {
	TopN   int
	logger *zerolog.Logger
}

func NewGenerator(topN int, logger *zerolog.Logger) *Generator {
	if topN <= 0 {
		topN = DefaultTopN
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Generator{TopN: topN, logger: logger}
}

// Generate 为排序后的前 TopN 个合并发现各生成一个补丁
func (g *Generator) Generate(merged []finding.MergedFinding, source string) []Patch {
	ordered := make([]finding.MergedFinding, len(merged))
	copy(ordered, merged)
	finding.SortMerged(ordered)
	if len(ordered) > g.TopN {
		ordered = ordered[:g.TopN]
	}

	patches := make([]Patch, 0, len(ordered))
	for _, m := range ordered {
		p := g.patchFor(m, source)
		g.logger.Debug().
			Str("finding", m.ID).
			Str("rule", p.Rule).
			Bool("precise", p.Precise).
			Int("line", p.StartLine).
			Msg("patch generated")
		patches = append(patches, p)
	}
	return patches
}

func (g *Generator) patchFor(m finding.MergedFinding, source string) Patch {
	p := Patch{
		FindingRef: m.ID,
		Title:      m.RepresentativeTitle,
		Severity:   m.ResolvedSeverity,
	}
	r := match(m.RepresentativeTitle, m.RepresentativeDescription)
	if r != nil {
		p.Rule = r.name
	}

	loc, ok := Locate(source, m.CodeReference, m.RepresentativeDescription)
	if !ok && r != nil {
		loc, ok = byAnchor(source, r.anchor, r.extra)
	}

	p.Rationale = rationale(r, m)
	if !ok {
		p.SuggestedCode = advisory(m, r)
		return p
	}

	p.Precise = true
	p.StartLine, p.EndLine = loc.StartLine, loc.EndLine
	p.OriginalCode = loc.Code

	if r != nil {
		if out, changed := r.rewrite(loc.Code); changed {
			p.SuggestedCode = out
			return p
		}
	}
	p.SuggestedCode = withComment(loc.Code, strings.TrimRight(advisory(m, r), "\n"))
	return p
}

func rationale(r *rule, m finding.MergedFinding) string {
	var parts []string
	if r != nil {
		parts = append(parts, r.rationale)
	}
	if rec := strings.TrimSpace(m.Recommendation); rec != "" {
		parts = append(parts, rec)
	}
	if len(parts) == 0 {
		parts = append(parts, firstSentence(m.RepresentativeDescription))
	}
	return strings.Join(parts, " ")
}

// advisory 无法精确改写时的注释形式建议
func advisory(m finding.MergedFinding, r *rule) string {
	lines := []string{"// AUDIT " + string(m.ResolvedSeverity) + ": " + oneLine(m.RepresentativeTitle)}
	switch {
	case strings.TrimSpace(m.Recommendation) != "":
		lines = append(lines, "// "+oneLine(m.Recommendation))
	case r != nil:
		lines = append(lines, "// "+r.rationale)
	case m.RepresentativeDescription != "":
		lines = append(lines, "// "+firstSentence(m.RepresentativeDescription))
	}
	return strings.Join(lines, "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstSentence(s string) string {
	s = oneLine(s)
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
