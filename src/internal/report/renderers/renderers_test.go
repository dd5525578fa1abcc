package renderers

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/patch"
)

func merged(id, title string, sev finding.Severity, agreement int, conf float64) finding.MergedFinding {
	return finding.MergedFinding{
		ID:                  id,
		Category:            finding.CategoryVulnerability,
		RepresentativeTitle: title,
		ResolvedSeverity:    sev,
		AgreementCount:      agreement,
		Confidence:          conf,
	}
}

func TestTerminalRenderer(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	out := NewTerminalRenderer().Render(Summary{
		ContractName: "Vault",
		Score:        60,
		Risk:         "CRITICAL",
		Findings: []finding.MergedFinding{
			merged("MF-001", "Unprotected selfdestruct", finding.SeverityCritical, 1, 1),
			merged("MF-002", "Floating pragma", finding.SeverityLow, 2, 2.0/3.0),
		},
		ModelsUsed:   []string{"gpt", "deepseek"},
		ModelsFailed: []string{"local"},
		ReportPath:   "reports/audit.md",
	})

	assert.Contains(t, out, "Audit: Vault")
	assert.Contains(t, out, "Score: 60/100")
	assert.Contains(t, out, "Risk: CRITICAL")
	assert.Contains(t, out, "Models: 2 used, 1 failed")
	assert.Contains(t, out, "failed: local")
	assert.Contains(t, out, "1 CRITICAL, 1 LOW")
	assert.Contains(t, out, "MF-002 [LOW] Floating pragma (2/3 models)")
	assert.Contains(t, out, "Report: reports/audit.md")
	assert.NotContains(t, out, "unpenalized baseline")
}

func TestTerminalRenderer_DegradedAndTruncated(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	r := NewTerminalRenderer()
	r.MaxFindings = 1
	out := r.Render(Summary{
		ContractName: "Vault",
		Score:        100,
		Risk:         "SAFE",
		Degraded:     true,
		Findings: []finding.MergedFinding{
			merged("MF-001", "a", finding.SeverityInfo, 1, 1),
			merged("MF-002", "b", finding.SeverityInfo, 1, 1),
		},
	})

	assert.Contains(t, out, "unpenalized baseline")
	assert.Contains(t, out, "... 1 more in the full report")
	assert.NotContains(t, out, "MF-002")
}

func TestMarkdownRenderer_Finding(t *testing.T) {
	m := merged("MF-001", "Reentrancy", finding.SeverityHigh, 2, 1)
	m.Models = []string{"gpt", "deepseek"}
	m.CodeReference = "line\n 42"
	m.Members = []finding.Finding{
		{ModelID: "gpt", Title: "Reentrancy | withdraw", Severity: finding.SeverityHigh},
		{ModelID: "deepseek", Title: "Reentrancy", Severity: finding.SeverityMedium, SeverityInferred: true},
	}

	out := NewMarkdownRenderer().RenderFinding(1, m)

	assert.True(t, strings.HasPrefix(out, "### 1. 🟠 **[HIGH]** Reentrancy"))
	assert.Contains(t, out, "100% (2 个模型: gpt, deepseek)")
	assert.Contains(t, out, "`line 42`")
	assert.Contains(t, out, `| gpt | HIGH | Reentrancy \| withdraw |`)
	assert.Contains(t, out, "| deepseek | MEDIUM (推断) | Reentrancy |")
}

func TestMarkdownRenderer_Patch(t *testing.T) {
	r := NewMarkdownRenderer()

	precise := r.RenderPatch(patch.Patch{
		FindingRef: "MF-001", Title: "tx.origin", Severity: finding.SeverityMedium,
		OriginalCode: "require(tx.origin == owner);", SuggestedCode: "require(msg.sender == owner);",
		StartLine: 7, EndLine: 7, Precise: true,
	})
	assert.Contains(t, precise, "第 7-7 行")
	assert.Contains(t, precise, "require(tx.origin == owner);")

	generic := r.RenderPatch(patch.Patch{FindingRef: "MF-002", SuggestedCode: "// AUDIT"})
	assert.Contains(t, generic, "未能定位到具体代码")
	assert.NotContains(t, generic, "修改前")
}
