package renderers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

// Summary 终端摘要需要的报告字段
type Summary struct {
	ContractName string
	Score        int
	Risk         string
	Findings     []finding.MergedFinding
	ModelsUsed   []string
	ModelsFailed []string
	Degraded     bool
	ReportPath   string
}

var (
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			PaddingLeft(1).
			PaddingRight(4)

	severityColors = map[string]lipgloss.Color{
		"CRITICAL": lipgloss.Color("9"),
		"HIGH":     lipgloss.Color("208"),
		"MEDIUM":   lipgloss.Color("11"),
		"LOW":      lipgloss.Color("10"),
		"INFO":     lipgloss.Color("12"),
		"SAFE":     lipgloss.Color("10"),
	}
)

func renderBold(str string) string {
	return lipgloss.NewStyle().Bold(true).Render(str)
}

func renderInSeverityColor(severity, str string) string {
	return lipgloss.NewStyle().Foreground(severityColors[strings.ToUpper(severity)]).Render(str)
}

// TerminalRenderer 命令行审计摘要
type TerminalRenderer struct {
	// MaxFindings 列出的发现条数上限，<=0 表示全部
	MaxFindings int
}

func NewTerminalRenderer() *TerminalRenderer {
	return &TerminalRenderer{MaxFindings: 10}
}

// Render 输出带边框的摘要
func (r *TerminalRenderer) Render(s Summary) string {
	var lines []string

	lines = append(lines, renderBold("Audit: "+s.ContractName))
	lines = append(lines, fmt.Sprintf("Score: %s   Risk: %s",
		renderBold(fmt.Sprintf("%d/100", s.Score)),
		renderInSeverityColor(s.Risk, renderBold(s.Risk))))
	lines = append(lines, fmt.Sprintf("Models: %d used, %d failed", len(s.ModelsUsed), len(s.ModelsFailed)))
	if len(s.ModelsFailed) > 0 {
		lines = append(lines, "  failed: "+strings.Join(s.ModelsFailed, ", "))
	}
	if s.Degraded {
		lines = append(lines, renderInSeverityColor("HIGH", "No model produced a usable analysis; score is the unpenalized baseline."))
	}

	counts := finding.CountBySeverity(s.Findings)
	var parts []string
	for _, sev := range finding.Severities {
		if counts[sev] > 0 {
			parts = append(parts, renderInSeverityColor(string(sev), fmt.Sprintf("%d %s", counts[sev], sev)))
		}
	}
	if len(parts) == 0 {
		lines = append(lines, "Findings: none")
	} else {
		lines = append(lines, "Findings: "+strings.Join(parts, ", "))
	}

	shown := s.Findings
	if r.MaxFindings > 0 && len(shown) > r.MaxFindings {
		shown = shown[:r.MaxFindings]
	}
	if len(shown) > 0 {
		lines = append(lines, "")
	}
	for _, m := range shown {
		tag := renderInSeverityColor(string(m.ResolvedSeverity), fmt.Sprintf("[%s]", m.ResolvedSeverity))
		lines = append(lines, fmt.Sprintf("%s %s %s (%d/%d models)",
			m.ID, tag, m.RepresentativeTitle, m.AgreementCount, agreementBase(m)))
	}
	if hidden := len(s.Findings) - len(shown); hidden > 0 {
		lines = append(lines, fmt.Sprintf("... %d more in the full report", hidden))
	}
	if s.ReportPath != "" {
		lines = append(lines, "", "Report: "+s.ReportPath)
	}

	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// agreementBase 由 confidence 反推参与模型总数
func agreementBase(m finding.MergedFinding) int {
	if m.Confidence <= 0 {
		return m.AgreementCount
	}
	return int(float64(m.AgreementCount)/m.Confidence + 0.5)
}
