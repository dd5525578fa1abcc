package renderers

import (
	"fmt"
	"strings"

	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/patch"
)

// MarkdownRenderer markdown渲染器
type MarkdownRenderer struct{}

// NewMarkdownRenderer 创建markdown渲染器
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// RenderFinding 渲染单个合并发现
func (r *MarkdownRenderer) RenderFinding(index int, m finding.MergedFinding) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("### %d. %s **[%s]** %s\n\n", index, GetSeverityIcon(m.ResolvedSeverity), m.ResolvedSeverity, m.RepresentativeTitle))
	b.WriteString(fmt.Sprintf("- **ID**: %s\n", m.ID))
	b.WriteString(fmt.Sprintf("- **分类**: %s\n", m.Category))
	b.WriteString(fmt.Sprintf("- **置信度**: %.0f%% (%d 个模型: %s)\n", m.Confidence*100, m.AgreementCount, strings.Join(m.Models, ", ")))
	if m.CodeReference != "" {
		b.WriteString(fmt.Sprintf("- **代码位置**: `%s`\n", oneLine(m.CodeReference)))
	}
	b.WriteString("\n")

	if m.RepresentativeDescription != "" {
		b.WriteString(fmt.Sprintf("**描述**: %s\n\n", m.RepresentativeDescription))
	}
	if m.Recommendation != "" {
		b.WriteString(fmt.Sprintf("**建议**: %s\n\n", m.Recommendation))
	}

	// 各模型的原始严重性，便于核对冲突
	if len(m.Members) > 1 {
		b.WriteString("| 模型 | 严重性 | 标题 |\n|---|---|---|\n")
		for _, f := range m.Members {
			sev := string(f.Severity)
			if f.SeverityInferred {
				sev += " (推断)"
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", f.ModelID, sev, escapeCell(f.Title)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderPatch 渲染补丁建议
func (r *MarkdownRenderer) RenderPatch(p patch.Patch) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("### %s %s (%s)\n\n", GetSeverityIcon(p.Severity), p.Title, p.FindingRef))
	if p.Precise {
		b.WriteString(fmt.Sprintf("位置: 第 %d-%d 行\n\n", p.StartLine, p.EndLine))
		b.WriteString(fmt.Sprintf("修改前:\n\n```solidity\n%s\n```\n\n", p.OriginalCode))
	} else {
		b.WriteString("未能定位到具体代码，以下为通用建议。\n\n")
	}
	b.WriteString(fmt.Sprintf("建议:\n\n```solidity\n%s\n```\n\n", p.SuggestedCode))
	if p.Rationale != "" {
		b.WriteString(fmt.Sprintf("**理由**: %s\n\n", p.Rationale))
	}
	return b.String()
}

// GetSeverityIcon 获取严重等级对应的图标
func GetSeverityIcon(severity finding.Severity) string {
	switch severity {
	case finding.SeverityCritical:
		return "🔴"
	case finding.SeverityHigh:
		return "🟠"
	case finding.SeverityMedium:
		return "🟡"
	case finding.SeverityLow:
		return "🟢"
	default:
		return "⚪"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
