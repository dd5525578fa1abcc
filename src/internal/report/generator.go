package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/report/renderers"
)

// Generator 报告生成器接口
type Generator interface {
	Generate(report *SecurityReport) (string, error)
	// Extension 输出文件扩展名，不含点
	Extension() string
}

// NewGenerator 按格式名创建生成器：md / markdown / json
func NewGenerator(format string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return NewMarkdownGenerator(), nil
	case "json":
		return NewJSONGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// MarkdownGenerator markdown格式报告生成器
type MarkdownGenerator struct {
	renderer *renderers.MarkdownRenderer
}

// NewMarkdownGenerator 创建markdown报告生成器
func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{renderer: renderers.NewMarkdownRenderer()}
}

func (g *MarkdownGenerator) Extension() string { return "md" }

// Generate 生成markdown格式报告
func (g *MarkdownGenerator) Generate(report *SecurityReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is nil")
	}
	var b strings.Builder

	// 报告头部
	b.WriteString(fmt.Sprintf("# 安全审计报告: %s\n\n", report.ContractName))
	if report.ContractAddress != "" {
		b.WriteString(fmt.Sprintf("**合约地址**: %s\n", report.ContractAddress))
	}
	b.WriteString(fmt.Sprintf("**报告 ID**: %s\n", report.ID))
	b.WriteString(fmt.Sprintf("**源码哈希**: `%s`\n", report.SourceHash))
	b.WriteString(fmt.Sprintf("**生成时间**: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	// 评分
	b.WriteString("## 评分\n\n")
	b.WriteString(fmt.Sprintf("- **安全评分**: %d / 100\n", report.SecurityScore))
	b.WriteString(fmt.Sprintf("- **风险等级**: %s\n", report.RiskLevel))
	for _, c := range finding.Categories {
		b.WriteString(fmt.Sprintf("- **%s**: %d\n", c, report.CategoryScores[c]))
	}
	b.WriteString("\n")

	if report.Degraded {
		b.WriteString("> ⚠️ 没有任何模型返回可用的分析结果，评分为未扣分的基线值，不代表合约安全。\n\n")
	}

	// 模型统计
	b.WriteString("## 模型\n\n")
	b.WriteString(fmt.Sprintf("- **参与共识**: %d (%s)\n", len(report.ModelsUsed), strings.Join(report.ModelsUsed, ", ")))
	b.WriteString(fmt.Sprintf("- **失败**: %d (%s)\n\n", len(report.ModelsFailed), strings.Join(report.ModelsFailed, ", ")))
	b.WriteString("| 模型 | 状态 | 耗时 (ms) | 发现数 | 错误 |\n|---|---|---|---|---|\n")
	for _, o := range report.ModelOutcomes {
		b.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s |\n",
			o.ModelID, o.Status, o.LatencyMs, o.FindingCount, strings.ReplaceAll(o.Error, "|", `\|`)))
	}
	b.WriteString("\n")

	// 严重性分布
	counts := report.CountBySeverity()
	if len(report.MergedFindings) > 0 {
		b.WriteString("## 严重性分布\n\n")
		for _, sev := range finding.Severities {
			if counts[sev] > 0 {
				b.WriteString(fmt.Sprintf("- %s **%s**: %d\n", renderers.GetSeverityIcon(sev), sev, counts[sev]))
			}
		}
		b.WriteString("\n")
	}

	// 详细结果
	b.WriteString("## 发现\n\n")
	if len(report.MergedFindings) == 0 {
		b.WriteString("未发现问题。\n\n")
	}
	for i, m := range report.MergedFindings {
		b.WriteString(g.renderer.RenderFinding(i+1, m))
	}

	if len(report.Patches) > 0 {
		b.WriteString("## 修复建议\n\n")
		b.WriteString("以下代码仅为建议，需人工审核后再应用。\n\n")
		for _, p := range report.Patches {
			b.WriteString(g.renderer.RenderPatch(p))
		}
	}

	if len(report.ParseFailures) > 0 {
		b.WriteString("## 无法解析的模型输出\n\n")
		for _, pf := range report.ParseFailures {
			b.WriteString(fmt.Sprintf("- **%s**: %s", pf.ModelID, pf.Message))
			if pf.Detail != "" {
				b.WriteString(fmt.Sprintf(" (%s)", pf.Detail))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(report.Overviews) > 0 {
		b.WriteString("## 模型概述\n\n")
		for _, id := range report.ModelsUsed {
			if ov, ok := report.Overviews[id]; ok {
				b.WriteString(fmt.Sprintf("**%s**: %s\n\n", id, ov))
			}
		}
	}

	return b.String(), nil
}

// JSONGenerator 输出完整报告 JSON，供 IPFS 上传等外部协作方使用
type JSONGenerator struct {
	Indent string
}

func NewJSONGenerator() *JSONGenerator {
	return &JSONGenerator{Indent: "  "}
}

func (g *JSONGenerator) Extension() string { return "json" }

func (g *JSONGenerator) Generate(report *SecurityReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is nil")
	}
	data, err := json.MarshalIndent(report, "", g.Indent)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}
