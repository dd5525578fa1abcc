package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/admi-n/audit-consensus/src/internal/ai/parser"
)

// Variables 模板可用的变量
type Variables struct {
	ContractName       string
	ContractAddress    string
	SourceCode         string
	SchemaInstructions string
}

// Builder 预解析的 prompt 模板
type Builder struct {
	tmpl *template.Template
}

// NewBuilder 解析模板内容，为空时使用默认模板
func NewBuilder(templateContent string) (*Builder, error) {
	if strings.TrimSpace(templateContent) == "" {
		templateContent = DefaultTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(templateContent)
	if err != nil {
		return nil, fmt.Errorf("模板解析失败: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Build 渲染 prompt；SchemaInstructions 为空时自动填入响应格式说明
func (b *Builder) Build(vars Variables) (string, error) {
	if vars.SchemaInstructions == "" {
		vars.SchemaInstructions = parser.GetSchemaInstructions()
	}
	if vars.ContractName == "" {
		vars.ContractName = "Contract"
	}

	var result strings.Builder
	if err := b.tmpl.Execute(&result, vars); err != nil {
		return "", fmt.Errorf("模板执行失败: %w", err)
	}
	return result.String(), nil
}

// BuildAuditPrompt 用默认模板构建审计 prompt
func BuildAuditPrompt(contractName, contractAddress, sourceCode string) string {
	b, _ := NewBuilder(DefaultTemplate)
	out, err := b.Build(Variables{
		ContractName:    contractName,
		ContractAddress: contractAddress,
		SourceCode:      sourceCode,
	})
	if err != nil {
		// 默认模板只引用 Variables 的字段，不会失败
		panic(err)
	}
	return out
}

// DefaultTemplate 所有模型共用同一个 prompt，保证发现之间可比较
const DefaultTemplate = `You are an expert Solidity security auditor.

Review the smart contract below and report every security vulnerability, gas optimization
and code quality issue you can justify from the code itself. Do not invent functions that
are not present. Reference code by line number or by quoting the exact line.

**Contract:** {{.ContractName}}{{if .ContractAddress}} ({{.ContractAddress}}){{end}}

{{.SchemaInstructions}}

Contract Code:
` + "```solidity" + `
{{.SourceCode}}
` + "```" + `
`
