package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

// ParseFailureMessage 占位发现使用的固定描述
const ParseFailureMessage = "analysis could not be parsed"

// 解析方式
const (
	StrategyStrict    = "strict"
	StrategyExtracted = "extracted"
)

// Result 单个模型响应归一化后的结果
type Result struct {
	ModelID          string              `json:"modelId"`
	Status           finding.ModelStatus `json:"status"`
	Strategy         string              `json:"strategy,omitempty"`
	Overview         string              `json:"overview,omitempty"`
	ReportedScore    *int                `json:"reportedScore,omitempty"`
	ReportedRisk     string              `json:"reportedRisk,omitempty"`
	Findings         []finding.Finding   `json:"findings"`
	ParseError       string              `json:"parseError,omitempty"`
	SchemaViolations []string            `json:"schemaViolations,omitempty"`
}

// Parser 解析 AI 返回的分析结果
type Parser struct {
	schema *gojsonschema.Schema
}

// NewParser 创建新的解析器
func NewParser() *Parser {
	p := &Parser{}
	// 内置 schema 是常量，编译失败只会让 schema 检查失效
	if s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ResponseSchema)); err == nil {
		p.schema = s
	}
	return p
}

// Normalize 把一个 ModelResponse 转成 Finding 列表。
// 该方法不会返回错误：所有解析问题都变成数据。
func (p *Parser) Normalize(resp finding.ModelResponse) Result {
	res := Result{ModelID: resp.ModelID, Status: resp.Status, Findings: []finding.Finding{}}
	if !resp.OK() {
		return res
	}

	doc, strategy, err := p.decode(resp.RawText)
	if err != nil {
		res.Status = finding.StatusParseError
		res.ParseError = err.Error()
		res.Findings = []finding.Finding{placeholder(resp.ModelID)}
		return res
	}

	res.Strategy = strategy
	res.SchemaViolations = p.validate(doc.raw)
	res.Overview = firstString(doc.fields, "overview", "summary")
	res.ReportedRisk = strings.ToUpper(firstString(doc.fields, "riskLevel"))
	if n, ok := firstNumber(doc.fields, "securityScore", "score"); ok {
		score := int(math.Round(n))
		res.ReportedScore = &score
	}

	sections := []struct {
		category finding.Category
		keys     []string
	}{
		{finding.CategoryVulnerability, []string{"vulnerabilities", "issues"}},
		{finding.CategoryGasOptimization, []string{"gasOptimizations", "gas"}},
		{finding.CategoryCodeQuality, []string{"codeQuality", "quality"}},
	}
	for _, sec := range sections {
		for _, item := range arrayField(doc.fields, sec.keys...) {
			if f, ok := mapItem(resp.ModelID, sec.category, item); ok {
				res.Findings = append(res.Findings, f)
			}
		}
	}

	// 扁平的 findings 数组，每项自带 category
	for _, item := range arrayField(doc.fields, "findings") {
		category := finding.CategoryVulnerability
		if obj, ok := asObject(item); ok {
			if c, ok := finding.ParseCategory(firstString(obj, "category")); ok {
				category = c
			}
		}
		if f, ok := mapItem(resp.ModelID, category, item); ok {
			res.Findings = append(res.Findings, f)
		}
	}

	return res
}

type document struct {
	raw    []byte
	fields map[string]json.RawMessage
}

// decode 依次尝试严格解析与提取第一个平衡的 {...}
func (p *Parser) decode(text string) (document, string, error) {
	trimmed := strings.TrimSpace(text)
	if doc, ok := decodeObject([]byte(trimmed)); ok {
		return doc, StrategyStrict, nil
	}

	candidate, found := FirstBalancedObject(trimmed)
	if !found {
		if trimmed == "" {
			return document{}, "", fmt.Errorf("empty response")
		}
		return document{}, "", fmt.Errorf("no JSON object found in response")
	}
	if doc, ok := decodeObject([]byte(candidate)); ok {
		return doc, StrategyExtracted, nil
	}
	return document{}, "", fmt.Errorf("extracted object is not valid JSON")
}

func decodeObject(data []byte) (document, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return document{}, false
	}
	normalized := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		normalized[normalizeKey(k)] = v
	}
	return document{raw: data, fields: normalized}, true
}

// FirstBalancedObject 找到第一个括号平衡的 {...} 子串，会跳过字符串字面量中的括号。
// 如果某个 '{' 到文本结尾都没有闭合，则从下一个 '{' 重新开始。
func FirstBalancedObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func (p *Parser) validate(raw []byte) []string {
	if p.schema == nil {
		return nil
	}
	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return []string{err.Error()}
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return violations
}

func placeholder(modelID string) finding.Finding {
	return finding.Finding{
		ModelID:     modelID,
		Category:    finding.CategoryCodeQuality,
		Title:       "Unparseable analysis",
		Severity:    finding.SeverityInfo,
		Description: ParseFailureMessage,
		Placeholder: true,
	}
}

// mapItem 把单个条目映射为 Finding；既没有标题也没有描述的条目被丢弃
func mapItem(modelID string, category finding.Category, raw json.RawMessage) (finding.Finding, bool) {
	obj, ok := asObject(raw)
	if !ok {
		// 有的模型直接给字符串数组
		text := scalarString(raw)
		if text == "" {
			return finding.Finding{}, false
		}
		sev, inferred := finding.ParseSeverity("")
		return finding.Finding{
			ModelID:          modelID,
			Category:         category,
			Title:            truncate(text, 80),
			Severity:         sev,
			SeverityInferred: inferred,
			Description:      text,
		}, true
	}

	title := firstString(obj, "title", "type", "name", "issue")
	description := firstString(obj, "description", "details", "detail", "impact")
	if title == "" && description == "" {
		return finding.Finding{}, false
	}
	if title == "" {
		title = truncate(description, 80)
	}
	if description == "" {
		description = title
	}

	sev, inferred := finding.ParseSeverity(firstString(obj, "severity", "level", "risk"))

	return finding.Finding{
		ModelID:          modelID,
		Category:         category,
		Title:            title,
		Severity:         sev,
		SeverityInferred: inferred,
		Description:      description,
		CodeReference: firstString(obj, "codeReference", "line", "lines", "lineNumber",
			"lineNumbers", "location", "codeSnippet", "snippet"),
		Recommendation: firstString(obj, "recommendation", "remediation", "fix", "mitigation"),
	}, true
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(k))
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	normalized := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		normalized[normalizeKey(k)] = v
	}
	return normalized, true
}

func arrayField(fields map[string]json.RawMessage, keys ...string) []json.RawMessage {
	for _, k := range keys {
		raw, ok := fields[normalizeKey(k)]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			return items
		}
		// 单个对象当作只有一项的数组
		if _, ok := asObject(raw); ok {
			return []json.RawMessage{raw}
		}
	}
	return nil
}

func firstString(fields map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if raw, ok := fields[normalizeKey(k)]; ok {
			if s := scalarString(raw); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(fields map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := fields[normalizeKey(k)]
		if !ok {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// scalarString 接受字符串、数字、布尔以及标量数组（用逗号连接）
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if s := scalarString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}

	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
