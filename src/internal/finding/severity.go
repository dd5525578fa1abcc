package finding

import (
	"strings"
)

// Severity 严重性级别，取值固定为五个
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities 按从高到低排列
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank 返回用于排序的等级（Critical=5, Info=1），非法值为 0
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// Valid 是否为五个合法值之一
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity 大小写不敏感地解析严重性。
// 无法识别或为空时返回 MEDIUM，并且 inferred=true。
func ParseSeverity(s string) (sev Severity, inferred bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "severe":
		return SeverityCritical, false
	case "high":
		return SeverityHigh, false
	case "medium", "moderate":
		return SeverityMedium, false
	case "low", "minor":
		return SeverityLow, false
	case "info", "informational", "note", "none":
		return SeverityInfo, false
	default:
		return SeverityMedium, true
	}
}

// Category 发现的分类
type Category string

const (
	CategoryVulnerability   Category = "vulnerability"
	CategoryGasOptimization Category = "gasOptimization"
	CategoryCodeQuality     Category = "codeQuality"
)

// Categories 报告中固定的分类顺序
var Categories = []Category{CategoryVulnerability, CategoryGasOptimization, CategoryCodeQuality}

// ParseCategory 解析分类名，兼容 snake_case / kebab-case 写法
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "vulnerability", "vulnerabilities", "security":
		return CategoryVulnerability, true
	case "gasoptimization", "gasoptimizations", "gas":
		return CategoryGasOptimization, true
	case "codequality", "quality", "style":
		return CategoryCodeQuality, true
	default:
		return "", false
	}
}
