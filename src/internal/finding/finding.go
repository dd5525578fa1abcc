package finding

import (
	"sort"
)

// ModelStatus 单次模型调用的结果状态
type ModelStatus string

const (
	StatusOK             ModelStatus = "ok"
	StatusTimeout        ModelStatus = "timeout"
	StatusTransportError ModelStatus = "transportError"
	StatusParseError     ModelStatus = "parseError"
)

// ModelResponse 每个 (模型, 合约) 调用产生一个，创建后不再修改
type ModelResponse struct {
	ModelID   string      `json:"modelId"`
	Status    ModelStatus `json:"status"`
	RawText   string      `json:"rawText,omitempty"`
	LatencyMs int64       `json:"latencyMs"`
	Error     string      `json:"error,omitempty"`
}

// OK 是否调用成功并拿到文本
func (r ModelResponse) OK() bool {
	return r.Status == StatusOK
}

// Finding 单个模型报告的单个问题（归一化之后）
type Finding struct {
	ModelID          string   `json:"modelId"`
	Category         Category `json:"category"`
	Title            string   `json:"title"`
	Severity         Severity `json:"severity"`
	SeverityInferred bool     `json:"severityInferred,omitempty"`
	Description      string   `json:"description"`
	CodeReference    string   `json:"codeReference,omitempty"`
	Recommendation   string   `json:"recommendation,omitempty"`

	// Placeholder 标记解析失败时生成的占位发现
	Placeholder bool `json:"placeholder,omitempty"`
}

// MergedFinding 跨模型的一组等价发现
type MergedFinding struct {
	ID                        string    `json:"id"`
	Category                  Category  `json:"category"`
	Members                   []Finding `json:"members"`
	Models                    []string  `json:"models"`
	AgreementCount            int       `json:"agreementCount"`
	Confidence                float64   `json:"confidence"`
	ResolvedSeverity          Severity  `json:"resolvedSeverity"`
	RepresentativeTitle       string    `json:"representativeTitle"`
	RepresentativeDescription string    `json:"representativeDescription"`
	CodeReference             string    `json:"codeReference,omitempty"`
	Recommendation            string    `json:"recommendation,omitempty"`
}

// SortMerged 按 (ResolvedSeverity desc, Confidence desc) 稳定排序
func SortMerged(merged []MergedFinding) {
	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := merged[i].ResolvedSeverity.Rank(), merged[j].ResolvedSeverity.Rank()
		if ri != rj {
			return ri > rj
		}
		return merged[i].Confidence > merged[j].Confidence
	})
}

// CountBySeverity 统计各严重性的合并发现数量
func CountBySeverity(merged []MergedFinding) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, m := range merged {
		counts[m.ResolvedSeverity]++
	}
	return counts
}

// HasCritical 是否存在置信度不低于 minConfidence 的 CRITICAL 合并发现
func HasCritical(merged []MergedFinding, minConfidence float64) bool {
	for _, m := range merged {
		if m.ResolvedSeverity == SeverityCritical && m.Confidence >= minConfidence {
			return true
		}
	}
	return false
}
