package consensus

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

const (
	DefaultSimilarityThreshold = 0.5
	DefaultMinAgreement        = 1
)

// Config 聚合器的可调参数
type Config struct {
	// SimilarityThreshold 标题 token 重叠率的下限（含）
	SimilarityThreshold float64
	// MinAgreement 保留一个簇所需的最少模型数
	MinAgreement int
	// MinConfidence 保留一个簇所需的最低置信度
	MinConfidence float64
	// ModelOrder 配置中的模型顺序，用于代表文本的平局裁决
	ModelOrder []string
}

// DefaultConfig 默认保留所有 agreementCount >= 1 的簇
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinAgreement:        DefaultMinAgreement,
	}
}

// CrossValidated 只保留至少两个模型都报告的簇
func CrossValidated() Config {
	cfg := DefaultConfig()
	cfg.MinAgreement = 2
	return cfg
}

// Aggregator 把多个模型的发现合并成带置信度的 MergedFinding
type Aggregator struct {
	cfg    Config
	logger *zerolog.Logger
}

func NewAggregator(cfg Config, logger *zerolog.Logger) *Aggregator {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MinAgreement < 1 {
		cfg.MinAgreement = DefaultMinAgreement
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

func (a *Aggregator) Config() Config {
	return a.cfg
}

// TotalSuccessfulModels respondents 与拥有非占位发现的模型的并集大小
func TotalSuccessfulModels(findings []finding.Finding, respondents []string) int {
	seen := make(map[string]bool, len(respondents))
	for _, id := range respondents {
		seen[id] = true
	}
	for _, f := range findings {
		if !f.Placeholder {
			seen[f.ModelID] = true
		}
	}
	return len(seen)
}

type candidate struct {
	finding.Finding
	index  int
	tokens map[string]bool
	ref    string
}

// Aggregate 贪心聚类后计算置信度、严重性与代表文本。
// respondents 是成功完成分析的模型（包括没有报告任何问题的模型）。
// 占位发现不参与聚类。结果按 (严重性, 置信度) 降序排列。
func (a *Aggregator) Aggregate(findings []finding.Finding, respondents []string) []finding.MergedFinding {
	total := TotalSuccessfulModels(findings, respondents)
	if total == 0 {
		return []finding.MergedFinding{}
	}

	cands := make([]candidate, 0, len(findings))
	for i, f := range findings {
		if f.Placeholder {
			continue
		}
		cands = append(cands, candidate{
			Finding: f,
			index:   i,
			tokens:  TitleTokens(f.Title),
			ref:     NormalizeReference(f.CodeReference),
		})
	}

	clustered := make([]bool, len(cands))
	var clusters [][]candidate
	for i := range cands {
		if clustered[i] {
			continue
		}
		clustered[i] = true
		cluster := []candidate{cands[i]}
		for j := i + 1; j < len(cands); j++ {
			if clustered[j] {
				continue
			}
			if a.equivalent(cands[i], cands[j]) {
				clustered[j] = true
				cluster = append(cluster, cands[j])
			}
		}
		clusters = append(clusters, cluster)
	}

	merged := make([]finding.MergedFinding, 0, len(clusters))
	for _, cluster := range clusters {
		m := a.merge(cluster, total)
		if m.AgreementCount < a.cfg.MinAgreement || m.Confidence < a.cfg.MinConfidence {
			a.logger.Debug().
				Str("title", m.RepresentativeTitle).
				Int("agreement", m.AgreementCount).
				Float64("confidence", m.Confidence).
				Msg("dropping cluster below agreement floor")
			continue
		}
		merged = append(merged, m)
	}

	finding.SortMerged(merged)
	for i := range merged {
		merged[i].ID = fmt.Sprintf("MF-%03d", i+1)
	}

	a.logger.Debug().
		Int("findings", len(cands)).
		Int("clusters", len(clusters)).
		Int("kept", len(merged)).
		Int("models", total).
		Msg("consensus aggregated")

	return merged
}

// equivalent 同分类，且标题相似或代码引用一致
func (a *Aggregator) equivalent(x, y candidate) bool {
	if x.Category != y.Category {
		return false
	}
	if jaccard(x.tokens, y.tokens) >= a.cfg.SimilarityThreshold {
		return true
	}
	return x.ref != "" && x.ref == y.ref
}

func (a *Aggregator) merge(cluster []candidate, total int) finding.MergedFinding {
	members := make([]finding.Finding, len(cluster))
	models := make([]string, 0, len(cluster))
	seen := make(map[string]bool, len(cluster))
	for i, c := range cluster {
		members[i] = c.Finding
		if !seen[c.ModelID] {
			seen[c.ModelID] = true
			models = append(models, c.ModelID)
		}
	}

	agreement := len(models)
	rep := a.representative(cluster)

	m := finding.MergedFinding{
		Category:                  rep.Category,
		Members:                   members,
		Models:                    models,
		AgreementCount:            agreement,
		Confidence:                float64(agreement) / float64(total),
		ResolvedSeverity:          resolveSeverity(cluster),
		RepresentativeTitle:       rep.Title,
		RepresentativeDescription: rep.Description,
		CodeReference:             rep.CodeReference,
		Recommendation:            rep.Recommendation,
	}

	// 代表成员没有的可选字段，从其余成员按顺序补齐
	for _, c := range cluster {
		if m.CodeReference == "" {
			m.CodeReference = c.CodeReference
		}
		if m.Recommendation == "" {
			m.Recommendation = c.Recommendation
		}
	}
	return m
}

// resolveSeverity 每个模型一票（取该模型成员中最严重的一级），多数票胜出，平票取更严重的一级
func resolveSeverity(cluster []candidate) finding.Severity {
	perModel := make(map[string]finding.Severity, len(cluster))
	for _, c := range cluster {
		if cur, ok := perModel[c.ModelID]; !ok || c.Severity.Rank() > cur.Rank() {
			perModel[c.ModelID] = c.Severity
		}
	}
	votes := make(map[finding.Severity]int, len(finding.Severities))
	for _, sev := range perModel {
		votes[sev]++
	}
	best := finding.SeverityInfo
	bestVotes := -1
	for _, sev := range finding.Severities {
		if votes[sev] > bestVotes {
			best, bestVotes = sev, votes[sev]
		}
	}
	return best
}

// representative 描述最长者胜出；平局时按配置中的模型顺序，再按输入顺序
func (a *Aggregator) representative(cluster []candidate) candidate {
	best := cluster[0]
	for _, c := range cluster[1:] {
		lc, lb := len([]rune(c.Description)), len([]rune(best.Description))
		switch {
		case lc > lb:
			best = c
		case lc == lb:
			oc, ob := a.modelRank(c.ModelID), a.modelRank(best.ModelID)
			if oc < ob || (oc == ob && c.index < best.index) {
				best = c
			}
		}
	}
	return best
}

func (a *Aggregator) modelRank(id string) int {
	for i, m := range a.cfg.ModelOrder {
		if m == id {
			return i
		}
	}
	return len(a.cfg.ModelOrder)
}
