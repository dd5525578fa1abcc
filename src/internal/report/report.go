package report

import (
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/admi-n/audit-consensus/src/internal/ai/parser"
	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/patch"
	"github.com/admi-n/audit-consensus/src/internal/score"
)

// ModelOutcome 单个模型在本次审计中的最终状态
type ModelOutcome struct {
	ModelID          string              `json:"modelId"`
	Status           finding.ModelStatus `json:"status"`
	LatencyMs        int64               `json:"latencyMs"`
	Error            string              `json:"error,omitempty"`
	FindingCount     int                 `json:"findingCount"`
	ReportedScore    *int                `json:"reportedScore,omitempty"`
	SchemaViolations []string            `json:"schemaViolations,omitempty"`
}

// ParseFailure 无法解析的模型输出，对应归一化阶段的占位发现
type ParseFailure struct {
	ModelID string `json:"modelId"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// SecurityReport 最终报告，组装后不再修改
type SecurityReport struct {
	ID                    string                   `json:"id"`
	ContractName          string                   `json:"contractName"`
	ContractAddress       string                   `json:"contractAddress,omitempty"`
	SourceHash            string                   `json:"sourceHash"`
	GeneratedAt           time.Time                `json:"generatedAt"`
	SecurityScore         int                      `json:"securityScore"`
	RiskLevel             score.RiskLevel          `json:"riskLevel"`
	CategoryScores        map[finding.Category]int `json:"categoryScores"`
	MergedFindings        []finding.MergedFinding  `json:"mergedFindings"`
	Patches               []patch.Patch            `json:"patches"`
	ModelsUsed            []string                 `json:"modelsUsed"`
	ModelsFailed          []string                 `json:"modelsFailed"`
	ModelOutcomes         []ModelOutcome           `json:"modelOutcomes"`
	ParseFailures         []ParseFailure           `json:"parseFailures"`
	Overviews             map[string]string        `json:"overviews,omitempty"`
	TotalSuccessfulModels int                      `json:"totalSuccessfulModels"`
	// Degraded 没有任何模型贡献分析结果
	Degraded bool `json:"degraded"`
}

// Inputs 组装报告所需的各阶段产物
type Inputs struct {
	ContractName    string
	ContractAddress string
	Source          string
	// ModelOrder 配置中的模型顺序；为空时按 Responses 的顺序
	ModelOrder            []string
	Responses             []finding.ModelResponse
	Normalized            []parser.Result
	Merged                []finding.MergedFinding
	Score                 score.Result
	Patches               []patch.Patch
	TotalSuccessfulModels int
	GeneratedAt           time.Time
}

// SourceHash 源码的 keccak256
func SourceHash(source string) string {
	return crypto.Keccak256Hash([]byte(source)).Hex()
}

// Assemble 把各阶段结果打包成报告，所有切片和 map 都会被复制
func Assemble(in Inputs) *SecurityReport {
	generatedAt := in.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	r := &SecurityReport{
		ID:                    uuid.NewString(),
		ContractName:          in.ContractName,
		ContractAddress:       in.ContractAddress,
		SourceHash:            SourceHash(in.Source),
		GeneratedAt:           generatedAt,
		SecurityScore:         in.Score.SecurityScore,
		RiskLevel:             in.Score.RiskLevel,
		CategoryScores:        make(map[finding.Category]int, len(finding.Categories)),
		MergedFindings:        copyMerged(in.Merged),
		Patches:               append([]patch.Patch{}, in.Patches...),
		ModelsUsed:            []string{},
		ModelsFailed:          []string{},
		ModelOutcomes:         []ModelOutcome{},
		ParseFailures:         []ParseFailure{},
		Overviews:             map[string]string{},
		TotalSuccessfulModels: in.TotalSuccessfulModels,
	}
	if r.RiskLevel == "" {
		r.RiskLevel = score.RiskFromScore(r.SecurityScore)
	}
	for _, c := range finding.Categories {
		v, ok := in.Score.CategoryScores[c]
		if !ok {
			v = score.MaxScore
		}
		r.CategoryScores[c] = v
	}

	normalized := make(map[string]parser.Result, len(in.Normalized))
	for _, n := range in.Normalized {
		normalized[n.ModelID] = n
	}
	responses := make(map[string]finding.ModelResponse, len(in.Responses))
	for _, resp := range in.Responses {
		responses[resp.ModelID] = resp
	}

	for _, id := range modelOrder(in) {
		resp, invoked := responses[id]
		out := ModelOutcome{ModelID: id, Status: resp.Status, LatencyMs: resp.LatencyMs, Error: resp.Error}
		if !invoked {
			out.Status = finding.StatusTransportError
			out.Error = "model was not invoked"
		}
		if n, ok := normalized[id]; ok {
			out.Status = n.Status
			out.ReportedScore = n.ReportedScore
			out.SchemaViolations = append([]string(nil), n.SchemaViolations...)
			if n.Status == finding.StatusParseError {
				out.Error = n.ParseError
				r.ParseFailures = append(r.ParseFailures, ParseFailure{
					ModelID: id,
					Message: parser.ParseFailureMessage,
					Detail:  n.ParseError,
				})
			} else {
				out.FindingCount = len(n.Findings)
			}
			if n.Overview != "" {
				r.Overviews[id] = n.Overview
			}
		}

		if out.Status == finding.StatusOK {
			r.ModelsUsed = append(r.ModelsUsed, id)
		} else {
			r.ModelsFailed = append(r.ModelsFailed, id)
		}
		r.ModelOutcomes = append(r.ModelOutcomes, out)
	}

	r.Degraded = len(r.ModelsUsed) == 0
	return r
}

func modelOrder(in Inputs) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	for _, id := range in.ModelOrder {
		add(id)
	}
	for _, resp := range in.Responses {
		add(resp.ModelID)
	}
	return order
}

func copyMerged(in []finding.MergedFinding) []finding.MergedFinding {
	out := make([]finding.MergedFinding, len(in))
	for i, m := range in {
		m.Members = append([]finding.Finding(nil), m.Members...)
		m.Models = append([]string(nil), m.Models...)
		out[i] = m
	}
	return out
}

// Clone 深拷贝报告，副本与原报告不共享任何切片或 map
func (r *SecurityReport) Clone() *SecurityReport {
	c := *r
	c.CategoryScores = make(map[finding.Category]int, len(r.CategoryScores))
	for k, v := range r.CategoryScores {
		c.CategoryScores[k] = v
	}
	c.MergedFindings = copyMerged(r.MergedFindings)
	c.Patches = append([]patch.Patch{}, r.Patches...)
	c.ModelsUsed = append([]string{}, r.ModelsUsed...)
	c.ModelsFailed = append([]string{}, r.ModelsFailed...)
	c.ModelOutcomes = make([]ModelOutcome, len(r.ModelOutcomes))
	for i, o := range r.ModelOutcomes {
		if o.ReportedScore != nil {
			v := *o.ReportedScore
			o.ReportedScore = &v
		}
		o.SchemaViolations = append([]string(nil), o.SchemaViolations...)
		c.ModelOutcomes[i] = o
	}
	c.ParseFailures = append([]ParseFailure{}, r.ParseFailures...)
	if r.Overviews != nil {
		c.Overviews = make(map[string]string, len(r.Overviews))
		for k, v := range r.Overviews {
			c.Overviews[k] = v
		}
	}
	return &c
}

// Reissue 以新的 ID 和生成时间复制一份报告，用于重复请求同一审计结果
func (r *SecurityReport) Reissue(at time.Time) *SecurityReport {
	c := r.Clone()
	c.ID = uuid.NewString()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	c.GeneratedAt = at
	return c
}

// CountBySeverity 各严重性的合并发现数量
func (r *SecurityReport) CountBySeverity() map[finding.Severity]int {
	return finding.CountBySeverity(r.MergedFindings)
}
