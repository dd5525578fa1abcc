package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/admi-n/audit-consensus/src/internal"
	"github.com/admi-n/audit-consensus/src/internal/ai/parser"
	"github.com/admi-n/audit-consensus/src/internal/consensus"
	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/patch"
	"github.com/admi-n/audit-consensus/src/internal/report"
	"github.com/admi-n/audit-consensus/src/internal/score"
	"github.com/admi-n/audit-consensus/src/strategy/prompts"
)

// Invoker 并发调用模型；*ai.Invoker 实现了该接口
type Invoker interface {
	Invoke(ctx context.Context, modelIDs []string, prompt string) []finding.ModelResponse
	Models() []string
}

// Config 流水线各阶段的参数
type Config struct {
	Consensus consensus.Config
	Penalties score.Penalties
	PatchTopN int
	// PromptTemplate 为空时使用默认模板
	PromptTemplate string
	// CacheTTL 大于 0 时按 (源码, 合约名, 模型列表) 缓存报告
	CacheTTL time.Duration
}

// Pipeline 一次审计: 调用 -> 归一化 -> 聚合 -> 评分 -> 补丁 -> 组装
type Pipeline struct {
	invoker     Invoker
	cfg         Config
	parser      *parser.Parser
	synthesizer *score.Synthesizer
	patcher     *patch.Generator
	prompt      *prompts.Builder
	cache       *cache.Cache
	logger      *zerolog.Logger

	// OnTransition 可选的阶段迁移回调
	OnTransition TransitionFunc
	now          func() time.Time
}

func New(invoker Invoker, cfg Config, logger *zerolog.Logger) (*Pipeline, error) {
	if invoker == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	builder, err := prompts.NewBuilder(cfg.PromptTemplate)
	if err != nil {
		return nil, err
	}
	// 提前渲染一次，模板里引用了不存在的字段时在启动时就报错
	if _, err := builder.Build(prompts.Variables{SourceCode: "contract C {}"}); err != nil {
		return nil, err
	}

	p := &Pipeline{
		invoker:     invoker,
		cfg:         cfg,
		parser:      parser.NewParser(),
		synthesizer: score.NewSynthesizer(cfg.Penalties),
		patcher:     patch.NewGenerator(cfg.PatchTopN, logger),
		prompt:      builder,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if cfg.CacheTTL > 0 {
		p.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return p, nil
}

type run struct {
	p     *Pipeline
	state State
}

func (r *run) to(next State) {
	prev := r.state
	r.state = next
	r.p.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("audit state")
	if r.p.OnTransition != nil {
		r.p.OnTransition(prev, next)
	}
}

// Run 执行一次审计。只有输入缺失时返回错误（包装 internal.ErrInput）；
// 模型失败、超时和取消都体现在报告里，报告依然会被组装。
func (p *Pipeline) Run(ctx context.Context, in internal.AuditInput) (*report.SecurityReport, error) {
	r := &run{p: p, state: StatePending}

	if err := in.Validate(); err != nil {
		r.to(StateAborted)
		return nil, fmt.Errorf("audit aborted: %w", err)
	}

	models := in.ModelIDs
	if len(models) == 0 {
		models = p.invoker.Models()
	}
	name := in.Name()

	key := cacheKey(in.SourceCode, name, models)
	if p.cache != nil {
		if cached, ok := p.cache.Get(key); ok {
			p.logger.Debug().Str("contract", name).Msg("audit served from cache")
			r.to(StateAssembled)
			return cached.(*report.SecurityReport).Reissue(p.now()), nil
		}
	}

	r.to(StateInvoking)
	prompt, err := p.prompt.Build(prompts.Variables{
		ContractName:    name,
		ContractAddress: in.ContractAddress,
		SourceCode:      in.SourceCode,
	})
	if err != nil {
		r.to(StateAborted)
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	responses := p.invoker.Invoke(ctx, models, prompt)

	r.to(StateNormalizing)
	normalized := make([]parser.Result, 0, len(responses))
	var findings []finding.Finding
	var respondents []string
	for _, resp := range responses {
		res := p.parser.Normalize(resp)
		if res.Status == finding.StatusParseError {
			p.logger.Warn().Str("model", res.ModelID).Str("error", res.ParseError).Msg("model output could not be parsed")
		}
		if res.Status == finding.StatusOK {
			respondents = append(respondents, res.ModelID)
		}
		findings = append(findings, res.Findings...)
		normalized = append(normalized, res)
	}

	r.to(StateAggregating)
	consensusCfg := p.cfg.Consensus
	if len(consensusCfg.ModelOrder) == 0 {
		consensusCfg.ModelOrder = models
	}
	merged := consensus.NewAggregator(consensusCfg, p.logger).Aggregate(findings, respondents)
	total := consensus.TotalSuccessfulModels(findings, respondents)

	r.to(StateScoring)
	scored := p.synthesizer.Synthesize(merged)

	r.to(StatePatchGenerating)
	patches := p.patcher.Generate(merged, in.SourceCode)

	sr := report.Assemble(report.Inputs{
		ContractName:          name,
		ContractAddress:       in.ContractAddress,
		Source:                in.SourceCode,
		ModelOrder:            models,
		Responses:             responses,
		Normalized:            normalized,
		Merged:                merged,
		Score:                 scored,
		Patches:               patches,
		TotalSuccessfulModels: total,
		GeneratedAt:           p.now(),
	})
	r.to(StateAssembled)

	p.logger.Info().
		Str("contract", name).
		Int("score", sr.SecurityScore).
		Str("risk", string(sr.RiskLevel)).
		Int("findings", len(sr.MergedFindings)).
		Int("models_used", len(sr.ModelsUsed)).
		Int("models_failed", len(sr.ModelsFailed)).
		Msg("audit assembled")

	// 被取消或没有任何模型成功的结果不缓存
	if p.cache != nil && ctx.Err() == nil && !sr.Degraded {
		p.cache.SetDefault(key, sr.Clone())
	}
	return sr, nil
}

func cacheKey(source, name string, models []string) string {
	return crypto.Keccak256Hash(
		[]byte(source), []byte{0},
		[]byte(name), []byte{0},
		[]byte(strings.Join(models, ",")),
	).Hex()
}
