package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/admi-n/audit-consensus/src/internal/finding"
)

// DefaultTimeout 单个模型调用的默认超时
const DefaultTimeout = 20 * time.Second

// CancelledMessage 调用方取消时写入 ModelResponse.Error
const CancelledMessage = "cancelled"

// InvokerConfig 调用参数
type InvokerConfig struct {
	DefaultTimeout time.Duration
	// Timeouts 按模型 ID 覆盖超时
	Timeouts map[string]time.Duration
	// Concurrency 同时进行的调用数上限，<=0 表示每个模型一个任务
	Concurrency int
}

// Invoker 并发调用多个模型，每个调用都有独立超时
type Invoker struct {
	clients map[string]AIClient
	cfg     InvokerConfig
	logger  *zerolog.Logger
}

func NewInvoker(clients map[string]AIClient, cfg InvokerConfig, logger *zerolog.Logger) *Invoker {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Invoker{clients: clients, cfg: cfg, logger: logger}
}

// Models 已配置的模型 ID，按字典序
func (inv *Invoker) Models() []string {
	ids := make([]string, 0, len(inv.clients))
	for id := range inv.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Client 按 ID 取客户端
func (inv *Invoker) Client(id string) (AIClient, bool) {
	c, ok := inv.clients[id]
	return c, ok
}

func (inv *Invoker) timeoutFor(id string) time.Duration {
	if d, ok := inv.cfg.Timeouts[id]; ok && d > 0 {
		return d
	}
	return inv.cfg.DefaultTimeout
}

// Invoke 对每个模型发起一次调用，返回顺序与 modelIDs 一致。
// 不返回错误：超时、取消、传输失败都记录在对应的 ModelResponse 里。
func (inv *Invoker) Invoke(ctx context.Context, modelIDs []string, prompt string) []finding.ModelResponse {
	responses := make([]finding.ModelResponse, len(modelIDs))

	var g errgroup.Group
	if inv.cfg.Concurrency > 0 {
		g.SetLimit(inv.cfg.Concurrency)
	}
	for i, id := range modelIDs {
		g.Go(func() error {
			responses[i] = inv.invokeOne(ctx, id, prompt)
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

type callResult struct {
	text string
	err  error
}

func (inv *Invoker) invokeOne(parent context.Context, id, prompt string) finding.ModelResponse {
	start := time.Now()
	resp := finding.ModelResponse{ModelID: id}

	c, ok := inv.clients[id]
	if !ok {
		resp.Status = finding.StatusTransportError
		resp.Error = fmt.Sprintf("unknown model id: %s", id)
		inv.log(resp)
		return resp
	}

	// 排队等待并发名额时调用方可能已经取消
	if parent.Err() != nil {
		resp.Status = finding.StatusTimeout
		resp.Error = CancelledMessage
		inv.log(resp)
		return resp
	}

	ctx, cancel := context.WithTimeout(parent, inv.timeoutFor(id))
	defer cancel()

	// 客户端忽略 ctx 时，select 保证这里仍然按时返回
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("client panic: %v", r)}
			}
		}()
		text, err := c.Analyze(ctx, prompt)
		done <- callResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil:
			resp.Status = finding.StatusOK
			resp.RawText = r.text
		case parent.Err() != nil:
			resp.Status = finding.StatusTimeout
			resp.Error = CancelledMessage
		case errors.Is(r.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			resp.Status = finding.StatusTimeout
		default:
			resp.Status = finding.StatusTransportError
			resp.Error = r.err.Error()
		}
	case <-ctx.Done():
		resp.Status = finding.StatusTimeout
		if parent.Err() != nil {
			resp.Error = CancelledMessage
		}
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	inv.log(resp)
	return resp
}

func (inv *Invoker) log(resp finding.ModelResponse) {
	var ev *zerolog.Event
	switch resp.Status {
	case finding.StatusOK:
		ev = inv.logger.Info()
	default:
		ev = inv.logger.Warn().Str("error", resp.Error)
	}
	ev.Str("model", resp.ModelID).
		Str("status", string(resp.Status)).
		Int64("latency_ms", resp.LatencyMs).
		Msg("model invocation finished")
}

// Close 关闭所有客户端
func (inv *Invoker) Close() error {
	var errs []error
	for id, c := range inv.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
