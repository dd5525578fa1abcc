package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admi-n/audit-consensus/src/internal"
	"github.com/admi-n/audit-consensus/src/internal/consensus"
	"github.com/admi-n/audit-consensus/src/internal/finding"
	"github.com/admi-n/audit-consensus/src/internal/score"
)

const bank = `pragma solidity ^0.8.0;

contract Bank {
    mapping(address => uint256) balances;
    address owner;

    function withdraw() external {
        uint256 amount = balances[msg.sender];
        (bool ok, ) = msg.sender.call{value: amount}("");
        require(ok);
        balances[msg.sender] = 0;
    }

    function close() external {
        selfdestruct(payable(owner));
    }
}`

const reentrancyJSON = `{"overview":"withdraw is unsafe","vulnerabilities":[{"title":"Reentrancy in withdraw","severity":"HIGH","description":"External call before the balance is cleared.","codeReference":"line 9"}],"securityScore":60,"riskLevel":"HIGH"}`

type fakeInvoker struct {
	models    []string
	responses map[string]finding.ModelResponse
	calls     int
	prompt    string
	ids       []string
}

func (f *fakeInvoker) Invoke(_ context.Context, modelIDs []string, prompt string) []finding.ModelResponse {
	f.calls++
	f.prompt = prompt
	f.ids = modelIDs
	out := make([]finding.ModelResponse, len(modelIDs))
	for i, id := range modelIDs {
		resp, ok := f.responses[id]
		if !ok {
			resp = finding.ModelResponse{Status: finding.StatusTransportError, Error: "unknown model id"}
		}
		resp.ModelID = id
		out[i] = resp
	}
	return out
}

func (f *fakeInvoker) Models() []string { return f.models }

func ok(text string) finding.ModelResponse {
	return finding.ModelResponse{Status: finding.StatusOK, RawText: text, LatencyMs: 12}
}

func newPipeline(t *testing.T, inv Invoker, cfg Config) (*Pipeline, *[]State) {
	t.Helper()
	p, err := New(inv, cfg, nil)
	require.NoError(t, err)
	var states []State
	p.OnTransition = func(from, to State) { states = append(states, to) }
	return p, &states
}

func input(models ...string) internal.AuditInput {
	return internal.AuditInput{SourceCode: bank, ContractName: "Bank", ModelIDs: models}
}

func TestRun_TwoOfThreeAgree(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": ok(reentrancyJSON),
		"m2": ok(reentrancyJSON),
		"m3": ok(`{"vulnerabilities":[]}`),
	}}
	p, states := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), input("m1", "m2", "m3"))
	require.NoError(t, err)

	require.Len(t, r.MergedFindings, 1)
	m := r.MergedFindings[0]
	assert.Equal(t, 2, m.AgreementCount)
	assert.InDelta(t, 0.67, m.Confidence, 0.01)
	assert.Equal(t, finding.SeverityHigh, m.ResolvedSeverity)
	assert.Equal(t, []string{"m1", "m2"}, m.Models)

	assert.Equal(t, 3, r.TotalSuccessfulModels)
	assert.Equal(t, []string{"m1", "m2", "m3"}, r.ModelsUsed)
	assert.Empty(t, r.ModelsFailed)
	assert.Equal(t, 90, r.SecurityScore)
	assert.Equal(t, "withdraw is unsafe", r.Overviews["m1"])

	require.Len(t, r.Patches, 1)
	assert.Equal(t, "reentrancy", r.Patches[0].Rule)
	assert.Equal(t, 9, r.Patches[0].StartLine)

	assert.Equal(t, []State{StateInvoking, StateNormalizing, StateAggregating, StateScoring,
		StatePatchGenerating, StateAssembled}, *states)
}

func TestRun_SingleCriticalForcesRisk(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": ok(`{"vulnerabilities":[{"title":"Unprotected selfdestruct","severity":"CRITICAL","description":"Anyone can destroy the contract."}]}`),
		"m2": {Status: finding.StatusTransportError, Error: "connection refused"},
	}}
	p, _ := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), input("m1", "m2"))
	require.NoError(t, err)

	assert.Equal(t, 1, r.TotalSuccessfulModels)
	require.Len(t, r.MergedFindings, 1)
	assert.Equal(t, 1.0, r.MergedFindings[0].Confidence)
	assert.Equal(t, 75, r.SecurityScore)
	assert.Equal(t, score.RiskCritical, r.RiskLevel)
	assert.Equal(t, []string{"m1"}, r.ModelsUsed)
	assert.Equal(t, []string{"m2"}, r.ModelsFailed)
	assert.Equal(t, "connection refused", r.ModelOutcomes[1].Error)

	require.Len(t, r.Patches, 1)
	assert.Equal(t, "selfdestruct", r.Patches[0].Rule)
	assert.True(t, r.Patches[0].Precise)
}

func TestRun_AllModelsTimeOut(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": {Status: finding.StatusTimeout},
		"m2": {Status: finding.StatusTimeout},
	}}
	p, states := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), input("m1", "m2"))
	require.NoError(t, err)

	assert.Empty(t, r.MergedFindings)
	assert.Empty(t, r.Patches)
	assert.Equal(t, score.MaxScore, r.SecurityScore)
	assert.Empty(t, r.ModelsUsed)
	assert.Equal(t, []string{"m1", "m2"}, r.ModelsFailed)
	assert.True(t, r.Degraded)
	assert.Equal(t, StateAssembled, (*states)[len(*states)-1])
}

func TestRun_ProseAroundJSON(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": ok(`Sure! {"vulnerabilities":[{"title":"Unchecked call result","severity":"MEDIUM","description":"The result of the call is ignored."}]} Hope that helps`),
	}}
	p, _ := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), input("m1"))
	require.NoError(t, err)

	assert.Empty(t, r.ParseFailures)
	assert.Equal(t, []string{"m1"}, r.ModelsUsed)
	require.Len(t, r.MergedFindings, 1)
	assert.Equal(t, "Unchecked call result", r.MergedFindings[0].RepresentativeTitle)
}

func TestRun_UnparseableOutputIsReported(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": ok("I could not review this contract, sorry."),
		"m2": ok(reentrancyJSON),
	}}
	p, _ := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), input("m1", "m2"))
	require.NoError(t, err)

	assert.Equal(t, []string{"m2"}, r.ModelsUsed)
	assert.Equal(t, []string{"m1"}, r.ModelsFailed)
	require.Len(t, r.ParseFailures, 1)
	assert.Equal(t, "m1", r.ParseFailures[0].ModelID)
	assert.Equal(t, finding.StatusParseError, r.ModelOutcomes[0].Status)

	require.Len(t, r.MergedFindings, 1)
	assert.Equal(t, 1.0, r.MergedFindings[0].Confidence)
}

func TestRun_CrossValidatedDropsSingletons(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{
		"m1": ok(reentrancyJSON),
		"m2": ok(`{"vulnerabilities":[{"title":"Floating pragma","severity":"LOW","description":"Pin the compiler."}]}`),
		"m3": ok(reentrancyJSON),
	}}
	p, _ := newPipeline(t, inv, Config{Consensus: consensus.CrossValidated()})

	r, err := p.Run(context.Background(), input("m1", "m2", "m3"))
	require.NoError(t, err)

	require.Len(t, r.MergedFindings, 1)
	assert.Equal(t, "Reentrancy in withdraw", r.MergedFindings[0].RepresentativeTitle)
}

func TestRun_EmptySourceAbortsBeforeInvoking(t *testing.T) {
	inv := &fakeInvoker{}
	p, states := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), internal.AuditInput{SourceCode: "  \n\t", ModelIDs: []string{"m1"}})

	assert.Nil(t, r)
	assert.True(t, errors.Is(err, internal.ErrInput))
	assert.Equal(t, 0, inv.calls)
	assert.Equal(t, []State{StateAborted}, *states)
}

func TestRun_DefaultsToConfiguredModelsAndBuildsPrompt(t *testing.T) {
	inv := &fakeInvoker{
		models:    []string{"a", "b"},
		responses: map[string]finding.ModelResponse{"a": ok("{}"), "b": ok("{}")},
	}
	p, _ := newPipeline(t, inv, Config{})

	r, err := p.Run(context.Background(), internal.AuditInput{SourceCode: bank, ContractAddress: "0x1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, inv.ids)
	assert.Contains(t, inv.prompt, "function withdraw()")
	assert.Contains(t, inv.prompt, "**Contract:** Contract (0x1)")
	assert.Equal(t, "Contract", r.ContractName)
	assert.Equal(t, "0x1", r.ContractAddress)
}

func TestRun_CachesAssembledReports(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{"m1": ok(reentrancyJSON)}}
	p, _ := newPipeline(t, inv, Config{CacheTTL: time.Minute})

	first, err := p.Run(context.Background(), input("m1"))
	require.NoError(t, err)
	second, err := p.Run(context.Background(), input("m1"))
	require.NoError(t, err)

	assert.Equal(t, 1, inv.calls)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.SourceHash, second.SourceHash)
	assert.Equal(t, first.MergedFindings, second.MergedFindings)
	require.NotEmpty(t, second.MergedFindings)

	// 修改返回的报告不影响缓存
	title := first.MergedFindings[0].RepresentativeTitle
	second.MergedFindings[0].RepresentativeTitle = "edited"
	second.ModelsUsed[0] = "edited"
	first.MergedFindings[0].Models[0] = "edited"
	third, err := p.Run(context.Background(), input("m1"))
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, title, third.MergedFindings[0].RepresentativeTitle)
	assert.Equal(t, []string{"m1"}, third.ModelsUsed)
	assert.Equal(t, []string{"m1"}, third.MergedFindings[0].Models)
	assert.NotEqual(t, second.ID, third.ID)

	_, err = p.Run(context.Background(), internal.AuditInput{SourceCode: bank + "\n", ContractName: "Bank", ModelIDs: []string{"m1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
}

func TestRun_DoesNotCacheDegradedOrCancelled(t *testing.T) {
	inv := &fakeInvoker{responses: map[string]finding.ModelResponse{"m1": {Status: finding.StatusTimeout}}}
	p, _ := newPipeline(t, inv, Config{CacheTTL: time.Minute})

	_, _ = p.Run(context.Background(), input("m1"))
	_, _ = p.Run(context.Background(), input("m1"))
	assert.Equal(t, 2, inv.calls)

	inv.responses["m1"] = ok(reentrancyJSON)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, input("m1"))
	require.NoError(t, err)
	_, _ = p.Run(context.Background(), input("m1"))
	assert.Equal(t, 4, inv.calls)
}

func TestNew_RejectsBrokenTemplate(t *testing.T) {
	_, err := New(&fakeInvoker{}, Config{PromptTemplate: "{{.Missing}}"}, nil)
	assert.Error(t, err)

	_, err = New(nil, Config{}, nil)
	assert.Error(t, err)
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateAssembled.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateScoring.Terminal())
}
