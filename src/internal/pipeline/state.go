package pipeline

// State 审计流水线的阶段
type State string

const (
	StatePending         State = "Pending"
	StateInvoking        State = "Invoking"
	StateNormalizing     State = "Normalizing"
	StateAggregating     State = "Aggregating"
	StateScoring         State = "Scoring"
	StatePatchGenerating State = "PatchGenerating"
	StateAssembled       State = "Assembled"
	StateAborted         State = "Aborted"
)

// Terminal Assembled 和 Aborted 之后不再有迁移
func (s State) Terminal() bool {
	return s == StateAssembled || s == StateAborted
}

// TransitionFunc 阶段迁移回调，在流水线所在的 goroutine 中同步调用
type TransitionFunc func(from, to State)
