package remedy

// DefaultMaxIterations caps a run when the budget does not say otherwise.
const DefaultMaxIterations = 5

// RunBudget is the per-run policy supplied by the caller.
type RunBudget struct {
	// MaxIterations caps the number of reasoning cycles. Zero or negative
	// means DefaultMaxIterations.
	MaxIterations int

	// AutoRemediate executes mutating tools without confirmation.
	AutoRemediate bool

	// DryRun suppresses all mutating tools and feeds the model synthetic
	// observations instead. It takes precedence over AutoRemediate.
	DryRun bool
}

func (b RunBudget) normalized() RunBudget {
	if b.MaxIterations <= 0 {
		b.MaxIterations = DefaultMaxIterations
	}
	return b
}

// TerminationReason names why a run stopped.
type TerminationReason string

const (
	// ReasonFinished means the model concluded the run with the finish tool.
	ReasonFinished TerminationReason = "finished"

	// ReasonBudgetExhausted means the iteration budget ran out first.
	ReasonBudgetExhausted TerminationReason = "budget_exhausted"

	// ReasonParseFailure means the model kept emitting unparsable tool
	// calls past the retry limit.
	ReasonParseFailure TerminationReason = "parse_failure"

	// ReasonCancelled means the run context was cancelled.
	ReasonCancelled TerminationReason = "cancelled"

	// ReasonInternalError means the engine hit a wiring defect or the
	// backend became unusable. The run error carries the cause.
	ReasonInternalError TerminationReason = "internal_error"
)

// RunOutcome is the structured result of a run. Run always returns one,
// whichever path terminated the loop.
type RunOutcome struct {
	// ID is the unique run identifier.
	ID string

	// Resolved reports whether the model declared the problem fixed.
	// It is always false unless the run finished through the finish tool.
	Resolved bool

	// Iterations is the number of reasoning cycles consumed.
	Iterations int

	// Reason is the termination cause.
	Reason TerminationReason

	// Summary is the model's conclusion, or a synthesized note when the
	// run ended without one.
	Summary string

	// Transcript is the full audit record of the run.
	Transcript *Transcript
}
