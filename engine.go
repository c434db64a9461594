package remedy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// DefaultParseRetryLimit is how many consecutive malformed tool calls
	// terminate a run.
	DefaultParseRetryLimit = 2

	// DefaultObservationLimit clamps tool output entering the transcript.
	DefaultObservationLimit = 3000
)

// Engine drives LLM-guided remediation runs: it asks the model for the next
// step, gates and executes the requested tools, feeds observations back,
// and terminates with a RunOutcome.
//
// An Engine is safe for concurrent use; each Run keeps all mutable state on
// its own stack.
type Engine struct {
	llm      LLMClient
	registry *Registry
	executor *Executor
	cfg      engineConfig
}

type engineConfig struct {
	logger           *slog.Logger
	extraPrompt      string
	confirm          ConfirmFunc
	parseRetryLimit  int
	observationLimit int
	toolTimeout      time.Duration
	repeatGuard      bool

	loopHook         LoopHook
	messageHook      MessageHook
	toolRequestHook  ToolRequestHook
	toolResponseHook ToolResponseHook
	toolErrorHook    ToolErrorHook
}

// Option configures the engine.
type Option func(*engineConfig)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) {
		cfg.logger = logger
	}
}

// WithSystemPrompt appends operator context to the built-in system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(cfg *engineConfig) {
		cfg.extraPrompt = prompt
	}
}

// WithConfirm wires the decision channel used by the confirm-each gate
// mode. Without it, every mutating call in that mode is declined.
func WithConfirm(fn ConfirmFunc) Option {
	return func(cfg *engineConfig) {
		cfg.confirm = fn
	}
}

// WithParseRetryLimit sets how many consecutive malformed tool calls are
// tolerated before the run terminates. Default is DefaultParseRetryLimit.
func WithParseRetryLimit(limit int) Option {
	return func(cfg *engineConfig) {
		if limit > 0 {
			cfg.parseRetryLimit = limit
		}
	}
}

// WithObservationLimit caps the bytes of a single tool observation. Zero
// disables the cap. Default is DefaultObservationLimit.
func WithObservationLimit(limit int) Option {
	return func(cfg *engineConfig) {
		cfg.observationLimit = limit
	}
}

// WithToolTimeout bounds each tool execution. Default is
// DefaultToolTimeout.
func WithToolTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.toolTimeout = d
		}
	}
}

// WithRepeatGuard toggles suppression of exactly repeated tool calls.
// Enabled by default.
func WithRepeatGuard(enabled bool) Option {
	return func(cfg *engineConfig) {
		cfg.repeatGuard = enabled
	}
}

// WithLoopHook sets the per-iteration callback.
func WithLoopHook(hook LoopHook) Option {
	return func(cfg *engineConfig) {
		cfg.loopHook = hook
	}
}

// WithMessageHook sets the callback for model text output.
func WithMessageHook(hook MessageHook) Option {
	return func(cfg *engineConfig) {
		cfg.messageHook = hook
	}
}

// WithToolRequestHook sets the callback fired when the model requests a
// valid tool.
func WithToolRequestHook(hook ToolRequestHook) Option {
	return func(cfg *engineConfig) {
		cfg.toolRequestHook = hook
	}
}

// WithToolResponseHook sets the callback fired after a successful tool run.
func WithToolResponseHook(hook ToolResponseHook) Option {
	return func(cfg *engineConfig) {
		cfg.toolResponseHook = hook
	}
}

// WithToolErrorHook sets the callback fired when a tool fails, is declined
// or is rejected by validation.
func WithToolErrorHook(hook ToolErrorHook) Option {
	return func(cfg *engineConfig) {
		cfg.toolErrorHook = hook
	}
}

// New builds an engine over the given model client and tool catalog. The
// finish tool is appended automatically; registering a tool named "finish"
// is a conflict error.
func New(llmClient LLMClient, tools []Tool, options ...Option) (*Engine, error) {
	if llmClient == nil {
		return nil, goerr.New("llm client is required")
	}

	cfg := engineConfig{
		logger:           defaultLogger,
		parseRetryLimit:  DefaultParseRetryLimit,
		observationLimit: DefaultObservationLimit,
		toolTimeout:      DefaultToolTimeout,
		repeatGuard:      true,
		loopHook:         defaultLoopHook,
		messageHook:      defaultMessageHook,
		toolRequestHook:  defaultToolRequestHook,
		toolResponseHook: defaultToolResponseHook,
		toolErrorHook:    defaultToolErrorHook,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	all := append(slices.Clone(tools), Tool(&finishTool{}))

	registry, err := NewRegistry(all...)
	if err != nil {
		return nil, err
	}
	executor, err := NewExecutor(all, cfg.toolTimeout)
	if err != nil {
		return nil, err
	}

	return &Engine{
		llm:      llmClient,
		registry: registry,
		executor: executor,
		cfg:      cfg,
	}, nil
}

// Registry exposes the catalog, e.g. for a CLI listing.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// runState is the position in the run loop. Transitions are the only
// places cancellation is checked, so a run never outlives its context by
// more than the in-flight call.
type runState int

const (
	stateAwaitingModel runState = iota
	stateAwaitingAuthorization
	stateAwaitingExecution
)

// Run executes one remediation session. It always returns a non-nil
// RunOutcome; the error is non-nil only when the run aborted on the
// internal wiring defect class.
func (e *Engine) Run(ctx context.Context, incident Incident, budget RunBudget) (*RunOutcome, error) {
	budget = budget.normalized()

	runID := uuid.New().String()
	logger := e.cfg.logger.With("run_id", runID)
	ctx = ctxWithLogger(ctx, logger)

	transcript := NewTranscript()
	outcome := &RunOutcome{ID: runID, Transcript: transcript}

	sysPrompt := systemPrompt(e.cfg.extraPrompt)
	problem := incident.problemPrompt()
	transcript.append(TurnSystemContext, sysPrompt)
	transcript.append(TurnUserProblem, problem)

	logger.Info("starting run",
		"incident", incident.short(),
		"max_iterations", budget.MaxIterations,
		"dry_run", budget.DryRun,
		"auto_remediate", budget.AutoRemediate,
	)

	session, err := e.llm.NewSession(ctx,
		WithSessionSystemPrompt(sysPrompt),
		WithSessionTools(e.registry.List()...),
	)
	if err != nil {
		return e.abort(ctx, outcome, goerr.Wrap(err, "failed to create session"))
	}

	gate := newGate(budget, e.cfg.confirm)
	fin := &finishState{}
	seen := map[string]struct{}{}
	inputs := []Input{Text(problem)}
	parseFailures := 0

	for {
		if ctx.Err() != nil {
			return e.cancelled(ctx, outcome), nil
		}
		if outcome.Iterations >= budget.MaxIterations {
			outcome.Reason = ReasonBudgetExhausted
			outcome.Summary = fmt.Sprintf("iteration budget of %d exhausted before resolution", budget.MaxIterations)
			logger.Warn("budget exhausted", "iterations", outcome.Iterations)
			return outcome, nil
		}

		if err := e.cfg.loopHook(ctx, outcome.Iterations+1); err != nil {
			return e.abort(ctx, outcome, goerr.Wrap(err, "loop hook failed"))
		}

		resp, genErr := session.GenerateContent(ctx, inputs...)
		inputs = nil
		if genErr != nil {
			if ctx.Err() != nil {
				return e.cancelled(ctx, outcome), nil
			}
			if errors.Is(genErr, ErrMalformedToolCall) {
				parseFailures++
				outcome.Iterations++
				transcript.append(TurnAssistantMessage, "(unparsable tool call)")
				logger.Warn("malformed tool call", "consecutive", parseFailures)
				if parseFailures >= e.cfg.parseRetryLimit {
					outcome.Reason = ReasonParseFailure
					outcome.Summary = fmt.Sprintf("terminated after %d consecutive malformed tool calls", parseFailures)
					return outcome, nil
				}
				transcript.append(TurnGuidance, malformedCallGuidance)
				inputs = []Input{Text(malformedCallGuidance)}
				continue
			}
			return e.abort(ctx, outcome, goerr.Wrap(genErr, "session request failed"))
		}
		parseFailures = 0

		for _, text := range resp.Texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			transcript.append(TurnAssistantMessage, text)
			if err := e.cfg.messageHook(ctx, text); err != nil {
				return e.abort(ctx, outcome, goerr.Wrap(err, "message hook failed"))
			}
		}

		if !resp.HasToolCalls() {
			outcome.Iterations++
			transcript.append(TurnGuidance, toolCallReminder)
			inputs = []Input{Text(toolCallReminder)}
			continue
		}

		responses := make([]Input, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if fin.done {
				// Nothing after finish is dispatched, budget or not.
				logger.Debug("dropping call after finish", "tool", call.Name)
				continue
			}

			if call.ID == "" {
				call.ID = uuid.New().String()
			}
			transcript.appendCall(*call, renderCall(*call))

			// Authorization boundary.
			if ctx.Err() != nil {
				return e.cancelled(ctx, outcome), nil
			}

			spec, resolveErr := e.registry.Resolve(call.Name)
			if resolveErr != nil {
				result := &ToolResult{CallID: call.ID, Name: call.Name, Err: &ToolError{
					Kind:    ErrKindNotFound,
					Message: fmt.Sprintf("%s is not an available tool", call.Name),
				}}
				if err := e.cfg.toolErrorHook(ctx, result.Err, *call); err != nil {
					return e.abort(ctx, outcome, goerr.Wrap(err, "tool error hook failed"))
				}
				responses = append(responses, e.observe(transcript, result))
				continue
			}

			if validateErr := e.registry.Validate(*call); validateErr != nil {
				result := &ToolResult{CallID: call.ID, Name: call.Name, Err: &ToolError{
					Kind:    ErrKindSchema,
					Message: fmt.Sprintf("invalid arguments: %v", validateErr),
				}}
				if err := e.cfg.toolErrorHook(ctx, result.Err, *call); err != nil {
					return e.abort(ctx, outcome, goerr.Wrap(err, "tool error hook failed"))
				}
				responses = append(responses, e.observe(transcript, result))
				continue
			}

			if err := e.cfg.toolRequestHook(ctx, *call); err != nil {
				return e.abort(ctx, outcome, goerr.Wrap(err, "tool request hook failed"))
			}

			if spec.Class() == CapabilityTerminate {
				fin.capture(call.Arguments)
				result := &ToolResult{CallID: call.ID, Name: call.Name, Data: map[string]any{"status": "concluded"}}
				responses = append(responses, e.observe(transcript, result))
				continue
			}

			if e.cfg.repeatGuard {
				key := callKey(*call)
				if _, dup := seen[key]; dup {
					result := &ToolResult{CallID: call.ID, Name: call.Name, Err: &ToolError{
						Kind:    ErrKindUnknown,
						Message: "identical call was already executed; reuse its observation or take a different action",
					}}
					if err := e.cfg.toolErrorHook(ctx, result.Err, *call); err != nil {
						return e.abort(ctx, outcome, goerr.Wrap(err, "tool error hook failed"))
					}
					responses = append(responses, e.observe(transcript, result))
					continue
				}
				seen[key] = struct{}{}
			}

			decision, gateErr := gate.review(ctx, *call, spec)
			switch decision {
			case GateSimulated:
				logger.Info("dry-run suppressed action", "tool", call.Name)
				responses = append(responses, e.observe(transcript, simulated(*call)))

			case GateDeclined:
				result := &ToolResult{CallID: call.ID, Name: call.Name, Err: gateErr}
				logger.Info("action declined", "tool", call.Name)
				if err := e.cfg.toolErrorHook(ctx, result.Err, *call); err != nil {
					return e.abort(ctx, outcome, goerr.Wrap(err, "tool error hook failed"))
				}
				responses = append(responses, e.observe(transcript, result))

			case GateApproved:
				// Execution boundary.
				if ctx.Err() != nil {
					return e.cancelled(ctx, outcome), nil
				}
				result, invokeErr := e.executor.Invoke(ctx, *call)
				if invokeErr != nil {
					return e.abort(ctx, outcome, invokeErr)
				}
				if result.Failed() {
					if err := e.cfg.toolErrorHook(ctx, result.Err, *call); err != nil {
						return e.abort(ctx, outcome, goerr.Wrap(err, "tool error hook failed"))
					}
				} else {
					if err := e.cfg.toolResponseHook(ctx, *call, result.Data); err != nil {
						return e.abort(ctx, outcome, goerr.Wrap(err, "tool response hook failed"))
					}
				}
				responses = append(responses, e.observe(transcript, result))
			}
		}
		outcome.Iterations++

		if fin.done {
			outcome.Reason = ReasonFinished
			outcome.Resolved = fin.resolved
			outcome.Summary = fin.summary
			logger.Info("run concluded",
				"resolved", outcome.Resolved,
				"iterations", outcome.Iterations,
			)
			return outcome, nil
		}

		inputs = responses
	}
}

// observe records the result in the transcript, clamped to the observation
// limit, and returns the session input that feeds it back to the model.
func (e *Engine) observe(transcript *Transcript, result *ToolResult) Input {
	rendered := result.Observation()
	if limit := e.cfg.observationLimit; limit > 0 && len(rendered) > limit {
		rendered = truncate(rendered, limit)
		if result.Err == nil {
			result.Data = map[string]any{"truncated": true, "output": rendered}
		} else {
			result.Err.Message = truncate(result.Err.Message, limit)
		}
	}
	transcript.appendObservation(result, rendered)
	return result.response()
}

func (e *Engine) cancelled(ctx context.Context, outcome *RunOutcome) *RunOutcome {
	outcome.Reason = ReasonCancelled
	outcome.Summary = "run cancelled before resolution"
	LoggerFromContext(ctx).Warn("run cancelled", "iterations", outcome.Iterations)
	return outcome
}

func (e *Engine) abort(ctx context.Context, outcome *RunOutcome, err error) (*RunOutcome, error) {
	outcome.Reason = ReasonInternalError
	outcome.Summary = fmt.Sprintf("run aborted: %v", err)
	LoggerFromContext(ctx).Error("run aborted", "error", err)
	return outcome, err
}

// callKey canonicalizes a call for repetition detection. json.Marshal sorts
// map keys, so equal argument sets produce equal keys.
func callKey(call ToolCall) string {
	raw, err := json.Marshal(call.Arguments)
	if err != nil {
		return call.Name
	}
	return call.Name + ":" + string(raw)
}

func renderCall(call ToolCall) string {
	raw, err := json.Marshal(call.Arguments)
	if err != nil {
		return call.Name
	}
	return fmt.Sprintf("%s(%s)", call.Name, raw)
}
