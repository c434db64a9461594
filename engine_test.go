package remedy_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/remedy"
	"github.com/m-mizutani/remedy/mock"
)

func observeTool(name string) *mock.ToolMock {
	return &mock.ToolMock{
		SpecFunc: func() *remedy.ToolSpec {
			return &remedy.ToolSpec{
				Name:        name,
				Description: "inspect something",
				Capability:  remedy.CapabilityObserve,
				Parameters: map[string]*remedy.Parameter{
					"target": {Type: remedy.TypeString},
				},
				Required: []string{"target"},
			}
		},
		RunFunc: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"status": "ok"}, nil
		},
	}
}

func actTool(name string) *mock.ToolMock {
	return &mock.ToolMock{
		SpecFunc: func() *remedy.ToolSpec {
			return &remedy.ToolSpec{
				Name:        name,
				Description: "mutate something",
				Capability:  remedy.CapabilityAct,
				Parameters: map[string]*remedy.Parameter{
					"target": {Type: remedy.TypeString},
				},
				Required: []string{"target"},
			}
		},
		RunFunc: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"applied": true}, nil
		},
	}
}

func callResp(id, name string, args map[string]any) *remedy.Response {
	return &remedy.Response{
		ToolCalls: []*remedy.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

func finishResp(id string, resolved bool, summary string) *remedy.Response {
	return callResp(id, remedy.FinishToolName, map[string]any{
		"resolved": resolved,
		"summary":  summary,
	})
}

type scriptStep struct {
	resp *remedy.Response
	err  error
}

// scriptedClient replays the given steps, one per model request, and
// fails the test if the engine asks for more.
func scriptedClient(t *testing.T, steps ...scriptStep) (*mock.LLMClientMock, *mock.SessionMock) {
	t.Helper()
	idx := 0
	session := &mock.SessionMock{
		GenerateContentFunc: func(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
			if idx >= len(steps) {
				t.Fatalf("model requested %d times, script has %d steps", idx+1, len(steps))
			}
			step := steps[idx]
			idx++
			return step.resp, step.err
		},
	}
	client := &mock.LLMClientMock{
		NewSessionFunc: func(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
			return session, nil
		},
	}
	return client, session
}

func TestBudgetExhausted(t *testing.T) {
	tool := observeTool("inspect")

	n := 0
	session := &mock.SessionMock{
		GenerateContentFunc: func(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
			n++
			return callResp(fmt.Sprintf("c%d", n), "inspect", map[string]any{
				"target": fmt.Sprintf("pod-%d", n),
			}), nil
		},
	}
	client := &mock.LLMClientMock{
		NewSessionFunc: func(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
			return session, nil
		},
	}

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "pod is broken"},
		remedy.RunBudget{MaxIterations: 3})
	gt.NoError(t, err)
	gt.NotNil(t, outcome)

	gt.Equal(t, outcome.Iterations, 3)
	gt.False(t, outcome.Resolved)
	gt.Equal(t, outcome.Reason, remedy.ReasonBudgetExhausted)
	gt.A(t, tool.RunCalls()).Length(3)
	gt.A(t, session.GenerateContentCalls()).Length(3)
}

func TestFinishBeforeBudget(t *testing.T) {
	tool := observeTool("inspect")
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c2", true, "restarted the pod, it recovered")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.True(t, outcome.Resolved)
	gt.Equal(t, outcome.Iterations, 2)
	gt.Equal(t, outcome.Reason, remedy.ReasonFinished)
	gt.Equal(t, outcome.Summary, "restarted the pod, it recovered")
}

func TestFinishStopsSameTurn(t *testing.T) {
	tool := actTool("restart")
	client, _ := scriptedClient(t,
		scriptStep{resp: &remedy.Response{ToolCalls: []*remedy.ToolCall{
			{ID: "c1", Name: remedy.FinishToolName, Arguments: map[string]any{"resolved": true, "summary": "done"}},
			{ID: "c2", Name: "restart", Arguments: map[string]any{"target": "pod-a"}},
		}}},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5, AutoRemediate: true})
	gt.NoError(t, err)

	gt.True(t, outcome.Resolved)
	// The call queued after finish in the same turn is never dispatched.
	gt.A(t, tool.RunCalls()).Length(0)
}

func TestDryRunSuppressesActions(t *testing.T) {
	tool := actTool("restart")
	client, session := scriptedClient(t,
		scriptStep{resp: callResp("c1", "restart", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c2", true, "restart simulated")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5, DryRun: true, AutoRemediate: true})
	gt.NoError(t, err)

	gt.A(t, tool.RunCalls()).Length(0)
	gt.True(t, outcome.Resolved)

	// The model got a synthetic observation naming the suppressed action.
	calls := session.GenerateContentCalls()
	gt.A(t, calls).Length(2)
	resp := gt.Cast[remedy.ToolResponse](t, calls[1].Input[0])
	gt.NoError(t, resp.Error)
	gt.Equal(t, resp.Data["dry_run"], true)
	gt.Equal(t, resp.Data["action"], "restart")
}

func TestConfirmDecline(t *testing.T) {
	tool := actTool("restart")
	client, session := scriptedClient(t,
		scriptStep{resp: callResp("c1", "restart", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c2", false, "operator declined the restart")},
	)

	declined := 0
	engine, err := remedy.New(client, []remedy.Tool{tool},
		remedy.WithConfirm(func(ctx context.Context, call remedy.ToolCall, spec *remedy.ToolSpec) (bool, error) {
			declined++
			return false, nil
		}),
	)
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.Equal(t, declined, 1)
	gt.A(t, tool.RunCalls()).Length(0)
	gt.False(t, outcome.Resolved)
	gt.Equal(t, outcome.Reason, remedy.ReasonFinished)

	// The declined failure is fed back as an error observation.
	calls := session.GenerateContentCalls()
	resp := gt.Cast[remedy.ToolResponse](t, calls[1].Input[0])
	gt.Error(t, resp.Error)
	gt.S(t, resp.Error.Error()).Contains("declined")
}

func TestObserveToolsNeverGated(t *testing.T) {
	tool := observeTool("inspect")
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c2", true, "nothing wrong")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool},
		remedy.WithConfirm(func(ctx context.Context, call remedy.ToolCall, spec *remedy.ToolSpec) (bool, error) {
			t.Fatal("observe tool must not reach the confirmation channel")
			return false, nil
		}),
	)
	gt.NoError(t, err)

	_, err = engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)
	gt.A(t, tool.RunCalls()).Length(1)
}

func TestParseFailureTerminatesAtLimit(t *testing.T) {
	malformed := goerr.Wrap(remedy.ErrMalformedToolCall, "bad json", goerr.V("raw", "{oops"))
	client, _ := scriptedClient(t,
		scriptStep{err: malformed},
		scriptStep{err: malformed},
	)

	engine, err := remedy.New(client, []remedy.Tool{observeTool("inspect")})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.False(t, outcome.Resolved)
	gt.Equal(t, outcome.Reason, remedy.ReasonParseFailure)
	gt.Equal(t, outcome.Iterations, 2)
}

func TestParseFailureRecovery(t *testing.T) {
	malformed := goerr.Wrap(remedy.ErrMalformedToolCall, "bad json")
	tool := observeTool("inspect")
	client, session := scriptedClient(t,
		scriptStep{err: malformed},
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": "pod-a"})},
		scriptStep{err: malformed},
		scriptStep{resp: finishResp("c2", true, "done")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 10})
	gt.NoError(t, err)

	// The counter resets on every parsable response, so two non-consecutive
	// failures never terminate the run.
	gt.True(t, outcome.Resolved)
	gt.Equal(t, outcome.Reason, remedy.ReasonFinished)
	gt.Equal(t, outcome.Iterations, 4)

	// The first failure was answered with a corrective instruction.
	calls := session.GenerateContentCalls()
	guidance := gt.Cast[remedy.Text](t, calls[1].Input[0])
	gt.S(t, string(guidance)).Contains("could not be parsed")
}

func TestParseRetryLimitConfigurable(t *testing.T) {
	malformed := goerr.Wrap(remedy.ErrMalformedToolCall, "bad json")
	client, _ := scriptedClient(t,
		scriptStep{err: malformed},
		scriptStep{err: malformed},
		scriptStep{err: malformed},
	)

	engine, err := remedy.New(client, []remedy.Tool{observeTool("inspect")},
		remedy.WithParseRetryLimit(3))
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 10})
	gt.NoError(t, err)

	gt.Equal(t, outcome.Reason, remedy.ReasonParseFailure)
	gt.Equal(t, outcome.Iterations, 3)
}

func TestSchemaErrorContinuesRun(t *testing.T) {
	tool := observeTool("inspect")
	client, session := scriptedClient(t,
		// "target" is required and must be a string.
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": 42})},
		scriptStep{resp: finishResp("c2", false, "could not inspect")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.A(t, tool.RunCalls()).Length(0)
	gt.Equal(t, outcome.Reason, remedy.ReasonFinished)
	gt.Equal(t, outcome.Iterations, 2)

	calls := session.GenerateContentCalls()
	resp := gt.Cast[remedy.ToolResponse](t, calls[1].Input[0])
	gt.Error(t, resp.Error)
	gt.S(t, resp.Error.Error()).Contains("invalid arguments")

	// Schema rejection is its own kind so the model can tell a bad
	// argument shape from an execution failure.
	var toolErr *remedy.ToolError
	gt.True(t, errors.As(resp.Error, &toolErr))
	gt.Equal(t, toolErr.Kind, remedy.ErrKindSchema)
}

func TestToolErrorHookReceivesClassifiedError(t *testing.T) {
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "no_such_tool", map[string]any{})},
		scriptStep{resp: finishResp("c2", false, "gave up")},
	)

	// The hook gets a plain error; the classification is recovered with
	// errors.As, which is how the CLI logs the kind.
	var kinds []remedy.ErrorKind
	engine, err := remedy.New(client, []remedy.Tool{observeTool("inspect")},
		remedy.WithToolErrorHook(func(ctx context.Context, err error, call remedy.ToolCall) error {
			var toolErr *remedy.ToolError
			gt.True(t, errors.As(err, &toolErr))
			kinds = append(kinds, toolErr.Kind)
			return nil
		}))
	gt.NoError(t, err)

	_, err = engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.A(t, kinds).Length(1)
	gt.Equal(t, kinds[0], remedy.ErrKindNotFound)
}

func TestUnknownToolContinuesRun(t *testing.T) {
	client, session := scriptedClient(t,
		scriptStep{resp: callResp("c1", "no_such_tool", map[string]any{})},
		scriptStep{resp: finishResp("c2", false, "gave up")},
	)

	engine, err := remedy.New(client, []remedy.Tool{observeTool("inspect")})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)
	gt.Equal(t, outcome.Reason, remedy.ReasonFinished)

	calls := session.GenerateContentCalls()
	resp := gt.Cast[remedy.ToolResponse](t, calls[1].Input[0])
	gt.Error(t, resp.Error)
	gt.S(t, resp.Error.Error()).Contains("not an available tool")
}

func TestMessageOnlyTurnConsumesIteration(t *testing.T) {
	client, session := scriptedClient(t,
		scriptStep{resp: &remedy.Response{Texts: []string{"let me think about this"}}},
		scriptStep{resp: finishResp("c1", false, "nothing to do")},
	)

	engine, err := remedy.New(client, []remedy.Tool{observeTool("inspect")})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.Equal(t, outcome.Iterations, 2)

	// The reminder asks for a tool call.
	calls := session.GenerateContentCalls()
	guidance := gt.Cast[remedy.Text](t, calls[1].Input[0])
	gt.S(t, string(guidance)).Contains("tool call")
}

func TestRepeatGuard(t *testing.T) {
	tool := observeTool("inspect")
	args := map[string]any{"target": "pod-a"}
	client, session := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", args)},
		scriptStep{resp: callResp("c2", "inspect", args)},
		scriptStep{resp: finishResp("c3", false, "stuck")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.A(t, tool.RunCalls()).Length(1)
	gt.Equal(t, outcome.Iterations, 3)

	calls := session.GenerateContentCalls()
	resp := gt.Cast[remedy.ToolResponse](t, calls[2].Input[0])
	gt.Error(t, resp.Error)
	gt.S(t, resp.Error.Error()).Contains("already executed")
}

func TestRepeatGuardDisabled(t *testing.T) {
	tool := observeTool("inspect")
	args := map[string]any{"target": "pod-a"}
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", args)},
		scriptStep{resp: callResp("c2", "inspect", args)},
		scriptStep{resp: finishResp("c3", false, "stuck")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool},
		remedy.WithRepeatGuard(false))
	gt.NoError(t, err)

	_, err = engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)
	gt.A(t, tool.RunCalls()).Length(2)
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	tool := observeTool("inspect")
	n := 0
	session := &mock.SessionMock{
		GenerateContentFunc: func(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
			n++
			if n == 2 {
				cancel()
			}
			return callResp(fmt.Sprintf("c%d", n), "inspect", map[string]any{
				"target": fmt.Sprintf("pod-%d", n),
			}), nil
		},
	}
	client := &mock.LLMClientMock{
		NewSessionFunc: func(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
			return session, nil
		},
	}

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(ctx, remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 100})
	gt.NoError(t, err)

	gt.NotNil(t, outcome)
	gt.Equal(t, outcome.Reason, remedy.ReasonCancelled)
	gt.False(t, outcome.Resolved)
}

func TestDuplicateToolNameRejected(t *testing.T) {
	_, err := remedy.New(
		&mock.LLMClientMock{},
		[]remedy.Tool{observeTool("inspect"), observeTool("inspect")},
	)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrToolNameConflict))
}

func TestFinishNameReserved(t *testing.T) {
	_, err := remedy.New(
		&mock.LLMClientMock{},
		[]remedy.Tool{observeTool(remedy.FinishToolName)},
	)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrToolNameConflict))
}

func TestScenarioObserveActFinish(t *testing.T) {
	inspect := observeTool("inspect")
	restart := actTool("restart")
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": "pod-a"})},
		scriptStep{resp: callResp("c2", "restart", map[string]any{"target": "pod-a"})},
		scriptStep{resp: callResp("c3", "inspect", map[string]any{"target": "pod-a/after"})},
		scriptStep{resp: finishResp("c4", true, "pod recovered after restart")},
	)

	engine, err := remedy.New(client, []remedy.Tool{inspect, restart})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{
		Description: "CrashLoopBackOff", Namespace: "default", Pod: "pod-a",
	}, remedy.RunBudget{MaxIterations: 5, AutoRemediate: true})
	gt.NoError(t, err)

	gt.True(t, outcome.Resolved)
	gt.Equal(t, outcome.Iterations, 4)
	gt.A(t, inspect.RunCalls()).Length(2)
	gt.A(t, restart.RunCalls()).Length(1)
}

func TestScenarioDeclinedThenAdapted(t *testing.T) {
	restart := actTool("restart")
	patch := actTool("patch")
	client, _ := scriptedClient(t,
		scriptStep{resp: callResp("c1", "restart", map[string]any{"target": "pod-a"})},
		scriptStep{resp: callResp("c2", "patch", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c3", true, "patched instead of restarting")},
	)

	engine, err := remedy.New(client, []remedy.Tool{restart, patch},
		remedy.WithConfirm(func(ctx context.Context, call remedy.ToolCall, spec *remedy.ToolSpec) (bool, error) {
			// The operator rejects the restart but allows the patch.
			return call.Name == "patch", nil
		}),
	)
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	gt.True(t, outcome.Resolved)
	gt.A(t, restart.RunCalls()).Length(0)
	gt.A(t, patch.RunCalls()).Length(1)
}

func TestScenarioBudgetExhaustedMidDiagnosis(t *testing.T) {
	inspect := observeTool("inspect")
	n := 0
	session := &mock.SessionMock{
		GenerateContentFunc: func(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
			n++
			return callResp(fmt.Sprintf("c%d", n), "inspect", map[string]any{
				"target": fmt.Sprintf("angle-%d", n),
			}), nil
		},
	}
	client := &mock.LLMClientMock{
		NewSessionFunc: func(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
			return session, nil
		},
	}

	engine, err := remedy.New(client, []remedy.Tool{inspect})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 2})
	gt.NoError(t, err)

	gt.Equal(t, outcome.Reason, remedy.ReasonBudgetExhausted)
	gt.Equal(t, outcome.Iterations, 2)
	gt.False(t, outcome.Resolved)
	gt.S(t, outcome.Summary).Contains("budget")
}

func TestObservationTruncation(t *testing.T) {
	big := make([]byte, 10000)
	for i := range big {
		big[i] = 'x'
	}
	tool := &mock.ToolMock{
		SpecFunc: observeTool("inspect").SpecFunc,
		RunFunc: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"dump": string(big)}, nil
		},
	}

	client, session := scriptedClient(t,
		scriptStep{resp: callResp("c1", "inspect", map[string]any{"target": "pod-a"})},
		scriptStep{resp: finishResp("c2", true, "done")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool},
		remedy.WithObservationLimit(500))
	gt.NoError(t, err)

	_, err = engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	calls := session.GenerateContentCalls()
	resp := gt.Cast[remedy.ToolResponse](t, calls[1].Input[0])
	gt.Equal(t, resp.Data["truncated"], true)
	out := gt.Cast[string](t, resp.Data["output"])
	gt.S(t, out).Contains("... (truncated)")
	gt.True(t, len(out) < 600)
}
