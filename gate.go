package remedy

import (
	"context"
	"fmt"
)

// GateMode is the safety policy for mutating tool calls.
type GateMode string

const (
	// GateDryRun suppresses execution of mutating tools and synthesizes a
	// success-shaped observation naming the skipped action.
	GateDryRun GateMode = "dry_run"

	// GateConfirmEach suspends before each mutating call and asks the
	// injected confirmation function.
	GateConfirmEach GateMode = "confirm_each"

	// GateAutoRemediate lets mutating calls through without confirmation.
	GateAutoRemediate GateMode = "auto_remediate"
)

// GateDecision is the verdict for one proposed call.
type GateDecision int

const (
	// GateApproved means the call proceeds to execution.
	GateApproved GateDecision = iota

	// GateDeclined means the call must not execute. The engine appends a
	// declined failure observation so the model can adapt.
	GateDeclined

	// GateSimulated means the call must not execute, but the model gets a
	// synthetic observation describing what would have run.
	GateSimulated
)

// ConfirmFunc is the external decision channel for GateConfirmEach. It is
// called with the proposed call and returns whether to proceed. The engine
// core performs no terminal I/O; the CLI wires a prompt, tests wire a stub.
type ConfirmFunc func(ctx context.Context, call ToolCall, spec *ToolSpec) (bool, error)

type gate struct {
	mode    GateMode
	confirm ConfirmFunc
}

func newGate(budget RunBudget, confirm ConfirmFunc) *gate {
	mode := GateConfirmEach
	switch {
	case budget.DryRun:
		mode = GateDryRun
	case budget.AutoRemediate:
		mode = GateAutoRemediate
	}
	return &gate{mode: mode, confirm: confirm}
}

// review checks one resolved call against the policy. Only CapabilityAct
// calls are ever held back; observation and termination tools always pass.
func (g *gate) review(ctx context.Context, call ToolCall, spec *ToolSpec) (GateDecision, *ToolError) {
	if spec.Class() != CapabilityAct {
		return GateApproved, nil
	}

	switch g.mode {
	case GateDryRun:
		return GateSimulated, nil

	case GateAutoRemediate:
		return GateApproved, nil

	default:
		if g.confirm == nil {
			return GateDeclined, &ToolError{
				Kind:    ErrKindDeclined,
				Message: "no confirmation channel is wired; run with auto-remediation or dry-run, or describe a read-only approach",
			}
		}
		ok, err := g.confirm(ctx, call, spec)
		if err != nil {
			return GateDeclined, &ToolError{
				Kind:    ErrKindDeclined,
				Message: fmt.Sprintf("confirmation failed: %v", err),
			}
		}
		if !ok {
			return GateDeclined, &ToolError{
				Kind:    ErrKindDeclined,
				Message: fmt.Sprintf("operator declined %s; propose a different action or finish with a recommendation", call.Name),
			}
		}
		return GateApproved, nil
	}
}

// simulated builds the dry-run observation for a suppressed call.
func simulated(call ToolCall) *ToolResult {
	return &ToolResult{
		CallID: call.ID,
		Name:   call.Name,
		Data: map[string]any{
			"dry_run":   true,
			"action":    call.Name,
			"arguments": call.Arguments,
			"note":      "execution suppressed by dry-run policy; assume the action would have been applied",
		},
	}
}
