package remedy

import (
	"context"
	"strconv"
	"strings"
)

// FinishToolName is the termination tool every run carries. Calling it is
// the only way a model can declare the problem resolved.
const FinishToolName = "finish"

// finishTool is the CapabilityTerminate tool in the catalog. The engine
// intercepts its calls before dispatch, so Run only serves direct callers
// such as tests.
type finishTool struct{}

func (t *finishTool) Spec() *ToolSpec {
	return &ToolSpec{
		Name:        FinishToolName,
		Description: "Conclude the run. Call this once the problem is resolved, or when you cannot make further progress, with an honest resolved flag and a short summary of findings and actions taken.",
		Capability:  CapabilityTerminate,
		Parameters: map[string]*Parameter{
			"resolved": {
				Type:        TypeBoolean,
				Description: "True only if the problem is confirmed fixed",
			},
			"summary": {
				Type:        TypeString,
				Description: "What was found, what was done, and the outcome",
			},
		},
		Required: []string{"resolved", "summary"},
	}
}

func (t *finishTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"status": "concluded"}, nil
}

// finishState records the conclusion of a run once the finish tool fires.
type finishState struct {
	done     bool
	resolved bool
	summary  string
}

func (f *finishState) capture(args map[string]any) {
	f.done = true
	f.resolved = coerceBool(args["resolved"])
	f.summary, _ = args["summary"].(string)
	if f.summary == "" {
		f.summary = "run concluded without a summary"
	}
}

// coerceBool accepts the encodings models actually produce for booleans:
// native bools, "true"/"false" strings, and 0/1 numbers.
func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(t)))
		return err == nil && parsed
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}
