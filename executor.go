package remedy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 60 * time.Second

// Executor binds tool names to their implementations and runs them. It
// never lets a tool failure escape as an error: failures are classified
// into the ToolResult error kinds. The only error it returns is the
// internal wiring defect class, which aborts the run.
type Executor struct {
	bindings map[string]Tool
	timeout  time.Duration
}

// NewExecutor builds the dispatch table. Duplicate names are a
// construction error, mirroring the registry.
func NewExecutor(tools []Tool, timeout time.Duration) (*Executor, error) {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}

	bindings := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		name := tool.Spec().Name
		if _, ok := bindings[name]; ok {
			return nil, goerr.Wrap(ErrToolNameConflict, "tool name is duplicated", goerr.V("tool_name", name))
		}
		bindings[name] = tool
	}

	return &Executor{bindings: bindings, timeout: timeout}, nil
}

// Invoke runs one tool call and returns its classified result. The
// returned error is non-nil only for the wiring defect class: a name with
// no bound implementation, or a panic inside a tool.
func (x *Executor) Invoke(ctx context.Context, call ToolCall) (result *ToolResult, runErr error) {
	tool, ok := x.bindings[call.Name]
	if !ok {
		return nil, goerr.Wrap(ErrInternalWiring, "tool has no bound implementation",
			goerr.V("tool_name", call.Name), goerr.V("call_id", call.ID))
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			runErr = goerr.Wrap(ErrInternalWiring, "tool implementation panicked",
				goerr.V("tool_name", call.Name), goerr.V("panic", fmt.Sprintf("%v", r)))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	logger := LoggerFromContext(ctx)
	started := time.Now()
	data, err := tool.Run(runCtx, call.Arguments)
	elapsed := time.Since(started)

	result = &ToolResult{CallID: call.ID, Name: call.Name}
	if err != nil {
		result.Err = classify(err)
		logger.Debug("tool failed",
			"tool", call.Name, "kind", result.Err.Kind, "elapsed", elapsed, "error", err)
		return result, nil
	}

	// Round-trip through JSON so unencodable payloads surface here rather
	// than when the observation is rendered.
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			result.Err = &ToolError{Kind: ErrKindUnknown, Message: fmt.Sprintf("tool returned unencodable result: %v", err)}
			return result, nil
		}
		var clean map[string]any
		if err := json.Unmarshal(raw, &clean); err != nil {
			result.Err = &ToolError{Kind: ErrKindUnknown, Message: fmt.Sprintf("tool returned undecodable result: %v", err)}
			return result, nil
		}
		data = clean
	}

	result.Data = data
	logger.Debug("tool succeeded", "tool", call.Name, "elapsed", elapsed)
	return result, nil
}

// classify maps a tool error onto an ErrorKind: error tags first, then the
// context errors a timeout produces.
func classify(err error) *ToolError {
	kind := ErrKindUnknown
	switch {
	case goerr.HasTag(err, TagTimeout) || errors.Is(err, context.DeadlineExceeded):
		kind = ErrKindTimeout
	case goerr.HasTag(err, TagPermissionDenied):
		kind = ErrKindPermissionDenied
	case goerr.HasTag(err, TagNotFound):
		kind = ErrKindNotFound
	case goerr.HasTag(err, TagTransient):
		kind = ErrKindTransient
	}
	return &ToolError{Kind: kind, Message: err.Error()}
}
