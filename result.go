package remedy

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a tool failure for the model and for the outcome
// record. Every kind is recoverable: the run continues with the failure as
// an observation.
type ErrorKind string

const (
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindPermissionDenied ErrorKind = "permission_denied"
	ErrKindNotFound         ErrorKind = "not_found"
	ErrKindTransient        ErrorKind = "transient"
	ErrKindDeclined         ErrorKind = "declined"
	ErrKindSchema           ErrorKind = "schema"
	ErrKindUnknown          ErrorKind = "unknown"
)

// ToolError is a classified tool failure.
type ToolError struct {
	Kind    ErrorKind
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ToolResult is the outcome of one tool call: either a data payload or a
// classified failure. Both shapes become an observation.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Name is the tool name.
	Name string

	// Data is the result payload on success.
	Data map[string]any

	// Err is set instead of Data on failure.
	Err *ToolError
}

// Failed reports whether the call ended in a classified failure.
func (r *ToolResult) Failed() bool {
	return r.Err != nil
}

// Observation renders the result as transcript text. Successful payloads
// are compact JSON so the record stays machine-readable.
func (r *ToolResult) Observation() string {
	if r.Err != nil {
		return fmt.Sprintf("error (%s): %s", r.Err.Kind, r.Err.Message)
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprintf("%v", r.Data)
	}
	return string(raw)
}

// response converts the result into the session input that carries the
// observation back to the model.
func (r *ToolResult) response() ToolResponse {
	resp := ToolResponse{
		ID:   r.CallID,
		Name: r.Name,
		Data: r.Data,
	}
	if r.Err != nil {
		resp.Error = r.Err
	}
	return resp
}
