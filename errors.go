package remedy

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidTool is returned when a tool specification is broken,
	// e.g. empty name or an inconsistent parameter schema.
	ErrInvalidTool = errors.New("invalid tool specification")

	// ErrInvalidParameter is returned when a parameter specification is broken.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrToolNameConflict is returned when two tools register the same name.
	ErrToolNameConflict = errors.New("tool name conflict")

	// ErrUnknownTool is returned when the model requests a tool that is not
	// in the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrMalformedToolCall is returned by a session when the model emitted
	// tool-call syntax that could not be parsed. The engine answers it with a
	// corrective instruction instead of failing the run.
	ErrMalformedToolCall = errors.New("malformed tool call")

	// ErrInternalWiring marks a defect inside the engine itself: a tool that
	// validated against the catalog but has no bound implementation, or a
	// panic inside a tool. It is the only error class that aborts a run.
	ErrInternalWiring = errors.New("internal tool wiring defect")

	// ErrInvalidInputSchema is returned when an MCP server announces a tool
	// with a schema this package cannot represent.
	ErrInvalidInputSchema = errors.New("invalid input schema")
)

// Error tags let tool backends classify their failures without the engine
// knowing anything about the backend API. The executor maps tags to
// ToolResult error kinds.
var (
	TagTimeout          = goerr.NewTag("timeout")
	TagPermissionDenied = goerr.NewTag("permission_denied")
	TagNotFound         = goerr.NewTag("not_found")
	TagTransient        = goerr.NewTag("transient")
)
