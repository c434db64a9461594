package remedy

import (
	"fmt"
	"strings"
	"time"
)

// TurnKind identifies what a transcript turn records.
type TurnKind string

const (
	// TurnSystemContext is the system prompt the run started with.
	TurnSystemContext TurnKind = "system_context"

	// TurnUserProblem is the problem statement and initial facts.
	TurnUserProblem TurnKind = "user_problem"

	// TurnAssistantMessage is free text from the model.
	TurnAssistantMessage TurnKind = "assistant_message"

	// TurnAssistantToolCall is one tool call requested by the model.
	TurnAssistantToolCall TurnKind = "assistant_tool_call"

	// TurnToolObservation is the result of one tool call. Every dispatched
	// call gets exactly one observation before the next model request.
	TurnToolObservation TurnKind = "tool_observation"

	// TurnGuidance is a corrective instruction injected by the engine, e.g.
	// after a malformed tool call or a tool-less reply.
	TurnGuidance TurnKind = "guidance"
)

// Turn is one entry of a run transcript.
type Turn struct {
	Kind TurnKind  `json:"kind"`
	At   time.Time `json:"at"`

	// ToolName and CallID are set for tool call and observation turns.
	ToolName string `json:"tool_name,omitempty"`
	CallID   string `json:"call_id,omitempty"`

	// Content is the rendered text of the turn.
	Content string `json:"content"`
}

// Transcript is the ordered audit record of a run. It is owned by a single
// run and is not safe for concurrent mutation.
type Transcript struct {
	turns []Turn
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) append(kind TurnKind, content string) {
	t.turns = append(t.turns, Turn{Kind: kind, At: time.Now(), Content: content})
}

func (t *Transcript) appendCall(call ToolCall, rendered string) {
	t.turns = append(t.turns, Turn{
		Kind:     TurnAssistantToolCall,
		At:       time.Now(),
		ToolName: call.Name,
		CallID:   call.ID,
		Content:  rendered,
	})
}

func (t *Transcript) appendObservation(result *ToolResult, rendered string) {
	t.turns = append(t.turns, Turn{
		Kind:     TurnToolObservation,
		At:       time.Now(),
		ToolName: result.Name,
		CallID:   result.CallID,
		Content:  rendered,
	})
}

// Turns returns a copy of the recorded turns.
func (t *Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of recorded turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// String renders the transcript for human review.
func (t *Transcript) String() string {
	var sb strings.Builder
	for _, turn := range t.turns {
		switch turn.Kind {
		case TurnAssistantToolCall, TurnToolObservation:
			fmt.Fprintf(&sb, "[%s] %s: %s\n", turn.Kind, turn.ToolName, turn.Content)
		default:
			fmt.Fprintf(&sb, "[%s] %s\n", turn.Kind, turn.Content)
		}
	}
	return sb.String()
}

// truncate clamps s to limit bytes, marking the cut. A limit of zero or
// less disables truncation.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}
