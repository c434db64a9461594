package remedy

import (
	"fmt"
	"sort"
	"strings"
)

// Incident is the problem statement a run starts from. The monitor fills
// the workload fields from its detection; operator-initiated runs may carry
// only a description.
type Incident struct {
	// Description is the free-text problem statement.
	Description string

	// Workload coordinates, empty when unknown.
	Namespace string
	Pod       string
	Container string

	// Reason is the container state that triggered detection, e.g.
	// CrashLoopBackOff.
	Reason string

	// RestartCount at detection time.
	RestartCount int

	// Facts carries additional initial observations as key/value pairs.
	Facts map[string]string
}

const systemPromptBase = `You are a site reliability engineer operating a Kubernetes cluster.
You diagnose and remediate unhealthy workloads.

Work in small steps: inspect before you change anything, prefer the least
invasive remediation that addresses the root cause, and verify the effect of
every change. Request one or, at most, a few related tool calls per step.
Tool failures are observations: read the error, adjust, and try another way.
Mutating actions may be declined by the operator or suppressed by dry-run
policy; when that happens, propose an alternative or conclude with a
recommendation instead of repeating the request.

When the problem is resolved, or you cannot make further progress, call the
finish tool with an honest resolved flag and a concise summary. Never invent
tool results.`

// systemPrompt assembles the session system prompt. Extra context from the
// operator's configuration is appended after the base instructions.
func systemPrompt(extra string) string {
	if extra == "" {
		return systemPromptBase
	}
	return systemPromptBase + "\n\nAdditional operator context:\n" + extra
}

// problemPrompt renders the incident as the opening user message.
func (in Incident) problemPrompt() string {
	var sb strings.Builder
	sb.WriteString("Investigate and remediate the following problem.\n")

	if in.Description != "" {
		fmt.Fprintf(&sb, "\nProblem: %s\n", in.Description)
	}
	if in.Pod != "" {
		fmt.Fprintf(&sb, "Pod: %s\n", in.Pod)
	}
	if in.Namespace != "" {
		fmt.Fprintf(&sb, "Namespace: %s\n", in.Namespace)
	}
	if in.Container != "" {
		fmt.Fprintf(&sb, "Container: %s\n", in.Container)
	}
	if in.Reason != "" {
		fmt.Fprintf(&sb, "Observed state: %s\n", in.Reason)
	}
	if in.RestartCount > 0 {
		fmt.Fprintf(&sb, "Restart count: %d\n", in.RestartCount)
	}

	if len(in.Facts) > 0 {
		sb.WriteString("\nInitial facts:\n")
		keys := make([]string, 0, len(in.Facts))
		for k := range in.Facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, in.Facts[k])
		}
	}

	return sb.String()
}

// short labels the incident for logs and metrics.
func (in Incident) short() string {
	switch {
	case in.Pod != "" && in.Namespace != "":
		return in.Namespace + "/" + in.Pod
	case in.Description != "":
		return truncate(in.Description, 80)
	default:
		return "unspecified incident"
	}
}

const toolCallReminder = `You responded without a tool call. Every step must be a tool call. Continue the investigation with a tool, or conclude by calling finish with resolved and summary.`

const malformedCallGuidance = `Your last tool call could not be parsed. Re-issue it as a single well-formed call: a JSON object with a "name" field naming one available tool and an "arguments" object matching its schema.`
