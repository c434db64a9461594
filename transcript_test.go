package remedy_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/remedy"
)

func TestTranscriptRecordsFullRun(t *testing.T) {
	tool := observeTool("inspect")
	client, _ := scriptedClient(t,
		scriptStep{resp: &remedy.Response{
			Texts:     []string{"checking the pod first"},
			ToolCalls: []*remedy.ToolCall{{ID: "c1", Name: "inspect", Arguments: map[string]any{"target": "pod-a"}}},
		}},
		scriptStep{resp: finishResp("c2", true, "all good")},
	)

	engine, err := remedy.New(client, []remedy.Tool{tool})
	gt.NoError(t, err)

	outcome, err := engine.Run(context.Background(), remedy.Incident{Description: "x"},
		remedy.RunBudget{MaxIterations: 5})
	gt.NoError(t, err)

	turns := outcome.Transcript.Turns()
	kinds := make([]remedy.TurnKind, len(turns))
	for i, turn := range turns {
		kinds[i] = turn.Kind
	}

	gt.Equal(t, kinds, []remedy.TurnKind{
		remedy.TurnSystemContext,
		remedy.TurnUserProblem,
		remedy.TurnAssistantMessage,
		remedy.TurnAssistantToolCall,
		remedy.TurnToolObservation,
		remedy.TurnAssistantToolCall,
		remedy.TurnToolObservation,
	})

	// Call and observation turns carry matching correlation IDs.
	gt.Equal(t, turns[3].CallID, "c1")
	gt.Equal(t, turns[4].CallID, "c1")
	gt.Equal(t, turns[3].ToolName, "inspect")
	gt.S(t, outcome.Transcript.String()).Contains("inspect")
}
