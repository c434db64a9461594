package openai

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

// perMessageOverhead approximates the tokens the chat format adds around
// each message (role markers and separators).
const perMessageOverhead = 4

// CountToken estimates how many prompt tokens the session currently holds
// plus the given inputs, using local tiktoken encoding without an API call.
// Callers use it to decide when a run is about to outgrow the context
// window.
func (s *Session) CountToken(ctx context.Context, input ...remedy.Input) (int, error) {
	encoding, err := tiktoken.EncodingForModel(s.defaultModel)
	if err != nil {
		// Compatible endpoints serve models tiktoken does not know;
		// cl100k_base is the closest general-purpose encoding.
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, goerr.Wrap(err, "failed to get encoding")
		}
	}

	newMessages, err := convertInputs(input...)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to convert inputs for token counting")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(s.messages)+len(newMessages))
	messages = append(messages, s.messages...)
	messages = append(messages, newMessages...)

	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(encoding.Encode(msg.Content, nil, nil))
		for _, tc := range msg.ToolCalls {
			total += len(encoding.Encode(tc.Function.Name, nil, nil))
			total += len(encoding.Encode(tc.Function.Arguments, nil, nil))
		}
	}
	return total, nil
}
