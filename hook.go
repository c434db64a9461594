package remedy

import "context"

type (
	// LoopHook is called at the start of every reasoning cycle with the
	// 1-origin iteration number.
	LoopHook func(ctx context.Context, iteration int) error

	// MessageHook is called for each plain text message from the model.
	MessageHook func(ctx context.Context, msg string) error

	// ToolRequestHook is called before a tool is dispatched.
	ToolRequestHook func(ctx context.Context, call ToolCall) error

	// ToolResponseHook is called after a tool ran successfully.
	ToolResponseHook func(ctx context.Context, call ToolCall, response map[string]any) error

	// ToolErrorHook is called when a tool failed, was declined, or was
	// rejected by argument validation.
	ToolErrorHook func(ctx context.Context, err error, call ToolCall) error
)

func defaultLoopHook(ctx context.Context, iteration int) error {
	return nil
}

func defaultMessageHook(ctx context.Context, msg string) error {
	return nil
}

func defaultToolRequestHook(ctx context.Context, call ToolCall) error {
	return nil
}

func defaultToolResponseHook(ctx context.Context, call ToolCall, response map[string]any) error {
	return nil
}

func defaultToolErrorHook(ctx context.Context, err error, call ToolCall) error {
	return nil
}
