package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/m-mizutani/remedy"
)

// terminalConfirm builds the confirm-each decision function: print the
// proposed action and read a yes/no answer. A non-interactive stdin
// declines everything, since blocking on a prompt nobody can answer
// would hang the run.
func terminalConfirm(in *os.File, out io.Writer) remedy.ConfirmFunc {
	reader := bufio.NewReader(in)

	return func(ctx context.Context, call remedy.ToolCall, spec *remedy.ToolSpec) (bool, error) {
		if !term.IsTerminal(int(in.Fd())) {
			fmt.Fprintf(out, "declining %s: stdin is not interactive (use --auto or --dry-run)\n", call.Name)
			return false, nil
		}

		args, err := json.MarshalIndent(call.Arguments, "  ", "  ")
		if err != nil {
			args = fmt.Appendf(nil, "%v", call.Arguments)
		}

		fmt.Fprintf(out, "\nProposed action: %s\n", call.Name)
		if spec != nil && spec.Description != "" {
			fmt.Fprintf(out, "  %s\n", spec.Description)
		}
		fmt.Fprintf(out, "  arguments: %s\n", args)
		fmt.Fprint(out, "Execute? [y/N]: ")

		answer, err := reader.ReadString('\n')
		if err != nil {
			return false, nil
		}

		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
