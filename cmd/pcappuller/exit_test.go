package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"pcappuller/internal/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"argument", errors.Argument("bad"), exitArgs},
		{"time parse", errors.Newf(errors.TimeParse, "bad time"), exitTime},
		{"window range", errors.Newf(errors.WindowRange, "crosses midnight"), exitRange},
		{"os error", errors.Filesystem("workspace", stderrors.New("ENOSPC"), false), exitOSError},
		{"missing tool", errors.MissingTool("mergecap"), exitTool},
		{"tool failed", errors.ToolExit("editcap", 1, "", nil), exitTool},
		{"cancelled", errors.Canceled("precise", context.Canceled), exitCancelled},
		{"wrapped", fmt.Errorf("pull: %w", errors.Argument("bad")), exitArgs},
		{"plain", stderrors.New("boom"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintError_Hints(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, errors.Filesystem("create temporary workspace", stderrors.New("no space left on device"), false))

	out := buf.String()
	if !strings.HasPrefix(out, "Error: [OS_ERROR] create temporary workspace") {
		t.Errorf("unexpected first line: %q", out)
	}
	if !strings.Contains(out, "hint: Provide a larger temp location with --tmpdir") {
		t.Errorf("missing --tmpdir hint: %q", out)
	}

	buf.Reset()
	printError(&buf, stderrors.New("boom"))
	if buf.String() != "Error: boom\n" {
		t.Errorf("plain error output = %q", buf.String())
	}
}
