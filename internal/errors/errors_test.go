package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")
	fixes := []FixAction{{Type: RunCommand, Command: "pcappuller tools"}}

	err := New(ToolNotFound, "mergecap not found", cause, fixes...)

	if err.Code != ToolNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ToolNotFound)
	}
	if err.Message != "mergecap not found" {
		t.Errorf("Message = %q, want %q", err.Message, "mergecap not found")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestPullError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      OSError,
			message:   "create workspace",
			cause:     errors.New("no space left on device"),
			wantParts: []string{"OS_ERROR", "create workspace", "no space left on device"},
		},
		{
			name:      "without cause",
			code:      InvalidArgument,
			message:   "batch size must be >= 1",
			wantParts: []string{"INVALID_ARGUMENT", "batch size must be >= 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, missing %q", got, part)
				}
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), InternalError},
		{"direct", Argument("bad"), InvalidArgument},
		{"wrapped", fmt.Errorf("outer: %w", MissingTool("tshark")), ToolNotFound},
		{"cancelled", Canceled("precise", context.Canceled), Cancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilesystemHint(t *testing.T) {
	withHint := Filesystem("create workspace", errors.New("ENOSPC"), false)
	if !strings.Contains(withHint.Hint(), "--tmpdir") {
		t.Errorf("Hint() = %q, want --tmpdir suggestion", withHint.Hint())
	}

	withoutHint := Filesystem("create workspace", errors.New("ENOSPC"), true)
	if withoutHint.Hint() != "" {
		t.Errorf("Hint() = %q, want empty when a temp dir was configured", withoutHint.Hint())
	}
}

func TestToolExit(t *testing.T) {
	err := ToolExit("editcap", 2, "bad time", nil)
	if err.Code != ToolFailed {
		t.Errorf("Code = %v, want %v", err.Code, ToolFailed)
	}
	if !strings.Contains(err.Message, "editcap exited with status 2: bad time") {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	if fixes := GetSuggestedFixes(ToolNotFound); len(fixes) == 0 {
		t.Error("ToolNotFound should have suggested fixes")
	}
	if fixes := GetSuggestedFixes(InternalError); fixes != nil {
		t.Errorf("InternalError fixes = %v, want nil", fixes)
	}
}
