package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ExitError is a non-zero tool exit produced by FakeRunner.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("%s: exit status %d", e.Tool, e.Code) }

// ExitCode returns the exit status.
func (e *ExitError) ExitCode() int { return e.Code }

// FakeRunner emulates the Wireshark tools on CaptureTree fixtures:
// mergecap concatenates its inputs, editcap and tshark copy their input, and
// capinfos prints the bounds recorded in the fixture. It records every call.
type FakeRunner struct {
	mu      sync.Mutex
	missing map[string]bool
	fail    map[string]int
	calls   [][]string

	// BeforeBounds, when set, runs at the start of each capinfos call.
	BeforeBounds func(path string)
}

// NewFakeRunner creates a runner where every tool is installed.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{missing: map[string]bool{}, fail: map[string]int{}}
}

// Uninstall makes LookPath fail for tool.
func (f *FakeRunner) Uninstall(tool string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[tool] = true
}

// FailWith makes every invocation of tool exit with code.
func (f *FakeRunner) FailWith(tool string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[tool] = code
}

// Calls returns recorded invocations as tool name followed by arguments.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded invocations of one tool.
func (f *FakeRunner) CallsTo(tool string) [][]string {
	var out [][]string
	for _, c := range f.Calls() {
		if c[0] == tool {
			out = append(out, c)
		}
	}
	return out
}

// LookPath implements tools.Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[toolName(name)] {
		return "", exec.ErrNotFound
	}
	return name, nil
}

// Run implements tools.Runner.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	tool := toolName(name)

	f.mu.Lock()
	f.calls = append(f.calls, append([]string{tool}, args...))
	code, failing := f.fail[tool]
	hook := f.BeforeBounds
	f.mu.Unlock()

	if tool == "capinfos" && hook != nil && len(args) > 0 {
		hook(args[len(args)-1])
	}
	if failing {
		return "", tool + ": simulated failure", &ExitError{Tool: tool, Code: code}
	}

	switch tool {
	case "mergecap":
		return "", "", merge(args)
	case "editcap":
		if len(args) < 2 {
			return "", "usage", &ExitError{Tool: tool, Code: 1}
		}
		return "", "", copyFile(args[len(args)-2], args[len(args)-1])
	case "tshark":
		src, dst := flagValue(args, "-r"), flagValue(args, "-w")
		return "", "", copyFile(src, dst)
	case "capinfos":
		path := args[len(args)-1]
		first, last, ok := readBounds(path)
		if !ok {
			return "", "capinfos: The file isn't a capture file in a format capinfos understands.", &ExitError{Tool: tool, Code: 2}
		}
		out := fmt.Sprintf("File name:           %s\nFirst packet time:   %s\nLast packet time:    %s\n",
			path, formatEpoch(first), formatEpoch(last))
		return strings.TrimSpace(out), "", nil
	}
	return "", "", &ExitError{Tool: tool, Code: 127}
}

func toolName(name string) string {
	return strings.TrimSuffix(filepath.Base(name), ".exe")
}

func flagValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func merge(args []string) error {
	out := flagValue(args, "-w")
	if out == "" || len(args) < 3 {
		return &ExitError{Tool: "mergecap", Code: 1}
	}
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()
	for _, in := range args[2:] {
		src, err := os.Open(in)
		if err != nil {
			return &ExitError{Tool: "mergecap", Code: 2}
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &ExitError{Tool: "copy", Code: 2}
	}
	return os.WriteFile(dst, data, 0o644)
}
