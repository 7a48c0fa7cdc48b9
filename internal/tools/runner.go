package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner abstracts command execution for testability.
type Runner interface {
	// LookPath checks if a binary exists in PATH.
	LookPath(name string) (string, error)

	// Run executes a command and returns its output.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner implements Runner using os/exec.
//
// Cancellation of ctx never interrupts a running tool: the process runs under
// a context detached from the caller's, so callers observe cancellation only
// between invocations. Timeout, when set, still bounds each invocation.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner. A zero timeout means no limit.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// LookPath checks if a binary exists in PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes a command with the C locale and returns its trimmed output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	ctx = context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// MockRunner implements Runner with canned results and records every call.
type MockRunner struct {
	mu       sync.Mutex
	lookPath map[string]string
	commands map[string]mockResult
	calls    [][]string
}

type mockResult struct {
	stdout string
	stderr string
	err    error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		lookPath: make(map[string]string),
		commands: make(map[string]mockResult),
	}
}

// SetLookPath configures the mock to return a path for the given name.
func (m *MockRunner) SetLookPath(name, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookPath[name] = path
}

// SetCommand configures the result for a command. key is either the bare
// command name or the name followed by its space-joined arguments.
func (m *MockRunner) SetCommand(key string, stdout, stderr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[key] = mockResult{stdout: stdout, stderr: stderr, err: err}
}

// Calls returns a copy of every recorded invocation, name first.
func (m *MockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// LookPath implements Runner.
func (m *MockRunner) LookPath(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path, ok := m.lookPath[name]; ok {
		return path, nil
	}
	return "", exec.ErrNotFound
}

// Run implements Runner. Unconfigured commands succeed with empty output.
func (m *MockRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]string{name}, args...))

	if result, ok := m.commands[name+" "+strings.Join(args, " ")]; ok {
		return result.stdout, result.stderr, result.err
	}
	if result, ok := m.commands[name]; ok {
		return result.stdout, result.stderr, result.err
	}
	return "", "", nil
}
