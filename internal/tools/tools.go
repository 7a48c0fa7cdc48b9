// Package tools drives the Wireshark command-line tools that merge, trim,
// filter and inspect capture files.
package tools

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
	"pcappuller/internal/slogutil"
)

// timeLayout is the trim tool's -A/-B timestamp form.
const timeLayout = "2006-01-02 15:04:05"

// maxStderr bounds how much tool stderr is carried into an error.
const maxStderr = 512

// Names are the executables invoked for each role. A name may be a bare
// command looked up on PATH or a path to the binary.
type Names struct {
	Mergecap string
	Editcap  string
	Capinfos string
	Tshark   string
}

// DefaultNames returns the stock Wireshark tool names.
func DefaultNames() Names {
	return Names{
		Mergecap: "mergecap",
		Editcap:  "editcap",
		Capinfos: "capinfos",
		Tshark:   "tshark",
	}
}

func (n Names) withDefaults() Names {
	d := DefaultNames()
	if n.Mergecap == "" {
		n.Mergecap = d.Mergecap
	}
	if n.Editcap == "" {
		n.Editcap = d.Editcap
	}
	if n.Capinfos == "" {
		n.Capinfos = d.Capinfos
	}
	if n.Tshark == "" {
		n.Tshark = d.Tshark
	}
	return n
}

// Requirements selects which optional tools a run needs. Merge and trim are
// always required.
type Requirements struct {
	Bounds        bool
	ContentFilter bool
}

// Status describes one tool for availability reports.
type Status struct {
	Role     string `json:"role"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Found    bool   `json:"found"`
	Required bool   `json:"required"`
}

// Toolchain resolves and runs the external tools.
type Toolchain struct {
	runner     Runner
	names      Names
	searchDirs []string
	logger     *slog.Logger

	mu       sync.Mutex
	resolved map[string]string
}

// New creates a toolchain. logger may be nil.
func New(runner Runner, names Names, logger *slog.Logger) *Toolchain {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Toolchain{
		runner:     runner,
		names:      names.withDefaults(),
		searchDirs: installDirs(),
		logger:     logger,
		resolved:   make(map[string]string),
	}
}

// SetSearchDirs replaces the directories searched when a tool is not on PATH.
func (t *Toolchain) SetSearchDirs(dirs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searchDirs = dirs
	t.resolved = make(map[string]string)
}

// installDirs lists the default Wireshark install locations on Windows.
func installDirs() []string {
	if runtime.GOOS != "windows" {
		return nil
	}
	var dirs []string
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
		if base := os.Getenv(env); base != "" {
			dirs = append(dirs, filepath.Join(base, "Wireshark"))
		}
	}
	if len(dirs) == 0 {
		dirs = []string{`C:\Program Files\Wireshark`, `C:\Program Files (x86)\Wireshark`}
	}
	return dirs
}

// Locate returns the full path of a tool, trying PATH first and then the
// install directories. A missing tool is a ToolNotFound error.
func (t *Toolchain) Locate(name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.resolved[name]; ok {
		return p, nil
	}
	if p, err := t.runner.LookPath(name); err == nil {
		t.resolved[name] = p
		return p, nil
	}
	exe := name
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(exe), ".exe") {
		exe += ".exe"
	}
	for _, dir := range t.searchDirs {
		candidate := filepath.Join(dir, exe)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			t.resolved[name] = candidate
			return candidate, nil
		}
	}
	return "", errors.MissingTool(name)
}

// Ensure checks up front that every tool the run needs is present.
func (t *Toolchain) Ensure(req Requirements) error {
	for _, s := range t.Check(req) {
		if s.Required && !s.Found {
			return errors.MissingTool(s.Name)
		}
	}
	return nil
}

// Check reports the availability of every tool, marking those req needs.
func (t *Toolchain) Check(req Requirements) []Status {
	roles := []struct {
		role     string
		name     string
		required bool
	}{
		{"merge", t.names.Mergecap, true},
		{"trim", t.names.Editcap, true},
		{"bounds", t.names.Capinfos, req.Bounds},
		{"content-filter", t.names.Tshark, req.ContentFilter},
	}
	out := make([]Status, 0, len(roles))
	for _, r := range roles {
		s := Status{Role: r.role, Name: r.name, Required: r.required}
		if p, err := t.Locate(r.name); err == nil {
			s.Path = p
			s.Found = true
		}
		out = append(out, s)
	}
	return out
}

// Merge combines inputs, in order, into out.
func (t *Toolchain) Merge(ctx context.Context, out string, inputs []string) error {
	args := append([]string{"-w", out}, inputs...)
	_, err := t.run(ctx, t.names.Mergecap, args...)
	return err
}

// Trim keeps packets of src between start and end (local wall time) and
// writes them to dst in the given format.
func (t *Toolchain) Trim(ctx context.Context, src, dst string, start, end time.Time, format string) error {
	args := []string{"-A", start.Format(timeLayout), "-B", end.Format(timeLayout)}
	if format != "" {
		args = append(args, "-F", format)
	}
	args = append(args, src, dst)
	_, err := t.run(ctx, t.names.Editcap, args...)
	return err
}

// Filter applies a display filter expression to src, writing dst.
func (t *Toolchain) Filter(ctx context.Context, src, dst, expr, format string) error {
	args := []string{"-r", src, "-Y", expr, "-w", dst}
	if format != "" {
		args = append(args, "-F", format)
	}
	_, err := t.run(ctx, t.names.Tshark, args...)
	return err
}

// Bounds implements bounds.Source with the capinfos tool. A non-zero exit or
// unparsable output leaves the bounds unresolved; only a failure to start the
// tool is returned as an error.
func (t *Toolchain) Bounds(ctx context.Context, path string) (bounds.Bounds, bool, error) {
	stdout, err := t.run(ctx, t.names.Capinfos, "-a", "-e", "-S", path)
	if err != nil {
		if errors.HasCode(err, errors.ToolFailed) {
			return bounds.Bounds{}, false, nil
		}
		return bounds.Bounds{}, false, err
	}
	b, ok := ParseBounds(stdout)
	return b, ok, nil
}

// exitCoder is satisfied by *exec.ExitError and test doubles.
type exitCoder interface {
	ExitCode() int
}

func (t *Toolchain) run(ctx context.Context, name string, args ...string) (string, error) {
	path, err := t.Locate(name)
	if err != nil {
		return "", err
	}

	t.logger.Debug("run", "tool", name, "args", strings.Join(args, " "))
	stdout, stderr, err := t.runner.Run(ctx, path, args...)
	if err != nil {
		var coded exitCoder
		if stderrors.As(err, &coded) {
			return stdout, errors.ToolExit(name, coded.ExitCode(), tail(stderr), err)
		}
		return stdout, errors.New(errors.OSError, "could not run "+name, err)
	}
	return stdout, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxStderr {
		return s
	}
	return "..." + s[len(s)-maxStderr:]
}
