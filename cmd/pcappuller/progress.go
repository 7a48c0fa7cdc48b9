package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const progressInterval = 100 * time.Millisecond

// progressPrinter renders stage progress on stderr. On a terminal it redraws
// one line per phase; otherwise it prints a line when a phase starts and
// when it completes.
type progressPrinter struct {
	w        io.Writer
	tty      bool
	disabled bool

	mu     sync.Mutex
	phase  string
	last   time.Time
	active bool
}

func newProgressPrinter(f *os.File, quiet bool) *progressPrinter {
	return &progressPrinter{
		w:        f,
		tty:      isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
		disabled: quiet,
	}
}

// Report implements progress.Func.
func (p *progressPrinter) Report(phase string, completed, total int) {
	if p.disabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	changed := phase != p.phase
	final := completed >= total
	if !changed && !final && now.Sub(p.last) < progressInterval {
		return
	}

	line := fmt.Sprintf("%-14s %d/%d", phase, completed, total)
	if total > 0 {
		line += fmt.Sprintf(" (%d%%)", completed*100/total)
	}

	if p.tty {
		if changed && p.active {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintf(p.w, "\r%s", line)
		p.active = true
	} else if changed || final {
		fmt.Fprintln(p.w, line)
	}
	p.phase, p.last = phase, now
}

// Done ends the current terminal line.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.active {
		fmt.Fprintln(p.w)
		p.active = false
	}
}
