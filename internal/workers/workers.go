// Package workers decides how many concurrent bounds-tool invocations a run uses.
package workers

import (
	"runtime"
	"strconv"
	"strings"

	"pcappuller/internal/errors"
)

const (
	// Min and Max clamp every resolved count.
	Min = 1
	Max = 64

	autoFloor    = 4
	autoCap      = 32
	autoCapLarge = 16

	// LargeCandidateSet is the candidate count at which auto sizing
	// backs off to protect slow or remote storage.
	LargeCandidateSet = 2000
)

// Auto is the requested value selecting automatic sizing.
const Auto = "auto"

// Resolve turns a requested worker count ("auto" or an integer) into the
// pool size for a candidate set of the given size. It performs no I/O.
func Resolve(requested string, candidates int) (int, error) {
	req := strings.TrimSpace(requested)
	if req == "" || strings.EqualFold(req, Auto) {
		return clamp(auto(runtime.NumCPU(), candidates)), nil
	}
	n, err := strconv.Atoi(req)
	if err != nil {
		return 0, errors.Argument("workers must be 'auto' or an integer, got %q", requested)
	}
	return clamp(n), nil
}

func auto(cpus, candidates int) int {
	n := 2 * cpus
	if n < autoFloor {
		n = autoFloor
	}
	limit := autoCap
	if candidates >= LargeCandidateSet {
		limit = autoCapLarge
	}
	if n > limit {
		n = limit
	}
	return n
}

func clamp(n int) int {
	if n < Min {
		return Min
	}
	if n > Max {
		return Max
	}
	return n
}

// Half sizes the aggregation pools, which run alongside other work.
func Half(n int) int {
	if n/2 < 1 {
		return 1
	}
	return n / 2
}
