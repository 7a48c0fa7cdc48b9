// Package progress defines the observer used by long-running stages.
package progress

// Phase names reported to a Func.
const (
	Precise       = "precise"
	MergeBatches  = "merge-batches"
	Combine       = "combine"
	Trim          = "trim"
	ContentFilter = "content-filter"
	Compress      = "compress"
)

// Func observes stage progress. Within one invocation of a stage, completed
// never decreases. Implementations must not block; delivery is at least once.
type Func func(phase string, completed, total int)

// Report calls f when it is non-nil.
func (f Func) Report(phase string, completed, total int) {
	if f != nil {
		f(phase, completed, total)
	}
}
