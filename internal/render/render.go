// Package render holds the process-wide color/detailed flags the
// service's option-change handler writes to (§9: "global rendering
// flags are process-wide state set exclusively by the option-change
// handlers; pass them explicitly to renderers instead of relying on
// ambient state where feasible"). Keeping them behind a struct instead
// of package-level vars lets the CLI pass one instance into its
// renderer explicitly rather than reading a global.
package render

import "sync/atomic"

// Flags is a pair of booleans safe for concurrent read/write.
type Flags struct {
	color    atomic.Bool
	detailed atomic.Bool
}

// New returns a Flags with both fields false, matching the options
// registry's own defaults (§3).
func New() *Flags {
	return &Flags{}
}

func (f *Flags) Color() bool    { return f.color.Load() }
func (f *Flags) Detailed() bool { return f.detailed.Load() }

func (f *Flags) SetColor(v bool)    { f.color.Store(v) }
func (f *Flags) SetDetailed(v bool) { f.detailed.Store(v) }
