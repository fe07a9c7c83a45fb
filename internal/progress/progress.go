// Package progress defines the optional subscriber bundle the service
// orchestrator (C5) reports through (§4.5, §5): gadget-scan progress,
// dedup progress, and chain-assembly messages. Subscribers are
// best-effort notifications; §5 requires a panicking subscriber to
// abort the enclosing operation rather than be swallowed.
package progress

import "ropsvc/internal/gadget"

// GadgetScanFunc is invoked once per candidate gadget the scanner
// emits, in enumeration order (§4.3).
type GadgetScanFunc func(g *gadget.Gadget, index, total int)

// DedupFunc is invoked once per gadget the dedup pass considers
// (§4.4), reporting whether it was kept and how far through the pass
// we are.
type DedupFunc func(g *gadget.Gadget, wasAdded bool, fraction float64)

// ChainMessageFunc reports progress while a ROP chain is assembled
// (§6).
type ChainMessageFunc func(message string)

// Subscribers bundles every progress hook the orchestrator accepts.
// A nil field means "no progress reporting" for that channel (§9).
type Subscribers struct {
	GadgetScan   GadgetScanFunc
	Dedup        DedupFunc
	ChainMessage ChainMessageFunc
}
