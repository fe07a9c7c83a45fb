// Package chain describes the external ROP-chain code generator
// collaborator (§6). Concrete per-architecture chain generators are
// out of scope for this service (§1); CreateRopChain only needs to
// find one, hand it the loaded gadgets, and surface UnsupportedChain
// when none exists.
package chain

import (
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
)

// MessageFunc reports human-readable progress while a chain is being
// assembled (§6 "progress_cb").
type MessageFunc func(message string)

// Generator builds the textual representation of one named chain
// (e.g. "execve", "mprotect") for the architecture it was obtained
// for.
type Generator interface {
	Create(options map[string]string) (string, error)
}

// Provider resolves a (loader set, chain name) pair to a Generator.
// It returns (nil, nil) when the architecture/chain combination has
// no support yet — the caller turns that into UnsupportedChain.
type Provider interface {
	Get(loaders []loader.Loader, gadgetsPerLoader map[loader.Loader][]*gadget.Gadget, chainName string, progress MessageFunc, badbytes string) (Generator, error)
}
