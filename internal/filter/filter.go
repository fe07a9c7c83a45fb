// Package filter implements C4 (§4.4): the two-pass pipeline that
// turns a file's raw gadget set into its derived view — bad-byte
// filtering, then duplicate elimination. Mirrors
// ropper.service.filterBadBytes/deleteDuplicates (original_source),
// generalized to Go's two-distinct-input-types split per §9's
// "heterogeneous returns become two distinct operations" note.
package filter

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/badbytes"
	"ropsvc/internal/gadget"
	"ropsvc/internal/progress"
	"ropsvc/internal/rerr"
)

// ApplyBadBytes rejects every gadget whose address (little-endian,
// pointerWidth bytes) contains a byte from the hex string badHex.
// Preconditions on badHex match §4.4: even length, hex characters
// only, surfaced as BadBytesMalformed.
func ApplyBadBytes(gadgets []*gadget.Gadget, pointerWidth int, badHex string) ([]*gadget.Gadget, error) {
	if badHex == "" {
		return gadgets, nil
	}
	forbidden, err := badbytes.Decode(badHex)
	if err != nil {
		return nil, err
	}
	out := make([]*gadget.Gadget, 0, len(gadgets))
	for _, g := range gadgets {
		if !g.ContainsBadByte(pointerWidth, forbidden) {
			out = append(out, g)
		}
	}
	return out, nil
}

// ApplyBadBytesMap is the mapping-input counterpart of ApplyBadBytes,
// used by the orchestrator's specialized searches (§4.5) which return
// file-name -> gadgets.
func ApplyBadBytesMap(byFile map[string][]*gadget.Gadget, pointerWidth int, badHex string) (map[string][]*gadget.Gadget, error) {
	if badHex == "" {
		return byFile, nil
	}
	out := make(map[string][]*gadget.Gadget, len(byFile))
	for name, gadgets := range byFile {
		filtered, err := ApplyBadBytes(gadgets, pointerWidth, badHex)
		if err != nil {
			return nil, err
		}
		out[name] = filtered
	}
	return out, nil
}

// Deduplicate keeps the first gadget with each distinct fingerprint in
// input order and drops the rest (§4.4, §9 "gadget identity for dedup
// uses textual fingerprint"). The seen-set is keyed by a blake2b hash
// of the fingerprint rather than the fingerprint string itself — an
// alternative implementation §9 explicitly allows ("hash the
// decoded-instruction tuple for speed as long as equivalence is
// preserved"), and a fixed-width hash key is cheaper to compare and
// store than an arbitrarily long instruction string once a binary
// yields hundreds of thousands of candidates.
func Deduplicate(gadgets []*gadget.Gadget, onProgress progress.DedupFunc) (out []*gadget.Gadget, err error) {
	if onProgress != nil {
		defer func() {
			if r := recover(); r != nil {
				out = nil
				err = rerr.WrapSubscriberFailed(fmt.Errorf("%v", r))
			}
		}()
	}

	seen := make(map[[32]byte]struct{}, len(gadgets))
	out = make([]*gadget.Gadget, 0, len(gadgets))

	total := len(gadgets)
	for i, g := range gadgets {
		key := blake2b.Sum256([]byte(g.Fingerprint()))
		wasAdded := false
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			out = append(out, g)
			wasAdded = true
		}
		if onProgress != nil {
			fraction := 1.0
			if total > 1 {
				fraction = float64(i) / float64(total-1)
			}
			onProgress(g, wasAdded, fraction)
		}
	}
	return out, nil
}

// Prepare runs the full pipeline: bad-byte filtering, then (unless
// all is true) de-duplication, exactly the order §4.4 specifies.
func Prepare(gadgets []*gadget.Gadget, arch archdesc.Architecture, badHex string, all bool, onDedup progress.DedupFunc) ([]*gadget.Gadget, error) {
	filtered, err := ApplyBadBytes(gadgets, arch.PointerWidth(), badHex)
	if err != nil {
		return nil, err
	}
	if all {
		return filtered, nil
	}
	return Deduplicate(filtered, onDedup)
}
