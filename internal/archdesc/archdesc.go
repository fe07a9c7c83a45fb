// Package archdesc describes the external architecture-descriptor
// collaborator (§6): identity/equality by canonical name, pointer
// width, endianness, and a pattern searcher. Concrete architectures
// (x86-64, ARM64, ...) are supplied by the caller; this package only
// states the contract the rest of the service depends on.
package archdesc

import "ropsvc/internal/gadget"

// Endianness of an architecture's integer encoding.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// Searcher compiles gadget search patterns and data-section string
// patterns for one architecture.
type Searcher interface {
	// Search returns every gadget in gadgets whose textual form
	// matches pattern. quality is architecture-defined (lower is
	// better); nil means "any quality".
	Search(gadgets []*gadget.Gadget, pattern string, quality *int) []*gadget.Gadget

	// PrepareFilter normalizes a user-supplied string-search pattern
	// into the regular expression actually used to scan data
	// sections.
	PrepareFilter(pattern string) (string, error)
}

// TerminatorPattern is one architecture-specific byte pattern the
// scanner (§4.3) looks for to end a candidate gadget: a return-like
// instruction (rop), an indirect branch (jop), or a syscall-like
// instruction (sys). Mask has the same length as Bytes; a 0 bit in
// Mask means "don't care" for that bit of the corresponding byte,
// which lets one pattern cover register variants of an opcode.
type TerminatorPattern struct {
	Kind  gadget.Kind
	Bytes []byte
	Mask  []byte
}

// Match reports whether data begins with an occurrence of the
// pattern.
func (p TerminatorPattern) Match(data []byte) bool {
	if len(data) < len(p.Bytes) {
		return false
	}
	for i, want := range p.Bytes {
		mask := byte(0xff)
		if i < len(p.Mask) {
			mask = p.Mask[i]
		}
		if data[i]&mask != want&mask {
			return false
		}
	}
	return true
}

// Architecture is the external architecture-descriptor collaborator.
// Two descriptors are equivalent iff their CanonicalName matches;
// every loader handle in one service must share one CanonicalName
// (§3 invariant). InstructionAlignment and MaxInstructionBytes and
// TerminatorPatterns are architecture properties the scanner (§4.3)
// needs to bound its backward-decode search; §6 only sketches the
// descriptor's behavioral surface, so these are stated here as the
// minimal extra facts a descriptor must expose to make gadget
// discovery possible at all, without taking on any decode logic
// itself (that stays with the Disassembler collaborator).
type Architecture interface {
	CanonicalName() string
	PointerWidth() int // 4 or 8
	Endianness() Endianness
	Searcher() Searcher

	// InstructionAlignment is 1 for variable-length ISAs (x86) and
	// the fixed instruction width for fixed-length ISAs (4 for
	// ARM64/AArch64).
	InstructionAlignment() int

	// MaxInstructionBytes bounds the backward-decode search window:
	// the longest any single instruction can encode to.
	MaxInstructionBytes() int

	// TerminatorPatterns lists the byte patterns that end a gadget
	// for this architecture.
	TerminatorPatterns() []TerminatorPattern
}

// SameArchitecture reports whether a and b are the same architecture
// for the purposes of the multi-binary coherence invariant.
func SameArchitecture(a, b Architecture) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CanonicalName() == b.CanonicalName()
}
