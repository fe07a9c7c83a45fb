// Package gadget defines the data model shared by every stage of the
// discovery pipeline: scanning, filtering, searching and chain
// construction all operate on the same Gadget value.
package gadget

import (
	"encoding/binary"
	"strings"
)

// Kind classifies a gadget by the control-flow transfer it ends in.
type Kind string

const (
	KindROP Kind = "rop"
	KindJOP Kind = "jop"
	KindSYS Kind = "sys"
)

// KindFilter is the validated value of the "type" option: it admits
// either a single Kind or every kind.
type KindFilter string

const KindFilterAll KindFilter = "all"

// Admits reports whether a gadget of kind k passes this filter.
func (f KindFilter) Admits(k Kind) bool {
	return f == KindFilterAll || string(f) == string(k)
}

// Instruction is one decoded instruction inside a gadget, as produced
// by the external disassembler collaborator.
type Instruction struct {
	Mnemonic string
	OpStr    string

	// ControlFlow marks an instruction that transfers control (call,
	// jump, return, ...). The scanner (§4.3) rejects any candidate
	// where a ControlFlow instruction appears before the terminator.
	ControlFlow bool
}

// Text renders the instruction the way a gadget's textual form does.
func (i Instruction) Text() string {
	if i.OpStr == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.OpStr
}

// Gadget is a short instruction sequence terminated by a control-flow
// transfer, addressable at a single virtual address.
type Gadget struct {
	Address      uint64
	Bytes        []byte
	Instructions []Instruction
	Kind         Kind
}

// String renders every instruction of the gadget separated by "; ",
// the canonical textual form used both for display and fingerprinting.
func (g *Gadget) String() string {
	parts := make([]string, len(g.Instructions))
	for i, inst := range g.Instructions {
		parts[i] = inst.Text()
	}
	return strings.Join(parts, "; ")
}

// Fingerprint is the address-independent identity of a gadget, used
// for de-duplication. Two gadgets with the same Fingerprint are
// interchangeable for dedup purposes even if their addresses differ.
func (g *Gadget) Fingerprint() string {
	return g.String()
}

// AddressBytes returns the gadget's virtual address encoded
// little-endian at the given pointer width (4 or 8 bytes).
func (g *Gadget) AddressBytes(pointerWidth int) []byte {
	buf := make([]byte, pointerWidth)
	switch pointerWidth {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(g.Address))
	default:
		binary.LittleEndian.PutUint64(buf, g.Address)
	}
	return buf
}

// ContainsBadByte reports whether any byte of the gadget's address,
// encoded little-endian at pointerWidth, appears in forbidden.
func (g *Gadget) ContainsBadByte(pointerWidth int, forbidden map[byte]struct{}) bool {
	for _, b := range g.AddressBytes(pointerWidth) {
		if _, bad := forbidden[b]; bad {
			return true
		}
	}
	return false
}

// SimpleString renders address and textual form the way the
// non-detailed CLI view does: "0x0000000000001000: pop rcx; pop rbx; ret".
func (g *Gadget) SimpleString() string {
	return formatAddress(g.Address) + ": " + g.String()
}

func formatAddress(addr uint64) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 18)
	b[0], b[1] = '0', 'x'
	for i := 0; i < 16; i++ {
		shift := uint(60 - 4*i)
		b[2+i] = hexdigits[(addr>>shift)&0xf]
	}
	return string(b)
}
