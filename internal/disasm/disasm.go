// Package disasm describes the external disassembler/assembler
// collaborator (§6). The concrete decode/encode logic for any
// architecture is out of scope for this service (§1); the scanner and
// search facade only depend on this interface.
package disasm

import (
	"ropsvc/internal/archdesc"
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
)

// Format selects the output shape of Assemble.
type Format int

const (
	FormatHex Format = iota
	FormatString
	FormatRaw
)

// Disassembler is the external assemble/disassemble collaborator.
type Disassembler interface {
	// Assemble turns source text into machine code for arch, encoded
	// per format.
	Assemble(code string, arch archdesc.Architecture, format Format) ([]byte, error)

	// Disassemble renders a single opcode sequence as text, without
	// reference to any loaded binary.
	Disassemble(opcode []byte, arch archdesc.Architecture) (string, error)

	// DecodeOne decodes exactly one instruction from the head of
	// code, returning its text form and length in bytes. Used by the
	// scanner (§4.3) to walk backward from a terminator. Returns an
	// error if code does not begin with a valid instruction for arch.
	DecodeOne(code []byte, arch archdesc.Architecture) (gadget.Instruction, int, error)

	// DisassembleAddress decodes length instructions (or |length|
	// instructions ending at address, when length is negative)
	// starting at address within section, returning the result as a
	// gadget-shaped value so callers can reuse Gadget rendering.
	DisassembleAddress(section loader.Section, ld loader.Loader, address uint64, offset int64, length int) (*gadget.Gadget, error)
}
