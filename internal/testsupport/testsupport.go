// Package testsupport provides minimal in-memory stand-ins for the
// external loader/architecture/disassembler collaborators, used only
// from _test.go files across the module. None of this is part of the
// service's public surface.
package testsupport

import (
	"fmt"
	"regexp"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/disasm"
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
)

// Searcher is a regexp-backed archdesc.Searcher: pattern is compiled
// directly as a Go regular expression against each gadget's String().
type Searcher struct{}

func (Searcher) Search(gadgets []*gadget.Gadget, pattern string, quality *int) []*gadget.Gadget {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	var out []*gadget.Gadget
	for _, g := range gadgets {
		if re.MatchString(g.String()) {
			out = append(out, g)
		}
	}
	return out
}

func (Searcher) PrepareFilter(pattern string) (string, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return "", err
	}
	return pattern, nil
}

// Arch is a small fixed-identity architdesc.Architecture stand-in
// modeled loosely on x86-64: variable instruction length, one-byte
// alignment, ret/jmp-reg/syscall terminators.
type Arch struct {
	Name string
}

func (a Arch) CanonicalName() string        { return a.Name }
func (Arch) PointerWidth() int              { return 8 }
func (Arch) Endianness() archdesc.Endianness { return archdesc.LittleEndian }
func (Arch) Searcher() archdesc.Searcher    { return Searcher{} }
func (Arch) InstructionAlignment() int      { return 1 }
func (Arch) MaxInstructionBytes() int       { return 4 }

func (Arch) TerminatorPatterns() []archdesc.TerminatorPattern {
	return []archdesc.TerminatorPattern{
		{Kind: gadget.KindROP, Bytes: []byte{0xc3}, Mask: []byte{0xff}},       // ret
		{Kind: gadget.KindJOP, Bytes: []byte{0xff, 0xe0}, Mask: []byte{0xff, 0xf8}}, // jmp r/m
		{Kind: gadget.KindSYS, Bytes: []byte{0x0f, 0x05}, Mask: []byte{0xff, 0xff}}, // syscall
	}
}

// table maps a leading opcode byte to its decoded text and length, the
// only instructions this fake disassembler understands.
var table = map[byte]struct {
	instr gadget.Instruction
	n     int
}{
	0xc3: {gadget.Instruction{Mnemonic: "ret"}, 1},
	0x59: {gadget.Instruction{Mnemonic: "pop", OpStr: "rcx"}, 1},
	0x5b: {gadget.Instruction{Mnemonic: "pop", OpStr: "rbx"}, 1},
	0x58: {gadget.Instruction{Mnemonic: "pop", OpStr: "rax"}, 1},
	0x90: {gadget.Instruction{Mnemonic: "nop"}, 1},
	0xe8: {gadget.Instruction{Mnemonic: "call", OpStr: "rel32", ControlFlow: true}, 5},
	0x0f: {gadget.Instruction{Mnemonic: "syscall"}, 2}, // paired with 0x05 by convention in test fixtures
}

// Disassembler is a table-driven disasm.Disassembler stand-in covering
// the handful of instructions the scanner/search tests exercise.
type Disassembler struct{}

func (Disassembler) Assemble(code string, arch archdesc.Architecture, format disasm.Format) ([]byte, error) {
	switch code {
	case "ret":
		return []byte{0xc3}, nil
	case "pop rcx":
		return []byte{0x59}, nil
	default:
		return nil, fmt.Errorf("testsupport: cannot assemble %q", code)
	}
}

func (d Disassembler) Disassemble(opcode []byte, arch archdesc.Architecture) (string, error) {
	instr, _, err := d.DecodeOne(opcode, arch)
	if err != nil {
		return "", err
	}
	return instr.Text(), nil
}

func (Disassembler) DecodeOne(code []byte, arch archdesc.Architecture) (gadget.Instruction, int, error) {
	if len(code) == 0 {
		return gadget.Instruction{}, 0, fmt.Errorf("testsupport: empty input")
	}
	entry, ok := table[code[0]]
	if !ok {
		return gadget.Instruction{}, 0, fmt.Errorf("testsupport: unknown opcode 0x%02x", code[0])
	}
	if entry.n > len(code) {
		return gadget.Instruction{}, 0, fmt.Errorf("testsupport: truncated instruction")
	}
	return entry.instr, entry.n, nil
}

func (d Disassembler) DisassembleAddress(section loader.Section, ld loader.Loader, address uint64, offset int64, length int) (*gadget.Gadget, error) {
	if offset < 0 || int(offset) >= len(section.Bytes) {
		return nil, fmt.Errorf("testsupport: offset out of range")
	}
	pos := int(offset)
	var instructions []gadget.Instruction
	n := length
	if n < 0 {
		n = -n
	}
	for i := 0; i < n && pos < len(section.Bytes); i++ {
		instr, size, err := d.DecodeOne(section.Bytes[pos:], nil)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, instr)
		pos += size
	}
	return &gadget.Gadget{Address: address, Bytes: append([]byte(nil), section.Bytes[int(offset):pos]...), Instructions: instructions}, nil
}

// Loader is an in-memory loader.Loader stand-in built directly from a
// section list, for tests that need to drive the scanner/search
// packages without parsing a real binary.
type Loader struct {
	Name      string
	FType     loader.FileType
	ArchVal   archdesc.Architecture
	Base      *uint64
	Secs      []loader.Section
}

func (l *Loader) FileName() string           { return l.Name }
func (l *Loader) Type() loader.FileType      { return l.FType }
func (l *Loader) Arch() archdesc.Architecture { return l.ArchVal }
func (l *Loader) SetArch(a archdesc.Architecture) { l.ArchVal = a }
func (l *Loader) ImageBase() *uint64         { return l.Base }
func (l *Loader) SetImageBase(base uint64)   { l.Base = &base }
func (l *Loader) Sections() []loader.Section { return l.Secs }

func (l *Loader) ExecutableSections() []loader.Section {
	var out []loader.Section
	for _, s := range l.Secs {
		if s.Executable {
			out = append(out, s)
		}
	}
	return out
}

func (l *Loader) DataSections() []loader.Section {
	var out []loader.Section
	for _, s := range l.Secs {
		if s.Data {
			out = append(out, s)
		}
	}
	return out
}
