// Package scanner implements C3 (§4.3): walking a loaded binary's
// executable sections, enumerating terminator positions, and
// backward-decoding candidate gadgets that end at each one. This is
// the largest in-scope piece of the service — everything it decodes
// individual bytes with comes from the external disasm.Disassembler
// collaborator (§1, §6); the scanner only owns the enumeration and
// rejection logic.
package scanner

import (
	"fmt"

	"golang.org/x/exp/slices"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/disasm"
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
	"ropsvc/internal/progress"
	"ropsvc/internal/rerr"
)

// Scan enumerates every gadget in ld's executable sections with at
// most instCount instructions (terminator included) whose kind
// passes kindFilter, reporting progress through onProgress if it is
// non-nil.
func Scan(ld loader.Loader, dis disasm.Disassembler, instCount int, kindFilter gadget.KindFilter, onProgress progress.GadgetScanFunc) ([]*gadget.Gadget, error) {
	arch := ld.Arch()
	patterns := admittedPatterns(arch.TerminatorPatterns(), kindFilter)

	// A scan that legitimately finds zero gadgets still ran: keep this
	// non-nil so filecontainer.Container.SetRaw's loaded flag reflects
	// "scanned", not "scanned and found something" (§3).
	out := make([]*gadget.Gadget, 0)
	for _, section := range ld.ExecutableSections() {
		found, err := scanSection(section, ld, arch, dis, patterns, instCount)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	if onProgress != nil {
		if err := reportProgress(onProgress, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func admittedPatterns(all []archdesc.TerminatorPattern, kindFilter gadget.KindFilter) []archdesc.TerminatorPattern {
	admitted := make([]archdesc.TerminatorPattern, 0, len(all))
	for _, p := range all {
		if kindFilter.Admits(p.Kind) {
			admitted = append(admitted, p)
		}
	}
	return admitted
}

func scanSection(section loader.Section, ld loader.Loader, arch archdesc.Architecture, dis disasm.Disassembler, patterns []archdesc.TerminatorPattern, instCount int) ([]*gadget.Gadget, error) {
	data := section.Bytes
	align := arch.InstructionAlignment()
	if align < 1 {
		align = 1
	}

	var out []*gadget.Gadget
	for t := 0; t < len(data); t += align {
		for _, pat := range patterns {
			if !pat.Match(data[t:]) {
				continue
			}
			termInstr, termLen, err := dis.DecodeOne(data[t:], arch)
			if err != nil {
				continue
			}
			candidates, err := gadgetsEndingAt(data, t, termLen, termInstr, pat.Kind, arch, dis, instCount)
			if err != nil {
				return nil, rerr.WrapDisassemblerError(err)
			}
			for _, c := range candidates {
				out = append(out, toGadget(c, section, ld, arch))
			}
		}
	}
	return out, nil
}

// candidate is one accepted backward-decode of a gadget body, not yet
// converted to an absolute address.
type candidate struct {
	start        int // offset into the section's bytes
	length       int // total bytes, including the terminator
	instructions []gadget.Instruction
	kind         gadget.Kind
}

// gadgetsEndingAt finds every start offset s <= t such that decoding
// forward from s lands exactly on t using between 0 and instCount-1
// instructions, none of which transfer control (§4.3); s == t yields
// the bare terminator. All valid
// overlaps are returned — on a fixed-width ISA that's one per
// alignment step, on a variable-width ISA it may be several.
func gadgetsEndingAt(data []byte, t, termLen int, term gadget.Instruction, kind gadget.Kind, arch archdesc.Architecture, dis disasm.Disassembler, instCount int) ([]candidate, error) {
	align := arch.InstructionAlignment()
	if align < 1 {
		align = 1
	}
	maxLead := instCount - 1
	if maxLead < 0 {
		maxLead = 0
	}
	window := arch.MaxInstructionBytes() * maxLead
	low := t - window
	if low < 0 {
		low = 0
	}

	var found []candidate
	for s := t; s >= low; s -= align {
		leading, ok := decodeRun(data, s, t, arch, dis, maxLead)
		if !ok {
			continue
		}
		instructions := make([]gadget.Instruction, 0, len(leading)+1)
		instructions = append(instructions, leading...)
		instructions = append(instructions, term)
		found = append(found, candidate{
			start:        s,
			length:       (t - s) + termLen,
			instructions: instructions,
			kind:         kind,
		})
	}

	slices.SortStableFunc(found, func(a, b candidate) int {
		if d := len(a.instructions) - len(b.instructions); d != 0 {
			return d
		}
		return a.start - b.start
	})
	return found, nil
}

// decodeRun decodes forward from s, stopping exactly at t. It fails
// if a decode overshoots t, a byte can't be decoded, too many
// instructions would be needed, or any decoded instruction (all of
// which precede the terminator) transfers control.
func decodeRun(data []byte, s, t int, arch archdesc.Architecture, dis disasm.Disassembler, maxInstructions int) ([]gadget.Instruction, bool) {
	if s == t {
		return nil, true
	}
	var instrs []gadget.Instruction
	pos := s
	for pos < t {
		if len(instrs) >= maxInstructions {
			return nil, false
		}
		instr, n, err := dis.DecodeOne(data[pos:], arch)
		if err != nil || n <= 0 {
			return nil, false
		}
		if pos+n > t {
			return nil, false
		}
		if instr.ControlFlow {
			return nil, false
		}
		instrs = append(instrs, instr)
		pos += n
	}
	return instrs, true
}

func toGadget(c candidate, section loader.Section, ld loader.Loader, arch archdesc.Architecture) *gadget.Gadget {
	var addr uint64
	if base := ld.ImageBase(); base != nil {
		addr = *base + section.Offset + uint64(c.start)
	} else {
		addr = section.VirtualAddress + uint64(c.start)
	}
	return &gadget.Gadget{
		Address:      addr,
		Bytes:        append([]byte(nil), section.Bytes[c.start:c.start+c.length]...),
		Instructions: c.instructions,
		Kind:         c.kind,
	}
}

// reportProgress calls onProgress once per gadget in out, converting a
// subscriber panic into a SubscriberFailed error so it aborts this
// scan cleanly instead of crashing whatever goroutine called Scan
// (§5: a panicking subscriber aborts the enclosing operation).
func reportProgress(onProgress progress.GadgetScanFunc, out []*gadget.Gadget) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = rerr.WrapSubscriberFailed(fmt.Errorf("%v", r))
		}
	}()
	total := len(out)
	for i, g := range out {
		onProgress(g, i, total)
	}
	return nil
}
