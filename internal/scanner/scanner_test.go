package scanner

import (
	"sort"
	"testing"

	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
	"ropsvc/internal/testsupport"
)

func sectionLoader(bytes []byte) *testsupport.Loader {
	arch := testsupport.Arch{Name: "fake-x64"}
	return &testsupport.Loader{
		Name:    "sample",
		ArchVal: arch,
		Secs: []loader.Section{
			{VirtualAddress: 0x1000, Size: uint64(len(bytes)), Bytes: bytes, Executable: true},
		},
	}
}

// TestScanOverlappingGadgets mirrors scenario S1: "pop rcx; pop rbx;
// ret" at 0x1000 must yield every valid overlapping suffix gadget —
// itself, "pop rbx; ret" at 0x1001, and the bare "ret" at 0x1002.
func TestScanOverlappingGadgets(t *testing.T) {
	ld := sectionLoader([]byte{0x59, 0x5b, 0xc3})
	gadgets, err := Scan(ld, testsupport.Disassembler{}, 6, gadget.KindFilterAll, nil)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	byAddr := map[uint64]string{}
	for _, g := range gadgets {
		byAddr[g.Address] = g.String()
	}

	want := map[uint64]string{
		0x1000: "pop rcx; pop rbx; ret",
		0x1001: "pop rbx; ret",
		0x1002: "ret",
	}
	for addr, text := range want {
		got, ok := byAddr[addr]
		if !ok {
			t.Fatalf("missing gadget at 0x%x", addr)
		}
		if got != text {
			t.Fatalf("gadget at 0x%x = %q, want %q", addr, got, text)
		}
	}
	if len(gadgets) != len(want) {
		t.Fatalf("Scan produced %d gadgets, want %d: %v", len(gadgets), len(want), gadgets)
	}
}

// TestScanRespectsInstCount confirms a terminator-only instCount of 1
// rejects every candidate with leading instructions.
func TestScanRespectsInstCount(t *testing.T) {
	ld := sectionLoader([]byte{0x59, 0x5b, 0xc3})
	gadgets, err := Scan(ld, testsupport.Disassembler{}, 1, gadget.KindFilterAll, nil)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(gadgets) != 1 || gadgets[0].String() != "ret" {
		t.Fatalf("Scan(instCount=1) = %v, want a single bare ret", gadgets)
	}
}

// TestScanRejectsControlFlowInLead ensures a call instruction before
// the terminator is never absorbed into a gadget body.
func TestScanRejectsControlFlowInLead(t *testing.T) {
	// call rel32 (5 bytes) followed by ret: the only valid gadget is
	// the bare ret, never one that swallows the call.
	code := append([]byte{0xe8, 0, 0, 0, 0}, 0xc3)
	ld := sectionLoader(code)
	gadgets, err := Scan(ld, testsupport.Disassembler{}, 6, gadget.KindFilterAll, nil)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	sort.Slice(gadgets, func(i, j int) bool { return gadgets[i].Address < gadgets[j].Address })
	if len(gadgets) != 1 || gadgets[0].Address != 0x1005 || gadgets[0].String() != "ret" {
		t.Fatalf("gadgets = %v, want a single bare ret at 0x1005", gadgets)
	}
	for _, g := range gadgets {
		for _, instr := range g.Instructions[:len(g.Instructions)-1] {
			if instr.ControlFlow {
				t.Fatalf("gadget %q absorbed a control-flow instruction before its terminator", g.String())
			}
		}
	}
}

func TestScanKindFilter(t *testing.T) {
	ld := sectionLoader([]byte{0xc3})
	gadgets, err := Scan(ld, testsupport.Disassembler{}, 6, gadget.KindFilter(gadget.KindJOP), nil)
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(gadgets) != 0 {
		t.Fatalf("type=jop filter let a rop-only binary through: %v", gadgets)
	}
}
