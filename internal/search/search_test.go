package search

import (
	"errors"
	"testing"

	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
	"ropsvc/internal/rerr"
	"ropsvc/internal/testsupport"
)

func TestGadgetsDelegatesToSearcher(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	gadgets := []*gadget.Gadget{
		{Instructions: []gadget.Instruction{{Mnemonic: "pop", OpStr: "rcx"}, {Mnemonic: "ret"}}},
		{Instructions: []gadget.Instruction{{Mnemonic: "nop"}}},
	}
	out := Gadgets(arch, gadgets, "^pop", nil)
	if len(out) != 1 || out[0] != gadgets[0] {
		t.Fatalf("Gadgets(\"^pop\") = %v, want only the pop gadget", out)
	}
}

func TestStringsDefaultPattern(t *testing.T) {
	ld := &testsupport.Loader{
		Name: "sample",
		Secs: []loader.Section{
			{VirtualAddress: 0x2000, Bytes: []byte("ab\x00cd\x00\x00e"), Data: true},
		},
	}
	matches, err := Strings(ld, "")
	if err != nil {
		t.Fatalf("Strings returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Strings found %d runs, want 2: %v", len(matches), matches)
	}
	if string(matches[0].Match) != "ab" || matches[0].Address != 0x2000 {
		t.Fatalf("first match = %+v", matches[0])
	}
	if string(matches[1].Match) != "cd" || matches[1].Address != 0x2003 {
		t.Fatalf("second match = %+v", matches[1])
	}
}

func TestDisassembleAtAddressNotMapped(t *testing.T) {
	ld := &testsupport.Loader{
		Name: "sample",
		Secs: []loader.Section{
			{VirtualAddress: 0x1000, Size: 4, Bytes: []byte{0xc3, 0, 0, 0}, Executable: true},
		},
	}
	_, err := DisassembleAt(testsupport.Disassembler{}, ld, 0x9999, 1)
	var notMapped *rerr.AddressNotMapped
	if !errors.As(err, &notMapped) {
		t.Fatalf("error = %v, want *rerr.AddressNotMapped", err)
	}
}

func TestDisassembleAtDecodesInstruction(t *testing.T) {
	ld := &testsupport.Loader{
		Name: "sample",
		Secs: []loader.Section{
			{VirtualAddress: 0x1000, Size: 4, Bytes: []byte{0xc3, 0, 0, 0}, Executable: true},
		},
	}
	text, err := DisassembleAt(testsupport.Disassembler{}, ld, 0x1000, 1)
	if err != nil {
		t.Fatalf("DisassembleAt returned error: %v", err)
	}
	if text != "ret" {
		t.Fatalf("DisassembleAt = %q, want \"ret\"", text)
	}
}
