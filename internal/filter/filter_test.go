package filter

import (
	"testing"

	"ropsvc/internal/gadget"
	"ropsvc/internal/testsupport"
)

func TestApplyBadBytesAddressOnly(t *testing.T) {
	// Address 0x...ff is flagged by badbytes "ff"; the gadget's own
	// instruction bytes are never inspected (§9 resolved: bad-byte
	// filtering is address-only).
	clean := &gadget.Gadget{Address: 0x1000, Bytes: []byte{0xff, 0xff, 0xff}}
	dirty := &gadget.Gadget{Address: 0x10ff}

	out, err := ApplyBadBytes([]*gadget.Gadget{clean, dirty}, 8, "ff")
	if err != nil {
		t.Fatalf("ApplyBadBytes returned error: %v", err)
	}
	if len(out) != 1 || out[0] != clean {
		t.Fatalf("ApplyBadBytes kept %v, want only the clean-address gadget", out)
	}
}

func TestApplyBadBytesMalformed(t *testing.T) {
	_, err := ApplyBadBytes(nil, 8, "z")
	if err == nil {
		t.Fatal("expected BadBytesMalformed for a non-hex value")
	}
}

func TestApplyBadBytesEmptyIsNoop(t *testing.T) {
	g := &gadget.Gadget{Address: 0xffffffffffffffff}
	out, err := ApplyBadBytes([]*gadget.Gadget{g}, 8, "")
	if err != nil || len(out) != 1 {
		t.Fatalf("ApplyBadBytes(\"\") = %v, %v, want the input unchanged", out, err)
	}
}

func TestDeduplicateKeepsFirstInOrder(t *testing.T) {
	a := &gadget.Gadget{Address: 0x1000, Instructions: []gadget.Instruction{{Mnemonic: "ret"}}}
	b := &gadget.Gadget{Address: 0x2000, Instructions: []gadget.Instruction{{Mnemonic: "ret"}}}
	c := &gadget.Gadget{Address: 0x3000, Instructions: []gadget.Instruction{{Mnemonic: "nop"}, {Mnemonic: "ret"}}}

	var wasAdded []bool
	out, err := Deduplicate([]*gadget.Gadget{a, b, c}, func(g *gadget.Gadget, added bool, fraction float64) {
		wasAdded = append(wasAdded, added)
	})
	if err != nil {
		t.Fatalf("Deduplicate returned error: %v", err)
	}

	if len(out) != 2 || out[0] != a || out[1] != c {
		t.Fatalf("Deduplicate kept %v, want [a, c]", out)
	}
	if len(wasAdded) != 3 || !wasAdded[0] || wasAdded[1] || !wasAdded[2] {
		t.Fatalf("dedup progress flags = %v, want [true false true]", wasAdded)
	}
}

func TestPrepareSkipsDedupWhenAll(t *testing.T) {
	a := &gadget.Gadget{Address: 0x1000, Instructions: []gadget.Instruction{{Mnemonic: "ret"}}}
	b := &gadget.Gadget{Address: 0x2000, Instructions: []gadget.Instruction{{Mnemonic: "ret"}}}
	arch := testsupport.Arch{Name: "fake-x64"}

	out, err := Prepare([]*gadget.Gadget{a, b}, arch, "", true, nil)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Prepare(all=true) deduped anyway: %v", out)
	}

	out, err = Prepare([]*gadget.Gadget{a, b}, arch, "", false, nil)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Prepare(all=false) = %v, want exactly one survivor", out)
	}
}
