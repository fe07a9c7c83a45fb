package service

import (
	"errors"
	"testing"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/loader"
	"ropsvc/internal/options"
	"ropsvc/internal/progress"
	"ropsvc/internal/rerr"
	"ropsvc/internal/testsupport"
)

func openerFor(arch archdesc.Architecture) OpenFunc {
	return func(name string, body []byte, raw bool, hint archdesc.Architecture) (loader.Loader, error) {
		return &testsupport.Loader{
			Name:    name,
			ArchVal: arch,
			Secs: []loader.Section{
				{VirtualAddress: 0x1000, Size: uint64(len(body)), Bytes: body, Executable: true},
			},
		}, nil
	}
}

func newTestService(t *testing.T, open OpenFunc) *Service {
	t.Helper()
	svc, err := New(nil, open, testsupport.Disassembler{}, nil, progress.Subscribers{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return svc
}

func TestAddFileDuplicate(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	if err := svc.AddFile("a", []byte{0xc3}, nil, false); err != nil {
		t.Fatalf("first AddFile failed: %v", err)
	}
	err := svc.AddFile("a", []byte{0xc3}, nil, false)
	var dup *rerr.DuplicateFile
	if !errors.As(err, &dup) {
		t.Fatalf("second AddFile error = %v, want DuplicateFile", err)
	}
}

func TestAddFileArchitectureMismatch(t *testing.T) {
	archA := testsupport.Arch{Name: "arch-a"}
	archB := testsupport.Arch{Name: "arch-b"}

	calls := 0
	open := func(name string, data []byte, raw bool, hint archdesc.Architecture) (loader.Loader, error) {
		calls++
		arch := archdesc.Architecture(archA)
		if calls == 2 {
			arch = archB
		}
		return &testsupport.Loader{Name: name, ArchVal: arch}, nil
	}
	svc := newTestService(t, open)
	if err := svc.AddFile("a", nil, nil, false); err != nil {
		t.Fatalf("first AddFile failed: %v", err)
	}
	err := svc.AddFile("b", nil, nil, false)
	var mismatch *rerr.ArchitectureMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("second AddFile error = %v, want ArchitectureMismatch", err)
	}
}

func TestGetFileForAndFilesOrder(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("first", []byte{0xc3}, nil, false)
	svc.AddFile("second", []byte{0xc3}, nil, false)

	if svc.GetFileFor("first") == nil {
		t.Fatal("GetFileFor(\"first\") = nil")
	}
	if svc.GetFileFor("missing") != nil {
		t.Fatal("GetFileFor(\"missing\") should be nil")
	}
	names := []string{}
	for _, fc := range svc.Files() {
		names = append(names, fc.Name())
	}
	if len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Fatalf("Files() order = %v, want [first second]", names)
	}
}

func TestLoadGadgetsBuildsDerivedView(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("a", []byte{0x59, 0x5b, 0xc3}, nil, false)

	session, err := svc.LoadGadgets("a")
	if err != nil {
		t.Fatalf("LoadGadgets returned error: %v", err)
	}
	if session == "" {
		t.Fatal("LoadGadgets returned an empty session ID")
	}
	fc := svc.GetFileFor("a")
	if len(fc.Raw()) == 0 {
		t.Fatal("raw gadgets not populated")
	}
	if len(fc.Derived()) == 0 {
		t.Fatal("derived gadgets not populated")
	}
}

func TestLoadGadgetsMissingFile(t *testing.T) {
	svc := newTestService(t, openerFor(testsupport.Arch{Name: "fake-x64"}))
	_, err := svc.LoadGadgets("nope")
	var missing *rerr.MissingFile
	if !errors.As(err, &missing) {
		t.Fatalf("LoadGadgets(\"nope\") error = %v, want MissingFile", err)
	}
}

func TestSetArchitectureForbiddenWithMultipleFiles(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("a", []byte{0xc3}, nil, false)
	svc.AddFile("b", []byte{0xc3}, nil, false)

	err := svc.SetArchitectureFor("a", testsupport.Arch{Name: "other"})
	var mismatch *rerr.ArchitectureMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("SetArchitectureFor with 2 files loaded error = %v, want ArchitectureMismatch", err)
	}
}

func TestSetArchitectureAllowedWithOneFile(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("a", []byte{0xc3}, nil, false)
	svc.LoadGadgets("a")

	if err := svc.SetArchitectureFor("a", testsupport.Arch{Name: "other"}); err != nil {
		t.Fatalf("SetArchitectureFor with 1 file loaded: %v", err)
	}
	fc := svc.GetFileFor("a")
	if fc.Loaded() {
		t.Fatal("SetArchitectureFor must invalidate the file's raw/derived gadgets")
	}
}

// TestBadBytesChangeRebuildsDerived exercises the §4.5 invalidation
// table: setting badbytes after a file is loaded must re-filter its
// derived view without a fresh LoadGadgets call.
func TestBadBytesChangeRebuildsDerived(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("a", []byte{0x59, 0x5b, 0xc3}, nil, false)
	if _, err := svc.LoadGadgets("a"); err != nil {
		t.Fatalf("LoadGadgets returned error: %v", err)
	}

	fc := svc.GetFileFor("a")
	before := len(fc.Derived())
	if before == 0 {
		t.Fatal("expected at least one derived gadget before filtering")
	}

	// Every gadget's low address byte is its offset into the section
	// (0x1000, 0x1001, 0x1002): banning 0x02 drops exactly the gadget
	// at 0x1002.
	if err := svc.Options().Set(options.BadBytes, "02"); err != nil {
		t.Fatalf("Set(badbytes) returned error: %v", err)
	}
	after := len(fc.Derived())
	if after != before-1 {
		t.Fatalf("derived view after badbytes change has %d gadgets, want %d", after, before-1)
	}
}

func TestCreateRopChainUnsupportedWithoutProvider(t *testing.T) {
	arch := testsupport.Arch{Name: "fake-x64"}
	svc := newTestService(t, openerFor(arch))
	svc.AddFile("a", []byte{0xc3}, nil, false)

	_, err := svc.CreateRopChain("execve", nil)
	var unsupported *rerr.UnsupportedChain
	if !errors.As(err, &unsupported) {
		t.Fatalf("CreateRopChain without a provider = %v, want UnsupportedChain", err)
	}
}
