// Package loader describes the external binary-format loader
// collaborator (§6): it parses ELF/PE/Mach-O input and hands back
// sections and an image base. Parsing itself is out of scope for this
// service (§1) — only the interface it must satisfy lives here.
package loader

import "ropsvc/internal/archdesc"

// FileType identifies the binary container format a Loader parsed.
type FileType string

const (
	FileTypeELF   FileType = "ELF"
	FileTypePE    FileType = "PE"
	FileTypeMachO FileType = "MachO"
	FileTypeRaw   FileType = "Raw"
)

// Section is a contiguous range of a binary's address space as
// produced by the loader.
type Section struct {
	VirtualAddress uint64
	Offset         uint64
	Size           uint64
	Bytes          []byte
	Executable     bool
	Data           bool
}

// Contains reports whether addr falls within this section's mapped
// virtual address range.
func (s Section) Contains(addr uint64) bool {
	return addr >= s.VirtualAddress && addr < s.VirtualAddress+s.Size
}

// Loader is the external binary-format loader collaborator. ImageBase
// and Arch are the only mutable fields (§3): SetImageBase rebases all
// address-bearing output, SetArch is used by set_architecture (§4.5).
type Loader interface {
	FileName() string
	Type() FileType

	Arch() archdesc.Architecture
	SetArch(archdesc.Architecture)

	// ImageBase returns the configured image base, or nil if none was
	// set explicitly (sections then report their own virtual
	// addresses unmodified).
	ImageBase() *uint64
	SetImageBase(base uint64)

	Sections() []Section
	ExecutableSections() []Section
	DataSections() []Section
}
