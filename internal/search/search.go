// Package search implements C6 (§4.6): pattern search over a file's
// derived gadget set, string search over its data sections, and
// disassembly at an address.
package search

import (
	"regexp"

	"ropsvc/internal/archdesc"
	"ropsvc/internal/disasm"
	"ropsvc/internal/gadget"
	"ropsvc/internal/loader"
	"ropsvc/internal/rerr"
)

// defaultStringPattern matches printable ASCII runs of length >= 2,
// the same default ropper.service.searchString falls back to.
const defaultStringPattern = `[ -~]{2}[ -~]*`

// Gadgets delegates pattern search to arch's Searcher (§4.6).
func Gadgets(arch archdesc.Architecture, gadgets []*gadget.Gadget, pattern string, quality *int) []*gadget.Gadget {
	return arch.Searcher().Search(gadgets, pattern, quality)
}

// StringMatch is one printable-string (or custom pattern) hit inside
// a data section.
type StringMatch struct {
	Address uint64
	Match   []byte
}

// Strings scans ld's data sections for pattern (or the default
// printable-run pattern when pattern is empty), rebasing addresses
// under ld's image base when one is set (§4.6).
func Strings(ld loader.Loader, pattern string) ([]StringMatch, error) {
	raw := pattern
	if raw == "" {
		raw = defaultStringPattern
	} else if arch := ld.Arch(); arch != nil {
		prepared, err := arch.Searcher().PrepareFilter(raw)
		if err != nil {
			return nil, err
		}
		raw = prepared
	}

	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, err
	}

	var matches []StringMatch
	base := ld.ImageBase()
	for _, section := range ld.DataSections() {
		for _, loc := range re.FindAllIndex(section.Bytes, -1) {
			start, end := loc[0], loc[1]
			var addr uint64
			if base != nil {
				addr = *base + section.Offset + uint64(start)
			} else {
				addr = section.VirtualAddress + uint64(start)
			}
			matches = append(matches, StringMatch{
				Address: addr,
				Match:   append([]byte(nil), section.Bytes[start:end]...),
			})
		}
	}
	return matches, nil
}

// DisassembleAt resolves the executable section covering address and
// asks dis to disassemble length instructions from it (or |length|
// instructions ending at address, for negative length). Fails with
// AddressNotMapped if no executable section covers address (§4.6,
// §8 invariant 8).
func DisassembleAt(dis disasm.Disassembler, ld loader.Loader, address uint64, length int) (string, error) {
	for _, section := range ld.ExecutableSections() {
		if !section.Contains(address) {
			continue
		}
		var sectionBase uint64
		if ib := ld.ImageBase(); ib != nil {
			sectionBase = *ib + section.Offset
		} else {
			sectionBase = section.VirtualAddress
		}
		offset := int64(address) - int64(sectionBase)
		g, err := dis.DisassembleAddress(section, ld, address, offset, length)
		if err != nil {
			return "", rerr.WrapDisassemblerError(err)
		}
		return g.String(), nil
	}
	return "", &rerr.AddressNotMapped{Address: address}
}
