package framedecoder

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strings"
)

// templateSectionName holds the firmware's interned format-string templates,
// one null-terminated string per template, indexed by ELF symbol address —
// the "companion ELF file" contract from spec.md §6. Go's ecosystem has no
// defmt decoder, so rather than reimplementing defmt's binary encoding we
// treat this layout as the opaque symbol table format and decode it with
// the standard library's debug/elf (no third-party ELF reader appears
// anywhere in the retrieval pack; see DESIGN.md).
const templateSectionName = ".defmt_templates"

// templateSymbolPrefix marks the ELF symbols that point into the template
// section; every such symbol's value is a byte offset from that section's
// address to one null-terminated template string.
const templateSymbolPrefix = "__defmt_"

// SymbolTable maps a frame's symbol address to its printf-style template,
// e.g. addr -> "EVENTS: TARGET: %d %d %d".
type SymbolTable struct {
	byAddr map[uint32]string
}

// LoadSymbolTable parses the firmware ELF at path and builds the address ->
// template map. It is loaded once at startup and treated as immutable
// afterward.
func LoadSymbolTable(path string) (*SymbolTable, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening firmware elf: %w", err)
	}
	defer f.Close()

	section := f.Section(templateSectionName)
	if section == nil {
		return nil, fmt.Errorf("firmware elf missing %s section", templateSectionName)
	}
	data, err := section.Data()
	if err != nil {
		return nil, fmt.Errorf("reading %s section: %w", templateSectionName, err)
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading elf symbols: %w", err)
	}

	byAddr := make(map[uint32]string)
	for _, sym := range syms {
		if !strings.HasPrefix(sym.Name, templateSymbolPrefix) {
			continue
		}
		if sym.Value < section.Addr {
			continue
		}
		offset := sym.Value - section.Addr
		if offset >= uint64(len(data)) {
			continue
		}
		end := bytes.IndexByte(data[offset:], 0)
		if end < 0 {
			continue
		}
		template := string(data[offset : offset+uint64(end)])
		byAddr[uint32(sym.Value)] = template
	}

	return &SymbolTable{byAddr: byAddr}, nil
}

// Lookup returns the template registered at addr, if any.
func (t *SymbolTable) Lookup(addr uint32) (string, bool) {
	tmpl, ok := t.byAddr[addr]
	return tmpl, ok
}
