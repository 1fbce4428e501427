// Package model defines the data structures shared between pipeline stages.
package model

import "strings"

// Format identifies an artifact container format.
type Format string

const (
	FormatUnknown  Format = "unknown"
	FormatELF      Format = "elf"
	FormatMachO    Format = "macho"
	FormatMachOFat Format = "macho-fat"
	FormatPE       Format = "pe"
	FormatNM       Format = "nm"
)

// String returns the format name.
func (f Format) String() string {
	if f == "" {
		return string(FormatUnknown)
	}
	return string(f)
}

// ParseFormat maps a user supplied name to a Format. "auto" and "" map to
// FormatUnknown, which asks the extractor to sniff.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatUnknown, true
	case "elf":
		return FormatELF, true
	case "macho", "mach-o":
		return FormatMachO, true
	case "macho-fat", "fat", "universal":
		return FormatMachOFat, true
	case "pe", "coff", "pe/coff":
		return FormatPE, true
	case "nm":
		return FormatNM, true
	default:
		return FormatUnknown, false
	}
}

// SymbolRecord is one defined symbol as found in an artifact's symbol table.
// Name is the raw, possibly mangled name and is not guaranteed to be valid
// UTF-8. Index is the symbol's position in the table it was read from.
type SymbolRecord struct {
	Name    []byte
	Size    uint64
	Section string
	Index   int
}

// SymbolPath is a non-empty sequence of non-empty path segments.
type SymbolPath []string

// PathSeparator joins segments when a path is rendered as one string.
const PathSeparator = "::"

// String renders the path with PathSeparator.
func (p SymbolPath) String() string {
	return strings.Join(p, PathSeparator)
}

// Equal reports whether p and other name the same tree node.
func (p SymbolPath) Equal(other SymbolPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// PathRecord is a resolved symbol ready to be folded into the tree.
type PathRecord struct {
	Path SymbolPath
	Size uint64
}
