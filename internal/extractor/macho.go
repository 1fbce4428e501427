package extractor

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sizemap/pkg/model"
)

const (
	lcSymtab = 0x2

	nStab = 0xe0
	nType = 0x0e
	nSect = 0x0e

	sectionTypeMask    = 0xff
	sZerofill          = 0x1
	sGBZerofill        = 0xc
	sThreadZerofill    = 0x12
	fatArchEntrySize   = 20
	fatArch64EntrySize = 32
)

type machoReader struct{}

func (machoReader) format() model.Format { return model.FormatMachO }

func (machoReader) read(data []byte, s *scanner) (*Result, error) {
	return readThinMachO(data, s)
}

func readThinMachO(data []byte, s *scanner) (*Result, error) {
	const format = model.FormatMachO
	if err := validateMachO(data); err != nil {
		return nil, err
	}

	f, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(format, err)
	}
	for i, sec := range f.Sections {
		if isZerofill(sec.Flags) || sec.Offset == 0 {
			continue
		}
		if !in(uint64(sec.Offset), sec.Size, len(data)) {
			return nil, malformed(format, int64(sec.Offset),
				fmt.Sprintf("section %d (%s,%s) within %s", i+1, sec.Seg, sec.Name, byteCount(uint64(len(data)))),
				fmt.Sprintf("offset %#x size %#x", sec.Offset, sec.Size))
		}
	}

	res := &Result{Format: format, Arch: f.Cpu.String()}
	if f.Symtab == nil {
		s.logger.Debug("Mach-O artifact has no LC_SYMTAB")
		return res, nil
	}

	sections := make([]bounds, len(f.Sections))
	names := make([]string, len(f.Sections))
	for i, sec := range f.Sections {
		sections[i] = bounds{start: sec.Addr, end: sec.Addr + sec.Size}
		names[i] = sec.Seg + "," + sec.Name
	}

	defined, err := collectAddressed(f.Symtab.Syms, func(i int, sym macho.Symbol) (addressed, bool, error) {
		if sym.Type&nStab != 0 || sym.Type&nType != nSect {
			return addressed{}, false, nil
		}
		if sym.Sect == 0 || int(sym.Sect) > len(f.Sections) {
			return addressed{}, false, malformed(format, -1,
				fmt.Sprintf("section ordinal in 1..%d", len(f.Sections)),
				fmt.Sprintf("symbol %q in section %d", sym.Name, sym.Sect))
		}
		sect := int(sym.Sect) - 1
		return addressed{
			rec: model.SymbolRecord{
				Name:    []byte(machoName(sym.Name)),
				Section: names[sect],
				Index:   i,
			},
			section: sect,
			addr:    sym.Value,
		}, true, nil
	})
	if err != nil {
		return nil, decodeError(format, err)
	}

	res.Records, err = s.synthesizeSizes(defined, sections)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// validateMachO walks the load commands by hand so that a symbol or string
// table reaching past the end of data is reported as truncation before
// debug/macho tries to read it.
func validateMachO(data []byte) error {
	const format = model.FormatMachO
	if len(data) < 4 {
		return truncated(format, 0, "Mach-O magic", byteCount(uint64(len(data))))
	}

	var (
		order   binary.ByteOrder
		hdrSize uint64
		entSize uint64
	)
	switch binary.BigEndian.Uint32(data) {
	case machoMagic32:
		order, hdrSize, entSize = binary.BigEndian, 28, 12
	case machoMagic64:
		order, hdrSize, entSize = binary.BigEndian, 32, 16
	case machoCigam32:
		order, hdrSize, entSize = binary.LittleEndian, 28, 12
	case machoCigam64:
		order, hdrSize, entSize = binary.LittleEndian, 32, 16
	default:
		return unsupported(format, "Mach-O magic", fmt.Sprintf("% x", data[:4]))
	}
	if uint64(len(data)) < hdrSize {
		return truncated(format, 0, fmt.Sprintf("Mach-O header of %d bytes", hdrSize), byteCount(uint64(len(data))))
	}

	ncmds := uint64(order.Uint32(data[16:]))
	sizeofcmds := uint64(order.Uint32(data[20:]))
	if !in(hdrSize, sizeofcmds, len(data)) {
		return truncated(format, int64(hdrSize), fmt.Sprintf("load commands of %d bytes", sizeofcmds),
			byteCount(uint64(len(data))-hdrSize))
	}

	end := hdrSize + sizeofcmds
	off := hdrSize
	for i := uint64(0); i < ncmds; i++ {
		if off+8 > end {
			return malformed(format, int64(off), fmt.Sprintf("load command %d inside sizeofcmds", i), "end of commands")
		}
		cmd := order.Uint32(data[off:])
		cmdsize := uint64(order.Uint32(data[off+4:]))
		if cmdsize < 8 || off+cmdsize > end {
			return malformed(format, int64(off+4), fmt.Sprintf("load command %d size within %d bytes", i, end-off),
				fmt.Sprintf("%d", cmdsize))
		}

		if cmd == lcSymtab {
			if cmdsize < 24 {
				return malformed(format, int64(off+4), "LC_SYMTAB of 24 bytes", fmt.Sprintf("%d", cmdsize))
			}
			symoff := uint64(order.Uint32(data[off+8:]))
			nsyms := uint64(order.Uint32(data[off+12:]))
			stroff := uint64(order.Uint32(data[off+16:]))
			strsize := uint64(order.Uint32(data[off+20:]))
			if !in(symoff, nsyms*entSize, len(data)) {
				return truncated(format, int64(symoff), fmt.Sprintf("symbol table of %d entries", nsyms),
					byteCount(uint64(len(data))-min(symoff, uint64(len(data)))))
			}
			if !in(stroff, strsize, len(data)) {
				return truncated(format, int64(stroff), fmt.Sprintf("string table of %d bytes", strsize),
					byteCount(uint64(len(data))-min(stroff, uint64(len(data)))))
			}
		}
		off += cmdsize
	}
	return nil
}

func isThinMachO(data []byte) bool {
	switch binary.BigEndian.Uint32(data) {
	case machoMagic32, machoMagic64, machoCigam32, machoCigam64:
		return true
	}
	return false
}

func isZerofill(flags uint32) bool {
	switch flags & sectionTypeMask {
	case sZerofill, sGBZerofill, sThreadZerofill:
		return true
	}
	return false
}

// machoName undoes the C ABI underscore. debug/macho already strips it from
// names containing a dot.
func machoName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return trimUnderscore(name)
}

// trimUnderscore drops the single leading underscore the C ABI adds.
func trimUnderscore(name string) string {
	if len(name) > 1 && name[0] == '_' {
		return name[1:]
	}
	return name
}

type fatReader struct{}

func (fatReader) format() model.Format { return model.FormatMachOFat }

// fatArch is one architecture entry of a universal header.
type fatArch struct {
	cpu    macho.Cpu
	offset uint64
	size   uint64
}

// decodeFatArch reads a fat_arch entry, or a fat_arch_64 entry when wide is
// set.
func decodeFatArch(entry []byte, wide bool) fatArch {
	be := binary.BigEndian
	a := fatArch{cpu: macho.Cpu(be.Uint32(entry[0:]))}
	if wide {
		a.offset, a.size = be.Uint64(entry[8:]), be.Uint64(entry[16:])
	} else {
		a.offset, a.size = uint64(be.Uint32(entry[8:])), uint64(be.Uint32(entry[12:]))
	}
	return a
}

// read extracts the first architecture of a universal binary, in either the
// 32-bit or the 64-bit header layout.
func (fatReader) read(data []byte, s *scanner) (*Result, error) {
	const format = model.FormatMachOFat
	if len(data) < 8 {
		return nil, truncated(format, 0, "universal header of 8 bytes", byteCount(uint64(len(data))))
	}
	wide := binary.BigEndian.Uint32(data) == fatMagic64
	entrySize := uint64(fatArchEntrySize)
	if wide {
		entrySize = fatArch64EntrySize
	}
	narch := uint64(binary.BigEndian.Uint32(data[4:]))
	if narch == 0 {
		return nil, malformed(format, 4, "at least one architecture", "0")
	}
	if !in(8, narch*entrySize, len(data)) {
		return nil, truncated(format, 8, fmt.Sprintf("%d architecture entries", narch), byteCount(uint64(len(data))-8))
	}
	for i := uint64(0); i < narch; i++ {
		a := decodeFatArch(data[8+i*entrySize:], wide)
		if !in(a.offset, a.size, len(data)) {
			return nil, truncated(format, int64(8+i*entrySize),
				fmt.Sprintf("architecture %d of %d bytes at %#x", i, a.size, a.offset),
				byteCount(uint64(len(data))))
		}
	}

	// Only the first architecture is read.
	first := decodeFatArch(data[8:], wide)
	if narch > 1 {
		s.logger.Debug("Universal binary has %d architectures, reading %s", narch, first.cpu)
	}

	slice := data[first.offset : first.offset+first.size]
	if len(slice) < 4 || !isThinMachO(slice) {
		return nil, malformed(format, int64(first.offset), "thin Mach-O slice", "unknown magic")
	}
	res, err := readThinMachO(slice, s)
	if err != nil {
		return nil, shifted(err, int64(first.offset))
	}
	res.Format = format
	res.Arch = first.cpu.String()
	return res, nil
}
