package extractor

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sizemap/pkg/model"
)

type elfReader struct{}

func (elfReader) format() model.Format { return model.FormatELF }

// elfLayout is the part of the ELF header needed to check the section
// header table before handing the file to debug/elf.
type elfLayout struct {
	order     binary.ByteOrder
	is64      bool
	ehsize    uint64
	shoff     uint64
	shentsize uint64
	shnum     uint64
	shstrndx  uint64
}

func (elfReader) read(data []byte, s *scanner) (*Result, error) {
	if err := validateELF(data); err != nil {
		return nil, err
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(model.FormatELF, err)
	}

	syms, err := f.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		syms, err = f.DynamicSymbols()
	}
	if errors.Is(err, elf.ErrNoSymbols) {
		s.logger.Debug("ELF artifact has neither .symtab nor .dynsym")
		return &Result{Format: model.FormatELF, Arch: f.Machine.String()}, nil
	}
	if err != nil {
		return nil, decodeError(model.FormatELF, err)
	}

	recs, err := scanTable(s, syms, func(i int, sym elf.Symbol) (model.SymbolRecord, bool, error) {
		section, ok, err := elfSection(f, sym)
		if err != nil || !ok {
			return model.SymbolRecord{}, false, err
		}
		return model.SymbolRecord{
			Name:    []byte(sym.Name),
			Size:    sym.Size,
			Section: section,
			Index:   i,
		}, true, nil
	})
	if err != nil {
		return nil, decodeError(model.FormatELF, err)
	}
	return &Result{Format: model.FormatELF, Arch: f.Machine.String(), Records: recs}, nil
}

// elfSection decides whether sym is a sized, defined symbol and names the
// section holding it.
func elfSection(f *elf.File, sym elf.Symbol) (string, bool, error) {
	switch elf.ST_TYPE(sym.Info) {
	case elf.STT_SECTION, elf.STT_FILE:
		return "", false, nil
	}

	switch idx := sym.Section; {
	case idx == elf.SHN_UNDEF, idx == elf.SHN_ABS:
		return "", false, nil
	case idx == elf.SHN_COMMON:
		return "COMMON", true, nil
	case idx >= elf.SHN_LORESERVE:
		return "", false, nil
	case int(idx) >= len(f.Sections):
		return "", false, malformed(model.FormatELF, -1,
			fmt.Sprintf("section index below %d", len(f.Sections)),
			fmt.Sprintf("symbol %q in section %d", sym.Name, idx))
	default:
		return f.Sections[idx].Name, true, nil
	}
}

// validateELF checks that the header and section header table fit in data
// and that every section with file contents lies inside it.
func validateELF(data []byte) error {
	const format = model.FormatELF
	if len(data) < elf.EI_NIDENT {
		return truncated(format, 0, "ELF identification of 16 bytes", byteCount(uint64(len(data))))
	}

	var l elfLayout
	switch elf.Class(data[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		l.ehsize = 52
	case elf.ELFCLASS64:
		l.is64, l.ehsize = true, 64
	default:
		return malformed(format, elf.EI_CLASS, "ELFCLASS32 or ELFCLASS64", fmt.Sprintf("class %d", data[elf.EI_CLASS]))
	}
	switch elf.Data(data[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		l.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		l.order = binary.BigEndian
	default:
		return malformed(format, elf.EI_DATA, "ELFDATA2LSB or ELFDATA2MSB", fmt.Sprintf("encoding %d", data[elf.EI_DATA]))
	}
	if uint64(len(data)) < l.ehsize {
		return truncated(format, 0, fmt.Sprintf("ELF header of %d bytes", l.ehsize), byteCount(uint64(len(data))))
	}

	o := l.order
	if l.is64 {
		l.shoff = o.Uint64(data[40:])
		l.shentsize = uint64(o.Uint16(data[58:]))
		l.shnum = uint64(o.Uint16(data[60:]))
		l.shstrndx = uint64(o.Uint16(data[62:]))
	} else {
		l.shoff = uint64(o.Uint32(data[32:]))
		l.shentsize = uint64(o.Uint16(data[46:]))
		l.shnum = uint64(o.Uint16(data[48:]))
		l.shstrndx = uint64(o.Uint16(data[50:]))
	}

	// shnum == 0 with a table present means the count lives in section 0;
	// debug/elf resolves that case itself.
	if l.shoff == 0 || l.shnum == 0 {
		return nil
	}

	want := uint64(40)
	if l.is64 {
		want = 64
	}
	if l.shentsize < want {
		return malformed(format, 0, fmt.Sprintf("section header size %d", want), fmt.Sprintf("%d", l.shentsize))
	}
	if !in(l.shoff, l.shnum*l.shentsize, len(data)) {
		return truncated(format, int64(l.shoff),
			fmt.Sprintf("section header table of %d bytes", l.shnum*l.shentsize),
			byteCount(uint64(len(data))-min(l.shoff, uint64(len(data)))))
	}
	if l.shstrndx != uint64(elf.SHN_XINDEX) && l.shstrndx >= l.shnum {
		return malformed(format, 0, fmt.Sprintf("section name table index below %d", l.shnum), fmt.Sprintf("%d", l.shstrndx))
	}

	for i := uint64(0); i < l.shnum; i++ {
		hdr := l.shoff + i*l.shentsize
		typ, off, size := l.section(data[hdr:])
		if typ == elf.SHT_NULL || typ == elf.SHT_NOBITS {
			continue
		}
		if !in(off, size, len(data)) {
			return malformed(format, int64(hdr),
				fmt.Sprintf("section %d data within %s", i, byteCount(uint64(len(data)))),
				fmt.Sprintf("offset %#x size %#x", off, size))
		}
	}
	return nil
}

func (l *elfLayout) section(hdr []byte) (elf.SectionType, uint64, uint64) {
	o := l.order
	typ := elf.SectionType(o.Uint32(hdr[4:]))
	if l.is64 {
		return typ, o.Uint64(hdr[24:]), o.Uint64(hdr[32:])
	}
	return typ, uint64(o.Uint32(hdr[16:])), uint64(o.Uint32(hdr[20:]))
}
