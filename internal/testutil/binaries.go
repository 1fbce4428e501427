package testutil

import (
	"encoding/binary"
)

// SymKind is the kind of a synthetic symbol.
type SymKind int

const (
	KindFunc SymKind = iota
	KindObject
	KindTLS
	KindNoType
	KindSection
	KindFile
	KindStab
)

// Special section names accepted in Sym.Section.
const (
	SectionUndef  = ""
	SectionAbs    = "*ABS*"
	SectionCommon = "*COM*"
)

// Section describes one section of a synthetic binary.
type Section struct {
	Segment string // Mach-O only
	Name    string
	Addr    uint64
	Size    uint64
	NoBits  bool // .bss style: no file contents
}

// Sym describes one symbol table entry of a synthetic binary.
// Size is only encoded by ELF; Mach-O and PE carry no symbol sizes.
type Sym struct {
	Name    string
	Section string
	Value   uint64
	Size    uint64
	Kind    SymKind
	Local   bool
}

// Image is a synthetic binary plus the offsets of the tables tests corrupt.
type Image struct {
	Data         []byte
	SectionTable int
	SymbolTable  int
	StringTable  int
	// SectionHeaders holds the file offset of each input section's header.
	SectionHeaders []int
}

var le = binary.LittleEndian

func pad(buf []byte, align int) []byte {
	for len(buf)%align != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func cstr(tab []byte, s string) ([]byte, uint32) {
	off := uint32(len(tab))
	tab = append(tab, s...)
	return append(tab, 0), off
}

// ELF64 builds a little-endian x86-64 ELF executable holding the given
// sections plus .symtab, .strtab and .shstrtab.
func ELF64(sections []Section, syms []Sym) *Image {
	type shdr struct {
		name, typ        uint32
		flags, addr, off uint64
		size             uint64
		link, info       uint32
		align, entsize   uint64
	}

	buf := make([]byte, 64)
	shstr := []byte{0}
	hdrs := []shdr{{}}
	index := map[string]uint16{}

	for _, s := range sections {
		var h shdr
		shstr, h.name = cstr(shstr, s.Name)
		h.typ, h.flags, h.addr, h.size, h.align = 1, 0x2, s.Addr, s.Size, 1
		h.off = uint64(len(buf))
		if s.NoBits {
			h.typ = 8
		} else {
			buf = append(buf, make([]byte, s.Size)...)
		}
		index[s.Name] = uint16(len(hdrs))
		hdrs = append(hdrs, h)
	}

	symtabIdx := uint32(len(hdrs))
	var symName, strName, shstrName uint32
	shstr, symName = cstr(shstr, ".symtab")
	shstr, strName = cstr(shstr, ".strtab")
	shstr, shstrName = cstr(shstr, ".shstrtab")

	strtab := []byte{0}
	symtab := make([]byte, 24)
	for _, s := range syms {
		var nameOff uint32
		strtab, nameOff = cstr(strtab, s.Name)

		var typ byte
		switch s.Kind {
		case KindFunc:
			typ = 2
		case KindObject:
			typ = 1
		case KindTLS:
			typ = 6
		case KindSection:
			typ = 3
		case KindFile:
			typ = 4
		}
		bind := byte(1)
		if s.Local {
			bind = 0
		}

		var shndx uint16
		switch s.Section {
		case SectionUndef:
		case SectionAbs:
			shndx = 0xfff1
		case SectionCommon:
			shndx = 0xfff2
		default:
			shndx = index[s.Section]
		}

		ent := make([]byte, 24)
		le.PutUint32(ent[0:], nameOff)
		ent[4] = bind<<4 | typ
		le.PutUint16(ent[6:], shndx)
		le.PutUint64(ent[8:], s.Value)
		le.PutUint64(ent[16:], s.Size)
		symtab = append(symtab, ent...)
	}

	img := &Image{}
	buf = pad(buf, 8)
	img.SymbolTable = len(buf)
	hdrs = append(hdrs, shdr{name: symName, typ: 2, off: uint64(len(buf)), size: uint64(len(symtab)),
		link: symtabIdx + 1, info: 1, align: 8, entsize: 24})
	buf = append(buf, symtab...)

	img.StringTable = len(buf)
	hdrs = append(hdrs, shdr{name: strName, typ: 3, off: uint64(len(buf)), size: uint64(len(strtab)), align: 1})
	buf = append(buf, strtab...)

	hdrs = append(hdrs, shdr{name: shstrName, typ: 3, off: uint64(len(buf)), size: uint64(len(shstr)), align: 1})
	buf = append(buf, shstr...)

	buf = pad(buf, 8)
	img.SectionTable = len(buf)
	for i, h := range hdrs {
		if i >= 1 && i <= len(sections) {
			img.SectionHeaders = append(img.SectionHeaders, len(buf))
		}
		ent := make([]byte, 64)
		le.PutUint32(ent[0:], h.name)
		le.PutUint32(ent[4:], h.typ)
		le.PutUint64(ent[8:], h.flags)
		le.PutUint64(ent[16:], h.addr)
		le.PutUint64(ent[24:], h.off)
		le.PutUint64(ent[32:], h.size)
		le.PutUint32(ent[40:], h.link)
		le.PutUint32(ent[44:], h.info)
		le.PutUint64(ent[48:], h.align)
		le.PutUint64(ent[56:], h.entsize)
		buf = append(buf, ent...)
	}

	copy(buf[0:], "\x7fELF")
	buf[4], buf[5], buf[6] = 2, 1, 1 // ELFCLASS64, ELFDATA2LSB, EV_CURRENT
	le.PutUint16(buf[16:], 2)        // ET_EXEC
	le.PutUint16(buf[18:], 62)       // EM_X86_64
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[40:], uint64(img.SectionTable))
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[58:], 64)
	le.PutUint16(buf[60:], uint16(len(hdrs)))
	le.PutUint16(buf[62:], uint16(len(hdrs)-1))

	img.Data = buf
	return img
}

// MachO64 builds a little-endian x86-64 Mach-O executable. Sections are
// grouped into LC_SEGMENT_64 commands by Segment in order of appearance and
// numbered in that order for n_sect.
func MachO64(sections []Section, syms []Sym) *Image {
	var segOrder []string
	bySeg := map[string][]int{}
	for i, s := range sections {
		if _, ok := bySeg[s.Segment]; !ok {
			segOrder = append(segOrder, s.Segment)
		}
		bySeg[s.Segment] = append(bySeg[s.Segment], i)
	}

	ordinal := map[string]uint8{}
	var emitted []int
	for _, seg := range segOrder {
		for _, i := range bySeg[seg] {
			emitted = append(emitted, i)
			ordinal[sections[i].Name] = uint8(len(emitted))
		}
	}

	sizeofcmds := 24
	for _, seg := range segOrder {
		sizeofcmds += 72 + 80*len(bySeg[seg])
	}
	dataStart := 32 + sizeofcmds

	// Lay out section contents after the load commands.
	offsets := make([]uint32, len(sections))
	next := dataStart
	for _, i := range emitted {
		if !sections[i].NoBits {
			offsets[i] = uint32(next)
			next += int(sections[i].Size)
		}
	}
	next = (next + 7) &^ 7
	symoff := next

	strtab := []byte{' ', 0}
	symtab := make([]byte, 0, 16*len(syms))
	for _, s := range syms {
		var nameOff uint32
		strtab, nameOff = cstr(strtab, s.Name)
		ent := make([]byte, 16)
		le.PutUint32(ent[0:], nameOff)
		switch {
		case s.Kind == KindStab:
			ent[4] = 0x24
			ent[5] = ordinal[s.Section]
		case s.Section == SectionUndef:
			ent[4] = 0x01
		case s.Section == SectionAbs:
			ent[4] = 0x03
		default:
			ent[4] = 0x0e
			if !s.Local {
				ent[4] |= 0x01
			}
			ent[5] = ordinal[s.Section]
		}
		le.PutUint64(ent[8:], s.Value)
		symtab = append(symtab, ent...)
	}
	stroff := symoff + len(symtab)

	buf := make([]byte, 32, stroff+len(strtab))
	le.PutUint32(buf[0:], 0xfeedfacf)
	le.PutUint32(buf[4:], 0x01000007)
	le.PutUint32(buf[8:], 3)
	le.PutUint32(buf[12:], 2)
	le.PutUint32(buf[16:], uint32(len(segOrder)+1))
	le.PutUint32(buf[20:], uint32(sizeofcmds))

	img := &Image{SectionHeaders: make([]int, len(sections))}
	for _, seg := range segOrder {
		idx := bySeg[seg]
		cmd := make([]byte, 72)
		le.PutUint32(cmd[0:], 0x19)
		le.PutUint32(cmd[4:], uint32(72+80*len(idx)))
		copy(cmd[8:24], seg)
		lo, hi := sections[idx[0]].Addr, uint64(0)
		var filesize uint64
		for _, i := range idx {
			lo = min(lo, sections[i].Addr)
			hi = max(hi, sections[i].Addr+sections[i].Size)
			if !sections[i].NoBits {
				filesize += sections[i].Size
			}
		}
		le.PutUint64(cmd[24:], lo)
		le.PutUint64(cmd[32:], hi-lo)
		le.PutUint64(cmd[40:], uint64(offsets[idx[0]]))
		le.PutUint64(cmd[48:], filesize)
		le.PutUint32(cmd[56:], 7)
		le.PutUint32(cmd[60:], 5)
		le.PutUint32(cmd[64:], uint32(len(idx)))
		buf = append(buf, cmd...)

		for _, i := range idx {
			s := sections[i]
			img.SectionHeaders[i] = len(buf)
			sec := make([]byte, 80)
			copy(sec[0:16], s.Name)
			copy(sec[16:32], seg)
			le.PutUint64(sec[32:], s.Addr)
			le.PutUint64(sec[40:], s.Size)
			le.PutUint32(sec[48:], offsets[i])
			if s.NoBits {
				le.PutUint32(sec[64:], 0x1) // S_ZEROFILL
			}
			buf = append(buf, sec...)
		}
	}

	img.SectionTable = 32
	symtabCmd := make([]byte, 24)
	le.PutUint32(symtabCmd[0:], 0x2)
	le.PutUint32(symtabCmd[4:], 24)
	le.PutUint32(symtabCmd[8:], uint32(symoff))
	le.PutUint32(symtabCmd[12:], uint32(len(syms)))
	le.PutUint32(symtabCmd[16:], uint32(stroff))
	le.PutUint32(symtabCmd[20:], uint32(len(strtab)))
	buf = append(buf, symtabCmd...)

	for _, i := range emitted {
		if !sections[i].NoBits {
			buf = append(buf, make([]byte, sections[i].Size)...)
		}
	}
	buf = pad(buf, 8)
	img.SymbolTable = len(buf)
	buf = append(buf, symtab...)
	img.StringTable = len(buf)
	buf = append(buf, strtab...)

	img.Data = buf
	return img
}

// FatSlice is one architecture of a universal binary.
type FatSlice struct {
	CPU  uint32
	Data []byte
}

// Fat wraps thin Mach-O images into a universal binary.
func Fat(slices ...FatSlice) []byte {
	be := binary.BigEndian
	header := 8 + 20*len(slices)
	buf := make([]byte, header)
	be.PutUint32(buf[0:], 0xcafebabe)
	be.PutUint32(buf[4:], uint32(len(slices)))
	for i, s := range slices {
		buf = pad(buf, 16)
		ent := buf[8+20*i:]
		be.PutUint32(ent[0:], s.CPU)
		be.PutUint32(ent[8:], uint32(len(buf)))
		be.PutUint32(ent[12:], uint32(len(s.Data)))
		be.PutUint32(ent[16:], 4)
		buf = append(buf, s.Data...)
	}
	return buf
}

// Fat64 wraps thin Mach-O images into a universal binary with 64-bit
// architecture entries.
func Fat64(slices ...FatSlice) []byte {
	be := binary.BigEndian
	header := 8 + 32*len(slices)
	buf := make([]byte, header)
	be.PutUint32(buf[0:], 0xcafebabf)
	be.PutUint32(buf[4:], uint32(len(slices)))
	for i, s := range slices {
		buf = pad(buf, 16)
		ent := buf[8+32*i:]
		be.PutUint32(ent[0:], s.CPU)
		be.PutUint64(ent[8:], uint64(len(buf)))
		be.PutUint64(ent[16:], uint64(len(s.Data)))
		be.PutUint32(ent[24:], 4)
		buf = append(buf, s.Data...)
	}
	return buf
}

// PE64 builds a PE32+ image for amd64 with a COFF symbol table. Symbol
// values are offsets into their section. A KindSection symbol is written
// as a section definition record followed by one auxiliary record.
func PE64(sections []Section, syms []Sym) *Image {
	return buildPE(0x8664, sections, syms)
}

// PE32 is PE64 for i386, whose C symbols carry a leading underscore.
func PE32(sections []Section, syms []Sym) *Image {
	return buildPE(0x14c, sections, syms)
}

func buildPE(machine uint16, sections []Section, syms []Sym) *Image {
	const (
		lfanew  = 64
		optSize = 240
	)
	coff := lfanew + 4
	secTable := coff + 20 + optSize
	dataStart := secTable + 40*len(sections)

	number := map[string]int16{}
	rawPtr := make([]int, len(sections))
	next := dataStart
	for i, s := range sections {
		number[s.Name] = int16(i + 1)
		if !s.NoBits {
			rawPtr[i] = next
			next += int(s.Size)
		}
	}
	symPtr := next

	strtab := []byte{0, 0, 0, 0}
	var symtab []byte
	nsym := 0
	for _, s := range syms {
		ent := make([]byte, 18)
		if len(s.Name) <= 8 {
			copy(ent[0:8], s.Name)
		} else {
			var off uint32
			strtab, off = cstr(strtab, s.Name)
			le.PutUint32(ent[4:], off)
		}
		le.PutUint32(ent[8:], uint32(s.Value))

		var secNum int16
		switch s.Section {
		case SectionUndef:
		case SectionAbs:
			secNum = -1
		default:
			secNum = number[s.Section]
		}
		le.PutUint16(ent[12:], uint16(secNum))
		if s.Kind == KindFunc {
			le.PutUint16(ent[14:], 0x20)
		}
		ent[16] = 2
		if s.Local || s.Kind == KindSection {
			ent[16] = 3
		}
		if s.Kind == KindSection {
			ent[17] = 1
		}
		symtab = append(symtab, ent...)
		nsym++
		if s.Kind == KindSection {
			symtab = append(symtab, make([]byte, 18)...)
			nsym++
		}
	}
	le.PutUint32(strtab[0:], uint32(len(strtab)))

	buf := make([]byte, secTable)
	copy(buf[0:], "MZ")
	le.PutUint32(buf[0x3c:], lfanew)
	copy(buf[lfanew:], "PE\x00\x00")
	le.PutUint16(buf[coff+0:], machine)
	le.PutUint16(buf[coff+2:], uint16(len(sections)))
	le.PutUint32(buf[coff+8:], uint32(symPtr))
	le.PutUint32(buf[coff+12:], uint32(nsym))
	le.PutUint16(buf[coff+16:], optSize)
	le.PutUint16(buf[coff+18:], 0x22)
	opt := coff + 20
	le.PutUint16(buf[opt:], 0x20b)
	le.PutUint32(buf[opt+108:], 16)

	img := &Image{SectionTable: secTable}
	for i, s := range sections {
		img.SectionHeaders = append(img.SectionHeaders, len(buf))
		hdr := make([]byte, 40)
		copy(hdr[0:8], s.Name)
		le.PutUint32(hdr[8:], uint32(s.Size))
		le.PutUint32(hdr[12:], uint32(s.Addr))
		if !s.NoBits {
			le.PutUint32(hdr[16:], uint32(s.Size))
			le.PutUint32(hdr[20:], uint32(rawPtr[i]))
		}
		buf = append(buf, hdr...)
	}
	for _, s := range sections {
		if !s.NoBits {
			buf = append(buf, make([]byte, s.Size)...)
		}
	}
	img.SymbolTable = len(buf)
	buf = append(buf, symtab...)
	img.StringTable = len(buf)
	buf = append(buf, strtab...)

	img.Data = buf
	return img
}
