package extractor

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"github.com/sizemap/pkg/model"
)

const (
	coffHeaderSize    = 20
	coffSectionSize   = 40
	coffSymbolSize    = 18
	classExternal     = 2 // IMAGE_SYM_CLASS_EXTERNAL
	classStatic       = 3 // IMAGE_SYM_CLASS_STATIC
	peSignatureLength = 4
)

var peMachines = map[uint16]string{
	pe.IMAGE_FILE_MACHINE_I386:  "386",
	pe.IMAGE_FILE_MACHINE_AMD64: "amd64",
	pe.IMAGE_FILE_MACHINE_ARM:   "arm",
	pe.IMAGE_FILE_MACHINE_ARMNT: "arm",
	pe.IMAGE_FILE_MACHINE_ARM64: "arm64",
}

type peReader struct{}

func (peReader) format() model.Format { return model.FormatPE }

func (peReader) read(data []byte, s *scanner) (*Result, error) {
	const format = model.FormatPE
	if err := validatePE(data); err != nil {
		return nil, err
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(format, err)
	}
	defer f.Close()

	arch, ok := peMachines[f.Machine]
	if !ok {
		arch = fmt.Sprintf("machine %#x", f.Machine)
	}
	res := &Result{Format: format, Arch: arch}
	if len(f.Symbols) == 0 {
		s.logger.Debug("PE artifact has no COFF symbol table")
		return res, nil
	}

	sections := make([]bounds, len(f.Sections))
	for i, sec := range f.Sections {
		end := sec.VirtualSize
		if end == 0 {
			end = sec.Size
		}
		sections[i] = bounds{start: 0, end: uint64(end)}
	}
	stripUnderscore := f.Machine == pe.IMAGE_FILE_MACHINE_I386

	defined, err := collectAddressed(f.Symbols, func(i int, sym *pe.Symbol) (addressed, bool, error) {
		if sym.SectionNumber <= 0 {
			return addressed{}, false, nil
		}
		if sym.StorageClass != classExternal && sym.StorageClass != classStatic {
			return addressed{}, false, nil
		}
		if int(sym.SectionNumber) > len(f.Sections) {
			return addressed{}, false, malformed(format, -1,
				fmt.Sprintf("section number in 1..%d", len(f.Sections)),
				fmt.Sprintf("symbol %q in section %d", sym.Name, sym.SectionNumber))
		}
		sec := f.Sections[sym.SectionNumber-1]
		// Section definition records name the section itself.
		if sym.StorageClass == classStatic && sym.Value == 0 && sym.Name == sec.Name {
			return addressed{}, false, nil
		}

		name := sym.Name
		if stripUnderscore {
			name = trimUnderscore(name)
		}
		return addressed{
			rec: model.SymbolRecord{
				Name:    []byte(name),
				Section: sec.Name,
				Index:   i,
			},
			section: int(sym.SectionNumber) - 1,
			addr:    uint64(sym.Value),
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

// validatePE checks the COFF header, section table, symbol table and string
// table against the length of data. Detect has already checked the DOS
// header and the PE signature.
func validatePE(data []byte) error {
	const format = model.FormatPE
	le := binary.LittleEndian
	n := len(data)

	coff := uint64(le.Uint32(data[peHeaderOffset:])) + peSignatureLength
	if !in(coff, coffHeaderSize, n) {
		return truncated(format, int64(coff), "COFF header of 20 bytes", byteCount(uint64(n)-min(coff, uint64(n))))
	}
	nsec := uint64(le.Uint16(data[coff+2:]))
	symPtr := uint64(le.Uint32(data[coff+8:]))
	nsym := uint64(le.Uint32(data[coff+12:]))
	optSize := uint64(le.Uint16(data[coff+16:]))

	secTable := coff + coffHeaderSize + optSize
	if !in(secTable, nsec*coffSectionSize, n) {
		return truncated(format, int64(secTable), fmt.Sprintf("section table of %d entries", nsec),
			byteCount(uint64(n)-min(secTable, uint64(n))))
	}
	for i := uint64(0); i < nsec; i++ {
		hdr := secTable + i*coffSectionSize
		rawSize := uint64(le.Uint32(data[hdr+16:]))
		rawPtr := uint64(le.Uint32(data[hdr+20:]))
		if rawPtr == 0 || rawSize == 0 {
			continue
		}
		if !in(rawPtr, rawSize, n) {
			return malformed(format, int64(hdr),
				fmt.Sprintf("section %d data within %s", i+1, byteCount(uint64(n))),
				fmt.Sprintf("offset %#x size %#x", rawPtr, rawSize))
		}
	}

	if symPtr == 0 {
		return nil
	}
	if !in(symPtr, nsym*coffSymbolSize, n) {
		return truncated(format, int64(symPtr), fmt.Sprintf("symbol table of %d records", nsym),
			byteCount(uint64(n)-min(symPtr, uint64(n))))
	}
	strTab := symPtr + nsym*coffSymbolSize
	if !in(strTab, 4, n) {
		return truncated(format, int64(strTab), "string table length", byteCount(uint64(n)-strTab))
	}
	if strLen := uint64(le.Uint32(data[strTab:])); strLen > 4 && !in(strTab, strLen, n) {
		return truncated(format, int64(strTab), fmt.Sprintf("string table of %d bytes", strLen),
			byteCount(uint64(n)-strTab))
	}
	return nil
}
