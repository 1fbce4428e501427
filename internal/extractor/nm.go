package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sizemap/pkg/hexdec"
	"github.com/sizemap/pkg/model"
)

// nmSections maps nm symbol type letters of defined, sized symbols to a
// section name. Case only distinguishes local from global, except for
// 'u' (unique global) and 'U' (undefined); see nmSection.
var nmSections = map[byte]string{
	't': ".text",
	'i': ".text",
	'd': ".data",
	'g': ".data",
	'b': ".bss",
	's': ".bss",
	'r': ".rodata",
	'v': ".data",
	'w': ".text",
	'c': "COMMON",
	'u': ".data",
}

type nmReader struct{}

func (nmReader) format() model.Format { return model.FormatNM }

// read parses `nm -S` output: "<addr> <size> <type> <name>". Lines without a
// size, undefined symbols and debugging entries are skipped.
func (nmReader) read(data []byte, s *scanner) (*Result, error) {
	const format = model.FormatNM
	var recs []model.SymbolRecord
	offset := 0
	for len(data) > 0 {
		line := data
		next := len(data)
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, next = data[:i], i+1
		}
		rec, ok, err := parseNMLine(strings.TrimRight(string(line), "\r"))
		if err != nil {
			return nil, malformed(format, int64(offset), "nm -S line", err.Error())
		}
		if ok {
			rec.Index = len(recs)
			recs = append(recs, rec)
		}
		data = data[next:]
		offset += next
	}
	s.logger.Debug("Parsed %d sized symbols from nm listing", len(recs))
	return &Result{Format: format, Records: recs}, nil
}

func parseNMLine(line string) (model.SymbolRecord, bool, error) {
	addr, rest := cutField(line)
	size, rest := cutField(rest)
	kind, name := cutField(rest)
	if addr == "" || size == "" || kind == "" || name == "" || len(kind) != 1 {
		return model.SymbolRecord{}, false, nil
	}

	section, ok := nmSection(kind[0])
	if !ok {
		return model.SymbolRecord{}, false, nil
	}
	if _, err := hexdec.ParseHex(addr); err != nil {
		return model.SymbolRecord{}, false, fmt.Errorf("address %q", addr)
	}
	n, err := hexdec.ParseHex(size)
	if err != nil {
		return model.SymbolRecord{}, false, fmt.Errorf("size %q", size)
	}
	return model.SymbolRecord{Name: []byte(name), Size: n, Section: section}, true, nil
}

// cutField splits off the first whitespace separated field. The remainder
// keeps its inner spaces so demangled names survive.
func cutField(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimLeft(s[i:], " \t")
	}
	return s, ""
}

func nmSection(kind byte) (string, bool) {
	if kind == 'U' {
		return "", false
	}
	section, ok := nmSections[lower(kind)]
	return section, ok
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
