// Package extractor reads defined symbols and their sizes out of compiled
// artifacts. ELF, Mach-O (thin and universal) and PE/COFF are sniffed from
// their magic bytes; nm text listings are accepted when asked for explicitly.
package extractor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/parallel"
	"github.com/sizemap/pkg/utils"

	apperrors "github.com/sizemap/pkg/errors"
)

// Defaults for Options.
const (
	DefaultParallelThreshold = 16384
	DefaultChunkSize         = 4096
)

// Options configures an Extractor.
type Options struct {
	// Format forces a container format. FormatUnknown sniffs the magic bytes.
	Format model.Format
	// Workers bounds the goroutines used for large tables. Zero picks a default.
	Workers int
	// ParallelThreshold is the table size above which scanning runs in parallel.
	ParallelThreshold int
	// ChunkSize is the number of table entries handed to one worker.
	ChunkSize int
	Logger    utils.Logger
}

// DefaultOptions returns default extractor options.
func DefaultOptions() *Options {
	return &Options{
		Format:            model.FormatUnknown,
		ParallelThreshold: DefaultParallelThreshold,
		ChunkSize:         DefaultChunkSize,
	}
}

// Result is the outcome of one extraction.
type Result struct {
	Format  model.Format
	Arch    string
	Records []model.SymbolRecord
}

// formatReader turns the bytes of one container format into symbol records.
type formatReader interface {
	format() model.Format
	read(data []byte, s *scanner) (*Result, error)
}

var readers = map[model.Format]formatReader{
	model.FormatELF:      elfReader{},
	model.FormatMachO:    machoReader{},
	model.FormatMachOFat: fatReader{},
	model.FormatPE:       peReader{},
	model.FormatNM:       nmReader{},
}

// Extractor reads symbol tables. It is safe for concurrent use.
type Extractor struct {
	opts    Options
	scanner *scanner
}

// New creates an Extractor. A nil opts uses DefaultOptions.
func New(opts *Options) *Extractor {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.ParallelThreshold <= 0 {
		o.ParallelThreshold = DefaultParallelThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	o.Logger = utils.OrNull(o.Logger)

	cfg := parallel.DefaultPoolConfig().WithWorkers(o.Workers)
	return &Extractor{
		opts: o,
		scanner: &scanner{
			pool:      parallel.NewWorkerPool[parallel.Range, []model.SymbolRecord](cfg),
			threshold: o.ParallelThreshold,
			chunk:     o.ChunkSize,
			logger:    o.Logger,
		},
	}
}

// Extract returns every defined symbol in data with its size.
// On error no records are returned.
func (e *Extractor) Extract(ctx context.Context, data []byte) (res *Result, err error) {
	format := e.opts.Format
	if format == model.FormatUnknown || format == "" {
		if format, err = Detect(data); err != nil {
			return nil, err
		}
	} else if format != model.FormatNM {
		detected, derr := Detect(data)
		if derr != nil {
			return nil, derr
		}
		if detected != format {
			return nil, unsupported(format, format.String()+" magic", detected.String())
		}
	}

	r, ok := readers[format]
	if !ok {
		return nil, unsupported(format, "elf, macho, pe or nm", format.String())
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &FormatError{Kind: apperrors.ErrMalformed, Format: format, Offset: -1,
				Err: fmt.Errorf("decoder panic: %v", p)}
		}
	}()

	s := *e.scanner
	s.ctx = ctx
	res, err = r.read(data, &s)
	if err != nil {
		return nil, err
	}
	e.opts.Logger.Debug("Extracted %d symbols from %s artifact (%d bytes)", len(res.Records), res.Format, len(data))
	return res, nil
}

// Extract is a convenience wrapper around New(opts).Extract.
func Extract(ctx context.Context, data []byte, opts *Options) (*Result, error) {
	return New(opts).Extract(ctx, data)
}

// Mach-O and universal magics, as read big-endian from the first four bytes.
const (
	machoMagic32   = 0xfeedface
	machoMagic64   = 0xfeedfacf
	machoCigam32   = 0xcefaedfe
	machoCigam64   = 0xcffaedfe
	fatMagic       = 0xcafebabe
	fatMagic64     = 0xcafebabf
	maxFatArches   = 45 // Java class files share 0xcafebabe; their version field is larger.
	peHeaderOffset = 0x3c
)

// Detect identifies the container format of data from its magic bytes.
func Detect(data []byte) (model.Format, error) {
	if len(data) < 4 {
		return model.FormatUnknown, unsupported(model.FormatUnknown, "at least 4 magic bytes", byteCount(uint64(len(data))))
	}
	if bytes.HasPrefix(data, []byte("\x7fELF")) {
		return model.FormatELF, nil
	}

	switch binary.BigEndian.Uint32(data) {
	case machoMagic32, machoMagic64, machoCigam32, machoCigam64:
		return model.FormatMachO, nil
	case fatMagic64:
		if len(data) < 8 {
			return model.FormatMachOFat, truncated(model.FormatMachOFat, 4, "universal header of 8 bytes", byteCount(uint64(len(data))))
		}
		return model.FormatMachOFat, nil
	case fatMagic:
		if len(data) < 8 {
			return model.FormatMachOFat, truncated(model.FormatMachOFat, 4, "universal header of 8 bytes", byteCount(uint64(len(data))))
		}
		if binary.BigEndian.Uint32(data[4:]) < maxFatArches {
			return model.FormatMachOFat, nil
		}
		return model.FormatUnknown, unsupported(model.FormatUnknown, "universal binary", "java class file magic")
	}

	if bytes.HasPrefix(data, []byte("MZ")) {
		if len(data) < peHeaderOffset+4 {
			return model.FormatPE, truncated(model.FormatPE, 0, "DOS header of 64 bytes", byteCount(uint64(len(data))))
		}
		lfanew := uint64(binary.LittleEndian.Uint32(data[peHeaderOffset:]))
		if lfanew+4 > uint64(len(data)) {
			return model.FormatPE, truncated(model.FormatPE, peHeaderOffset, fmt.Sprintf("PE signature at %#x", lfanew), byteCount(uint64(len(data))))
		}
		if !bytes.Equal(data[lfanew:lfanew+4], []byte("PE\x00\x00")) {
			return model.FormatUnknown, unsupported(model.FormatUnknown, "PE signature", "DOS executable")
		}
		return model.FormatPE, nil
	}

	return model.FormatUnknown, unsupported(model.FormatUnknown, "ELF, Mach-O or PE magic", fmt.Sprintf("% x", data[:4]))
}

// scanner carries the per-call parallelism settings into format readers.
type scanner struct {
	ctx       context.Context
	pool      *parallel.WorkerPool[parallel.Range, []model.SymbolRecord]
	threshold int
	chunk     int
	logger    utils.Logger
}

func (s *scanner) context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// scanTable applies keep to every entry of table. Tables larger than the
// threshold are split into chunks that run on the pool. Output is in table
// order either way.
func scanTable[T any](s *scanner, table []T, keep func(i int, entry T) (model.SymbolRecord, bool, error)) ([]model.SymbolRecord, error) {
	scan := func(chunk []T, offset int) (out []model.SymbolRecord, err error) {
		// Chunks may run on pool goroutines, out of reach of Extract's recover.
		defer func() {
			if p := recover(); p != nil {
				out, err = nil, fmt.Errorf("decoder panic in entries %d..%d: %v", offset, offset+len(chunk), p)
			}
		}()
		out = make([]model.SymbolRecord, 0, len(chunk))
		for j, entry := range chunk {
			rec, ok, err := keep(offset+j, entry)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, rec)
			}
		}
		return out, nil
	}

	if len(table) <= s.threshold || s.pool == nil {
		return scan(table, 0)
	}
	s.logger.Debug("Scanning %d symbol table entries on %d workers", len(table), s.pool.Workers())
	out, err := parallel.MapChunks(s.context(), s.pool, table, s.chunk, scan)
	if err != nil {
		return nil, err
	}
	sortByIndex(out)
	return out, nil
}

func sortByIndex(recs []model.SymbolRecord) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Index < recs[j].Index })
}

// in reports whether [off, off+n) lies inside a buffer of the given length.
func in(off, n uint64, length int) bool {
	end := off + n
	return end >= off && end <= uint64(length)
}
