// Package resolver turns raw, possibly mangled symbol names into namespace
// paths. Resolution never fails: names no scheme recognizes become a single
// opaque segment.
package resolver

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ianlancetaylor/demangle"

	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/parallel"
	"github.com/sizemap/pkg/utils"
)

// Anonymous names the segment of a symbol with an empty name.
const Anonymous = "<anonymous>"

// DefaultParallelThreshold is the record count above which ResolveAll
// spreads work over a worker pool.
const DefaultParallelThreshold = 16384

// Options configures a Resolver.
type Options struct {
	// Simplify drops template arguments and clone suffixes from demangled
	// C++ and Rust names, and type arguments from Go generics.
	Simplify bool
	// KeepParams keeps C++ parameter lists, which tells overloads apart.
	KeepParams bool
	// Go parses dotted names as Go symbols. See IsGoBinary.
	Go bool
	// GroupStd puts Go standard library packages under a "std" segment.
	GroupStd bool

	Workers           int
	ParallelThreshold int
	Logger            utils.Logger
}

// DefaultOptions returns default resolver options.
func DefaultOptions() *Options {
	return &Options{KeepParams: true, ParallelThreshold: DefaultParallelThreshold}
}

// Resolver maps raw names to paths. It is safe for concurrent use.
type Resolver struct {
	opts      Options
	demangle  []demangle.Option
	stdPkgs   map[string]struct{}
	pool      *parallel.WorkerPool[parallel.Range, []model.PathRecord]
	threshold int
	logger    utils.Logger
}

// New creates a Resolver. A nil opts uses DefaultOptions.
func New(opts *Options) *Resolver {
	if opts == nil {
		opts = DefaultOptions()
	}
	r := &Resolver{
		opts:      *opts,
		threshold: opts.ParallelThreshold,
		logger:    utils.OrNull(opts.Logger),
		pool:      parallel.NewWorkerPool[parallel.Range, []model.PathRecord](parallel.DefaultPoolConfig().WithWorkers(opts.Workers)),
	}
	if r.threshold <= 0 {
		r.threshold = DefaultParallelThreshold
	}
	if !opts.KeepParams {
		r.demangle = append(r.demangle, demangle.NoParams)
	}
	if opts.Simplify {
		r.demangle = append(r.demangle, demangle.NoTemplateParams, demangle.NoClones)
	}
	if opts.Go && opts.GroupStd {
		r.stdPkgs = stdPackages()
	}
	return r
}

// Resolve returns the path for one raw name. The path is never empty and
// no segment is empty.
func (r *Resolver) Resolve(raw []byte) model.SymbolPath {
	if len(raw) == 0 {
		return model.SymbolPath{Anonymous}
	}
	name := string(raw)

	var segs []string
	switch {
	case isItanium(name) || strings.HasPrefix(name, "_R"):
		segs = r.demangled(name)
	case strings.HasPrefix(name, "?"):
		segs = msvcPath(name)
	case r.opts.Go && isGoName(name):
		segs = r.goPath(name)
	case strings.Contains(name, "::"):
		segs = splitScoped(stripReturnType(name))
	}

	if path := clean(segs); len(path) > 0 {
		return path
	}
	if s := sanitize(name); strings.TrimSpace(s) != "" {
		return model.SymbolPath{s}
	}
	return model.SymbolPath{Anonymous}
}

// ResolveAll resolves every record, keeping input order. Large inputs are
// resolved in chunks on a worker pool.
func (r *Resolver) ResolveAll(ctx context.Context, recs []model.SymbolRecord) ([]model.PathRecord, error) {
	resolve := func(chunk []model.SymbolRecord, _ int) ([]model.PathRecord, error) {
		out := make([]model.PathRecord, len(chunk))
		for i, rec := range chunk {
			out[i] = model.PathRecord{Path: r.Resolve(rec.Name), Size: rec.Size}
		}
		return out, nil
	}
	if len(recs) <= r.threshold {
		return resolve(recs, 0)
	}
	r.logger.Debug("Resolving %d names on %d workers", len(recs), r.pool.Workers())
	return parallel.MapChunks(ctx, r.pool, recs, r.threshold/4+1, resolve)
}

func isItanium(name string) bool {
	return strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "__Z") || strings.HasPrefix(name, "___Z")
}

// demangled demangles C++ and Rust names and splits the result on "::".
// It returns nil when the name does not demangle.
func (r *Resolver) demangled(name string) (segs []string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("demangler panicked on %q: %v", name, p)
			segs = nil
		}
	}()

	if strings.HasPrefix(name, "__Z") && !strings.HasPrefix(name, "___Z") {
		name = name[1:]
	}
	out, err := demangle.ToString(name, r.demangle...)
	if err != nil {
		return nil
	}
	segs = splitScoped(stripReturnType(out))
	if n := len(segs); n > 1 && isRustHash(segs[n-1]) {
		segs = segs[:n-1]
	}
	return segs
}

// isRustHash matches the h<16 hex digits> segment legacy Rust appends.
func isRustHash(s string) bool {
	if len(s) != 17 || s[0] != 'h' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// clean sanitizes segments and drops the empty ones.
func clean(segs []string) model.SymbolPath {
	if len(segs) == 0 {
		return nil
	}
	path := make(model.SymbolPath, 0, len(segs))
	for _, s := range segs {
		s = strings.TrimSpace(sanitize(s))
		if s != "" {
			path = append(path, s)
		}
	}
	return path
}

// sanitize replaces every invalid UTF-8 byte and every non-printable rune
// with U+FFFD.
func sanitize(s string) string {
	clean := true
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || !unicode.IsPrint(r) {
			clean = false
			break
		}
		i += size
	}
	if clean {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || !unicode.IsPrint(r) {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.WriteRune(r)
		}
		i += size
	}
	return sb.String()
}

// IsGoBinary reports whether recs look like the symbol table of a Go
// program, whose dotted names should be parsed as Go symbols.
func IsGoBinary(recs []model.SymbolRecord) bool {
	for _, rec := range recs {
		switch string(rec.Name) {
		case "runtime.main", "runtime.goexit", "go:buildid", "go.buildid":
			return true
		}
	}
	return false
}
