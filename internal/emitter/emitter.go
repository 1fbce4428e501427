// Package emitter renders a laid-out size tree into output files: JSON,
// HTML, SVG, folded stacks, pprof and a markdown summary.
package emitter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sizemap/internal/symtree"
	"github.com/sizemap/internal/treemap"
	"github.com/sizemap/pkg/compression"
	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/utils"
)

// BaseName is the file name, without extension, of every output.
const BaseName = "sizemap"

// Input is what every emitter renders.
type Input struct {
	Report *model.Report
	Tree   *symtree.Tree
	Layout *treemap.Cell
}

// Emitter renders one output format.
type Emitter interface {
	// Name is the format name used on the command line, e.g. "json".
	Name() string
	// Extension is the file suffix, including the dot.
	Extension() string
	Emit(ctx context.Context, in *Input, w io.Writer) error
}

// Options configures the built-in emitters.
type Options struct {
	// Compression applies to the JSON output.
	Compression compression.Type
	Level       compression.Level
	// TopN is the number of largest symbols listed in summaries.
	TopN int
	// MaxDepth limits how deep HTML and SVG drawings go.
	MaxDepth int
	// Workers bounds how many files WriteAll writes at once.
	Workers int
	Logger  utils.Logger
}

// DefaultOptions returns default emitter options.
func DefaultOptions() *Options {
	return &Options{
		Compression: compression.TypeNone,
		Level:       compression.LevelDefault,
		TopN:        20,
		MaxDepth:    6,
		Workers:     4,
	}
}

// Registry maps format names to emitters.
type Registry struct {
	emitters map[string]Emitter
	order    []string
	opts     *Options
	logger   utils.Logger
}

// NewRegistry creates a registry holding the built-in emitters.
func NewRegistry(opts *Options) *Registry {
	if opts == nil {
		opts = DefaultOptions()
	}
	r := &Registry{
		emitters: make(map[string]Emitter),
		opts:     opts,
		logger:   utils.OrNull(opts.Logger),
	}
	r.Register(NewJSONEmitter(opts))
	r.Register(NewHTMLEmitter(opts))
	r.Register(NewSVGEmitter(opts))
	r.Register(NewFoldedEmitter())
	r.Register(NewPprofEmitter())
	r.Register(NewMarkdownEmitter(opts))
	return r
}

// Register adds e, replacing any emitter of the same name.
func (r *Registry) Register(e Emitter) {
	if _, ok := r.emitters[e.Name()]; !ok {
		r.order = append(r.order, e.Name())
	}
	r.emitters[e.Name()] = e
}

// Get returns the emitter registered under name.
func (r *Registry) Get(name string) (Emitter, bool) {
	e, ok := r.emitters[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

// Names returns the registered format names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Resolve looks up every name. Duplicates are dropped.
func (r *Registry) Resolve(names []string) ([]Emitter, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Emitter, 0, len(names))
	for _, name := range names {
		e, ok := r.Get(name)
		if !ok {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput,
				"unknown output format %q (available: %s)", name, strings.Join(r.order, ", "))
		}
		if seen[e.Name()] {
			continue
		}
		seen[e.Name()] = true
		out = append(out, e)
	}
	return out, nil
}

// WriteAll writes one file per named format into dir and returns the paths
// written, sorted. Files are written concurrently; the first failure
// cancels the rest.
func (r *Registry) WriteAll(ctx context.Context, dir string, names []string, in *Input) ([]string, error) {
	emitters, err := r.Resolve(names)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeEmitError, "failed to create output directory", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.opts.Workers > 0 {
		g.SetLimit(r.opts.Workers)
	}
	paths := make([]string, len(emitters))
	for i, e := range emitters {
		g.Go(func() error {
			path := filepath.Join(dir, BaseName+e.Extension())
			if err := writeFile(gctx, e, in, path); err != nil {
				return apperrors.Wrap(apperrors.CodeEmitError, fmt.Sprintf("failed to write %s output", e.Name()), err)
			}
			r.logger.Debug("Wrote %s", path)
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func writeFile(ctx context.Context, e Emitter, in *Input, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := e.Emit(ctx, in, bw); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cellVisit is a cell reached by walkCells along with its path below the
// root.
type cellVisit struct {
	cell *treemap.Cell
	path []string
}

// walkCells visits cells in pre-order down to maxDepth, root excluded.
// A maxDepth of zero or less means no limit.
func walkCells(root *treemap.Cell, maxDepth int, fn func(v cellVisit)) {
	if root == nil {
		return
	}
	stack := []cellVisit{{cell: root}}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(v.path) > 0 {
			fn(v)
		}
		if maxDepth > 0 && len(v.path) >= maxDepth {
			continue
		}
		for i := len(v.cell.Children) - 1; i >= 0; i-- {
			c := v.cell.Children[i]
			path := make([]string, len(v.path)+1)
			copy(path, v.path)
			path[len(v.path)] = c.Name
			stack = append(stack, cellVisit{cell: c, path: path})
		}
	}
}
