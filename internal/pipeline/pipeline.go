// Package pipeline runs the four core stages over one artifact: extract
// symbols, resolve names to paths, build the size tree and lay it out as a
// treemap.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sizemap/internal/artifact"
	"github.com/sizemap/internal/emitter"
	"github.com/sizemap/internal/extractor"
	"github.com/sizemap/internal/resolver"
	"github.com/sizemap/internal/symtree"
	"github.com/sizemap/internal/treemap"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/telemetry"
	"github.com/sizemap/pkg/utils"
)

// Stage names, as they appear in span names and timing logs.
const (
	StageExtract = "extract"
	StageResolve = "resolve"
	StageBuild   = "build"
	StageLayout  = "layout"
)

// Options configures a Pipeline.
type Options struct {
	Format            model.Format
	Workers           int
	ParallelThreshold int

	Simplify   bool
	KeepParams bool
	GroupStd   bool

	PruneZero bool
	MinSize   uint64

	Width  float64
	Height float64

	// EntryDepth limits the tree entries copied into the report.
	// Zero or less keeps every node.
	EntryDepth int

	Logger utils.Logger
	Clock  utils.Clock
}

// DefaultOptions returns default pipeline options.
func DefaultOptions() *Options {
	return &Options{
		Format:     model.FormatUnknown,
		KeepParams: true,
		Width:      1200,
		Height:     800,
		EntryDepth: 3,
	}
}

// Result holds everything one run produced.
type Result struct {
	Report *model.Report
	Tree   *symtree.Tree
	Layout *treemap.Cell
	Stages []utils.Stage
}

// EmitterInput returns the emitter view of r.
func (r *Result) EmitterInput() *emitter.Input {
	return &emitter.Input{Report: r.Report, Tree: r.Tree, Layout: r.Layout}
}

// Pipeline runs analyses. It is safe for concurrent use.
type Pipeline struct {
	opts      Options
	extractor *extractor.Extractor
	logger    utils.Logger
	clock     utils.Clock
}

// New creates a Pipeline. A nil opts uses DefaultOptions.
func New(opts *Options) *Pipeline {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	o.Logger = utils.OrNull(o.Logger)
	if o.Clock == nil {
		o.Clock = utils.RealClock{}
	}
	return &Pipeline{
		opts: o,
		extractor: extractor.New(&extractor.Options{
			Format:            o.Format,
			Workers:           o.Workers,
			ParallelThreshold: o.ParallelThreshold,
			Logger:            o.Logger,
		}),
		logger: o.Logger,
		clock:  o.Clock,
	}
}

// Run analyzes art. Extraction errors are returned as is; the later stages
// cannot fail.
func (p *Pipeline) Run(ctx context.Context, art *artifact.Artifact) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "sizemap.analyze",
		attribute.String("artifact.name", art.Name),
		attribute.Int("artifact.size", art.Size()))
	defer func() { telemetry.EndSpan(span, err) }()

	timer := utils.NewStageTimer(p.clock)
	logger := p.logger.WithField("artifact", art.Name)

	var extracted *extractor.Result
	err = p.stage(ctx, timer, StageExtract, func(ctx context.Context) error {
		var err error
		extracted, err = p.extractor.Extract(ctx, art.Bytes())
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("artifact.format", extracted.Format.String()))

	var paths []model.PathRecord
	err = p.stage(ctx, timer, StageResolve, func(ctx context.Context) error {
		r := resolver.New(&resolver.Options{
			Simplify:          p.opts.Simplify,
			KeepParams:        p.opts.KeepParams,
			Go:                resolver.IsGoBinary(extracted.Records),
			GroupStd:          p.opts.GroupStd,
			Workers:           p.opts.Workers,
			ParallelThreshold: p.opts.ParallelThreshold,
			Logger:            p.logger,
		})
		var err error
		paths, err = r.ResolveAll(ctx, extracted.Records)
		return err
	})
	if err != nil {
		return nil, err
	}

	var tree *symtree.Tree
	p.stage(ctx, timer, StageBuild, func(context.Context) error {
		tree = symtree.Build(paths,
			symtree.WithPruneZero(p.opts.PruneZero),
			symtree.WithMinSize(p.opts.MinSize))
		return nil
	})

	var layout *treemap.Cell
	p.stage(ctx, timer, StageLayout, func(context.Context) error {
		layout = treemap.Layout(tree, treemap.Rect{W: p.opts.Width, H: p.opts.Height})
		return nil
	})

	report := &model.Report{
		ID:          uuid.NewString(),
		Artifact:    art.Name,
		SHA256:      art.SHA256(),
		Format:      extracted.Format,
		Arch:        extracted.Arch,
		TotalSize:   tree.TotalSize(),
		SymbolCount: len(extracted.Records),
		NodeCount:   tree.NodeCount(),
		MaxDepth:    tree.MaxDepth(),
		CreatedAt:   p.clock.Now().UTC(),
		Duration:    timer.Total(),
		Entries:     tree.Entries(p.opts.EntryDepth),
	}
	span.SetAttributes(
		attribute.String("report.id", report.ID),
		attribute.Int("report.symbols", report.SymbolCount),
		attribute.Int64("report.total_size", int64(min(report.TotalSize, 1<<63-1))))

	timer.Log(logger)
	logger.Info("Analyzed %s artifact: %d symbols, %s in %v",
		report.Format, report.SymbolCount, utils.FormatBytes(report.TotalSize), report.Duration.Round(time.Millisecond))

	return &Result{Report: report, Tree: tree, Layout: layout, Stages: timer.Stages()}, nil
}

func (p *Pipeline) stage(ctx context.Context, timer *utils.StageTimer, name string, fn func(context.Context) error) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "sizemap."+name)
	defer func() { telemetry.EndSpan(span, err) }()
	defer timer.Start(name)()
	return fn(ctx)
}
