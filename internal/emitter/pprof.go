package emitter

import (
	"context"
	"io"

	"github.com/google/pprof/profile"

	"github.com/sizemap/internal/symtree"
)

// PprofEmitter writes the size tree as a gzipped pprof profile so that
// `go tool pprof -top` and the pprof web UI can browse it. Every node with
// an own size becomes one sample whose stack is the node's path.
type PprofEmitter struct{}

// NewPprofEmitter creates a pprof emitter.
func NewPprofEmitter() *PprofEmitter {
	return &PprofEmitter{}
}

func (e *PprofEmitter) Name() string      { return "pprof" }
func (e *PprofEmitter) Extension() string { return ".pb.gz" }

func (e *PprofEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := BuildProfile(in)
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}

// BuildProfile converts the tree in in to a pprof profile.
func BuildProfile(in *Input) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "size", Unit: "bytes"}},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}
	if r := in.Report; r != nil {
		p.Comments = append(p.Comments, "artifact: "+r.Artifact, "format: "+r.Format.String())
		if r.SHA256 != "" {
			p.Comments = append(p.Comments, "sha256: "+r.SHA256)
		}
	}

	locs := make(map[*symtree.Node]*profile.Location)
	parents := make(map[*symtree.Node]*symtree.Node)

	in.Tree.Walk(func(v symtree.Visit) bool {
		for _, c := range v.Node.Children {
			parents[c] = v.Node
		}
		if v.Depth == 0 {
			return true
		}

		fn := &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       v.Path.String(),
			SystemName: v.Node.Name,
		}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:   uint64(len(p.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		locs[v.Node] = loc

		if v.Node.OwnSize == 0 {
			return true
		}
		// Leaf first, as pprof expects.
		stack := make([]*profile.Location, 0, v.Depth)
		for n := v.Node; n != nil && n != in.Tree.Root; n = parents[n] {
			stack = append(stack, locs[n])
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{clampInt64(v.Node.OwnSize)},
			Location: stack,
		})
		return true
	})
	return p
}

func clampInt64(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}
