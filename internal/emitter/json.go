package emitter

import (
	"context"
	"io"

	"github.com/sizemap/internal/treemap"
	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/writer"
)

// Document is the JSON output: the report summary and the positioned tree.
// It depends only on the artifact and the options, so the report ID is
// left out.
type Document struct {
	Artifact  string        `json:"artifact,omitempty"`
	Format    model.Format  `json:"format,omitempty"`
	TotalSize uint64        `json:"total_size"`
	Width     float64       `json:"width"`
	Height    float64       `json:"height"`
	Root      *treemap.Cell `json:"root"`
}

// NewDocument assembles the JSON document for in.
func NewDocument(in *Input) *Document {
	doc := &Document{Root: in.Layout}
	if in.Layout != nil {
		doc.Width, doc.Height = in.Layout.W, in.Layout.H
		doc.TotalSize = in.Layout.Size
	}
	if r := in.Report; r != nil {
		doc.Artifact, doc.Format = r.Artifact, r.Format
	}
	return doc
}

// JSONEmitter writes the Document, compressed when configured.
type JSONEmitter struct {
	w *writer.JSONWriter[*Document]
}

// NewJSONEmitter creates a JSON emitter.
func NewJSONEmitter(opts *Options) *JSONEmitter {
	return &JSONEmitter{w: writer.NewCompressedJSONWriter[*Document](opts.Compression, opts.Level)}
}

func (e *JSONEmitter) Name() string      { return "json" }
func (e *JSONEmitter) Extension() string { return e.w.Extension() }

func (e *JSONEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.w.Write(NewDocument(in), w)
}
