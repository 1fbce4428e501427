package emitter

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/sizemap/internal/symtree"
)

// FoldedEmitter writes one "a;b;c size" line per node with an own size,
// the collapsed-stack format flamegraph.pl and speedscope read.
type FoldedEmitter struct{}

// NewFoldedEmitter creates a folded-stack emitter.
func NewFoldedEmitter() *FoldedEmitter {
	return &FoldedEmitter{}
}

func (e *FoldedEmitter) Name() string      { return "folded" }
func (e *FoldedEmitter) Extension() string { return ".folded" }

func (e *FoldedEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var err error
	in.Tree.Walk(func(v symtree.Visit) bool {
		if err != nil {
			return false
		}
		if v.Depth == 0 || v.Node.OwnSize == 0 {
			return true
		}
		for i, seg := range v.Path {
			if i > 0 {
				bw.WriteByte(';')
			}
			bw.WriteString(foldedSegment(seg))
		}
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatUint(v.Node.OwnSize, 10))
		_, err = bw.WriteString("\n")
		return true
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// foldedSegment keeps a segment from breaking the line format: ';'
// separates frames and a newline ends the record.
func foldedSegment(s string) string {
	if !strings.ContainsAny(s, ";\n") {
		return s
	}
	return strings.NewReplacer(";", ":", "\n", " ").Replace(s)
}
