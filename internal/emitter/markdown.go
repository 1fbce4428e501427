package emitter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sizemap/pkg/model"
	"github.com/sizemap/pkg/utils"
)

// MarkdownEmitter writes a summary of the report and its largest symbols.
type MarkdownEmitter struct {
	topN int
}

// NewMarkdownEmitter creates a markdown summary emitter.
func NewMarkdownEmitter(opts *Options) *MarkdownEmitter {
	return &MarkdownEmitter{topN: opts.TopN}
}

func (e *MarkdownEmitter) Name() string      { return "md" }
func (e *MarkdownEmitter) Extension() string { return ".md" }

func (e *MarkdownEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Write(Summary(in, e.topN))
	return err
}

// Summary renders the markdown summary of in with the topN largest
// symbols.
func Summary(in *Input, topN int) []byte {
	var b bytes.Buffer
	r := in.Report
	if r == nil {
		r = &model.Report{}
	}
	total := in.Tree.TotalSize()

	fmt.Fprintf(&b, "# Size report: %s\n\n", mdEscape(nonEmpty(r.Artifact, "artifact")))
	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Format | %s |\n", r.Format)
	if r.SHA256 != "" {
		fmt.Fprintf(&b, "| SHA-256 | `%s` |\n", r.SHA256)
	}
	fmt.Fprintf(&b, "| Total size | %s (%d bytes) |\n", utils.FormatBytes(total), total)
	fmt.Fprintf(&b, "| Symbols | %d |\n", in.Tree.Records)
	fmt.Fprintf(&b, "| Nodes | %d |\n", in.Tree.NodeCount())
	fmt.Fprintf(&b, "| Max depth | %d |\n", in.Tree.MaxDepth())

	if topN <= 0 {
		return b.Bytes()
	}
	top := in.Tree.Top(topN)
	if len(top) == 0 {
		return b.Bytes()
	}
	fmt.Fprintf(&b, "\n## Largest symbols\n\n")
	b.WriteString("| # | Symbol | Size | Share |\n|---:|---|---:|---:|\n")
	for i, v := range top {
		fmt.Fprintf(&b, "| %d | %s | %s | %.2f%% |\n",
			i+1, mdEscape(v.Path.String()), utils.FormatBytes(v.Node.Size), utils.Percent(v.Node.Size, total))
	}
	return b.Bytes()
}

// RenderMarkdown converts markdown with GitHub tables to HTML.
func RenderMarkdown(src []byte) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var out bytes.Buffer
	if err := md.Convert(src, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`",
	"<", "&lt;", ">", "&gt;", "[", `\[`, "]", `\]`, "\n", " ",
)

func mdEscape(s string) string {
	return mdEscaper.Replace(s)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
