package emitter

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sizemap/internal/treemap"
	"github.com/sizemap/pkg/utils"
)

// HTMLEmitter writes a standalone page: the markdown summary followed by
// the treemap drawn as absolutely positioned boxes.
type HTMLEmitter struct {
	topN     int
	maxDepth int
}

// NewHTMLEmitter creates an HTML emitter.
func NewHTMLEmitter(opts *Options) *HTMLEmitter {
	return &HTMLEmitter{topN: opts.TopN, maxDepth: opts.MaxDepth}
}

func (e *HTMLEmitter) Name() string      { return "html" }
func (e *HTMLEmitter) Extension() string { return ".html" }

const pageStyle = `body{font-family:sans-serif;margin:1em}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px}
#treemap{position:relative;border:1px solid #333}
#treemap div{position:absolute;box-sizing:border-box;border:1px solid rgba(0,0,0,.35);overflow:hidden;font-size:11px;white-space:nowrap}`

func (e *HTMLEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	summary, err := RenderMarkdown(Summary(in, e.topN))
	if err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	title := "sizemap"
	if in.Report != nil && in.Report.Artifact != "" {
		title += ": " + in.Report.Artifact
	}

	body := element(atom.Body)
	summaryDiv := element(atom.Div, "class", "summary")
	if err := appendFragment(summaryDiv, summary); err != nil {
		return err
	}
	body.AppendChild(summaryDiv)
	body.AppendChild(e.treemapDiv(in.Layout))

	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, "charset", "utf-8"))
	head.AppendChild(withText(element(atom.Title), title))
	head.AppendChild(withText(element(atom.Style), pageStyle))

	root := element(atom.Html, "lang", "en")
	root.AppendChild(head)
	root.AppendChild(body)

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(root)
	return html.Render(w, doc)
}

func (e *HTMLEmitter) treemapDiv(layout *treemap.Cell) *html.Node {
	if layout == nil {
		return element(atom.Div, "id", "treemap")
	}
	container := element(atom.Div, "id", "treemap",
		"style", fmt.Sprintf("width:%spx;height:%spx", px(layout.W), px(layout.H)))

	walkCells(layout, e.maxDepth, func(v cellVisit) {
		c := v.cell
		if c.W <= 0 || c.H <= 0 {
			return
		}
		box := element(atom.Div,
			"title", cellTitle(v),
			"style", fmt.Sprintf("left:%spx;top:%spx;width:%spx;height:%spx;background:%s",
				px(c.X-layout.X), px(c.Y-layout.Y), px(c.W), px(c.H), cellColor(v)))
		if c.W >= 40 && c.H >= 14 {
			box.AppendChild(text(c.Name))
		}
		container.AppendChild(box)
	})
	return container
}

// element builds an element node; attrs are key, value pairs.
func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	return setAttrs(n, attrs...)
}

// foreign builds an element outside the HTML namespace, such as SVG.
func foreign(tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, Namespace: "svg"}
	return setAttrs(n, attrs...)
}

func setAttrs(n *html.Node, attrs ...string) *html.Node {
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func withText(n *html.Node, s string) *html.Node {
	n.AppendChild(text(s))
	return n
}

// appendFragment parses markup in the context of parent and appends the
// resulting nodes to it.
func appendFragment(parent *html.Node, markup []byte) error {
	nodes, err := html.ParseFragment(bytes.NewReader(markup), element(atom.Div))
	if err != nil {
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

func px(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func cellTitle(v cellVisit) string {
	var b bytes.Buffer
	for i, seg := range v.path {
		if i > 0 {
			b.WriteString("::")
		}
		b.WriteString(seg)
	}
	fmt.Fprintf(&b, " (%s)", utils.FormatBytes(v.cell.Size))
	return b.String()
}

// cellColor gives every top-level subtree its own hue and lightens it with
// depth.
func cellColor(v cellVisit) string {
	h := fnv.New32a()
	h.Write([]byte(v.path[0]))
	hue := h.Sum32() % 360
	light := 45 + 7*(len(v.path)-1)
	if light > 90 {
		light = 90
	}
	return fmt.Sprintf("hsl(%d,60%%,%d%%)", hue, light)
}
