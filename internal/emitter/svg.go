package emitter

import (
	"context"
	"io"

	"golang.org/x/net/html"
)

// SVGEmitter writes the treemap as a standalone SVG image.
type SVGEmitter struct {
	maxDepth int
}

// NewSVGEmitter creates an SVG emitter.
func NewSVGEmitter(opts *Options) *SVGEmitter {
	return &SVGEmitter{maxDepth: opts.MaxDepth}
}

func (e *SVGEmitter) Name() string      { return "svg" }
func (e *SVGEmitter) Extension() string { return ".svg" }

func (e *SVGEmitter) Emit(ctx context.Context, in *Input, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var width, height, x0, y0 float64
	if in.Layout != nil {
		width, height, x0, y0 = in.Layout.W, in.Layout.H, in.Layout.X, in.Layout.Y
	}

	svg := foreign("svg",
		"xmlns", "http://www.w3.org/2000/svg",
		"width", px(width), "height", px(height),
		"viewBox", "0 0 "+px(width)+" "+px(height),
		"font-family", "sans-serif", "font-size", "11")

	walkCells(in.Layout, e.maxDepth, func(v cellVisit) {
		c := v.cell
		if c.W <= 0 || c.H <= 0 {
			return
		}
		g := foreign("g")
		rect := foreign("rect",
			"x", px(c.X-x0), "y", px(c.Y-y0), "width", px(c.W), "height", px(c.H),
			"fill", cellColor(v), "stroke", "#333", "stroke-width", "0.5")
		rect.AppendChild(withText(foreign("title"), cellTitle(v)))
		g.AppendChild(rect)
		if c.W >= 40 && c.H >= 14 {
			label := foreign("text", "x", px(c.X-x0+3), "y", px(c.Y-y0+12))
			g.AppendChild(withText(label, c.Name))
		}
		svg.AppendChild(g)
	})

	if _, err := io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"); err != nil {
		return err
	}
	return html.Render(w, svg)
}
