package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// grid adapts a Heatmap to plotter.GridXYZ.
type grid struct{ h *Heatmap }

func (g grid) Dims() (c, r int)   { return len(g.h.X), len(g.h.Y) }
func (g grid) Z(c, r int) float64 { return g.h.Values[r][c] }
func (g grid) X(c int) float64    { return g.h.X[c].Mid() }
func (g grid) Y(r int) float64    { return g.h.Y[r].Mid() }

// RenderPNG writes the heat map as a PNG image.
func RenderPNG(w io.Writer, h *Heatmap) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Arm failure probability (worst #%d, p=%.3f)", h.WorstArm, h.WorstP)
	p.X.Label.Text = h.XName
	p.Y.Label.Text = h.YName

	hm := plotter.NewHeatMap(grid{h}, palette.Heat(12, 1))
	hm.Min, hm.Max = 0, 1
	hm.NaN = color.Gray{Y: 200}
	p.Add(hm)

	var ok, failed plotter.XYs
	for _, in := range h.Instances {
		if in.Failed {
			failed = append(failed, plotter.XY{X: in.X, Y: in.Y})
		} else {
			ok = append(ok, plotter.XY{X: in.X, Y: in.Y})
		}
	}
	if err := addPoints(p, "succeeded", ok, color.RGBA{R: 53, G: 183, B: 121, A: 255}, draw.CircleGlyph{}, 1.5); err != nil {
		return err
	}
	if err := addPoints(p, "failed", failed, color.RGBA{R: 255, G: 82, B: 82, A: 255}, draw.CircleGlyph{}, 1.5); err != nil {
		return err
	}

	demos := make(plotter.XYs, 0, len(h.Demonstrations))
	for _, d := range h.Demonstrations {
		demos = append(demos, plotter.XY{X: d.X, Y: d.Y})
	}
	if err := addPoints(p, "demonstrations", demos, color.RGBA{R: 62, G: 73, B: 137, A: 255}, draw.SquareGlyph{}, 4); err != nil {
		return err
	}
	if len(h.Next) > 0 {
		next := plotter.XYs{{X: h.Next[0].X, Y: h.Next[0].Y}}
		if err := addPoints(p, "next demonstration", next, color.Black, draw.CrossGlyph{}, 6); err != nil {
			return err
		}
	}

	xmin, xmax, ymin, ymax := h.Bounds()
	p.X.Min, p.X.Max = xmin, xmax
	p.Y.Min, p.Y.Max = ymin, ymax
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render heat map: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write heat map: %w", err)
	}
	return nil
}

func addPoints(p *plot.Plot, name string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer, radius vg.Length) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(float64(radius))
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}
