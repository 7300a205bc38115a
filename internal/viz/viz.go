// Package viz renders probe and training output to image files with
// gonum/plot. The format follows the file extension (.png, .svg, .pdf).
package viz

import (
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/FlavioCFOliveira/nnlab/internal/net"
)

// Default canvas size.
var (
	Width  = 6 * vg.Inch
	Height = 6 * vg.Inch
)

// Scatter plots the first two columns of points, one colour per label.
func Scatter(points mat.Matrix, labels []int, title, path string) error {
	n, c := points.Dims()
	if c < 2 {
		return fmt.Errorf("scatter: need 2 columns, got %d", c)
	}
	if len(labels) != n {
		return fmt.Errorf("scatter: %d points but %d labels", n, len(labels))
	}

	groups := map[int]plotter.XYs{}
	maxLabel := 0
	for i, l := range labels {
		if l < 0 {
			return fmt.Errorf("scatter: negative label %d", l)
		}
		groups[l] = append(groups[l], plotter.XY{X: points.At(i, 0), Y: points.At(i, 1)})
		maxLabel = max(maxLabel, l)
	}

	p := plot.New()
	p.Title.Text = title
	p.Legend.Top = true
	for l := 0; l <= maxLabel; l++ {
		xys, ok := groups[l]
		if !ok {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("scatter: %w", err)
		}
		s.GlyphStyle.Color = plotutil.Color(l)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add(strconv.Itoa(l), s)
	}
	return p.Save(Width, Height, path)
}

// LossCurve plots training loss per epoch, and validation loss when the
// history has it.
func LossCurve(h net.History, path string) error {
	if len(h.Epochs) == 0 {
		return fmt.Errorf("loss curve: empty history")
	}
	train := make([]float64, len(h.Epochs))
	var val []float64
	for i, m := range h.Epochs {
		train[i] = m.Loss
		if m.HasVal {
			val = append(val, m.ValLoss)
		}
	}
	series := map[string][]float64{"loss": train}
	if len(val) == len(train) {
		series["val_loss"] = val
	}
	return Curves("Training loss", "epoch", "loss", path, series)
}

// Curves draws one line per named series against its index, in name order.
func Curves(title, xLabel, yLabel, path string, series map[string][]float64) error {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	var args []interface{}
	for _, name := range names {
		ys := series[name]
		pts := make(plotter.XYs, len(ys))
		for i, y := range ys {
			pts[i] = plotter.XY{X: float64(i + 1), Y: y}
		}
		args = append(args, name, pts)
	}
	if err := plotutil.AddLinePoints(p, args...); err != nil {
		return fmt.Errorf("curves: %w", err)
	}
	return p.Save(Width*4/3, Height*2/3, path)
}

// Mosaic tiles h×w images (values in [0, 1]) into a grid cols images wide and
// renders it as a grey-scale heat map.
func Mosaic(images [][]float64, h, w, cols int, title, path string) error {
	if len(images) == 0 {
		return fmt.Errorf("mosaic: no images")
	}
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(len(images)))))
	}
	for i, img := range images {
		if len(img) != h*w {
			return fmt.Errorf("mosaic: image %d has %d values, want %dx%d", i, len(img), h, w)
		}
	}

	grid := newTileGrid(images, h, w, cols)
	hm := plotter.NewHeatMap(grid, grey(256))
	hm.Min, hm.Max = 0, 1

	p := plot.New()
	p.Title.Text = title
	p.HideAxes()
	p.Add(hm)

	c, r := grid.Dims()
	size := Width
	return p.Save(size, size*vg.Length(r)/vg.Length(c), path)
}

// tileGrid lays images out left to right, top to bottom, with a one pixel
// gutter between tiles.
type tileGrid struct {
	images     [][]float64
	h, w, cols int
	rows       int
}

func newTileGrid(images [][]float64, h, w, cols int) *tileGrid {
	cols = min(cols, len(images))
	rows := (len(images) + cols - 1) / cols
	return &tileGrid{images: images, h: h, w: w, cols: cols, rows: rows}
}

func (g *tileGrid) Dims() (c, r int) {
	return g.cols*(g.w+1) - 1, g.rows*(g.h+1) - 1
}

func (g *tileGrid) Z(c, r int) float64 {
	_, total := g.Dims()
	r = total - 1 - r // heat map rows grow upwards
	tc, px := c/(g.w+1), c%(g.w+1)
	tr, py := r/(g.h+1), r%(g.h+1)
	if px == g.w || py == g.h {
		return 1
	}
	idx := tr*g.cols + tc
	if idx >= len(g.images) {
		return 0
	}
	return g.images[idx][py*g.w+px]
}

func (g *tileGrid) X(c int) float64 { return float64(c) }
func (g *tileGrid) Y(r int) float64 { return float64(r) }

type greyPalette []color.Color

func (p greyPalette) Colors() []color.Color { return p }

func grey(n int) palette.Palette {
	p := make(greyPalette, n)
	for i := range p {
		v := uint8(i * 255 / (n - 1))
		p[i] = color.Gray{Y: v}
	}
	return p
}

