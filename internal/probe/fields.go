package probe

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
)

// ReceptiveFields returns, for every unit of d, its incoming weights laid out
// as an h×w image and min-max scaled to [0, 1]. A unit with constant weights
// maps to an all-0.5 image.
func ReceptiveFields(d *layer.Dense, h, w int) ([][]float64, error) {
	if d.InSize() != h*w {
		return nil, fmt.Errorf("receptive fields: layer has %d inputs, image is %dx%d", d.InSize(), h, w)
	}
	weights := d.Weights()
	fields := make([][]float64, d.OutSize())
	for i := range fields {
		fields[i] = normalize(mat.Row(nil, i, weights))
	}
	return fields, nil
}

// ConvFilters returns every output channel's kernel for input channel ic,
// min-max scaled like ReceptiveFields.
func ConvFilters(c *layer.Conv2D, ic int) ([][]float64, error) {
	in := c.InShape()
	if ic < 0 || ic >= in.Channels {
		return nil, fmt.Errorf("conv filters: input channel %d out of range [0, %d)", ic, in.Channels)
	}
	out := c.OutShape()
	filters := make([][]float64, out.Channels)
	for oc := range filters {
		filters[oc] = normalize(c.Kernel(oc, ic))
	}
	return filters, nil
}

// FirstDense returns the first Dense layer of n, or nil.
func FirstDense(n *net.Network) *layer.Dense {
	for _, l := range n.Layers() {
		if d, ok := l.(*layer.Dense); ok {
			return d
		}
	}
	return nil
}

// FirstConv returns the first Conv2D layer of n, or nil.
func FirstConv(n *net.Network) *layer.Conv2D {
	for _, l := range n.Layers() {
		if c, ok := l.(*layer.Conv2D); ok {
			return c
		}
	}
	return nil
}

func normalize(v []float64) []float64 {
	lo, hi := floats.Min(v), floats.Max(v)
	if hi == lo {
		for i := range v {
			v[i] = 0.5
		}
		return v
	}
	floats.AddConst(-lo, v)
	floats.Scale(1/(hi-lo), v)
	return v
}
