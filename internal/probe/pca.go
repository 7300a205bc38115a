// Package probe looks inside trained networks: low-dimensional projections of
// hidden representations (PCA, t-SNE), receptive fields of first-layer units
// and activation statistics.
package probe

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCAResult is a fitted principal component analysis.
type PCAResult struct {
	// Projection holds the training rows in component space (n×k).
	Projection *mat.Dense
	// Components holds the principal axes as columns (d×k).
	Components *mat.Dense
	// Mean is the column mean removed before projecting.
	Mean []float64
	// Variance is the sample variance along each component.
	Variance []float64
	// ExplainedRatio is Variance over the total variance of the data.
	ExplainedRatio []float64
}

// PCA centres the columns of x, takes its thin SVD and keeps the first k
// right singular vectors. Each component's sign is fixed so that its largest
// coefficient is positive.
func PCA(x mat.Matrix, k int) (*PCAResult, error) {
	n, d := x.Dims()
	if n < 2 {
		return nil, fmt.Errorf("PCA needs at least 2 rows, got %d", n)
	}
	if k <= 0 || k > min(n, d) {
		return nil, fmt.Errorf("PCA: k=%d outside [1, %d]", k, min(n, d))
	}

	p := &PCAResult{Mean: make([]float64, d)}
	centred := mat.DenseCopyOf(x)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, centred)
		p.Mean[j] = stat.Mean(col, nil)
		floats.AddConst(-p.Mean[j], col)
		centred.SetCol(j, col)
	}

	var svd mat.SVD
	if ok := svd.Factorize(centred, mat.SVDThin); !ok {
		return nil, errors.New("PCA: SVD failed to converge")
	}
	values := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	p.Components = mat.DenseCopyOf(v.Slice(0, d, 0, k))
	fixSigns(p.Components)

	var total float64
	for _, s := range values {
		total += s * s
	}
	p.Variance = make([]float64, k)
	p.ExplainedRatio = make([]float64, k)
	for i := 0; i < k; i++ {
		p.Variance[i] = values[i] * values[i] / float64(n-1)
		if total > 0 {
			p.ExplainedRatio[i] = values[i] * values[i] / total
		}
	}

	p.Projection = &mat.Dense{}
	p.Projection.Mul(centred, p.Components)
	return p, nil
}

// Transform projects new rows onto the fitted components.
func (p *PCAResult) Transform(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	if d != len(p.Mean) {
		panic(fmt.Sprintf("probe: Transform got %d columns, PCA was fitted on %d", d, len(p.Mean)))
	}
	centred := mat.DenseCopyOf(x)
	for i := 0; i < n; i++ {
		floats.Sub(centred.RawRowView(i), p.Mean)
	}
	out := &mat.Dense{}
	out.Mul(centred, p.Components)
	return out
}

func fixSigns(c *mat.Dense) {
	r, k := c.Dims()
	col := make([]float64, r)
	for j := 0; j < k; j++ {
		mat.Col(col, j, c)
		idx := 0
		for i := range col {
			if math.Abs(col[i]) > math.Abs(col[idx]) {
				idx = i
			}
		}
		if col[idx] < 0 {
			floats.Scale(-1, col)
			c.SetCol(j, col)
		}
	}
}
