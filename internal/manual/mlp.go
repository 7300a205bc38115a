// Package manual implements a two-layer perceptron directly on gonum matrices,
// with the backward pass derived by hand:
//
//	Z1 = X W1 + b1    H = relu(Z1)
//	Z2 = H W2 + b2    P = softmax(Z2)
//	L  = -1/N sum(Y * log P)
//
// Rows of X are samples. W1 is in×hidden and W2 is hidden×out.
package manual

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const probEps = 1e-12

// MLP holds the four trainable tensors.
type MLP struct {
	W1 *mat.Dense
	B1 []float64
	W2 *mat.Dense
	B2 []float64
}

// Gradients has the same shapes as the MLP it was computed for.
type Gradients struct {
	W1 *mat.Dense
	B1 []float64
	W2 *mat.Dense
	B2 []float64
}

// Cache keeps the intermediate values of a forward pass for Backward.
type Cache struct {
	X  mat.Matrix
	Z1 *mat.Dense
	H  *mat.Dense
	Z2 *mat.Dense
	P  *mat.Dense
}

// New creates an MLP with Glorot-uniform weights and zero biases.
func New(in, hidden, out int, rng *rand.Rand) *MLP {
	return &MLP{
		W1: glorot(in, hidden, rng),
		B1: make([]float64, hidden),
		W2: glorot(hidden, out, rng),
		B2: make([]float64, out),
	}
}

func glorot(rows, cols int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

// Sizes returns the input, hidden and output widths.
func (m *MLP) Sizes() (in, hidden, out int) {
	in, hidden = m.W1.Dims()
	_, out = m.W2.Dims()
	return in, hidden, out
}

// Forward runs the batch x through the network.
func (m *MLP) Forward(x mat.Matrix) *Cache {
	in, hidden, out := m.Sizes()
	n, c := x.Dims()
	if c != in {
		panic(fmt.Sprintf("manual: input has %d columns, want %d", c, in))
	}

	z1 := mat.NewDense(n, hidden, nil)
	z1.Mul(x, m.W1)
	addRow(z1, m.B1)
	h := mat.NewDense(n, hidden, nil)
	h.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z1)

	z2 := mat.NewDense(n, out, nil)
	z2.Mul(h, m.W2)
	addRow(z2, m.B2)
	p := mat.NewDense(n, out, nil)
	for i := 0; i < n; i++ {
		softmax(p.RawRowView(i), z2.RawRowView(i))
	}
	return &Cache{X: x, Z1: z1, H: h, Z2: z2, P: p}
}

// Predict returns the class probabilities for x.
func (m *MLP) Predict(x mat.Matrix) *mat.Dense {
	return m.Forward(x).P
}

// Loss is the mean cross-entropy between probabilities p and one-hot y.
func Loss(p, y mat.Matrix) float64 {
	n, k := p.Dims()
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			if t := y.At(i, j); t != 0 {
				sum -= t * math.Log(math.Max(p.At(i, j), probEps))
			}
		}
	}
	return sum / float64(n)
}

// Backward derives the gradients of Loss from a forward cache.
func (m *MLP) Backward(c *Cache, y mat.Matrix) *Gradients {
	n, _ := c.P.Dims()

	// dZ2 = (P - Y) / N
	dz2 := &mat.Dense{}
	dz2.Sub(c.P, y)
	dz2.Scale(1/float64(n), dz2)

	g := &Gradients{W1: &mat.Dense{}, W2: &mat.Dense{}}
	g.W2.Mul(c.H.T(), dz2)
	g.B2 = colSums(dz2)

	// dZ1 = dZ2 W2^T * relu'(Z1)
	dz1 := &mat.Dense{}
	dz1.Mul(dz2, m.W2.T())
	dz1.Apply(func(i, j int, v float64) float64 {
		if c.Z1.At(i, j) > 0 {
			return v
		}
		return 0
	}, dz1)

	g.W1.Mul(c.X.T(), dz1)
	g.B1 = colSums(dz1)
	return g
}

// LossAndGradients runs forward and backward over one batch.
func (m *MLP) LossAndGradients(x, y mat.Matrix) (float64, *Gradients) {
	c := m.Forward(x)
	return Loss(c.P, y), m.Backward(c, y)
}

// Step applies plain gradient descent.
func (m *MLP) Step(g *Gradients, lr float64) {
	m.W1.Apply(func(i, j int, v float64) float64 { return v - lr*g.W1.At(i, j) }, m.W1)
	m.W2.Apply(func(i, j int, v float64) float64 { return v - lr*g.W2.At(i, j) }, m.W2)
	floats.AddScaled(m.B1, -lr, g.B1)
	floats.AddScaled(m.B2, -lr, g.B2)
}

// Accuracy is the fraction of rows whose argmax prediction matches y.
func (m *MLP) Accuracy(x, y mat.Matrix) float64 {
	p := m.Predict(x)
	n, _ := p.Dims()
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if floats.MaxIdx(p.RawRowView(i)) == argmaxRow(y, i) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Train runs mini-batch gradient descent and returns the mean loss of every
// epoch. Samples are visited in an order drawn from rng.
func (m *MLP) Train(x, y *mat.Dense, epochs, batchSize int, lr float64, rng *rand.Rand) []float64 {
	n, _ := x.Dims()
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}
	losses := make([]float64, 0, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		perm := rng.Perm(n)
		var total float64
		for start := 0; start < n; start += batchSize {
			idx := perm[start:min(start+batchSize, n)]
			bx, by := gatherRows(x, idx), gatherRows(y, idx)
			l, g := m.LossAndGradients(bx, by)
			m.Step(g, lr)
			total += l * float64(len(idx))
		}
		losses = append(losses, total/float64(n))
	}
	return losses
}

// FromRows builds a matrix from per-sample slices.
func FromRows(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			panic(fmt.Sprintf("manual: row %d has %d columns, want %d", i, len(r), cols))
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

func addRow(m *mat.Dense, b []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), b)
	}
}

func colSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(out, m.RawRowView(i))
	}
	return out
}

func softmax(dst, z []float64) {
	maxVal := floats.Max(z)
	for i, v := range z {
		dst[i] = math.Exp(v - maxVal)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}

func argmaxRow(m mat.Matrix, i int) int {
	_, c := m.Dims()
	best := 0
	for j := 1; j < c; j++ {
		if m.At(i, j) > m.At(i, best) {
			best = j
		}
	}
	return best
}
