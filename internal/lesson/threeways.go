// Package lesson wires the three renditions of the same two-layer perceptron
// (manual gonum matrices, the graph package, and net.Sequential) to one
// shared set of weights so their outputs and gradients can be compared.
package lesson

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/graph"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/manual"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Tolerance is the largest difference accepted between the three networks.
const Tolerance = 1e-9

// MLPWeights is one parameter set in the manual layout: W1 is in×hidden and
// W2 is hidden×out.
type MLPWeights struct {
	W1 *mat.Dense
	B1 []float64
	W2 *mat.Dense
	B2 []float64
}

// NewMLPWeights draws Glorot-uniform weights and small random biases.
func NewMLPWeights(in, hidden, out int, seed int64) MLPWeights {
	rng := rand.New(rand.NewSource(seed))
	m := manual.New(in, hidden, out, rng)
	for i := range m.B1 {
		m.B1[i] = 0.1 * rng.NormFloat64()
	}
	for i := range m.B2 {
		m.B2[i] = 0.1 * rng.NormFloat64()
	}
	return MLPWeights{W1: m.W1, B1: m.B1, W2: m.W2, B2: m.B2}
}

// Sizes returns the input, hidden and output widths.
func (w MLPWeights) Sizes() (in, hidden, out int) {
	in, hidden = w.W1.Dims()
	_, out = w.W2.Dims()
	return in, hidden, out
}

// Manual builds a manual.MLP holding a copy of the weights.
func (w MLPWeights) Manual() *manual.MLP {
	return &manual.MLP{
		W1: mat.DenseCopyOf(w.W1),
		B1: append([]float64(nil), w.B1...),
		W2: mat.DenseCopyOf(w.W2),
		B2: append([]float64(nil), w.B2...),
	}
}

// Graph builds a graph.MLP holding a copy of the weights.
func (w MLPWeights) Graph() *graph.MLP {
	in, hidden, out := w.Sizes()
	m := graph.BuildMLP(graph.New(), in, hidden, out, rand.New(rand.NewSource(0)))
	m.W1.Value().Copy(w.W1)
	m.B1.Value().SetRow(0, w.B1)
	m.W2.Value().Copy(w.W2)
	m.B2.Value().SetRow(0, w.B2)
	return m
}

// Sequential builds the layer-API network: Dense(ReLU) then Dense(Softmax),
// compiled with cross-entropy and plain SGD at learning rate lr.
func (w MLPWeights) Sequential(lr float64) *net.Sequential {
	in, hidden, out := w.Sizes()
	rng := rand.New(rand.NewSource(0))
	l1 := layer.NewDenseWithRNG(in, hidden, activations.ReLU{}, rng)
	l2 := layer.NewDenseWithRNG(hidden, out, activations.Softmax{}, rng)
	// Dense stores out×in, the transpose of the manual layout.
	l1.Weights().Copy(w.W1.T())
	copy(l1.Biases(), w.B1)
	l2.Weights().Copy(w.W2.T())
	copy(l2.Biases(), w.B2)

	s := net.NewSequential(l1, l2)
	s.Compile(&opt.SGD{LearningRate: lr}, loss.CrossEntropy{})
	return s
}

// Comparison holds the largest absolute differences between the manual
// network (the reference) and the other two.
type Comparison struct {
	ManualLoss, GraphLoss, LayerLoss float64

	OutputDiff float64
	LossDiff   float64
	GradDiff   float64
}

// Within reports whether every difference is at most tol.
func (c Comparison) Within(tol float64) bool {
	return c.OutputDiff <= tol && c.LossDiff <= tol && c.GradDiff <= tol
}

func (c Comparison) String() string {
	return fmt.Sprintf("loss manual=%.9f graph=%.9f layers=%.9f | max |Δ| output=%.3g loss=%.3g grad=%.3g",
		c.ManualLoss, c.GraphLoss, c.LayerLoss, c.OutputDiff, c.LossDiff, c.GradDiff)
}

// Compare evaluates the three networks built from w on one batch.
func Compare(w MLPWeights, x, y *mat.Dense) (Comparison, error) {
	var c Comparison

	mm := w.Manual()
	cache := mm.Forward(x)
	c.ManualLoss = manual.Loss(cache.P, y)
	mg := mm.Backward(cache, y)

	gm := w.Graph()
	var err error
	if c.GraphLoss, err = gm.Run(x, y); err != nil {
		return c, fmt.Errorf("failed to run graph: %w", err)
	}

	seq := w.Sequential(0)
	rowsX, rowsY := rows(x), rows(y)
	var lgrads [][]float64
	c.LayerLoss, lgrads = seq.ComputeGradients(rowsX, rowsY)

	// Outputs
	gp := gm.Probs.Value()
	for i, r := range rowsX {
		lp := seq.Predict(r)
		for j := range lp {
			c.OutputDiff = math.Max(c.OutputDiff, math.Abs(cache.P.At(i, j)-gp.At(i, j)))
			c.OutputDiff = math.Max(c.OutputDiff, math.Abs(cache.P.At(i, j)-lp[j]))
		}
	}

	c.LossDiff = math.Max(math.Abs(c.ManualLoss-c.GraphLoss), math.Abs(c.ManualLoss-c.LayerLoss))

	// Gradients
	pairs := []struct{ ref, other mat.Matrix }{
		{mg.W1, gm.W1.Grad()},
		{rowMatrix(mg.B1), gm.B1.Grad()},
		{mg.W2, gm.W2.Grad()},
		{rowMatrix(mg.B2), gm.B2.Grad()},
	}
	in, hidden, out := w.Sizes()
	lw1, lb1 := splitDense(lgrads[0], hidden, in)
	lw2, lb2 := splitDense(lgrads[1], out, hidden)
	pairs = append(pairs,
		struct{ ref, other mat.Matrix }{mg.W1, lw1.T()},
		struct{ ref, other mat.Matrix }{rowMatrix(mg.B1), lb1},
		struct{ ref, other mat.Matrix }{mg.W2, lw2.T()},
		struct{ ref, other mat.Matrix }{rowMatrix(mg.B2), lb2},
	)
	for _, p := range pairs {
		c.GradDiff = math.Max(c.GradDiff, maxAbsDiff(p.ref, p.other))
	}
	return c, nil
}

// Lockstep is the outcome of training the three networks on identical batches.
type Lockstep struct {
	Losses    [3][]float64 // manual, graph, layers
	Accuracy  [3]float64
	ParamDiff float64
}

// TrainLockstep trains all three networks with plain SGD, visiting the same
// mini-batches in the same order. Their parameters should stay equal up to
// rounding, which ParamDiff reports.
func TrainLockstep(w MLPWeights, x, y *mat.Dense, epochs, batchSize int, lr float64, seed int64) (Lockstep, error) {
	var res Lockstep
	mm, gm, seq := w.Manual(), w.Graph(), w.Sequential(lr)
	solver := graph.NewGradientDescent(lr)
	rng := rand.New(rand.NewSource(seed))

	n, _ := x.Dims()
	if batchSize <= 0 || batchSize > n {
		batchSize = n
	}
	for epoch := 0; epoch < epochs; epoch++ {
		perm := rng.Perm(n)
		var totals [3]float64
		for start := 0; start < n; start += batchSize {
			idx := perm[start:min(start+batchSize, n)]
			bx, by := gather(x, idx), gather(y, idx)
			k := float64(len(idx))

			l, g := mm.LossAndGradients(bx, by)
			mm.Step(g, lr)
			totals[0] += l * k

			gl, err := gm.Run(bx, by)
			if err != nil {
				return res, err
			}
			if err := solver.Step(gm.Learnables()); err != nil {
				return res, err
			}
			totals[1] += gl * k

			totals[2] += seq.TrainBatch(rows(bx), rows(by)) * k
		}
		for i := range totals {
			res.Losses[i] = append(res.Losses[i], totals[i]/float64(n))
		}
	}

	res.Accuracy[0] = mm.Accuracy(x, y)
	ga, err := gm.Accuracy(x, y)
	if err != nil {
		return res, err
	}
	res.Accuracy[1] = ga
	_, res.Accuracy[2] = seq.Evaluate(rows(x), rows(y))

	l1 := seq.Layers()[0].(*layer.Dense)
	l2 := seq.Layers()[1].(*layer.Dense)
	for _, p := range []struct{ a, b, c mat.Matrix }{
		{mm.W1, gm.W1.Value(), l1.Weights().T()},
		{rowMatrix(mm.B1), gm.B1.Value(), rowMatrix(l1.Biases())},
		{mm.W2, gm.W2.Value(), l2.Weights().T()},
		{rowMatrix(mm.B2), gm.B2.Value(), rowMatrix(l2.Biases())},
	} {
		res.ParamDiff = math.Max(res.ParamDiff, maxAbsDiff(p.a, p.b))
		res.ParamDiff = math.Max(res.ParamDiff, maxAbsDiff(p.a, p.c))
	}
	return res, nil
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = m.RawRowView(i)
	}
	return out
}

func gather(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

func rowMatrix(v []float64) *mat.Dense {
	return mat.NewDense(1, len(v), v)
}

// splitDense unpacks a Dense layer's flat gradient (weights then biases).
func splitDense(flat []float64, out, in int) (*mat.Dense, *mat.Dense) {
	return mat.NewDense(out, in, flat[:out*in]), mat.NewDense(1, out, flat[out*in:])
}

func maxAbsDiff(a, b mat.Matrix) float64 {
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		panic(fmt.Sprintf("lesson: comparing (%d, %d) with (%d, %d)", ra, ca, rb, cb))
	}
	var d float64
	for i := 0; i < ra; i++ {
		for j := 0; j < ca; j++ {
			d = math.Max(d, math.Abs(a.At(i, j)-b.At(i, j)))
		}
	}
	return d
}
