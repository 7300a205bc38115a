package graph

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MLP is the two-layer perceptron expressed as a graph:
// Logits = relu(X W1 + b1) W2 + b2, Loss = SoftmaxCrossEntropy(Logits, Y).
type MLP struct {
	Graph *Graph

	X, Y           *Node
	W1, B1, W2, B2 *Node
	Hidden         *Node
	Logits         *Node
	Probs          *Node
	Loss           *Node
}

// BuildMLP adds the network to g. Weights are Glorot-uniform from rng, biases
// start at zero. X and Y accept any number of rows.
func BuildMLP(g *Graph, in, hidden, out int, rng *rand.Rand) *MLP {
	m := &MLP{Graph: g}
	m.X = g.Placeholder("X", 0, in)
	m.Y = g.Placeholder("Y", 0, out)
	m.W1 = g.Variable("W1", glorot(in, hidden, rng))
	m.B1 = g.Variable("b1", mat.NewDense(1, hidden, nil))
	m.W2 = g.Variable("W2", glorot(hidden, out, rng))
	m.B2 = g.Variable("b2", mat.NewDense(1, out, nil))

	m.Hidden = Must(ReLU(Must(AddRow(Must(MatMul(m.X, m.W1)), m.B1))))
	m.Logits = Must(AddRow(Must(MatMul(m.Hidden, m.W2)), m.B2))
	m.Probs = Must(Softmax(m.Logits))
	m.Loss = Must(SoftmaxCrossEntropy(m.Logits, m.Y))
	return m
}

func glorot(rows, cols int, rng *rand.Rand) *mat.Dense {
	limit := math.Sqrt(6 / float64(rows+cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return mat.NewDense(rows, cols, data)
}

// Learnables returns W1, b1, W2, b2.
func (m *MLP) Learnables() []*Node {
	return []*Node{m.W1, m.B1, m.W2, m.B2}
}

// Run binds a batch, evaluates the graph and back-propagates the loss.
// Previous gradients are cleared first.
func (m *MLP) Run(x, y *mat.Dense) (float64, error) {
	if err := Let(m.X, x); err != nil {
		return 0, err
	}
	if err := Let(m.Y, y); err != nil {
		return 0, err
	}
	m.Graph.ZeroGrad()
	if err := m.Graph.Forward(); err != nil {
		return 0, err
	}
	if err := m.Graph.Backward(m.Loss); err != nil {
		return 0, err
	}
	return m.Loss.Scalar(), nil
}

// Predict returns class probabilities for x.
func (m *MLP) Predict(x *mat.Dense) (*mat.Dense, error) {
	n, _ := x.Dims()
	if err := Let(m.X, x); err != nil {
		return nil, err
	}
	// The loss node is part of the graph, so Y needs a value of the right shape.
	if err := Let(m.Y, mat.NewDense(n, m.Y.shape.Cols, nil)); err != nil {
		return nil, err
	}
	if err := m.Graph.Forward(); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(m.Probs.Value()), nil
}

// Accuracy is the fraction of rows whose argmax prediction matches y.
func (m *MLP) Accuracy(x, y *mat.Dense) (float64, error) {
	p, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	n, k := p.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		best, label := 0, 0
		for j := 1; j < k; j++ {
			if p.At(i, j) > p.At(i, best) {
				best = j
			}
			if y.At(i, j) > y.At(i, label) {
				label = j
			}
		}
		if best == label {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// Train runs mini-batch training with solver and returns per-epoch mean loss.
func (m *MLP) Train(x, y *mat.Dense, epochs, batchSize int, solver Solver, rng *rand.Rand) ([]float64, error) {
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
			l, err := m.Run(gather(x, idx), gather(y, idx))
			if err != nil {
				return losses, fmt.Errorf("epoch %d: %w", epoch+1, err)
			}
			if err := solver.Step(m.Learnables()); err != nil {
				return losses, err
			}
			total += l * float64(len(idx))
		}
		losses = append(losses, total/float64(n))
	}
	return losses, nil
}

func gather(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
