// Package graph is a small reverse-mode automatic differentiation engine over
// gonum matrices.
//
// Nodes are appended to a Graph as they are built, so the node list is already
// in topological order and doubles as the tape: Forward walks it front to
// back, Backward walks it back to front.
//
//	g := graph.New()
//	x := g.Placeholder("x", 0, 784)
//	w := g.Variable("w", w0)
//	logits := graph.Must(graph.MatMul(x, w))
//	...
//	graph.Let(x, batch)
//	g.Forward()
//	g.Backward(loss)
package graph

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrUnbound is returned by Forward when a placeholder has no value.
var ErrUnbound = errors.New("graph: placeholder has no value")

type nodeKind int

const (
	kindVariable nodeKind = iota
	kindConstant
	kindPlaceholder
	kindOp
)

// Shape is a matrix shape. Rows == 0 stands for "any number of rows", which
// lets one graph run on batches of different sizes.
type Shape struct {
	Rows, Cols int
}

func (s Shape) String() string {
	if s.Rows == 0 {
		return fmt.Sprintf("(?, %d)", s.Cols)
	}
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
}

// Node is a value in the graph: a leaf (variable, constant, placeholder) or
// the result of an operation on other nodes.
type Node struct {
	g      *Graph
	id     int
	name   string
	kind   nodeKind
	shape  Shape
	op     operation
	inputs []*Node

	needsGrad bool
	value     *mat.Dense
	grad      *mat.Dense
}

// Name returns the node's name; operation nodes are named after the op.
func (n *Node) Name() string { return n.name }

// Shape returns the static shape of the node.
func (n *Node) Shape() Shape { return n.shape }

// Value returns the node's current value, nil before Forward for op nodes.
func (n *Node) Value() *mat.Dense { return n.value }

// Grad returns dLoss/dNode after Backward, or nil when no gradient reached
// the node.
func (n *Node) Grad() *mat.Dense { return n.grad }

// Scalar returns the single element of a 1×1 value.
func (n *Node) Scalar() float64 {
	if n.value == nil {
		return 0
	}
	return n.value.At(0, 0)
}

// IsVariable reports whether the node is trainable.
func (n *Node) IsVariable() bool { return n.kind == kindVariable }

func (n *Node) String() string { return fmt.Sprintf("%s%v", n.name, n.shape) }

// Graph owns nodes and runs them.
type Graph struct {
	nodes []*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make([]*Node, 0, 32)}
}

func (g *Graph) add(n *Node) *Node {
	n.g = g
	n.id = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return n
}

// Variable adds a trainable leaf holding value. The matrix is used in place.
func (g *Graph) Variable(name string, value *mat.Dense) *Node {
	r, c := value.Dims()
	return g.add(&Node{name: name, kind: kindVariable, shape: Shape{r, c}, value: value, needsGrad: true})
}

// Constant adds a fixed leaf.
func (g *Graph) Constant(name string, value *mat.Dense) *Node {
	r, c := value.Dims()
	return g.add(&Node{name: name, kind: kindConstant, shape: Shape{r, c}, value: value})
}

// Placeholder adds an input leaf that must be bound with Let before Forward.
// rows may be 0 to accept any batch size.
func (g *Graph) Placeholder(name string, rows, cols int) *Node {
	return g.add(&Node{name: name, kind: kindPlaceholder, shape: Shape{rows, cols}})
}

// Let binds a value to a placeholder.
func Let(n *Node, value *mat.Dense) error {
	if n.kind != kindPlaceholder {
		return fmt.Errorf("graph: cannot Let %s: not a placeholder", n.name)
	}
	r, c := value.Dims()
	if c != n.shape.Cols || (n.shape.Rows != 0 && r != n.shape.Rows) {
		return fmt.Errorf("graph: cannot Let %s: value is (%d, %d), want %v", n.name, r, c, n.shape)
	}
	n.value = value
	return nil
}

// Nodes returns every node in creation order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Learnables returns the variables of the graph.
func (g *Graph) Learnables() []*Node {
	var vs []*Node
	for _, n := range g.nodes {
		if n.kind == kindVariable {
			vs = append(vs, n)
		}
	}
	return vs
}

// Forward evaluates every operation node.
func (g *Graph) Forward() error {
	for _, n := range g.nodes {
		switch n.kind {
		case kindPlaceholder:
			if n.value == nil {
				return fmt.Errorf("%w: %s", ErrUnbound, n.name)
			}
		case kindOp:
			in := make([]*mat.Dense, len(n.inputs))
			for i, x := range n.inputs {
				in[i] = x.value
			}
			n.value = n.op.forward(in)
		}
	}
	return nil
}

// Backward computes dLoss/dNode for every node that loss depends on and that
// leads to a variable. loss must be a scalar evaluated by Forward.
//
// Gradients of variables accumulate across calls until ZeroGrad; gradients of
// every other node are recomputed each time.
func (g *Graph) Backward(loss *Node) error {
	if loss.g != g {
		return errors.New("graph: loss belongs to a different graph")
	}
	if loss.value == nil {
		return fmt.Errorf("graph: %s has no value; call Forward first", loss.name)
	}
	if r, c := loss.value.Dims(); r != 1 || c != 1 {
		return fmt.Errorf("graph: loss %s must be a scalar, got (%d, %d)", loss.name, r, c)
	}

	for _, n := range g.nodes {
		if n.kind != kindVariable {
			n.grad = nil
		}
	}
	accumulate(loss, mat.NewDense(1, 1, []float64{1}))

	for i := loss.id; i >= 0; i-- {
		n := g.nodes[i]
		if n.kind != kindOp || n.grad == nil || !n.needsGrad {
			continue
		}
		in := make([]*mat.Dense, len(n.inputs))
		for j, x := range n.inputs {
			in[j] = x.value
		}
		grads := n.op.backward(in, n.value, n.grad)
		for j, x := range n.inputs {
			if x.needsGrad && grads[j] != nil {
				accumulate(x, grads[j])
			}
		}
	}
	return nil
}

func accumulate(n *Node, grad *mat.Dense) {
	if n.grad == nil {
		r, c := grad.Dims()
		n.grad = mat.NewDense(r, c, nil)
	}
	n.grad.Add(n.grad, grad)
}

// ZeroGrad clears the gradients of every node.
func (g *Graph) ZeroGrad() {
	for _, n := range g.nodes {
		n.grad = nil
	}
}

// Must panics if err is not nil and returns n otherwise.
func Must(n *Node, err error) *Node {
	if err != nil {
		panic(err)
	}
	return n
}
