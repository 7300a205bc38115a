package graph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// operation computes a node from its inputs and maps the output gradient
// back onto them. A nil entry in the backward result means no gradient flows
// to that input.
type operation interface {
	forward(in []*mat.Dense) *mat.Dense
	backward(in []*mat.Dense, out, grad *mat.Dense) []*mat.Dense
}

var scalarShape = Shape{1, 1}

func newOp(name string, op operation, shape Shape, inputs ...*Node) (*Node, error) {
	g := inputs[0].g
	needsGrad := false
	for _, x := range inputs {
		if x.g != g {
			return nil, fmt.Errorf("graph: %s: inputs belong to different graphs", name)
		}
		needsGrad = needsGrad || x.needsGrad
	}
	return g.add(&Node{name: name, kind: kindOp, op: op, shape: shape, inputs: inputs, needsGrad: needsGrad}), nil
}

// rowsMatch treats 0 as a wildcard.
func rowsMatch(a, b int) bool { return a == 0 || b == 0 || a == b }

func sameShape(name string, a, b *Node) (Shape, error) {
	if a.shape.Cols != b.shape.Cols || !rowsMatch(a.shape.Rows, b.shape.Rows) {
		return Shape{}, fmt.Errorf("graph: %s: shape mismatch %v vs %v", name, a.shape, b.shape)
	}
	return Shape{max(a.shape.Rows, b.shape.Rows), a.shape.Cols}, nil
}

func zerosLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	return mat.NewDense(r, c, nil)
}

// MatMul is the matrix product a × b.
func MatMul(a, b *Node) (*Node, error) {
	if a.shape.Cols != b.shape.Rows {
		return nil, fmt.Errorf("graph: MatMul: cannot multiply %v by %v", a.shape, b.shape)
	}
	return newOp("MatMul", matMulOp{}, Shape{a.shape.Rows, b.shape.Cols}, a, b)
}

type matMulOp struct{}

func (matMulOp) forward(in []*mat.Dense) *mat.Dense {
	out := &mat.Dense{}
	out.Mul(in[0], in[1])
	return out
}

func (matMulOp) backward(in []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	da, db := &mat.Dense{}, &mat.Dense{}
	da.Mul(grad, in[1].T())
	db.Mul(in[0].T(), grad)
	return []*mat.Dense{da, db}
}

// AddRow adds the 1×k row b to every row of a.
func AddRow(a, b *Node) (*Node, error) {
	if b.shape.Rows != 1 || b.shape.Cols != a.shape.Cols {
		return nil, fmt.Errorf("graph: AddRow: cannot broadcast %v onto %v", b.shape, a.shape)
	}
	return newOp("AddRow", addRowOp{}, a.shape, a, b)
}

type addRowOp struct{}

func (addRowOp) forward(in []*mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(in[0])
	row := in[1].RawRowView(0)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		floats.Add(out.RawRowView(i), row)
	}
	return out
}

func (addRowOp) backward(_ []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	r, c := grad.Dims()
	db := mat.NewDense(1, c, nil)
	for i := 0; i < r; i++ {
		floats.Add(db.RawRowView(0), grad.RawRowView(i))
	}
	return []*mat.Dense{grad, db}
}

// Add is the elementwise sum.
func Add(a, b *Node) (*Node, error) {
	shape, err := sameShape("Add", a, b)
	if err != nil {
		return nil, err
	}
	return newOp("Add", addOp{sign: 1}, shape, a, b)
}

// Sub is the elementwise difference a - b.
func Sub(a, b *Node) (*Node, error) {
	shape, err := sameShape("Sub", a, b)
	if err != nil {
		return nil, err
	}
	return newOp("Sub", addOp{sign: -1}, shape, a, b)
}

type addOp struct{ sign float64 }

func (o addOp) forward(in []*mat.Dense) *mat.Dense {
	out := &mat.Dense{}
	if o.sign > 0 {
		out.Add(in[0], in[1])
	} else {
		out.Sub(in[0], in[1])
	}
	return out
}

func (o addOp) backward(_ []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	if o.sign > 0 {
		return []*mat.Dense{grad, grad}
	}
	neg := &mat.Dense{}
	neg.Scale(-1, grad)
	return []*mat.Dense{grad, neg}
}

// Mul is the elementwise (Hadamard) product.
func Mul(a, b *Node) (*Node, error) {
	shape, err := sameShape("Mul", a, b)
	if err != nil {
		return nil, err
	}
	return newOp("Mul", mulOp{}, shape, a, b)
}

type mulOp struct{}

func (mulOp) forward(in []*mat.Dense) *mat.Dense {
	out := &mat.Dense{}
	out.MulElem(in[0], in[1])
	return out
}

func (mulOp) backward(in []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	da, db := &mat.Dense{}, &mat.Dense{}
	da.MulElem(grad, in[1])
	db.MulElem(grad, in[0])
	return []*mat.Dense{da, db}
}

// Scale multiplies every element by s.
func Scale(a *Node, s float64) (*Node, error) {
	return newOp("Scale", scaleOp{s}, a.shape, a)
}

type scaleOp struct{ s float64 }

func (o scaleOp) forward(in []*mat.Dense) *mat.Dense {
	out := &mat.Dense{}
	out.Scale(o.s, in[0])
	return out
}

func (o scaleOp) backward(_ []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	da := &mat.Dense{}
	da.Scale(o.s, grad)
	return []*mat.Dense{da}
}

// elementwise covers activations whose derivative is a function of the input
// and output of the same element.
type elementwise struct {
	f     func(x float64) float64
	deriv func(x, y float64) float64
}

func (o elementwise) forward(in []*mat.Dense) *mat.Dense {
	out := zerosLike(in[0])
	out.Apply(func(_, _ int, v float64) float64 { return o.f(v) }, in[0])
	return out
}

func (o elementwise) backward(in []*mat.Dense, out, grad *mat.Dense) []*mat.Dense {
	da := zerosLike(grad)
	da.Apply(func(i, j int, g float64) float64 {
		return g * o.deriv(in[0].At(i, j), out.At(i, j))
	}, grad)
	return []*mat.Dense{da}
}

var (
	reluOp = elementwise{
		f: func(x float64) float64 { return math.Max(x, 0) },
		deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	}
	sigmoidOp = elementwise{
		f:     func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		deriv: func(_, y float64) float64 { return y * (1 - y) },
	}
	tanhOp = elementwise{
		f:     math.Tanh,
		deriv: func(_, y float64) float64 { return 1 - y*y },
	}
)

// ReLU is max(0, a) elementwise.
func ReLU(a *Node) (*Node, error) { return newOp("ReLU", reluOp, a.shape, a) }

// Sigmoid is 1/(1+exp(-a)) elementwise.
func Sigmoid(a *Node) (*Node, error) { return newOp("Sigmoid", sigmoidOp, a.shape, a) }

// Tanh is tanh(a) elementwise.
func Tanh(a *Node) (*Node, error) { return newOp("Tanh", tanhOp, a.shape, a) }

// Softmax normalises each row of a into a probability distribution.
func Softmax(a *Node) (*Node, error) { return newOp("Softmax", softmaxOp{}, a.shape, a) }

type softmaxOp struct{}

func softmaxRow(dst, z []float64) {
	m := floats.Max(z)
	for i, v := range z {
		dst[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}

func (softmaxOp) forward(in []*mat.Dense) *mat.Dense {
	out := zerosLike(in[0])
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		softmaxRow(out.RawRowView(i), in[0].RawRowView(i))
	}
	return out
}

func (softmaxOp) backward(_ []*mat.Dense, out, grad *mat.Dense) []*mat.Dense {
	da := zerosLike(grad)
	r, _ := grad.Dims()
	for i := 0; i < r; i++ {
		y, g, d := out.RawRowView(i), grad.RawRowView(i), da.RawRowView(i)
		dot := floats.Dot(y, g)
		for j := range d {
			d[j] = y[j] * (g[j] - dot)
		}
	}
	return []*mat.Dense{da}
}

// SoftmaxCrossEntropy is the mean over rows of -sum(y * log softmax(logits)),
// computed with log-sum-exp. No gradient flows to y.
func SoftmaxCrossEntropy(logits, y *Node) (*Node, error) {
	if _, err := sameShape("SoftmaxCrossEntropy", logits, y); err != nil {
		return nil, err
	}
	return newOp("SoftmaxCrossEntropy", softmaxCEOp{}, scalarShape, logits, y)
}

type softmaxCEOp struct{}

func logSumExp(z []float64) float64 {
	m := floats.Max(z)
	var sum float64
	for _, v := range z {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}

func (softmaxCEOp) forward(in []*mat.Dense) *mat.Dense {
	z, y := in[0], in[1]
	r, _ := z.Dims()
	var total float64
	for i := 0; i < r; i++ {
		zi, yi := z.RawRowView(i), y.RawRowView(i)
		total += floats.Sum(yi)*logSumExp(zi) - floats.Dot(yi, zi)
	}
	return mat.NewDense(1, 1, []float64{total / float64(r)})
}

func (softmaxCEOp) backward(in []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	z, y := in[0], in[1]
	r, _ := z.Dims()
	scale := grad.At(0, 0) / float64(r)
	dz := zerosLike(z)
	for i := 0; i < r; i++ {
		zi, yi, d := z.RawRowView(i), y.RawRowView(i), dz.RawRowView(i)
		softmaxRow(d, zi)
		mass := floats.Sum(yi)
		for j := range d {
			d[j] = scale * (mass*d[j] - yi[j])
		}
	}
	return []*mat.Dense{dz, nil}
}

// MeanSquare is mean((a - b)^2) over all elements.
func MeanSquare(a, b *Node) (*Node, error) {
	if _, err := sameShape("MeanSquare", a, b); err != nil {
		return nil, err
	}
	return newOp("MeanSquare", meanSquareOp{}, scalarShape, a, b)
}

type meanSquareOp struct{}

func (meanSquareOp) forward(in []*mat.Dense) *mat.Dense {
	d := &mat.Dense{}
	d.Sub(in[0], in[1])
	r, c := d.Dims()
	sq := floats.Dot(d.RawMatrix().Data, d.RawMatrix().Data)
	return mat.NewDense(1, 1, []float64{sq / float64(r*c)})
}

func (meanSquareOp) backward(in []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	da := &mat.Dense{}
	da.Sub(in[0], in[1])
	r, c := da.Dims()
	da.Scale(2*grad.At(0, 0)/float64(r*c), da)
	db := &mat.Dense{}
	db.Scale(-1, da)
	return []*mat.Dense{da, db}
}

// Sum adds every element of a.
func Sum(a *Node) (*Node, error) { return newOp("Sum", reduceOp{}, scalarShape, a) }

// Mean averages every element of a.
func Mean(a *Node) (*Node, error) { return newOp("Mean", reduceOp{mean: true}, scalarShape, a) }

type reduceOp struct{ mean bool }

func (o reduceOp) forward(in []*mat.Dense) *mat.Dense {
	s := mat.Sum(in[0])
	if o.mean {
		r, c := in[0].Dims()
		s /= float64(r * c)
	}
	return mat.NewDense(1, 1, []float64{s})
}

func (o reduceOp) backward(in []*mat.Dense, _, grad *mat.Dense) []*mat.Dense {
	g := grad.At(0, 0)
	r, c := in[0].Dims()
	if o.mean {
		g /= float64(r * c)
	}
	da := mat.NewDense(r, c, nil)
	da.Apply(func(_, _ int, _ float64) float64 { return g }, da)
	return []*mat.Dense{da}
}

var errNoGrad = errors.New("graph: variable has no gradient; call Backward first")
