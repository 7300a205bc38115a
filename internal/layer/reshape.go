package layer

import (
	"fmt"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
)

// Flatten marks the boundary between image-shaped and vector-shaped layers.
// Data is already stored flat, so it is an identity on values.
type Flatten struct {
	in        Shape3
	outputBuf []float64
	gradInBuf []float64
}

// NewFlatten creates a flatten layer for the given input shape.
func NewFlatten(in Shape3) *Flatten {
	return &Flatten{
		in:        in,
		outputBuf: make([]float64, in.Size()),
		gradInBuf: make([]float64, in.Size()),
	}
}

func (f *Flatten) Forward(x []float64) []float64 {
	if len(x) != f.in.Size() {
		panicShape("Flatten", f.in.Size(), len(x))
	}
	copy(f.outputBuf, x)
	return f.outputBuf
}

func (f *Flatten) Backward(grad []float64) []float64 {
	copy(f.gradInBuf, grad)
	return f.gradInBuf
}

func (f *Flatten) Params() []float64 { return nil }
func (f *Flatten) SetParams([]float64) {}
func (f *Flatten) Gradients() []float64 { return nil }
func (f *Flatten) ClearGradients() {}
func (f *Flatten) InSize() int { return f.in.Size() }
func (f *Flatten) OutSize() int { return f.in.Size() }
func (f *Flatten) InShape() Shape3 { return f.in }
func (f *Flatten) Clone() Layer { return NewFlatten(f.in) }

// Activation applies an activation function as a standalone layer.
type Activation struct {
	act       activations.Activation
	size      int
	inputBuf  []float64
	outputBuf []float64
	gradInBuf []float64
}

// NewActivation wraps act as a parameter-free layer over size inputs.
func NewActivation(act activations.Activation, size int) *Activation {
	return &Activation{
		act:       act,
		size:      size,
		inputBuf:  make([]float64, size),
		outputBuf: make([]float64, size),
		gradInBuf: make([]float64, size),
	}
}

func (a *Activation) Forward(x []float64) []float64 {
	if len(x) != a.size {
		panicShape("Activation", a.size, len(x))
	}
	copy(a.inputBuf, x)
	if va, ok := a.act.(activations.VectorActivation); ok {
		va.ActivateVector(a.outputBuf, x)
		return a.outputBuf
	}
	for i, v := range x {
		a.outputBuf[i] = a.act.Activate(v)
	}
	return a.outputBuf
}

func (a *Activation) Backward(grad []float64) []float64 {
	if va, ok := a.act.(activations.VectorActivation); ok {
		va.BackwardVector(a.gradInBuf, a.outputBuf, grad)
		return a.gradInBuf
	}
	for i, g := range grad {
		a.gradInBuf[i] = g * a.act.Derivative(a.inputBuf[i])
	}
	return a.gradInBuf
}

func (a *Activation) Params() []float64 { return nil }
func (a *Activation) SetParams([]float64) {}
func (a *Activation) Gradients() []float64 { return nil }
func (a *Activation) ClearGradients() {}
func (a *Activation) InSize() int { return a.size }
func (a *Activation) OutSize() int { return a.size }
func (a *Activation) Clone() Layer { return NewActivation(a.act, a.size) }

// Func returns the wrapped activation.
func (a *Activation) Func() activations.Activation { return a.act }

// OutputActivation returns the wrapped activation.
func (a *Activation) OutputActivation() activations.Activation { return a.act }

// BackwardPreActivation passes dz through unchanged.
func (a *Activation) BackwardPreActivation(dz []float64) []float64 {
	if len(dz) != a.size {
		panicShape("Activation.BackwardPreActivation", a.size, len(dz))
	}
	copy(a.gradInBuf, dz)
	return a.gradInBuf
}

func panicShape(name string, want, got int) {
	panic(fmt.Sprintf("%s: expected input of length %d, got %d", name, want, got))
}

func panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
