// Package activations provides elementwise non-linearities used by the layers.
package activations

import (
	"fmt"
	"math"
)

// Activation is an activation function with derivative.
type Activation interface {
	// Activate computes f(x)
	Activate(x float64) float64

	// Derivative computes f'(x) from the pre-activation value x.
	Derivative(x float64) float64
}

// VectorActivation is implemented by activations that couple the elements of a
// vector, such as Softmax. Layers check for it before falling back to Activate.
type VectorActivation interface {
	ActivateVector(dst, x []float64)
	// BackwardVector writes dL/dx into dst given the activated output y and dL/dy.
	BackwardVector(dst, y, grad []float64)
}

// ReLU activation function.
type ReLU struct{}

// Activate computes max(0, x)
func (r ReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// Derivative returns 1 if x > 0, else 0
func (r ReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// LeakyReLU keeps a small slope for negative inputs so units cannot die.
type LeakyReLU struct {
	Alpha float64 // Slope for x <= 0
}

// NewLeakyReLU creates a LeakyReLU with the given alpha value.
func NewLeakyReLU(alpha float64) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

// Activate computes x if x > 0, else alpha*x
func (l *LeakyReLU) Activate(x float64) float64 {
	if x > 0 {
		return x
	}
	return l.Alpha * x
}

// Derivative returns 1 if x > 0, else alpha
func (l *LeakyReLU) Derivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return l.Alpha
}

// Sigmoid activation function.
type Sigmoid struct{}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Activate computes sigmoid(x)
func (s Sigmoid) Activate(x float64) float64 {
	return sigmoid(x)
}

// Derivative computes sigmoid(x) * (1 - sigmoid(x))
func (s Sigmoid) Derivative(x float64) float64 {
	sigma := sigmoid(x)
	return sigma * (1 - sigma)
}

// Tanh activation function.
type Tanh struct{}

// Activate computes tanh(x)
func (t Tanh) Activate(x float64) float64 {
	return math.Tanh(x)
}

// Derivative computes 1 - tanh(x)^2
func (t Tanh) Derivative(x float64) float64 {
	tanhX := math.Tanh(x)
	return 1 - tanhX*tanhX
}

// Linear is the identity activation.
type Linear struct{}

func (l Linear) Activate(x float64) float64   { return x }
func (l Linear) Derivative(x float64) float64 { return 1 }

// Softmax turns a vector of logits into a probability distribution.
type Softmax struct{}

// Activate panics: softmax is only defined over a whole vector.
func (s Softmax) Activate(x float64) float64 {
	panic("Softmax.Activate: use ActivateVector for Softmax")
}

// Derivative panics: softmax is only defined over a whole vector.
func (s Softmax) Derivative(x float64) float64 {
	panic("Softmax.Derivative: use BackwardVector for Softmax")
}

// ActivateVector computes softmax(x) into dst. dst and x may alias.
func (s Softmax) ActivateVector(dst, x []float64) {
	SoftmaxInto(dst, x)
}

// BackwardVector applies the softmax Jacobian: dx_i = y_i * (g_i - sum_j g_j y_j).
func (s Softmax) BackwardVector(dst, y, grad []float64) {
	var dot float64
	for i := range y {
		dot += grad[i] * y[i]
	}
	for i := range y {
		dst[i] = y[i] * (grad[i] - dot)
	}
}

// SoftmaxInto writes the softmax of x into dst, subtracting the max for
// numerical stability.
func SoftmaxInto(dst, x []float64) {
	if len(x) == 0 {
		return
	}
	maxVal := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxVal {
			maxVal = x[i]
		}
	}

	sum := 0.0
	for i := range x {
		dst[i] = math.Exp(x[i] - maxVal)
		sum += dst[i]
	}
	for i := range dst[:len(x)] {
		dst[i] /= sum
	}
}

// Name returns the persistence name of an activation.
func Name(act Activation) string {
	switch a := act.(type) {
	case ReLU:
		return "ReLU"
	case *LeakyReLU:
		return fmt.Sprintf("LeakyReLU:%g", a.Alpha)
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Softmax:
		return "Softmax"
	case Linear, nil:
		return "Linear"
	default:
		return "Linear"
	}
}

// ByName is the inverse of Name.
func ByName(name string) (Activation, error) {
	switch name {
	case "ReLU", "relu":
		return ReLU{}, nil
	case "Sigmoid", "sigmoid":
		return Sigmoid{}, nil
	case "Tanh", "tanh":
		return Tanh{}, nil
	case "Softmax", "softmax":
		return Softmax{}, nil
	case "Linear", "linear", "":
		return Linear{}, nil
	}
	var alpha float64
	if _, err := fmt.Sscanf(name, "LeakyReLU:%g", &alpha); err == nil {
		return NewLeakyReLU(alpha), nil
	}
	return nil, fmt.Errorf("unknown activation %q", name)
}
