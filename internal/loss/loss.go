// Package loss provides loss functions for single samples.
package loss

import (
	"fmt"
	"math"
)

// BackwardInPlacer is an optional interface for loss functions that support
// in-place gradient computation to avoid allocations.
type BackwardInPlacer interface {
	BackwardInPlace(yPred, yTrue, grad []float64)
}

// Loss is a loss function with derivative.
type Loss interface {
	// Forward computes the loss between predicted and true values.
	Forward(yPred, yTrue []float64) float64

	// Backward computes the gradient of the loss w.r.t. prediction.
	// This creates a new slice and should be avoided in hot loops.
	Backward(yPred, yTrue []float64) []float64
}

func checkLen(name string, yPred, yTrue []float64) {
	if len(yPred) != len(yTrue) {
		panic(fmt.Sprintf("%s: prediction and target must have same length (%d != %d)", name, len(yPred), len(yTrue)))
	}
}

// MSE (Mean Squared Error) loss.
type MSE struct{}

// Forward computes mean squared error: (1/n) * sum((y_pred - y_true)^2)
func (m MSE) Forward(yPred, yTrue []float64) float64 {
	checkLen("MSE", yPred, yTrue)
	var sum float64
	for i := range yPred {
		diff := yPred[i] - yTrue[i]
		sum += diff * diff
	}
	return sum / float64(len(yPred))
}

// Backward computes gradient: dL/dy_pred = (2/n) * (y_pred - y_true)
func (m MSE) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	m.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (m MSE) BackwardInPlace(yPred, yTrue, grad []float64) {
	checkLen("MSE", yPred, yTrue)
	checkLen("MSE", yPred, grad)
	factor := 2.0 / float64(len(yPred))
	for i := range yPred {
		grad[i] = factor * (yPred[i] - yTrue[i])
	}
}

// probEps keeps log away from zero probabilities.
const probEps = 1e-12

// minProb bounds the divisor in CrossEntropy.Backward. Above it -y/p chained
// through the softmax Jacobian still reduces exactly to p - y.
const minProb = 1e-300

// CrossEntropy is the categorical cross-entropy over probabilities, typically
// the output of a Softmax layer: -sum(y_true * log(y_pred)).
type CrossEntropy struct{}

// Forward computes -sum(y_true * log(max(y_pred, eps))).
func (c CrossEntropy) Forward(yPred, yTrue []float64) float64 {
	checkLen("CrossEntropy", yPred, yTrue)
	var sum float64
	for i := range yPred {
		if yTrue[i] == 0 {
			continue
		}
		sum -= yTrue[i] * math.Log(math.Max(yPred[i], probEps))
	}
	return sum
}

// Backward computes dL/dy_pred = -y_true / y_pred.
// Chained through the softmax Jacobian this reduces to y_pred - y_true.
func (c CrossEntropy) Backward(yPred, yTrue []float64) []float64 {
	grad := make([]float64, len(yPred))
	c.BackwardInPlace(yPred, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (c CrossEntropy) BackwardInPlace(yPred, yTrue, grad []float64) {
	checkLen("CrossEntropy", yPred, yTrue)
	checkLen("CrossEntropy", yPred, grad)
	for i := range yPred {
		if yTrue[i] == 0 {
			grad[i] = 0
			continue
		}
		grad[i] = -yTrue[i] / math.Max(yPred[i], minProb)
	}
}

// SoftmaxCrossEntropy takes raw logits and fuses softmax with cross-entropy,
// using log-sum-exp for stability. The gradient is softmax(logits) - y_true.
type SoftmaxCrossEntropy struct{}

// Forward computes logsumexp(z) - sum(y_true * z) for one-hot-like targets.
func (s SoftmaxCrossEntropy) Forward(logits, yTrue []float64) float64 {
	checkLen("SoftmaxCrossEntropy", logits, yTrue)
	lse := LogSumExp(logits)
	var sum, mass float64
	for i := range logits {
		sum += yTrue[i] * logits[i]
		mass += yTrue[i]
	}
	return mass*lse - sum
}

// Backward computes softmax(logits) * sum(y_true) - y_true.
func (s SoftmaxCrossEntropy) Backward(logits, yTrue []float64) []float64 {
	grad := make([]float64, len(logits))
	s.BackwardInPlace(logits, yTrue, grad)
	return grad
}

// BackwardInPlace computes gradient and stores it in the grad slice.
func (s SoftmaxCrossEntropy) BackwardInPlace(logits, yTrue, grad []float64) {
	checkLen("SoftmaxCrossEntropy", logits, yTrue)
	checkLen("SoftmaxCrossEntropy", logits, grad)
	lse := LogSumExp(logits)
	var mass float64
	for _, v := range yTrue {
		mass += v
	}
	for i := range logits {
		grad[i] = mass*math.Exp(logits[i]-lse) - yTrue[i]
	}
}

// LogSumExp computes log(sum(exp(x))) without overflow.
func LogSumExp(x []float64) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxVal := x[0]
	for _, v := range x[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(v - maxVal)
	}
	return maxVal + math.Log(sum)
}

// Name returns the persistence name of a loss.
func Name(l Loss) string {
	switch l.(type) {
	case MSE:
		return "MSE"
	case CrossEntropy:
		return "CrossEntropy"
	case SoftmaxCrossEntropy:
		return "SoftmaxCrossEntropy"
	default:
		return "MSE"
	}
}

// ByName is the inverse of Name.
func ByName(name string) (Loss, error) {
	switch name {
	case "MSE", "mse":
		return MSE{}, nil
	case "CrossEntropy", "crossentropy", "cross_entropy":
		return CrossEntropy{}, nil
	case "SoftmaxCrossEntropy", "softmax_cross_entropy":
		return SoftmaxCrossEntropy{}, nil
	}
	return nil, fmt.Errorf("unknown loss %q", name)
}
