// Package net provides core neural network types.
package net

import (
	"fmt"
	"sync"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Network is a stack of layers trained with a loss and an optimizer.
type Network struct {
	layers []layer.Layer
	loss   loss.Loss
	opt    opt.Optimizer

	// Pre-allocated gradient buffer for training
	lossGradBuf []float64
}

// New creates a new neural network with the given layers.
func New(layers []layer.Layer, lossFn loss.Loss, optimizer opt.Optimizer) *Network {
	return &Network{
		layers: layers,
		loss:   lossFn,
		opt:    optimizer,
	}
}

// Forward performs a forward pass through all layers. The returned slice is
// owned by the last layer and is overwritten by the next call.
func (n *Network) Forward(x []float64) []float64 {
	curr := x
	for _, l := range n.layers {
		curr = l.Forward(curr)
	}
	return curr
}

// Backward performs a backward pass through all layers, accumulating
// parameter gradients, and returns dL/dinput.
func (n *Network) Backward(grad []float64) []float64 {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// SetTraining switches layers such as Dropout between training and inference.
func (n *Network) SetTraining(training bool) {
	for _, l := range n.layers {
		if tl, ok := l.(layer.Trainable); ok {
			tl.SetTraining(training)
		}
	}
}

// inference switches every Trainable layer to inference mode and returns a
// function restoring each layer's previous mode.
func (n *Network) inference() func() {
	var (
		switched []layer.Trainable
		modes    []bool
	)
	for _, l := range n.layers {
		if tl, ok := l.(layer.Trainable); ok {
			switched = append(switched, tl)
			modes = append(modes, tl.IsTraining())
			tl.SetTraining(false)
		}
	}
	return func() {
		for i, tl := range switched {
			tl.SetTraining(modes[i])
		}
	}
}

// ClearGradients zeroes every layer's accumulated gradients.
func (n *Network) ClearGradients() {
	for _, l := range n.layers {
		l.ClearGradients()
	}
}

// Step applies the optimizer to every layer, scaling the accumulated
// gradients by scale first (1/batchSize to average a mini-batch). Layers
// implementing layer.GradientClipper clip the scaled gradient.
func (n *Network) Step(scale float64) {
	if n.opt == nil {
		panic("net: Step called without an optimizer; call Compile first")
	}
	for i, l := range n.layers {
		params := l.Params()
		if len(params) == 0 {
			continue
		}
		gradients := l.Gradients()
		if scale != 1 {
			for j := range gradients {
				gradients[j] *= scale
			}
		}
		if c, ok := l.(layer.GradientClipper); ok {
			c.ClipGradients(gradients)
		}
		n.opt.StepInPlace(i, params, gradients)
		l.SetParams(params)
	}
}

// lossGradient returns dL/dyPred using the pre-allocated buffer when the loss
// supports it.
func (n *Network) lossGradient(yPred, y []float64) []float64 {
	grad := n.gradBuffer(len(yPred))
	if bip, ok := n.loss.(loss.BackwardInPlacer); ok {
		bip.BackwardInPlace(yPred, y, grad)
		return grad
	}
	return n.loss.Backward(yPred, y)
}

// backpropLoss runs the backward pass for one sample's loss. A softmax output
// trained with cross-entropy is differentiated as a single step, dL/dz =
// p*sum(y) - y, so the gradient stays exact when the target probability
// underflows.
func (n *Network) backpropLoss(yPred, y []float64) {
	if len(n.layers) > 0 {
		if last, ok := n.layers[len(n.layers)-1].(layer.PreActivationBackwarder); ok && n.fusedSoftmaxCE(last) {
			dz := n.gradBuffer(len(yPred))
			var mass float64
			for _, v := range y {
				mass += v
			}
			for i, p := range yPred {
				dz[i] = p*mass - y[i]
			}
			curr := last.BackwardPreActivation(dz)
			for i := len(n.layers) - 2; i >= 0; i-- {
				curr = n.layers[i].Backward(curr)
			}
			return
		}
	}
	n.Backward(n.lossGradient(yPred, y))
}

func (n *Network) fusedSoftmaxCE(last layer.PreActivationBackwarder) bool {
	switch n.loss.(type) {
	case loss.CrossEntropy, *loss.CrossEntropy:
	default:
		return false
	}
	switch last.OutputActivation().(type) {
	case activations.Softmax, *activations.Softmax:
		return true
	}
	return false
}

func (n *Network) gradBuffer(size int) []float64 {
	if cap(n.lossGradBuf) < size {
		n.lossGradBuf = make([]float64, size)
	}
	return n.lossGradBuf[:size]
}

// Train performs one optimisation step on a single sample and returns its loss.
func (n *Network) Train(x, y []float64) float64 {
	return n.TrainBatch([][]float64{x}, [][]float64{y})
}

// TrainBatch accumulates gradients over the batch, averages them, takes one
// optimizer step and returns the mean loss.
func (n *Network) TrainBatch(batchX, batchY [][]float64) float64 {
	if len(batchX) != len(batchY) {
		panic(fmt.Sprintf("net: %d inputs but %d targets", len(batchX), len(batchY)))
	}
	if len(batchX) == 0 {
		return 0
	}

	n.ClearGradients()
	var total float64
	for i := range batchX {
		yPred := n.Forward(batchX[i])
		total += n.loss.Forward(yPred, batchY[i])
		n.backpropLoss(yPred, batchY[i])
	}

	batchSize := float64(len(batchX))
	n.Step(1 / batchSize)
	n.ClearGradients()
	return total / batchSize
}

// ComputeGradients runs forward and backward over the batch without updating
// parameters. It returns the mean loss and each layer's mean gradient, in
// Params order, index-aligned with Layers().
func (n *Network) ComputeGradients(batchX, batchY [][]float64) (float64, [][]float64) {
	n.ClearGradients()
	var total float64
	for i := range batchX {
		yPred := n.Forward(batchX[i])
		total += n.loss.Forward(yPred, batchY[i])
		n.backpropLoss(yPred, batchY[i])
	}

	scale := 1 / float64(len(batchX))
	grads := make([][]float64, len(n.layers))
	for i, l := range n.layers {
		g := l.Gradients()
		for j := range g {
			g[j] *= scale
		}
		grads[i] = g
	}
	n.ClearGradients()
	return total * scale, grads
}

// Activations runs x through the network and returns a copy of every
// layer's output, index-aligned with Layers().
func (n *Network) Activations(x []float64) [][]float64 {
	out := make([][]float64, len(n.layers))
	curr := x
	for i, l := range n.layers {
		curr = l.Forward(curr)
		out[i] = append([]float64(nil), curr...)
	}
	return out
}

// Params returns all network parameters flattened (copy).
func (n *Network) Params() []float64 {
	var params []float64
	for _, l := range n.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// Gradients returns all network gradients flattened (copy).
func (n *Network) Gradients() []float64 {
	var gradients []float64
	for _, l := range n.layers {
		gradients = append(gradients, l.Gradients()...)
	}
	return gradients
}

// SetParams distributes a flat parameter slice over the layers.
func (n *Network) SetParams(params []float64) {
	offset := 0
	for _, l := range n.layers {
		k := len(l.Params())
		l.SetParams(params[offset : offset+k])
		offset += k
	}
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer { return n.layers }

// Loss returns the configured loss.
func (n *Network) Loss() loss.Loss { return n.loss }

// Optimizer returns the configured optimizer.
func (n *Network) Optimizer() opt.Optimizer { return n.opt }

// InSize is the input width of the first layer.
func (n *Network) InSize() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[0].InSize()
}

// OutSize is the output width of the last layer.
func (n *Network) OutSize() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[len(n.layers)-1].OutSize()
}

// Clone deep-copies the layers. The clone shares the loss but has no
// optimizer, so it is meant for inference and evaluation.
func (n *Network) Clone() *Network {
	layers := make([]layer.Layer, len(n.layers))
	for i, l := range n.layers {
		layers[i] = l.Clone()
	}
	return New(layers, n.loss, nil)
}

// Argmax returns the index of the largest value.
func Argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Evaluate returns the mean loss and the argmax accuracy over a dataset.
// Dropout is disabled for the duration of the call and each layer's mode is
// restored afterwards.
func (n *Network) Evaluate(x, y [][]float64) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	defer n.inference()()

	var total float64
	correct := 0
	for i := range x {
		pred := n.Forward(x[i])
		total += n.loss.Forward(pred, y[i])
		if Argmax(pred) == Argmax(y[i]) {
			correct++
		}
	}
	return total / float64(len(x)), float64(correct) / float64(len(x))
}

// EvaluateParallel is Evaluate spread over workers, each running its own
// clone of the network.
func (n *Network) EvaluateParallel(x, y [][]float64, workers int) (float64, float64) {
	if workers <= 1 || len(x) < 2*workers {
		return n.Evaluate(x, y)
	}

	losses := make([]float64, workers)
	corrects := make([]int, workers)
	chunk := (len(x) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(x))
		if start >= end {
			break
		}
		clone := n.Clone()
		clone.SetTraining(false)
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				pred := clone.Forward(x[i])
				losses[w] += clone.loss.Forward(pred, y[i])
				if Argmax(pred) == Argmax(y[i]) {
					corrects[w]++
				}
			}
		}(w, start, end)
	}
	wg.Wait()

	var total float64
	correct := 0
	for w := range losses {
		total += losses[w]
		correct += corrects[w]
	}
	return total / float64(len(x)), float64(correct) / float64(len(x))
}
