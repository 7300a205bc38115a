// Package layer provides neural network layer implementations.
//
// Every layer works on a single sample held as a flat []float64. Image tensors
// are stored channel-major: [channels, height, width]. Backward accumulates
// parameter gradients until ClearGradients is called, so a mini-batch is
// processed by calling Forward/Backward once per sample.
package layer

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
)

// Layer is a neural network layer.
type Layer interface {
	Forward(x []float64) []float64
	Backward(grad []float64) []float64
	Params() []float64
	SetParams([]float64)
	Gradients() []float64
	ClearGradients()
	InSize() int
	OutSize() int
	Clone() Layer
}

// Trainable is implemented by layers that behave differently at training time.
type Trainable interface {
	SetTraining(training bool)
	IsTraining() bool
}

// GradientClipper is implemented by layers that bound their batch gradient
// before the optimizer step.
type GradientClipper interface {
	ClipGradients(grads []float64)
}

// PreActivationBackwarder is implemented by layers that end in an activation
// function and can also be driven by dL/dz, the gradient with respect to that
// activation's input. Losses fused with the final activation use it.
type PreActivationBackwarder interface {
	OutputActivation() activations.Activation
	BackwardPreActivation(dz []float64) []float64
}

var (
	seedMu     sync.Mutex
	seedSource = rand.New(rand.NewSource(42))
)

// SetSeed reseeds the source used to initialise new layers, making weight
// initialisation reproducible for a given construction order.
func SetSeed(seed int64) {
	seedMu.Lock()
	seedSource = rand.New(rand.NewSource(seed))
	seedMu.Unlock()
}

func nextRNG() *rand.Rand {
	seedMu.Lock()
	defer seedMu.Unlock()
	return rand.New(rand.NewSource(seedSource.Int63()))
}

// Dense is a fully connected layer.
// Weights are stored row-major: the weight for output i, input j is at
// weights[i*in + j].
type Dense struct {
	weights []float64
	biases  []float64
	act     activations.Activation
	outSize int
	inSize  int

	inputBuf  []float64
	outputBuf []float64
	preActBuf []float64
	gradWBuf  []float64
	gradBBuf  []float64
	gradInBuf []float64
	dzBuf     []float64
}

// NewDense creates a dense layer with Glorot-uniform weights and zero biases.
func NewDense(in, out int, act activations.Activation) *Dense {
	return NewDenseWithRNG(in, out, act, nextRNG())
}

// NewDenseWithRNG creates a dense layer drawing its initial weights from rng.
func NewDenseWithRNG(in, out int, act activations.Activation, rng *rand.Rand) *Dense {
	if act == nil {
		act = activations.Linear{}
	}
	weights := make([]float64, out*in)
	limit := math.Sqrt(6.0 / (float64(in) + float64(out)))
	for i := range weights {
		weights[i] = rng.Float64()*2*limit - limit
	}

	return &Dense{
		weights:   weights,
		biases:    make([]float64, out),
		act:       act,
		outSize:   out,
		inSize:    in,
		inputBuf:  make([]float64, in),
		outputBuf: make([]float64, out),
		preActBuf: make([]float64, out),
		gradWBuf:  make([]float64, out*in),
		gradBBuf:  make([]float64, out),
		gradInBuf: make([]float64, in),
		dzBuf:     make([]float64, out),
	}
}

// Forward computes act(Wx + b).
func (d *Dense) Forward(x []float64) []float64 {
	if len(x) != d.inSize {
		panicShape("Dense", d.inSize, len(x))
	}
	copy(d.inputBuf, x)

	inSize := d.inSize
	for o := 0; o < d.outSize; o++ {
		sum := d.biases[o]
		row := d.weights[o*inSize : (o+1)*inSize]
		for i, w := range row {
			sum += w * x[i]
		}
		d.preActBuf[o] = sum
	}

	if va, ok := d.act.(activations.VectorActivation); ok {
		va.ActivateVector(d.outputBuf, d.preActBuf)
	} else {
		for o, z := range d.preActBuf {
			d.outputBuf[o] = d.act.Activate(z)
		}
	}
	return d.outputBuf
}

// Backward accumulates dL/dW and dL/db and returns dL/dx.
func (d *Dense) Backward(grad []float64) []float64 {
	if len(grad) != d.outSize {
		panicShape("Dense.Backward", d.outSize, len(grad))
	}
	dz := d.dzBuf
	if va, ok := d.act.(activations.VectorActivation); ok {
		va.BackwardVector(dz, d.outputBuf, grad)
	} else {
		for o := range dz {
			dz[o] = grad[o] * d.act.Derivative(d.preActBuf[o])
		}
	}

	return d.accumulate(dz)
}

// BackwardPreActivation is Backward for a gradient already taken with
// respect to the pre-activations, skipping the activation derivative.
func (d *Dense) BackwardPreActivation(dz []float64) []float64 {
	if len(dz) != d.outSize {
		panicShape("Dense.BackwardPreActivation", d.outSize, len(dz))
	}
	return d.accumulate(dz)
}

func (d *Dense) accumulate(dz []float64) []float64 {
	inSize := d.inSize
	for i := range d.gradInBuf {
		d.gradInBuf[i] = 0
	}
	for o, g := range dz {
		d.gradBBuf[o] += g
		if g == 0 {
			continue
		}
		base := o * inSize
		for i := 0; i < inSize; i++ {
			d.gradWBuf[base+i] += g * d.inputBuf[i]
			d.gradInBuf[i] += g * d.weights[base+i]
		}
	}
	return d.gradInBuf
}

// Params returns all dense layer parameters flattened: weights then biases.
func (d *Dense) Params() []float64 {
	params := make([]float64, 0, len(d.weights)+len(d.biases))
	params = append(params, d.weights...)
	return append(params, d.biases...)
}

// SetParams updates weights and biases from a flattened slice (in-place).
func (d *Dense) SetParams(params []float64) {
	copy(d.weights, params[:len(d.weights)])
	copy(d.biases, params[len(d.weights):])
}

// Gradients returns the accumulated gradients in Params order.
func (d *Dense) Gradients() []float64 {
	gradients := make([]float64, 0, len(d.gradWBuf)+len(d.gradBBuf))
	gradients = append(gradients, d.gradWBuf...)
	return append(gradients, d.gradBBuf...)
}

func (d *Dense) ClearGradients() {
	clear(d.gradWBuf)
	clear(d.gradBBuf)
}

func (d *Dense) Clone() Layer {
	c := NewDenseWithRNG(d.inSize, d.outSize, d.act, rand.New(rand.NewSource(0)))
	copy(c.weights, d.weights)
	copy(c.biases, d.biases)
	return c
}

// Weights returns an out×in matrix view sharing the layer's weight storage.
// Row i holds the incoming weights of unit i, i.e. its receptive field.
func (d *Dense) Weights() *mat.Dense {
	return mat.NewDense(d.outSize, d.inSize, d.weights)
}

// Biases returns the bias slice directly.
func (d *Dense) Biases() []float64 { return d.biases }

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.weights[row*d.inSize+col] = val
}

// GetWeight gets a single weight at (row, col).
func (d *Dense) GetWeight(row, col int) float64 {
	return d.weights[row*d.inSize+col]
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) { d.biases[idx] = val }

func (d *Dense) InSize() int  { return d.inSize }
func (d *Dense) OutSize() int { return d.outSize }

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation { return d.act }

// OutputActivation returns the activation applied to the layer's output.
func (d *Dense) OutputActivation() activations.Activation { return d.act }

// PreActivations returns the last pre-activation values z = Wx + b.
func (d *Dense) PreActivations() []float64 { return d.preActBuf }
