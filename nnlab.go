// Package nnlab re-exports the pieces a lesson needs: layers, losses,
// optimizers, callbacks and datasets, so a program can build and train a
// network without importing the internal packages one by one.
package nnlab

import (
	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/dataset"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Re-export common types for easier access
type (
	Model      = net.Sequential
	Layer      = layer.Layer
	Optimizer  = opt.Optimizer
	Loss       = loss.Loss
	Callback   = net.Callback
	History    = net.History
	Dataset    = dataset.Dataset
	Activation = activations.Activation
	Shape3     = layer.Shape3
)

// NewSequential stacks layers into a trainable model.
func NewSequential(layers ...Layer) *Model {
	return net.NewSequential(layers...)
}

// SetSeed makes layer initialisation reproducible.
func SetSeed(seed int64) { layer.SetSeed(seed) }

// Activations
var (
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
	Softmax = activations.Softmax{}
	Linear  = activations.Linear{}
)

func LeakyReLU(alpha float64) Activation {
	return activations.NewLeakyReLU(alpha)
}

// Layers
func Dense(in, out int, act Activation) Layer {
	return layer.NewDense(in, out, act)
}

func Conv2D(inChannels, height, width, outChannels, kernelSize, stride, padding int, act Activation) *layer.Conv2D {
	return layer.NewConv2D(inChannels, height, width, outChannels, kernelSize, stride, padding, act)
}

func MaxPool2D(channels, height, width, kernelSize, stride, padding int) *layer.MaxPool2D {
	return layer.NewMaxPool2D(channels, height, width, kernelSize, stride, padding)
}

func Dropout(p float64, in int) Layer {
	return layer.NewDropout(p, in)
}

func Flatten(in Shape3) Layer {
	return layer.NewFlatten(in)
}

func SimpleRNN(in, hidden, steps int, returnSequences bool) Layer {
	return layer.NewSimpleRNN(in, hidden, steps, returnSequences)
}

func ActivationLayer(act Activation, size int) Layer {
	return layer.NewActivation(act, size)
}

// Optimizers
func SGD(lr float64) Optimizer {
	return &opt.SGD{LearningRate: lr}
}

func Momentum(lr, mu float64) Optimizer {
	return opt.NewMomentum(lr, mu)
}

func Adam(lr float64) Optimizer {
	return opt.NewAdam(lr)
}

func ReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold, minLR float64) *opt.ReduceLROnPlateau {
	return opt.NewReduceLROnPlateau(optimizer, factor, patience, threshold, minLR)
}

func StepLR(optimizer Optimizer, stepSize int, gamma float64) *opt.StepLR {
	return opt.NewStepLR(optimizer, stepSize, gamma)
}

func ExponentialLR(optimizer Optimizer, gamma float64) *opt.ExponentialLR {
	return opt.NewExponentialLR(optimizer, gamma)
}

// Callbacks
func Logger(interval int) *net.Logger {
	return &net.Logger{Interval: interval}
}

func ModelCheckpoint(filename string) *net.ModelCheckpoint {
	return net.NewModelCheckpoint(filename)
}

func EarlyStopping(patience int, threshold float64) *net.EarlyStopping {
	return net.NewEarlyStopping(patience, threshold)
}

func SchedulerCallback(scheduler opt.Scheduler) Callback {
	return net.NewSchedulerCallback(scheduler)
}

func CSVLogger(filename string, append bool) *net.CSVLogger {
	return net.NewCSVLogger(filename, append)
}

// Losses
var (
	MSE                 = loss.MSE{}
	CrossEntropy        = loss.CrossEntropy{}
	SoftmaxCrossEntropy = loss.SoftmaxCrossEntropy{}
)

// Load restores a model saved with Model.Save or a ModelCheckpoint.
func Load(filename string) (*Model, error) {
	return net.LoadSequential(filename)
}

// Datasets
func LoadMNIST(dir string) (train, test *Dataset, err error) {
	return dataset.Load(dir)
}

func SyntheticDigits(n int, seed int64) *Dataset {
	return dataset.Synthetic(n, seed)
}
