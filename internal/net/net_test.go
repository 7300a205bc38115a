// Package net provides comprehensive unit tests for neural network.
package net

import (
	"bytes"
	"encoding/gob"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

func smallNet(o opt.Optimizer) *Network {
	layer.SetSeed(7)
	layers := []layer.Layer{
		layer.NewDense(2, 3, activations.Tanh{}),
		layer.NewDense(3, 2, activations.Softmax{}),
	}
	return New(layers, loss.CrossEntropy{}, o)
}

// TestNetworkForward tests forward pass through network.
func TestNetworkForward(t *testing.T) {
	network := smallNet(&opt.SGD{LearningRate: 0.1})

	output := network.Forward([]float64{1.0, 2.0})
	if len(output) != 2 {
		t.Fatalf("Output length = %d, want 2", len(output))
	}
	if sum := output[0] + output[1]; math.Abs(sum-1) > 1e-12 {
		t.Errorf("softmax output sums to %v", sum)
	}
	if network.InSize() != 2 || network.OutSize() != 2 {
		t.Errorf("sizes = %d -> %d", network.InSize(), network.OutSize())
	}
}

// TestNetworkBackward tests backward pass through network.
func TestNetworkBackward(t *testing.T) {
	network := smallNet(&opt.SGD{LearningRate: 0.1})

	yPred := network.Forward([]float64{1.0, 2.0})
	grad := loss.CrossEntropy{}.Backward(yPred, []float64{1, 0})
	inputGrad := network.Backward(grad)

	if len(inputGrad) != 2 {
		t.Errorf("Input gradient length = %d, want 2", len(inputGrad))
	}
}

// TestComputeGradientsMatchesFiniteDifferences checks the batch gradient of
// the whole network against central differences of the mean loss.
func TestComputeGradientsMatchesFiniteDifferences(t *testing.T) {
	network := smallNet(nil)
	batchX := [][]float64{{0.5, -1}, {1.5, 0.25}, {-0.3, 0.8}}
	batchY := [][]float64{{1, 0}, {0, 1}, {0, 1}}

	_, grads := network.ComputeGradients(batchX, batchY)
	var analytic []float64
	for _, g := range grads {
		analytic = append(analytic, g...)
	}

	theta := network.Params()
	meanLoss := func(p []float64) float64 {
		network.SetParams(p)
		var total float64
		for i := range batchX {
			total += network.loss.Forward(network.Forward(batchX[i]), batchY[i])
		}
		return total / float64(len(batchX))
	}
	numeric := fd.Gradient(nil, meanLoss, theta, &fd.Settings{Formula: fd.Central, Step: 1e-6})
	network.SetParams(theta)

	if len(numeric) != len(analytic) {
		t.Fatalf("gradient length %d, want %d", len(analytic), len(numeric))
	}
	for i := range numeric {
		if math.Abs(numeric[i]-analytic[i]) > 1e-6 {
			t.Errorf("param %d: analytic %v, numeric %v", i, analytic[i], numeric[i])
		}
	}
	for _, g := range network.Gradients() {
		if g != 0 {
			t.Fatal("ComputeGradients left accumulated gradients behind")
		}
	}
}

// TestSoftmaxCrossEntropyGradientOnConfidentMistake checks that a softmax
// output that is confidently wrong still receives a gradient of p - y.
func TestSoftmaxCrossEntropyGradientOnConfidentMistake(t *testing.T) {
	build := func(standalone bool) *Network {
		act := activations.Activation(activations.Softmax{})
		if standalone {
			act = activations.Linear{}
		}
		d := layer.NewDense(2, 2, act)
		for o := 0; o < 2; o++ {
			for i := 0; i < 2; i++ {
				d.SetWeight(o, i, 0)
			}
		}
		d.SetBias(0, 0)
		d.SetBias(1, 40)
		layers := []layer.Layer{d}
		if standalone {
			layers = append(layers, layer.NewActivation(activations.Softmax{}, 2))
		}
		return New(layers, loss.CrossEntropy{}, nil)
	}

	for _, standalone := range []bool{false, true} {
		network := build(standalone)
		_, grads := network.ComputeGradients([][]float64{{0.3, -0.7}}, [][]float64{{1, 0}})
		biasGrad := grads[0][4:]
		if math.Abs(biasGrad[0]+1) > 1e-9 || math.Abs(biasGrad[1]-1) > 1e-9 {
			t.Errorf("standalone=%v: bias gradient = %v, want about [-1 1]", standalone, biasGrad)
		}
	}
}

// TestTrainBatchIsOneSGDStep verifies that a batch update equals
// params - lr * mean gradient.
func TestTrainBatchIsOneSGDStep(t *testing.T) {
	network := smallNet(&opt.SGD{LearningRate: 0.5})
	batchX := [][]float64{{0.5, -1}, {1.5, 0.25}}
	batchY := [][]float64{{1, 0}, {0, 1}}

	before := network.Params()
	_, grads := network.ComputeGradients(batchX, batchY)
	network.TrainBatch(batchX, batchY)
	after := network.Params()

	i := 0
	for _, g := range grads {
		for _, gj := range g {
			want := before[i] - 0.5*gj
			if math.Abs(after[i]-want) > 1e-12 {
				t.Fatalf("param %d = %v, want %v", i, after[i], want)
			}
			i++
		}
	}
}

// TestNetworkXOR tests XOR learning.
func TestNetworkXOR(t *testing.T) {
	layer.SetSeed(3)
	layers := []layer.Layer{
		layer.NewDense(2, 8, activations.Tanh{}),
		layer.NewDense(8, 1, activations.Sigmoid{}),
	}
	network := New(layers, loss.MSE{}, opt.NewAdam(0.05))

	x := [][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	y := [][]float64{{0}, {1}, {1}, {0}}

	initial, _ := network.Evaluate(x, y)
	for epoch := 0; epoch < 500; epoch++ {
		for i := range x {
			network.Train(x[i], y[i])
		}
	}
	final, _ := network.Evaluate(x, y)

	if final > initial/4 {
		t.Errorf("XOR loss went from %v to %v", initial, final)
	}
}

func TestEvaluateParallelMatchesEvaluate(t *testing.T) {
	network := smallNet(nil)
	var x, y [][]float64
	for i := 0; i < 37; i++ {
		v := float64(i) / 10
		x = append(x, []float64{math.Sin(v), math.Cos(v)})
		if i%3 == 0 {
			y = append(y, []float64{1, 0})
		} else {
			y = append(y, []float64{0, 1})
		}
	}

	l1, a1 := network.Evaluate(x, y)
	l2, a2 := network.EvaluateParallel(x, y, 4)
	if math.Abs(l1-l2) > 1e-12 || a1 != a2 {
		t.Errorf("parallel = (%v, %v), serial = (%v, %v)", l2, a2, l1, a1)
	}
}

func TestEvaluateRestoresTrainingMode(t *testing.T) {
	drop := layer.NewDropout(0.5, 2)
	network := New([]layer.Layer{
		layer.NewDense(2, 2, activations.Tanh{}),
		drop,
		layer.NewDense(2, 2, activations.Softmax{}),
	}, loss.CrossEntropy{}, nil)
	x := [][]float64{{0.1, 0.2}, {0.3, -0.4}}
	y := [][]float64{{1, 0}, {0, 1}}

	for _, mode := range []bool{false, true} {
		network.SetTraining(mode)
		network.Evaluate(x, y)
		if drop.IsTraining() != mode {
			t.Errorf("after Evaluate dropout training = %v, want %v", drop.IsTraining(), mode)
		}
	}
}

func TestActivationsPerLayer(t *testing.T) {
	network := smallNet(nil)
	acts := network.Activations([]float64{0.1, 0.2})
	if len(acts) != 2 || len(acts[0]) != 3 || len(acts[1]) != 2 {
		t.Fatalf("unexpected activation shapes")
	}
	out := network.Forward([]float64{0.1, 0.2})
	for i := range out {
		if out[i] != acts[1][i] {
			t.Errorf("last activation differs from Forward")
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	layer.SetSeed(11)
	layers := []layer.Layer{
		layer.NewConv2D(1, 6, 6, 2, 3, 1, 1, activations.ReLU{}),
		layer.NewMaxPool2D(2, 6, 6, 2, 2, 0),
		layer.NewFlatten(layer.Shape3{Channels: 2, Height: 3, Width: 3}),
		layer.NewDropout(0.25, 18),
		layer.NewDense(18, 4, activations.NewLeakyReLU(0.1)),
		layer.NewActivation(activations.Sigmoid{}, 4),
		layer.NewDense(4, 3, activations.Softmax{}),
	}
	original := New(layers, loss.CrossEntropy{}, opt.NewAdam(0.003))

	path := filepath.Join(t.TempDir(), "model.gob")
	if err := original.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := loaded.Loss().(loss.CrossEntropy); !ok {
		t.Errorf("loss = %T", loaded.Loss())
	}
	if lr := opt.LearningRate(loaded.Optimizer()); lr != 0.003 {
		t.Errorf("learning rate = %v", lr)
	}

	original.SetTraining(false)
	loaded.SetTraining(false)
	x := make([]float64, 36)
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	a := original.Forward(x)
	b := loaded.Forward(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("output %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestSaveLoadRNN(t *testing.T) {
	r := layer.NewSimpleRNN(2, 5, 4, false)
	r.ClipNorm = 1
	original := New([]layer.Layer{r, layer.NewDense(5, 1, nil)}, loss.MSE{}, opt.NewMomentum(0.01, 0.9))

	var buf bytes.Buffer
	if err := original.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}

	lr, ok := loaded.Layers()[0].(*layer.SimpleRNN)
	if !ok || lr.ClipNorm != 1 || lr.Steps() != 4 || lr.Hidden() != 5 {
		t.Fatalf("rnn layer not restored: %+v", loaded.Layers()[0])
	}
	if _, ok := loaded.Optimizer().(*opt.Momentum); !ok {
		t.Errorf("optimizer = %T", loaded.Optimizer())
	}

	x := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	if a, b := original.Forward(x)[0], loaded.Forward(x)[0]; a != b {
		t.Errorf("output %v != %v", a, b)
	}
}

func TestStepClipsRNNBatchGradient(t *testing.T) {
	r := layer.NewSimpleRNN(2, 3, 4, false)
	r.ClipNorm = 0.05
	network := New([]layer.Layer{r}, loss.MSE{}, &opt.SGD{LearningRate: 1})

	before := r.Params()
	batchX := [][]float64{{1, -1, 1, -1, 1, -1, 1, -1}, {0.5, 0.5, -0.5, -0.5, 1, 1, -1, -1}}
	batchY := [][]float64{{50, -50, 50}, {-50, 50, -50}}
	network.TrainBatch(batchX, batchY)

	var sq float64
	for i, p := range r.Params() {
		d := p - before[i]
		sq += d * d
	}
	if step := math.Sqrt(sq); step > 0.05+1e-12 || step < 0.05-1e-9 {
		t.Errorf("update norm = %v, want the clip bound 0.05", step)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not a model"))); err == nil {
		t.Error("expected an error")
	}

	for _, count := range []int{-1, 1 << 40} {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(header{NumLayers: count, Loss: "MSE", Optimizer: "sgd"}); err != nil {
			t.Fatal(err)
		}
		if _, err := Decode(&buf); err == nil {
			t.Errorf("layer count %d accepted", count)
		}
	}
}

func TestSaveLoadKeepsOptimizerHyperparameters(t *testing.T) {
	adam := opt.NewAdam(0.002)
	adam.Beta2 = 0.99
	optimizers := []opt.Optimizer{opt.NewMomentum(0.01, 0.5), adam}
	for _, o := range optimizers {
		original := New([]layer.Layer{layer.NewDense(2, 1, nil)}, loss.MSE{}, o)
		var buf bytes.Buffer
		if err := original.Encode(&buf); err != nil {
			t.Fatal(err)
		}
		loaded, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		want, got := o.State(), loaded.Optimizer().State()
		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s: %s = %v, want %v", opt.Name(o), k, got[k], v)
			}
		}
	}
}
