// Command mlp trains a multilayer perceptron on MNIST (or generated digits)
// with dropout, a CSV log, a best-loss checkpoint and a loss curve.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/runner"
)

func main() {
	runner.Main(run)
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mlp", flag.ContinueOnError)
	dropout := fs.Float64("dropout", -1, "dropout after each hidden layer (overrides config)")
	r, err := runner.Start("mlp", fs, args, out)
	if err != nil {
		return err
	}
	if *dropout >= 0 {
		if *dropout >= 1 {
			return fmt.Errorf("dropout must be in [0, 1), got %g", *dropout)
		}
		r.Config.Train.Dropout = *dropout
	}

	train, test, err := r.Data(context.Background())
	if err != nil {
		return err
	}

	layer.SetSeed(r.Config.Data.Seed)
	model := net.NewSequential(buildMLP(train.Features(), train.Classes, r.Config.Model.Hidden, r.Config.Train.Dropout)...)
	o, err := r.Optimizer()
	if err != nil {
		return err
	}
	model.Compile(o, loss.CrossEntropy{})

	if _, err := r.Fit(model, train, test); err != nil {
		return err
	}

	r.Printf("\nSample predictions:\n")
	for i := 0; i < min(10, test.Len()); i++ {
		pred := model.PredictClass(test.Samples[i])
		mark := "✓"
		if pred != test.Labels[i] {
			mark = "✗"
		}
		r.Printf("  %s true=%d predicted=%d\n", mark, test.Labels[i], pred)
	}
	return nil
}

// buildMLP stacks ReLU hidden layers, each optionally followed by dropout,
// under a softmax output.
func buildMLP(in, classes int, hidden []int, dropout float64) []layer.Layer {
	var layers []layer.Layer
	prev := in
	for _, h := range hidden {
		layers = append(layers, layer.NewDense(prev, h, activations.ReLU{}))
		if dropout > 0 {
			layers = append(layers, layer.NewDropout(dropout, h))
		}
		prev = h
	}
	return append(layers, layer.NewDense(prev, classes, activations.Softmax{}))
}
