// Command cnn trains a small convolutional classifier:
// Conv2D → MaxPool → Conv2D → MaxPool → Flatten → Dense → Dense.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/config"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/probe"
	"github.com/FlavioCFOliveira/nnlab/internal/runner"
	"github.com/FlavioCFOliveira/nnlab/internal/viz"
)

func main() {
	runner.Main(run)
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cnn", flag.ContinueOnError)
	r, err := runner.Start("cnn", fs, args, out)
	if err != nil {
		return err
	}

	train, test, err := r.Data(context.Background())
	if err != nil {
		return err
	}

	layer.SetSeed(r.Config.Data.Seed)
	layers, err := buildCNN(layer.Shape3{Channels: 1, Height: train.Rows, Width: train.Cols}, train.Classes, r.Config)
	if err != nil {
		return err
	}
	model := net.NewSequential(layers...)
	o, err := r.Optimizer()
	if err != nil {
		return err
	}
	model.Compile(o, loss.CrossEntropy{})

	if _, err := r.Fit(model, train, test); err != nil {
		return err
	}

	if r.Config.Output.Plots {
		filters, err := probe.ConvFilters(probe.FirstConv(model.Network), 0)
		if err != nil {
			return err
		}
		k := r.Config.Model.Kernel
		if err := viz.Mosaic(filters, k, k, 0, "First-layer filters", r.Path("filters.png")); err != nil {
			return fmt.Errorf("plot filters: %w", err)
		}
	}
	return nil
}

// buildCNN stacks one conv/pool block per configured filter count, then a
// ReLU dense layer (with dropout) and a softmax output.
func buildCNN(in layer.Shape3, classes int, cfg *config.Config) ([]layer.Layer, error) {
	var layers []layer.Layer
	shape := in
	k := cfg.Model.Kernel
	for _, filters := range cfg.Model.Filters {
		if shape.Height < k || shape.Width < k {
			return nil, fmt.Errorf("kernel %d does not fit a %dx%d feature map", k, shape.Height, shape.Width)
		}
		conv := layer.NewConv2D(shape.Channels, shape.Height, shape.Width, filters, k, 1, 0, activations.ReLU{})
		shape = conv.OutShape()
		pool := layer.NewMaxPool2D(shape.Channels, shape.Height, shape.Width, 2, 2, 0)
		shape = pool.OutShape()
		layers = append(layers, conv, pool)
	}
	layers = append(layers, layer.NewFlatten(shape))

	hidden := cfg.Model.Hidden[0]
	layers = append(layers, layer.NewDense(shape.Size(), hidden, activations.ReLU{}))
	if p := cfg.Train.Dropout; p > 0 {
		layers = append(layers, layer.NewDropout(p, hidden))
	}
	return append(layers, layer.NewDense(hidden, classes, activations.Softmax{})), nil
}
