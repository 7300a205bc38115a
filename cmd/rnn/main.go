// Command rnn reads each image as a sequence of rows: a SimpleRNN consumes
// one row per time step and a softmax layer classifies its last state.
package main

import (
	"context"
	"flag"
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
	fs := flag.NewFlagSet("rnn", flag.ContinueOnError)
	r, err := runner.Start("rnn", fs, args, out)
	if err != nil {
		return err
	}

	train, test, err := r.Data(context.Background())
	if err != nil {
		return err
	}

	layer.SetSeed(r.Config.Data.Seed)
	hidden := r.Config.Model.RNNHidden
	// Rows are time steps, columns are features.
	rnn := layer.NewSimpleRNN(train.Cols, hidden, train.Rows, false)
	rnn.ClipNorm = r.Config.Model.RNNClip
	model := net.NewSequential(
		rnn,
		layer.NewDense(hidden, train.Classes, activations.Softmax{}),
	)
	o, err := r.Optimizer()
	if err != nil {
		return err
	}
	model.Compile(o, loss.CrossEntropy{})

	_, err = r.Fit(model, train, test)
	return err
}
