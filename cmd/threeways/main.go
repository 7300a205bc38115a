// Command threeways builds the same two-layer perceptron three ways (plain
// matrix math, a computational graph and a layer stack) from identical
// weights, checks that they agree on outputs, loss and gradients, and then
// trains all three in lockstep.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/nnlab/internal/dataset"
	"github.com/FlavioCFOliveira/nnlab/internal/lesson"
	"github.com/FlavioCFOliveira/nnlab/internal/runner"
	"github.com/FlavioCFOliveira/nnlab/internal/viz"
)

var names = [3]string{"manual", "graph", "layers"}

func main() {
	runner.Main(run)
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("threeways", flag.ContinueOnError)
	samples := fs.Int("samples", 1000, "training samples for the lockstep run")
	compareBatch := fs.Int("compare", 64, "batch size for the agreement check")
	r, err := runner.Start("threeways", fs, args, out)
	if err != nil {
		return err
	}
	cfg := r.Config

	train, _, err := r.Data(context.Background())
	if err != nil {
		return err
	}
	train = train.Subset(*samples)
	x, y := matrices(train)

	hidden := cfg.Model.Hidden[0]
	w := lesson.NewMLPWeights(train.Features(), hidden, train.Classes, cfg.Data.Seed)
	r.Printf("MLP %d-%d-%d, %d samples\n\n", train.Features(), hidden, train.Classes, train.Len())

	n := min(*compareBatch, train.Len())
	bx := x.Slice(0, n, 0, train.Features()).(*mat.Dense)
	by := y.Slice(0, n, 0, train.Classes).(*mat.Dense)
	cmp, err := lesson.Compare(w, bx, by)
	if err != nil {
		return err
	}
	r.Printf("Agreement on %d samples:\n  %s\n", n, cmp)
	if !cmp.Within(lesson.Tolerance) {
		return fmt.Errorf("implementations disagree by more than %g", lesson.Tolerance)
	}
	r.Printf("  all three agree within %g\n\n", lesson.Tolerance)

	r.Printf("Training in lockstep with SGD lr=%g for %d epochs (batch %d)\n",
		cfg.Train.LearningRate, cfg.Train.Epochs, cfg.Train.BatchSize)
	ls, err := lesson.TrainLockstep(w, x, y, cfg.Train.Epochs, cfg.Train.BatchSize, cfg.Train.LearningRate, cfg.Data.Seed)
	if err != nil {
		return err
	}
	for e := range ls.Losses[0] {
		r.Printf("  Epoch %d:", e+1)
		for i, name := range names {
			r.Printf("  %s=%.6f", name, ls.Losses[i][e])
		}
		r.Printf("\n")
	}
	for i, name := range names {
		r.Printf("  %-6s accuracy %.2f%%\n", name, ls.Accuracy[i]*100)
	}
	r.Printf("  max parameter difference after training: %.3g\n", ls.ParamDiff)

	if cfg.Output.Plots {
		series := map[string][]float64{}
		for i, name := range names {
			series[name] = ls.Losses[i]
		}
		if err := viz.Curves("Lockstep training loss", "epoch", "loss", r.Path("lockstep.png"), series); err != nil {
			return fmt.Errorf("plot lockstep losses: %w", err)
		}
	}
	return nil
}

func matrices(d *dataset.Dataset) (x, y *mat.Dense) {
	x = mat.NewDense(d.Len(), d.Features(), nil)
	y = mat.NewDense(d.Len(), d.Classes, nil)
	for i, s := range d.Samples {
		x.SetRow(i, s)
		y.Set(i, d.Labels[i], 1)
	}
	return x, y
}
