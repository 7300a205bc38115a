// Command probe loads a trained checkpoint and looks at what it learned:
// PCA and t-SNE maps of a hidden layer, first-layer receptive fields and
// per-unit activation statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/probe"
	"github.com/FlavioCFOliveira/nnlab/internal/runner"
	"github.com/FlavioCFOliveira/nnlab/internal/viz"
)

func main() {
	runner.Main(run)
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	modelPath := fs.String("model", "", "checkpoint to probe (default <out>/mlp/<checkpoint>)")
	layerIndex := fs.Int("layer", -1000, "layer whose output is projected (overrides config; negative counts from the end)")
	r, err := runner.Start("probe", fs, args, out)
	if err != nil {
		return err
	}
	cfg := r.Config
	if *layerIndex != -1000 {
		cfg.Probe.Layer = *layerIndex
	}
	if *modelPath == "" {
		*modelPath = filepath.Join(cfg.Output.Dir, "mlp", cfg.Output.Checkpoint)
	}

	network, err := net.Load(*modelPath)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	r.Printf("Model: %s (%d layers, %d parameters)\n", *modelPath, len(network.Layers()), len(network.Params()))
	if meta, err := runner.ReadMeta(filepath.Dir(*modelPath)); err == nil {
		r.Printf("Trained by %s run %s\n", meta.Command, meta.ID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	_, test, err := r.Data(context.Background())
	if err != nil {
		return err
	}
	if test.Features() != network.InSize() {
		return fmt.Errorf("model expects %d inputs, data has %d", network.InSize(), test.Features())
	}
	set := test.Subset(cfg.Probe.Samples)
	if set.Len() < 3 {
		return fmt.Errorf("need at least 3 samples to probe, have %d", set.Len())
	}

	reps, err := probe.HiddenRepresentations(network, set.Samples, cfg.Probe.Layer)
	if err != nil {
		return err
	}
	_, width := reps.Dims()
	r.Printf("Layer %d: %d samples x %d units\n\n", cfg.Probe.Layer, set.Len(), width)

	acts := make([][]float64, set.Len())
	for i := range acts {
		acts[i] = reps.RawRowView(i)
	}
	stats := probe.ActivationStats(acts)
	r.Printf("Activation statistics:\n")
	if err := stats.WriteTable(r.Out, 10); err != nil {
		return err
	}
	r.Printf("\n")

	if width >= 2 {
		pca, err := probe.PCA(reps, 2)
		if err != nil {
			return err
		}
		r.Printf("PCA: first two components explain %.1f%% + %.1f%% of the variance\n",
			pca.ExplainedRatio[0]*100, pca.ExplainedRatio[1]*100)
		if err := plot(cfg.Output.Plots, func() error {
			return viz.Scatter(pca.Projection, set.Labels, "PCA of hidden layer", r.Path("pca.png"))
		}); err != nil {
			return err
		}

		perplexity := min(cfg.Probe.Perplexity, float64(set.Len()-1)/3)
		start := time.Now()
		emb, err := probe.TSNE(reps, probe.TSNEOptions{
			Perplexity: perplexity,
			Iterations: cfg.Probe.Iterations,
			PCADims:    cfg.Probe.PCADims,
			Seed:       cfg.Data.Seed,
		})
		if err != nil {
			return err
		}
		r.Printf("t-SNE: perplexity %.1f, %d iterations, KL %.4f (%s)\n",
			perplexity, cfg.Probe.Iterations, emb.KL, time.Since(start).Round(time.Millisecond))
		if err := plot(cfg.Output.Plots, func() error {
			return viz.Scatter(emb.Embedding, set.Labels, "t-SNE of hidden layer", r.Path("tsne.png"))
		}); err != nil {
			return err
		}
	}

	return receptiveFields(r, network, set.Rows, set.Cols)
}

// receptiveFields draws the first layer's weights: one image per unit for a
// dense layer on raw pixels, one kernel per filter for a convolution.
func receptiveFields(r *runner.Run, network *net.Network, h, w int) error {
	limit := r.Config.Probe.Fields
	if d := probe.FirstDense(network); d != nil && d == network.Layers()[0] {
		fields, err := probe.ReceptiveFields(d, h, w)
		if err != nil {
			return err
		}
		if limit > 0 && len(fields) > limit {
			fields = fields[:limit]
		}
		r.Printf("Receptive fields: %d units\n", len(fields))
		return plot(r.Config.Output.Plots, func() error {
			return viz.Mosaic(fields, h, w, 0, "Receptive fields", r.Path("fields.png"))
		})
	}
	if c := probe.FirstConv(network); c != nil {
		filters, err := probe.ConvFilters(c, 0)
		if err != nil {
			return err
		}
		k := c.KernelSize()
		r.Printf("Convolution filters: %d of %dx%d\n", len(filters), k, k)
		return plot(r.Config.Output.Plots, func() error {
			return viz.Mosaic(filters, k, k, 0, "First-layer filters", r.Path("fields.png"))
		})
	}
	r.Printf("Receptive fields: first layer has no pixel weights\n")
	return nil
}

func plot(enabled bool, draw func() error) error {
	if !enabled {
		return nil
	}
	if err := draw(); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	return nil
}
