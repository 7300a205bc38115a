package probe

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/FlavioCFOliveira/nnlab/internal/net"
)

// UnitStats summarises one unit's activations over a set of samples.
type UnitStats struct {
	Mean       float64
	Std        float64
	FracActive float64 // share of samples with activation > 0
}

// LayerStats summarises a layer's activations.
type LayerStats struct {
	Units []UnitStats
	// Dead counts units that never fire on any sample.
	Dead int
	// Sparsity is the share of all activations that are <= 0.
	Sparsity float64
}

// ActivationStats computes per-unit statistics from acts, one row per sample
// and one column per unit.
func ActivationStats(acts [][]float64) LayerStats {
	if len(acts) == 0 {
		return LayerStats{}
	}
	units := len(acts[0])
	s := LayerStats{Units: make([]UnitStats, units)}
	col := make([]float64, len(acts))
	var zeros int
	for j := 0; j < units; j++ {
		active := 0
		for i, row := range acts {
			col[i] = row[j]
			if row[j] > 0 {
				active++
			}
		}
		zeros += len(acts) - active
		mean, std := stat.MeanStdDev(col, nil)
		if len(acts) == 1 {
			std = 0
		}
		s.Units[j] = UnitStats{
			Mean:       mean,
			Std:        std,
			FracActive: float64(active) / float64(len(acts)),
		}
		if active == 0 {
			s.Dead++
		}
	}
	s.Sparsity = float64(zeros) / float64(units*len(acts))
	return s
}

// WriteTable prints a summary followed by the top most active units.
func (s LayerStats) WriteTable(w io.Writer, top int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "units: %d\tdead: %d\tsparsity: %.3f\n", len(s.Units), s.Dead, s.Sparsity)

	order := make([]int, len(s.Units))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Units[order[a]].Mean > s.Units[order[b]].Mean
	})
	if top > len(order) {
		top = len(order)
	}
	if top > 0 {
		fmt.Fprintln(tw, "unit\tmean\tstd\tactive")
		for _, i := range order[:top] {
			u := s.Units[i]
			fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.2f\n", i, u.Mean, u.Std, u.FracActive)
		}
	}
	return tw.Flush()
}

// HiddenRepresentations runs every row of x through n in inference mode and
// returns the output of layer layerIndex, one row per sample. A negative
// index counts from the end.
func HiddenRepresentations(n *net.Network, x [][]float64, layerIndex int) (*mat.Dense, error) {
	acts, err := LayerActivations(n, x, layerIndex)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, fmt.Errorf("hidden representations: no samples")
	}
	width := len(acts[0])
	out := mat.NewDense(len(acts), width, nil)
	for i, row := range acts {
		out.SetRow(i, row)
	}
	return out, nil
}

// LayerActivations is HiddenRepresentations as plain rows.
func LayerActivations(n *net.Network, x [][]float64, layerIndex int) ([][]float64, error) {
	layers := len(n.Layers())
	if layerIndex < 0 {
		layerIndex += layers
	}
	if layerIndex < 0 || layerIndex >= layers {
		return nil, fmt.Errorf("layer index %d out of range for %d layers", layerIndex, layers)
	}
	n.SetTraining(false)
	out := make([][]float64, len(x))
	for i, sample := range x {
		out[i] = n.Activations(sample)[layerIndex]
	}
	return out, nil
}
