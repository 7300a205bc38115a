// Package dataset loads labelled image data (MNIST in IDX or CSV form, or a
// synthetic stand-in) into per-sample float64 slices ready for the layers.
package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// Dataset represents a collection of samples and integer class labels.
// Samples of image data are row-major Rows×Cols pixels.
type Dataset struct {
	Samples [][]float64
	Labels  []int
	Classes int
	Rows    int
	Cols    int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// Features returns the width of one sample.
func (d *Dataset) Features() int {
	if len(d.Samples) == 0 {
		return d.Rows * d.Cols
	}
	return len(d.Samples[0])
}

// OneHot encodes the labels as rows of length Classes.
func (d *Dataset) OneHot() [][]float64 {
	out := make([][]float64, len(d.Labels))
	for i, l := range d.Labels {
		out[i] = OneHot(l, d.Classes)
	}
	return out
}

// OneHot returns a vector of length classes with a 1 at label.
func OneHot(label, classes int) []float64 {
	if label < 0 || label >= classes {
		panic(fmt.Sprintf("dataset: label %d outside [0, %d)", label, classes))
	}
	v := make([]float64, classes)
	v[label] = 1
	return v
}

func (d *Dataset) derive(samples [][]float64, labels []int) *Dataset {
	return &Dataset{Samples: samples, Labels: labels, Classes: d.Classes, Rows: d.Rows, Cols: d.Cols}
}

// Subset returns the first n samples, or the whole set when n <= 0 or n is
// larger than the set. The result shares sample storage with d.
func (d *Dataset) Subset(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return d.derive(d.Samples[:n], d.Labels[:n])
}

// Split splits the dataset into two based on the given ratio (0.0 to 1.0).
func (d *Dataset) Split(ratio float64) (*Dataset, *Dataset) {
	if ratio <= 0 {
		return d.derive(nil, nil), d
	}
	if ratio >= 1 {
		return d, d.derive(nil, nil)
	}
	splitIdx := int(float64(d.Len()) * ratio)
	return d.derive(d.Samples[:splitIdx], d.Labels[:splitIdx]),
		d.derive(d.Samples[splitIdx:], d.Labels[splitIdx:])
}

// Shuffle permutes samples and labels together, deterministically for a seed.
func (d *Dataset) Shuffle(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(d.Len(), func(i, j int) {
		d.Samples[i], d.Samples[j] = d.Samples[j], d.Samples[i]
		d.Labels[i], d.Labels[j] = d.Labels[j], d.Labels[i]
	})
}

// Batch is a slice of inputs with their one-hot targets.
type Batch struct {
	X [][]float64
	Y [][]float64
}

// Batches cuts the set into consecutive batches of size samples; the last one
// may be shorter.
func (d *Dataset) Batches(size int) []Batch {
	if size <= 0 {
		size = d.Len()
	}
	targets := d.OneHot()
	var out []Batch
	for start := 0; start < d.Len(); start += size {
		end := min(start+size, d.Len())
		out = append(out, Batch{X: d.Samples[start:end], Y: targets[start:end]})
	}
	return out
}

// Image returns sample i as Rows slices of Cols pixels. The slices alias the
// sample, so an image can be fed to a recurrent layer one row per time step.
func (d *Dataset) Image(i int) [][]float64 {
	if d.Rows == 0 || d.Cols == 0 {
		panic("dataset: Image on a set without image dimensions")
	}
	s := d.Samples[i]
	rows := make([][]float64, d.Rows)
	for r := range rows {
		rows[r] = s[r*d.Cols : (r+1)*d.Cols]
	}
	return rows
}

// Normalize performs min-max normalization per feature. Constant features
// become 0.
func (d *Dataset) Normalize() {
	if d.Len() == 0 {
		return
	}
	numFeatures := len(d.Samples[0])
	lo := append([]float64(nil), d.Samples[0]...)
	hi := append([]float64(nil), d.Samples[0]...)
	for _, sample := range d.Samples {
		for i, v := range sample {
			lo[i] = min(lo[i], v)
			hi[i] = max(hi[i], v)
		}
	}
	for _, sample := range d.Samples {
		for i := 0; i < numFeatures; i++ {
			if diff := hi[i] - lo[i]; diff != 0 {
				sample[i] = (sample[i] - lo[i]) / diff
			} else {
				sample[i] = 0
			}
		}
	}
}

// Standardize shifts and scales every value so the whole set has zero mean
// and unit variance, returning the statistics used. Apply the same values to
// a test set with StandardizeWith.
func (d *Dataset) Standardize() (mean, std float64) {
	all := make([]float64, 0, d.Len()*d.Features())
	for _, s := range d.Samples {
		all = append(all, s...)
	}
	mean, std = stat.MeanStdDev(all, nil)
	d.StandardizeWith(mean, std)
	return mean, std
}

// StandardizeWith applies (x - mean) / std to every value.
func (d *Dataset) StandardizeWith(mean, std float64) {
	if std == 0 {
		std = 1
	}
	for _, s := range d.Samples {
		for i := range s {
			s[i] = (s[i] - mean) / std
		}
	}
}

// ClassCounts returns how many samples carry each label.
func (d *Dataset) ClassCounts() []int {
	counts := make([]int, d.Classes)
	for _, l := range d.Labels {
		counts[l]++
	}
	return counts
}
