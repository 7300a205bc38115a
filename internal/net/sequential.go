package net

import (
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Sequential is a high-level wrapper around Network to provide a Keras-like API.
type Sequential struct {
	*Network

	valX, valY [][]float64
	rng        *rand.Rand
}

// NewSequential creates a new Sequential model.
func NewSequential(layers ...layer.Layer) *Sequential {
	return &Sequential{
		Network: &Network{layers: layers},
		rng:     rand.New(rand.NewSource(1)),
	}
}

// Compile configures the model for training.
func (s *Sequential) Compile(optimizer opt.Optimizer, lossFn loss.Loss) {
	s.opt = optimizer
	s.loss = lossFn
}

// SetValidation registers a held-out set evaluated after every epoch.
func (s *Sequential) SetValidation(x, y [][]float64) {
	s.valX, s.valY = x, y
}

// SetShuffleSeed fixes the order in which Fit visits samples.
func (s *Sequential) SetShuffleSeed(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// EpochMetrics summarises one training epoch.
type EpochMetrics struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	HasVal      bool
}

// Monitored returns the validation loss when available, else training loss.
func (m EpochMetrics) Monitored() float64 {
	if m.HasVal {
		return m.ValLoss
	}
	return m.Loss
}

// History records the metrics of every completed epoch.
type History struct {
	Epochs []EpochMetrics
}

// Last returns the metrics of the final epoch.
func (h History) Last() EpochMetrics {
	if len(h.Epochs) == 0 {
		return EpochMetrics{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

// Fit trains for the given number of epochs with shuffled mini-batches.
// Training stops early when a callback implementing Stopper asks for it.
func (s *Sequential) Fit(x, y [][]float64, epochs, batchSize int, callbacks ...Callback) History {
	if len(x) != len(y) {
		panic(fmt.Sprintf("net: Fit got %d inputs but %d targets", len(x), len(y)))
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	var history History
	for _, c := range callbacks {
		c.OnTrainBegin(s.Network)
	}

	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	batchX := make([][]float64, 0, batchSize)
	batchY := make([][]float64, 0, batchSize)

	for epoch := 1; epoch <= epochs; epoch++ {
		for _, c := range callbacks {
			c.OnEpochBegin(epoch, s.Network)
		}
		s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		s.SetTraining(true)

		var total float64
		batch := 0
		for start := 0; start < len(order); start += batchSize {
			end := min(start+batchSize, len(order))
			batchX, batchY = batchX[:0], batchY[:0]
			for _, idx := range order[start:end] {
				batchX = append(batchX, x[idx])
				batchY = append(batchY, y[idx])
			}
			for _, c := range callbacks {
				c.OnBatchBegin(batch, s.Network)
			}
			l := s.TrainBatch(batchX, batchY)
			total += l * float64(end-start)
			for _, c := range callbacks {
				c.OnBatchEnd(batch, l, s.Network)
			}
			batch++
		}

		m := EpochMetrics{Epoch: epoch, Loss: total / float64(max(len(x), 1))}
		_, m.Accuracy = s.Evaluate(x, y)
		if len(s.valX) > 0 {
			m.ValLoss, m.ValAccuracy = s.Evaluate(s.valX, s.valY)
			m.HasVal = true
		}
		history.Epochs = append(history.Epochs, m)

		stop := false
		for _, c := range callbacks {
			c.OnEpochEnd(epoch, m, s.Network)
			if st, ok := c.(Stopper); ok && st.ShouldStop() {
				stop = true
			}
		}
		if stop {
			break
		}
	}

	for _, c := range callbacks {
		c.OnTrainEnd(s.Network)
	}
	s.SetTraining(false)
	return history
}

// Predict performs a forward pass in inference mode and returns a copy of
// the output.
func (s *Sequential) Predict(x []float64) []float64 {
	s.SetTraining(false)
	return append([]float64(nil), s.Forward(x)...)
}

// PredictBatch performs Predict on every sample.
func (s *Sequential) PredictBatch(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i := range x {
		out[i] = s.Predict(x[i])
	}
	return out
}

// PredictClass returns the argmax of Predict.
func (s *Sequential) PredictClass(x []float64) int {
	return Argmax(s.Predict(x))
}

// Summary writes a table of the layers and their parameter counts.
func (s *Sequential) Summary(w io.Writer) {
	rule := strings.Repeat("_", 65)
	fmt.Fprintln(w, "Model: Sequential")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))

	totalParams := 0
	for i, l := range s.layers {
		lType := fmt.Sprintf("%T", l)
		if dot := strings.LastIndexByte(lType, '.'); dot >= 0 {
			lType = lType[dot+1:]
		}
		params := len(l.Params())
		totalParams += params
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", fmt.Sprintf("%s_%d", lType, i), outputShape(l), params)
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "Total params: %d\n", totalParams)
	fmt.Fprintln(w, rule)
}

func outputShape(l layer.Layer) string {
	if sh, ok := l.(interface{ OutShape() layer.Shape3 }); ok {
		o := sh.OutShape()
		return fmt.Sprintf("(%d, %d, %d)", o.Channels, o.Height, o.Width)
	}
	if r, ok := l.(*layer.SimpleRNN); ok && r.ReturnSequences() {
		return fmt.Sprintf("(%d, %d)", r.Steps(), r.Hidden())
	}
	return fmt.Sprintf("(%d)", l.OutSize())
}

// LoadSequential restores a model written by Save.
func LoadSequential(filename string) (*Sequential, error) {
	n, err := Load(filename)
	if err != nil {
		return nil, err
	}
	return &Sequential{Network: n, rng: rand.New(rand.NewSource(1))}, nil
}
