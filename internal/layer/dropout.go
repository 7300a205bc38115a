package layer

import "math/rand"

// Dropout implements inverted dropout regularization.
// During training each input is zeroed with probability p and survivors are
// scaled by 1/(1-p); during inference inputs pass through unchanged.
type Dropout struct {
	p        float64
	training bool
	size     int

	outputBuf []float64
	maskBuf   []float64
	gradInBuf []float64

	rng *rand.Rand
}

// NewDropout creates a dropout layer over size inputs.
func NewDropout(p float64, size int) *Dropout {
	return NewDropoutWithRNG(p, size, nextRNG())
}

// NewDropoutWithRNG creates a dropout layer sampling masks from rng.
func NewDropoutWithRNG(p float64, size int, rng *rand.Rand) *Dropout {
	if p < 0 || p >= 1 {
		panicf("Dropout: probability %v must be in [0, 1)", p)
	}
	return &Dropout{
		p:         p,
		training:  true,
		size:      size,
		outputBuf: make([]float64, size),
		maskBuf:   make([]float64, size),
		gradInBuf: make([]float64, size),
		rng:       rng,
	}
}

// SetTraining sets whether the layer is in training mode.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// IsTraining reports the current mode.
func (d *Dropout) IsTraining() bool {
	return d.training
}

func (d *Dropout) Forward(x []float64) []float64 {
	if len(x) != d.size {
		panicShape("Dropout", d.size, len(x))
	}
	if !d.training || d.p == 0 {
		for i := range d.maskBuf {
			d.maskBuf[i] = 1
		}
		copy(d.outputBuf, x)
		return d.outputBuf
	}

	scale := 1 / (1 - d.p)
	for i, v := range x {
		if d.rng.Float64() < d.p {
			d.maskBuf[i] = 0
		} else {
			d.maskBuf[i] = scale
		}
		d.outputBuf[i] = v * d.maskBuf[i]
	}
	return d.outputBuf
}

// Backward applies the mask from the last Forward.
func (d *Dropout) Backward(grad []float64) []float64 {
	for i, g := range grad {
		d.gradInBuf[i] = g * d.maskBuf[i]
	}
	return d.gradInBuf
}

func (d *Dropout) Params() []float64 { return nil }
func (d *Dropout) SetParams([]float64) {}
func (d *Dropout) Gradients() []float64 { return nil }
func (d *Dropout) ClearGradients() {}
func (d *Dropout) InSize() int { return d.size }
func (d *Dropout) OutSize() int { return d.size }

// P returns the drop probability.
func (d *Dropout) P() float64 { return d.p }

func (d *Dropout) Clone() Layer {
	c := NewDropoutWithRNG(d.p, d.size, rand.New(rand.NewSource(d.rng.Int63())))
	c.training = d.training
	return c
}
