package layer

import (
	"math"
	"math/rand"
)

// SimpleRNN is an Elman recurrent layer unrolled over a fixed number of steps:
//
//	h_t = tanh(Wx x_t + Wh h_{t-1} + b),  h_0 = 0
//
// The input is the whole sequence flattened as [steps, inSize]. Forward returns
// the last hidden state, or every state ([steps, hidden]) when returnSequences
// is set. Backward runs full backpropagation through time.
type SimpleRNN struct {
	inSize          int
	hidden          int
	steps           int
	returnSequences bool

	// ClipNorm bounds the L2 norm of the batch gradient handed to the
	// optimizer (see ClipGradients); 0 disables it.
	ClipNorm float64

	wx []float64 // [hidden, inSize]
	wh []float64 // [hidden, hidden]
	b  []float64

	gradWx []float64
	gradWh []float64
	gradB  []float64

	inputBuf  []float64
	states    []float64 // [steps+1, hidden], row 0 is h_0
	outputBuf []float64
	gradInBuf []float64
	dhBuf     []float64
	dzBuf     []float64
}

// NewSimpleRNN creates a recurrent layer reading steps vectors of inSize.
func NewSimpleRNN(inSize, hidden, steps int, returnSequences bool) *SimpleRNN {
	return NewSimpleRNNWithRNG(inSize, hidden, steps, returnSequences, nextRNG())
}

// NewSimpleRNNWithRNG is NewSimpleRNN with an explicit initialisation source.
func NewSimpleRNNWithRNG(inSize, hidden, steps int, returnSequences bool, rng *rand.Rand) *SimpleRNN {
	if steps <= 0 {
		panicf("SimpleRNN: steps must be positive, got %d", steps)
	}
	r := &SimpleRNN{
		inSize:          inSize,
		hidden:          hidden,
		steps:           steps,
		returnSequences: returnSequences,
		wx:              make([]float64, hidden*inSize),
		wh:              make([]float64, hidden*hidden),
		b:               make([]float64, hidden),
		gradWx:          make([]float64, hidden*inSize),
		gradWh:          make([]float64, hidden*hidden),
		gradB:           make([]float64, hidden),
		inputBuf:        make([]float64, steps*inSize),
		states:          make([]float64, (steps+1)*hidden),
		gradInBuf:       make([]float64, steps*inSize),
		dhBuf:           make([]float64, hidden),
		dzBuf:           make([]float64, hidden),
	}
	if returnSequences {
		r.outputBuf = make([]float64, steps*hidden)
	} else {
		r.outputBuf = make([]float64, hidden)
	}

	limit := math.Sqrt(6.0 / float64(inSize+hidden))
	for i := range r.wx {
		r.wx[i] = rng.Float64()*2*limit - limit
	}
	// Small recurrent weights keep early training away from saturation.
	recLimit := 1 / math.Sqrt(float64(hidden))
	for i := range r.wh {
		r.wh[i] = (rng.Float64()*2 - 1) * recLimit * 0.5
	}
	return r
}

func (r *SimpleRNN) state(t int) []float64 {
	return r.states[t*r.hidden : (t+1)*r.hidden]
}

func (r *SimpleRNN) Forward(x []float64) []float64 {
	if len(x) != r.steps*r.inSize {
		panicShape("SimpleRNN", r.steps*r.inSize, len(x))
	}
	copy(r.inputBuf, x)
	clear(r.state(0))

	for t := 1; t <= r.steps; t++ {
		xt := x[(t-1)*r.inSize : t*r.inSize]
		prev := r.state(t - 1)
		cur := r.state(t)
		for j := 0; j < r.hidden; j++ {
			z := r.b[j]
			row := r.wx[j*r.inSize : (j+1)*r.inSize]
			for i, w := range row {
				z += w * xt[i]
			}
			rec := r.wh[j*r.hidden : (j+1)*r.hidden]
			for k, w := range rec {
				z += w * prev[k]
			}
			cur[j] = math.Tanh(z)
		}
	}

	if r.returnSequences {
		copy(r.outputBuf, r.states[r.hidden:])
	} else {
		copy(r.outputBuf, r.state(r.steps))
	}
	return r.outputBuf
}

func (r *SimpleRNN) Backward(grad []float64) []float64 {
	if len(grad) != len(r.outputBuf) {
		panicShape("SimpleRNN.Backward", len(r.outputBuf), len(grad))
	}
	dh := r.dhBuf
	dz := r.dzBuf
	clear(dh)
	clear(r.gradInBuf)
	if !r.returnSequences {
		copy(dh, grad)
	}

	for t := r.steps; t >= 1; t-- {
		if r.returnSequences {
			g := grad[(t-1)*r.hidden : t*r.hidden]
			for j := range dh {
				dh[j] += g[j]
			}
		}
		cur := r.state(t)
		prev := r.state(t - 1)
		xt := r.inputBuf[(t-1)*r.inSize : t*r.inSize]
		dxt := r.gradInBuf[(t-1)*r.inSize : t*r.inSize]

		for j := range dz {
			dz[j] = dh[j] * (1 - cur[j]*cur[j])
		}
		clear(dh)
		for j, g := range dz {
			if g == 0 {
				continue
			}
			r.gradB[j] += g
			xBase := j * r.inSize
			for i := 0; i < r.inSize; i++ {
				r.gradWx[xBase+i] += g * xt[i]
				dxt[i] += g * r.wx[xBase+i]
			}
			hBase := j * r.hidden
			for k := 0; k < r.hidden; k++ {
				r.gradWh[hBase+k] += g * prev[k]
				dh[k] += g * r.wh[hBase+k]
			}
		}
	}
	return r.gradInBuf
}

// ClipGradients rescales grads, a batch gradient in Gradients() order, so its
// L2 norm is at most ClipNorm.
func (r *SimpleRNN) ClipGradients(grads []float64) {
	if r.ClipNorm <= 0 {
		return
	}
	var sq float64
	for _, g := range grads {
		sq += g * g
	}
	norm := math.Sqrt(sq)
	if norm <= r.ClipNorm {
		return
	}
	scale := r.ClipNorm / norm
	for i := range grads {
		grads[i] *= scale
	}
}

// Params returns Wx, Wh then b.
func (r *SimpleRNN) Params() []float64 {
	params := make([]float64, 0, len(r.wx)+len(r.wh)+len(r.b))
	params = append(params, r.wx...)
	params = append(params, r.wh...)
	return append(params, r.b...)
}

func (r *SimpleRNN) SetParams(params []float64) {
	n := copy(r.wx, params)
	n += copy(r.wh, params[n:])
	copy(r.b, params[n:])
}

func (r *SimpleRNN) Gradients() []float64 {
	grads := make([]float64, 0, len(r.gradWx)+len(r.gradWh)+len(r.gradB))
	grads = append(grads, r.gradWx...)
	grads = append(grads, r.gradWh...)
	return append(grads, r.gradB...)
}

func (r *SimpleRNN) ClearGradients() {
	clear(r.gradWx)
	clear(r.gradWh)
	clear(r.gradB)
}

func (r *SimpleRNN) InSize() int  { return r.steps * r.inSize }
func (r *SimpleRNN) OutSize() int { return len(r.outputBuf) }

// StepSize returns the per-step input width.
func (r *SimpleRNN) StepSize() int { return r.inSize }

// Hidden returns the number of hidden units.
func (r *SimpleRNN) Hidden() int { return r.hidden }

// Steps returns the sequence length.
func (r *SimpleRNN) Steps() int { return r.steps }

// ReturnSequences reports whether every hidden state is emitted.
func (r *SimpleRNN) ReturnSequences() bool { return r.returnSequences }

// States returns the hidden states of the last Forward, one row per step.
func (r *SimpleRNN) States() [][]float64 {
	out := make([][]float64, r.steps)
	for t := 1; t <= r.steps; t++ {
		out[t-1] = append([]float64(nil), r.state(t)...)
	}
	return out
}

func (r *SimpleRNN) Clone() Layer {
	c := NewSimpleRNNWithRNG(r.inSize, r.hidden, r.steps, r.returnSequences, rand.New(rand.NewSource(0)))
	c.SetParams(r.Params())
	c.ClipNorm = r.ClipNorm
	return c
}
