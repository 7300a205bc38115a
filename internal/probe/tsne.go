package probe

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TSNEOptions configures exact t-SNE.
type TSNEOptions struct {
	Dims         int     // output dimensions, default 2
	Perplexity   float64 // effective number of neighbours, default 30
	Iterations   int     // default 1000
	LearningRate float64 // default 200

	Exaggeration      float64 // early exaggeration factor, default 12
	ExaggerationIters int     // default 250
	// PCADims reduces the input with PCA first when it has more columns.
	// 0 disables the reduction.
	PCADims int
	Seed    int64
}

func (o TSNEOptions) withDefaults() TSNEOptions {
	if o.Dims <= 0 {
		o.Dims = 2
	}
	if o.Perplexity <= 0 {
		o.Perplexity = 30
	}
	if o.Iterations <= 0 {
		o.Iterations = 1000
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 200
	}
	if o.Exaggeration <= 0 {
		o.Exaggeration = 12
	}
	if o.ExaggerationIters < 0 {
		o.ExaggerationIters = 0
	} else if o.ExaggerationIters == 0 {
		o.ExaggerationIters = min(250, o.Iterations/4)
	}
	return o
}

// TSNEResult is an embedding and the final KL(P || Q).
type TSNEResult struct {
	Embedding *mat.Dense
	KL        float64
}

const (
	tsneMinProb = 1e-12
	minGain     = 0.01
)

// TSNE embeds the rows of x with exact (O(n²) per iteration) t-SNE.
func TSNE(x mat.Matrix, opts TSNEOptions) (*TSNEResult, error) {
	opts = opts.withDefaults()
	n, d := x.Dims()
	if n < 3 {
		return nil, fmt.Errorf("t-SNE needs at least 3 rows, got %d", n)
	}
	if opts.Perplexity >= float64(n) {
		return nil, fmt.Errorf("t-SNE: perplexity %g must be less than the number of rows %d", opts.Perplexity, n)
	}

	if opts.PCADims > 0 && d > opts.PCADims && n > opts.PCADims {
		p, err := PCA(x, opts.PCADims)
		if err != nil {
			return nil, err
		}
		x = p.Projection
	}

	P := jointProbabilities(squaredDistances(x), opts.Perplexity)
	floats.Scale(opts.Exaggeration, P)

	rng := rand.New(rand.NewSource(opts.Seed))
	dims := opts.Dims
	Y := make([]float64, n*dims)
	for i := range Y {
		Y[i] = rng.NormFloat64() * 1e-4
	}
	update := make([]float64, n*dims)
	gains := make([]float64, n*dims)
	for i := range gains {
		gains[i] = 1
	}
	grad := make([]float64, n*dims)
	num := make([]float64, n*n)

	for iter := 0; iter < opts.Iterations; iter++ {
		if iter == opts.ExaggerationIters {
			floats.Scale(1/opts.Exaggeration, P)
		}
		momentum := 0.5
		if iter >= opts.ExaggerationIters {
			momentum = 0.8
		}

		// Student-t kernel num_ij = 1 / (1 + |y_i - y_j|²).
		var sumNum float64
		for i := 0; i < n; i++ {
			num[i*n+i] = 0
			yi := Y[i*dims : (i+1)*dims]
			for j := i + 1; j < n; j++ {
				q := 1 / (1 + sqDist(yi, Y[j*dims:(j+1)*dims]))
				num[i*n+j], num[j*n+i] = q, q
				sumNum += 2 * q
			}
		}

		// dC/dy_i = 4 Σ_j (p_ij - q_ij) num_ij (y_i - y_j)
		clear(grad)
		for i := 0; i < n; i++ {
			yi := Y[i*dims : (i+1)*dims]
			gi := grad[i*dims : (i+1)*dims]
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i*n+j]/sumNum, tsneMinProb)
				mult := 4 * (P[i*n+j] - q) * num[i*n+j]
				yj := Y[j*dims : (j+1)*dims]
				for k := range gi {
					gi[k] += mult * (yi[k] - yj[k])
				}
			}
		}

		for i := range Y {
			if (grad[i] > 0) != (update[i] > 0) {
				gains[i] += 0.2
			} else {
				gains[i] *= 0.8
			}
			gains[i] = math.Max(gains[i], minGain)
			update[i] = momentum*update[i] - opts.LearningRate*gains[i]*grad[i]
			Y[i] += update[i]
		}
		centre(Y, n, dims)
	}

	res := &TSNEResult{Embedding: mat.NewDense(n, dims, Y)}
	res.KL = klDivergence(P, Y, n, dims)
	return res, nil
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func squaredDistances(x mat.Matrix) []float64 {
	n, d := x.Dims()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, d)
		mat.Row(rows[i], i, x)
	}
	D := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := sqDist(rows[i], rows[j])
			D[i*n+j], D[j*n+i] = v, v
		}
	}
	return D
}

// jointProbabilities calibrates a Gaussian per point so that the conditional
// distribution has the requested perplexity, then symmetrises:
// P = (P_cond + P_condᵀ) / 2n.
func jointProbabilities(D []float64, perplexity float64) []float64 {
	n := int(math.Sqrt(float64(len(D))))
	target := math.Log(perplexity)
	P := make([]float64, n*n)
	row := make([]float64, n)

	for i := 0; i < n; i++ {
		beta, lo, hi := 1.0, math.Inf(-1), math.Inf(1)
		di := D[i*n : (i+1)*n]
		for step := 0; step < 100; step++ {
			h := conditional(row, di, i, beta)
			diff := h - target
			if math.Abs(diff) < 1e-5 {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				if math.IsInf(lo, -1) {
					beta /= 2
				} else {
					beta = (beta + lo) / 2
				}
			}
		}
		copy(P[i*n:(i+1)*n], row)
	}

	joint := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			joint[i*n+j] = math.Max((P[i*n+j]+P[j*n+i])/float64(2*n), tsneMinProb)
		}
		joint[i*n+i] = 0
	}
	return joint
}

// conditional writes p_{j|i} for precision beta into row and returns its
// entropy in nats.
func conditional(row, di []float64, i int, beta float64) float64 {
	// Subtract the smallest distance so exp never underflows to all zeros.
	minD := math.Inf(1)
	for j, v := range di {
		if j != i && v < minD {
			minD = v
		}
	}
	var sum, weighted float64
	for j, v := range di {
		if j == i {
			row[j] = 0
			continue
		}
		row[j] = math.Exp(-(v - minD) * beta)
		sum += row[j]
		weighted += (v - minD) * row[j]
	}
	h := math.Log(sum) + beta*weighted/sum
	floats.Scale(1/sum, row)
	return h
}

func centre(Y []float64, n, dims int) {
	mean := make([]float64, dims)
	for i := 0; i < n; i++ {
		floats.Add(mean, Y[i*dims:(i+1)*dims])
	}
	floats.Scale(1/float64(n), mean)
	for i := 0; i < n; i++ {
		floats.Sub(Y[i*dims:(i+1)*dims], mean)
	}
}

func klDivergence(P, Y []float64, n, dims int) float64 {
	num := make([]float64, n*n)
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			num[i*n+j] = 1 / (1 + sqDist(Y[i*dims:(i+1)*dims], Y[j*dims:(j+1)*dims]))
			sum += num[i*n+j]
		}
	}
	var kl float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || P[i*n+j] <= tsneMinProb {
				continue
			}
			q := math.Max(num[i*n+j]/sum, tsneMinProb)
			kl += P[i*n+j] * math.Log(P[i*n+j]/q)
		}
	}
	return kl
}
