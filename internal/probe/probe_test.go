package probe

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

func TestPCAOnLine(t *testing.T) {
	// Points on the line (1, 2, -1)·t plus a tiny wobble in the third column.
	rng := rand.New(rand.NewSource(1))
	x := mat.NewDense(40, 3, nil)
	for i := 0; i < 40; i++ {
		s := rng.NormFloat64() * 3
		x.SetRow(i, []float64{s + 5, 2*s - 1, -s + rng.NormFloat64()*1e-3})
	}

	p, err := PCA(x, 2)
	require.NoError(t, err)
	assert.Greater(t, p.ExplainedRatio[0], 0.999)
	assert.Less(t, p.ExplainedRatio[1], 1e-3)
	assert.InDelta(t, 1, floats.Sum(p.ExplainedRatio), 1e-9)

	axis := mat.Col(nil, 0, p.Components)
	want := []float64{1 / math.Sqrt(6), 2 / math.Sqrt(6), -1 / math.Sqrt(6)}
	assert.InDeltaSlice(t, want, axis, 1e-3)

	r, c := p.Projection.Dims()
	assert.Equal(t, 40, r)
	assert.Equal(t, 2, c)
	assert.True(t, mat.EqualApprox(p.Projection, p.Transform(x), 1e-9))

	col := mat.Col(nil, 0, p.Projection)
	assert.InDelta(t, 0, floats.Sum(col)/40, 1e-9, "projection is centred")
}

func TestPCAVarianceMatchesProjection(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := mat.NewDense(30, 5, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 5; j++ {
			x.Set(i, j, rng.NormFloat64()*float64(j+1))
		}
	}
	p, err := PCA(x, 3)
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		col := mat.Col(nil, k, p.Projection)
		var ss float64
		for _, v := range col {
			ss += v * v
		}
		assert.InDelta(t, p.Variance[k], ss/29, 1e-9)
	}
	assert.GreaterOrEqual(t, p.Variance[0], p.Variance[1])
	assert.GreaterOrEqual(t, p.Variance[1], p.Variance[2])
}

func TestPCAErrors(t *testing.T) {
	_, err := PCA(mat.NewDense(1, 3, nil), 1)
	assert.Error(t, err)
	_, err = PCA(mat.NewDense(5, 3, nil), 4)
	assert.Error(t, err)
	_, err = PCA(mat.NewDense(5, 3, nil), 0)
	assert.Error(t, err)
	p, err := PCA(mat.NewDense(5, 3, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 0, 1, 2, 2, 2}), 2)
	require.NoError(t, err)
	assert.Panics(t, func() { p.Transform(mat.NewDense(2, 2, nil)) })
}

func clusters(n, d int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(2*n, d, nil)
	labels := make([]int, 2*n)
	for i := 0; i < 2*n; i++ {
		c := i % 2
		labels[i] = c
		for j := 0; j < d; j++ {
			x.Set(i, j, float64(c)*10+rng.NormFloat64()*0.5)
		}
	}
	return x, labels
}

func TestTSNESeparatesClusters(t *testing.T) {
	x, labels := clusters(15, 8, 3)
	opts := TSNEOptions{Perplexity: 5, Iterations: 300, Seed: 11}
	res, err := TSNE(x, opts)
	require.NoError(t, err)

	r, c := res.Embedding.Dims()
	require.Equal(t, 30, r)
	require.Equal(t, 2, c)
	assert.False(t, math.IsNaN(res.KL))
	assert.GreaterOrEqual(t, res.KL, 0.0)

	var centroids [2][2]float64
	for i, l := range labels {
		centroids[l][0] += res.Embedding.At(i, 0) / 15
		centroids[l][1] += res.Embedding.At(i, 1) / 15
	}
	between := math.Hypot(centroids[0][0]-centroids[1][0], centroids[0][1]-centroids[1][1])
	var within float64
	for i, l := range labels {
		within += math.Hypot(res.Embedding.At(i, 0)-centroids[l][0], res.Embedding.At(i, 1)-centroids[l][1]) / 30
	}
	assert.Greater(t, between, 2*within)

	again, err := TSNE(x, opts)
	require.NoError(t, err)
	assert.True(t, mat.Equal(res.Embedding, again.Embedding), "same seed, same embedding")
}

func TestTSNEWithPCAReduction(t *testing.T) {
	x, _ := clusters(10, 12, 4)
	res, err := TSNE(x, TSNEOptions{Perplexity: 4, Iterations: 100, PCADims: 5, Seed: 1})
	require.NoError(t, err)
	r, _ := res.Embedding.Dims()
	assert.Equal(t, 20, r)
}

func TestTSNEErrors(t *testing.T) {
	_, err := TSNE(mat.NewDense(2, 2, []float64{0, 0, 1, 1}), TSNEOptions{})
	assert.Error(t, err)
	_, err = TSNE(mat.NewDense(5, 2, nil), TSNEOptions{Perplexity: 5})
	assert.Error(t, err)
}

func TestJointProbabilities(t *testing.T) {
	x, _ := clusters(6, 3, 5)
	P := jointProbabilities(squaredDistances(x), 3)
	n := 12
	assert.InDelta(t, 1, floats.Sum(P), 1e-6)
	for i := 0; i < n; i++ {
		assert.Zero(t, P[i*n+i])
		for j := 0; j < n; j++ {
			assert.Equal(t, P[i*n+j], P[j*n+i])
		}
	}

	// With beta = 0 every neighbour is equally likely.
	D := squaredDistances(x)
	row := make([]float64, n)
	h := conditional(row, D[:n], 0, 0)
	assert.InDelta(t, math.Log(float64(n-1)), h, 1e-12)
	assert.InDelta(t, 1, floats.Sum(row), 1e-12)
	assert.Zero(t, row[0])
}

func TestReceptiveFields(t *testing.T) {
	d := layer.NewDenseWithRNG(4, 2, activations.ReLU{}, rand.New(rand.NewSource(1)))
	for j, w := range []float64{-2, 0, 2, 1} {
		d.SetWeight(0, j, w)
	}
	for j := 0; j < 4; j++ {
		d.SetWeight(1, j, 3)
	}

	fields, err := ReceptiveFields(d, 2, 2)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.75}, fields[0], 1e-12)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, fields[1])
	assert.Equal(t, -2.0, d.GetWeight(0, 0), "weights are not modified")

	_, err = ReceptiveFields(d, 3, 3)
	assert.Error(t, err)
}

func TestConvFilters(t *testing.T) {
	c := layer.NewConv2DWithRNG(1, 6, 6, 3, 3, 1, 0, activations.ReLU{}, rand.New(rand.NewSource(2)))
	filters, err := ConvFilters(c, 0)
	require.NoError(t, err)
	require.Len(t, filters, 3)
	for _, f := range filters {
		require.Len(t, f, 9)
		assert.Equal(t, 0.0, floats.Min(f))
		assert.InDelta(t, 1, floats.Max(f), 1e-12)
	}
	_, err = ConvFilters(c, 1)
	assert.Error(t, err)
}

func TestActivationStats(t *testing.T) {
	acts := [][]float64{
		{1, 0, -1},
		{3, 0, 2},
		{2, 0, 0},
		{2, 0, 1},
	}
	s := ActivationStats(acts)
	require.Len(t, s.Units, 3)
	assert.Equal(t, 1, s.Dead)
	assert.InDelta(t, 2, s.Units[0].Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3), s.Units[0].Std, 1e-12)
	assert.Equal(t, 1.0, s.Units[0].FracActive)
	assert.Equal(t, 0.5, s.Units[2].FracActive)
	assert.InDelta(t, 6.0/12, s.Sparsity, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, s.WriteTable(&buf, 2))
	out := buf.String()
	assert.Contains(t, out, "dead: 1")
	assert.Contains(t, out, "unit")

	assert.Empty(t, ActivationStats(nil).Units)
	one := ActivationStats([][]float64{{1, 2}})
	assert.Zero(t, one.Units[0].Std)
}

func TestHiddenRepresentations(t *testing.T) {
	layer.SetSeed(3)
	network := net.New([]layer.Layer{
		layer.NewDense(4, 5, activations.ReLU{}),
		layer.NewDropout(0.5, 5),
		layer.NewDense(5, 2, activations.Softmax{}),
	}, loss.CrossEntropy{}, &opt.SGD{LearningRate: 0.1})
	x := [][]float64{{1, 0, 0, 1}, {0, 1, 1, 0}, {0.5, 0.5, 0.5, 0.5}}

	h, err := HiddenRepresentations(network, x, 0)
	require.NoError(t, err)
	r, c := h.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 5, c)

	again, err := HiddenRepresentations(network, x, 1)
	require.NoError(t, err)
	assert.True(t, mat.Equal(h, again), "dropout is inactive at inference")

	last, err := HiddenRepresentations(network, x, -1)
	require.NoError(t, err)
	assert.InDelta(t, 1, last.At(0, 0)+last.At(0, 1), 1e-12)

	_, err = HiddenRepresentations(network, x, 3)
	assert.Error(t, err)
	_, err = HiddenRepresentations(network, nil, 0)
	assert.Error(t, err)

	assert.NotNil(t, FirstDense(network))
	assert.Nil(t, FirstConv(network))
}
