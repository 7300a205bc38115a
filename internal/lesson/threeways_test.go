package lesson

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func batch(n, in, classes int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, in, nil)
	y := mat.NewDense(n, classes, nil)
	for i := 0; i < n; i++ {
		c := rng.Intn(classes)
		for j := 0; j < in; j++ {
			x.Set(i, j, rng.NormFloat64()+float64(c*(j%classes)))
		}
		y.Set(i, c, 1)
	}
	return x, y
}

func TestThreeWaysAgree(t *testing.T) {
	w := NewMLPWeights(6, 5, 3, 42)
	x, y := batch(16, 6, 3, 1)

	c, err := Compare(w, x, y)
	require.NoError(t, err)
	assert.True(t, c.Within(Tolerance), c.String())
	assert.Greater(t, c.ManualLoss, 0.0)
}

func TestCompareDetectsDifferentWeights(t *testing.T) {
	w := NewMLPWeights(4, 3, 2, 7)
	x, y := batch(8, 4, 2, 2)

	other := NewMLPWeights(4, 3, 2, 8)
	c1, err := Compare(w, x, y)
	require.NoError(t, err)
	c2, err := Compare(other, x, y)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ManualLoss, c2.ManualLoss)
}

func TestBuildersCopyWeights(t *testing.T) {
	w := NewMLPWeights(3, 2, 2, 3)
	m := w.Manual()
	m.W1.Set(0, 0, 100)
	assert.NotEqual(t, 100.0, w.W1.At(0, 0))

	g := w.Graph()
	g.W2.Value().Set(0, 0, 100)
	assert.NotEqual(t, 100.0, w.W2.At(0, 0))
}

func TestTrainLockstep(t *testing.T) {
	w := NewMLPWeights(6, 8, 3, 11)
	x, y := batch(60, 6, 3, 5)

	res, err := TrainLockstep(w, x, y, 5, 12, 0.1, 9)
	require.NoError(t, err)

	for i := range res.Losses {
		require.Len(t, res.Losses[i], 5)
		assert.Less(t, res.Losses[i][4], res.Losses[i][0])
	}
	for e := 0; e < 5; e++ {
		assert.InDelta(t, res.Losses[0][e], res.Losses[1][e], 1e-9)
		assert.InDelta(t, res.Losses[0][e], res.Losses[2][e], 1e-9)
	}
	assert.Less(t, res.ParamDiff, 1e-9)
	// Near-ties in the argmax may flip a single sample.
	assert.InDelta(t, res.Accuracy[0], res.Accuracy[1], 0.02)
	assert.InDelta(t, res.Accuracy[0], res.Accuracy[2], 0.02)
}

func TestGradientsAgreeOnConfidentMistakes(t *testing.T) {
	w := NewMLPWeights(4, 5, 3, 13)
	w.B2 = []float64{40, 0, 0}
	x, _ := batch(6, 4, 3, 3)
	y := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		y.Set(i, 1+i%2, 1)
	}

	c, err := Compare(w, x, y)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.GradDiff, Tolerance, c.String())

	seq := w.Sequential(0)
	rowsX, rowsY := rows(x), rows(y)
	_, grads := seq.ComputeGradients(rowsX[:1], rowsY[:1])
	_, hidden, out := w.Sizes()
	b2 := grads[1][out*hidden:]
	assert.InDelta(t, 1.0, b2[0], 1e-6)
	assert.InDelta(t, -1.0, b2[1], 1e-6)
}
