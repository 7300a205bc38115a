package dataset

import (
	"math"
	"math/rand"
)

// Synthetic image geometry matches MNIST.
const (
	SyntheticSize    = 28
	SyntheticClasses = 10
)

// Seven-segment strokes in unit coordinates: x right, y down.
var segments = [7][4]float64{
	{0, 0, 1, 0},     // top
	{1, 0, 1, 0.5},   // upper right
	{1, 0.5, 1, 1},   // lower right
	{0, 1, 1, 1},     // bottom
	{0, 0.5, 0, 1},   // lower left
	{0, 0, 0, 0.5},   // upper left
	{0, 0.5, 1, 0.5}, // middle
}

// Segments lit for each digit.
var digitSegments = [SyntheticClasses][]int{
	{0, 1, 2, 3, 4, 5},
	{1, 2},
	{0, 1, 6, 4, 3},
	{0, 1, 6, 2, 3},
	{5, 6, 1, 2},
	{0, 5, 6, 2, 3},
	{0, 5, 4, 3, 2, 6},
	{0, 1, 2},
	{0, 1, 2, 3, 4, 5, 6},
	{0, 1, 2, 3, 5, 6},
}

// Synthetic generates n digit-like 28×28 images drawn as jittered
// seven-segment glyphs with pixel noise. Labels cycle through 0-9 so every
// class is equally represented; the same seed gives the same set.
func Synthetic(n int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	d := &Dataset{
		Samples: make([][]float64, n),
		Labels:  make([]int, n),
		Classes: SyntheticClasses,
		Rows:    SyntheticSize,
		Cols:    SyntheticSize,
	}
	backing := make([]float64, n*SyntheticSize*SyntheticSize)
	for i := 0; i < n; i++ {
		img := backing[i*SyntheticSize*SyntheticSize : (i+1)*SyntheticSize*SyntheticSize]
		label := i % SyntheticClasses
		drawDigit(img, label, rng)
		d.Samples[i] = img
		d.Labels[i] = label
	}
	d.Shuffle(seed)
	return d
}

func drawDigit(img []float64, digit int, rng *rand.Rand) {
	left := 8 + rng.Float64()*4 - 2
	top := 4 + rng.Float64()*4 - 2
	width := 10 + rng.Float64()*3
	height := 17 + rng.Float64()*3
	slant := rng.Float64()*0.3 - 0.1
	ink := 0.75 + rng.Float64()*0.25

	for _, s := range digitSegments[digit] {
		seg := segments[s]
		const steps = 24
		for k := 0; k <= steps; k++ {
			t := float64(k) / steps
			ux := seg[0] + (seg[2]-seg[0])*t
			uy := seg[1] + (seg[3]-seg[1])*t
			x := left + ux*width + slant*(1-uy)*height*0.3
			y := top + uy*height
			stamp(img, x, y, ink)
		}
	}

	for i := range img {
		img[i] = math.Min(1, math.Max(0, img[i]+rng.NormFloat64()*0.05))
	}
}

// stamp paints a soft disc of radius ~1.2 pixels centred on (x, y).
func stamp(img []float64, x, y, ink float64) {
	for py := int(y) - 2; py <= int(y)+2; py++ {
		for px := int(x) - 2; px <= int(x)+2; px++ {
			if px < 0 || py < 0 || px >= SyntheticSize || py >= SyntheticSize {
				continue
			}
			dist := math.Hypot(float64(px)+0.5-x, float64(py)+0.5-y)
			v := ink * math.Max(0, 1-dist/1.7)
			idx := py*SyntheticSize + px
			img[idx] = math.Max(img[idx], v)
		}
	}
}
