package nnlab

import (
	"math"
	"path/filepath"
	"testing"
)

func TestFacadeCNN(t *testing.T) {
	SetSeed(1)
	data := SyntheticDigits(20, 3)
	x, y := data.Samples, data.OneHot()

	conv := Conv2D(1, 28, 28, 2, 3, 1, 0, ReLU)
	pool := MaxPool2D(2, 26, 26, 2, 2, 0)
	model := NewSequential(
		conv,
		pool,
		Flatten(pool.OutShape()),
		Dense(pool.OutSize(), 10, Softmax),
	)
	model.Compile(Adam(0.01), CrossEntropy)

	h := model.Fit(x, y, 2, 5)
	if len(h.Epochs) != 2 {
		t.Fatalf("history has %d epochs, want 2", len(h.Epochs))
	}
	if l := h.Last().Loss; math.IsNaN(l) || l <= 0 {
		t.Errorf("loss = %v", l)
	}

	path := filepath.Join(t.TempDir(), "cnn.gob")
	if err := model.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := model.Predict(x[0])
	got := back.Predict(x[0])
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-12 {
			t.Fatalf("prediction %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFacadeRNN(t *testing.T) {
	SetSeed(2)
	model := NewSequential(
		SimpleRNN(28, 8, 28, false),
		Dense(8, 10, Softmax),
	)
	model.Compile(SGD(0.1), CrossEntropy)
	out := model.Predict(make([]float64, 28*28))
	if len(out) != 10 {
		t.Fatalf("output size %d, want 10", len(out))
	}
}
