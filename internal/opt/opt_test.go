package opt

import (
	"math"
	"testing"
)

func TestSGDStep(t *testing.T) {
	sgd := &SGD{LearningRate: 0.1}

	params := []float64{1.0, 2.0, 3.0}
	gradients := []float64{0.1, 0.2, 0.3}

	updated := sgd.Step(params, gradients)

	expected := []float64{0.99, 1.98, 2.97}
	for i := range updated {
		if math.Abs(updated[i]-expected[i]) > 1e-10 {
			t.Errorf("updated[%d] = %v, want %v", i, updated[i], expected[i])
		}
	}
	if params[0] != 1.0 {
		t.Error("Step must not modify its input")
	}
}

func TestSGDStepInPlace(t *testing.T) {
	sgd := &SGD{LearningRate: 0.1}

	params := []float64{1.0, 2.0, 3.0}
	sgd.StepInPlace(0, params, []float64{0.1, 0.2, 0.3})

	expected := []float64{0.99, 1.98, 2.97}
	for i := range params {
		if math.Abs(params[i]-expected[i]) > 1e-10 {
			t.Errorf("params[%d] = %v, want %v", i, params[i], expected[i])
		}
	}
}

func TestMomentumAccumulates(t *testing.T) {
	m := NewMomentum(0.1, 0.9)
	params := []float64{0}
	g := []float64{1}

	m.StepInPlace(0, params, g) // v = -0.1
	m.StepInPlace(0, params, g) // v = -0.09 - 0.1 = -0.19

	if want := -0.29; math.Abs(params[0]-want) > 1e-12 {
		t.Errorf("params[0] = %v, want %v", params[0], want)
	}
}

func TestZeroValueOptimizersMatchConstructors(t *testing.T) {
	pairs := []struct {
		name        string
		literal, ok Optimizer
	}{
		{"momentum", &Momentum{LearningRate: 0.1, Mu: 0.9}, NewMomentum(0.1, 0.9)},
		{"adam", &Adam{LearningRate: 0.01}, NewAdam(0.01)},
	}
	for _, p := range pairs {
		a, b := []float64{1, -2}, []float64{1, -2}
		for i := 0; i < 3; i++ {
			g := []float64{0.5, float64(i) - 1}
			p.literal.StepInPlace(0, a, g)
			p.ok.StepInPlace(0, b, g)
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("%s: literal params %v, constructed %v", p.name, a, b)
				break
			}
		}
	}
}

func TestAdamFirstStepIsLearningRate(t *testing.T) {
	// With bias correction the first Adam step moves each parameter by lr*sign(g).
	a := NewAdam(0.01)
	params := []float64{1.0, -1.0}
	a.StepInPlace(0, params, []float64{5.0, -0.001})

	if math.Abs(params[0]-0.99) > 1e-6 {
		t.Errorf("params[0] = %v, want 0.99", params[0])
	}
	if math.Abs(params[1]+0.99) > 1e-4 {
		t.Errorf("params[1] = %v, want -0.99", params[1])
	}
}

func TestAdamGroupsAreIndependent(t *testing.T) {
	a := NewAdam(0.01)
	p0 := []float64{0}
	p1 := []float64{0, 0}
	for i := 0; i < 3; i++ {
		a.StepInPlace(0, p0, []float64{1})
	}
	a.StepInPlace(1, p1, []float64{1, 1})

	if a.t[0] != 3 || a.t[1] != 1 {
		t.Errorf("step counters = %d, %d; want 3, 1", a.t[0], a.t[1])
	}
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	a := NewAdam(0.1)
	x := []float64{5}
	for i := 0; i < 500; i++ {
		a.StepInPlace(0, x, []float64{2 * (x[0] - 1)})
	}
	if math.Abs(x[0]-1) > 1e-2 {
		t.Errorf("x = %v, want about 1", x[0])
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"sgd", "momentum", "adam"} {
		o, err := New(name, 0.05, 0.9)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if Name(o) != name {
			t.Errorf("Name = %q, want %q", Name(o), name)
		}
		if LearningRate(o) != 0.05 {
			t.Errorf("%s learning rate = %v", name, LearningRate(o))
		}
	}
	if _, err := New("lbfgs", 0.1, 0); err == nil {
		t.Error("expected error for unknown optimizer")
	}
}

func TestStepLR(t *testing.T) {
	o := &SGD{LearningRate: 1}
	s := NewStepLR(o, 2, 0.5)
	for i := 0; i < 4; i++ {
		s.Step(0)
	}
	if got := s.GetLR(); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("lr = %v, want 0.25", got)
	}
}

func TestReduceLROnPlateau(t *testing.T) {
	o := NewAdam(0.1)
	s := NewReduceLROnPlateau(o, 0.5, 2, 0, 0.03)

	s.Step(1.0)
	s.Step(1.0)
	s.Step(1.0)
	if got := s.GetLR(); math.Abs(got-0.05) > 1e-12 {
		t.Errorf("lr = %v, want 0.05", got)
	}

	s.Step(1.0)
	s.Step(1.0)
	if got := s.GetLR(); math.Abs(got-0.03) > 1e-12 {
		t.Errorf("lr = %v, want floor 0.03", got)
	}
}

func TestExponentialLR(t *testing.T) {
	o := &SGD{LearningRate: 0.8}
	s := NewExponentialLR(o, 0.5)
	want := []float64{0.4, 0.2, 0.1}
	for i, w := range want {
		s.Step(0)
		if got := s.GetLR(); math.Abs(got-w) > 1e-12 {
			t.Errorf("epoch %d: lr = %v, want %v", i+1, got, w)
		}
	}

	s.MinLR = 0.15
	s.Step(0)
	if got := o.LearningRate; got != 0.15 {
		t.Errorf("lr = %v, want floor 0.15", got)
	}
}

func TestReduceLROnPlateauCooldown(t *testing.T) {
	o := &SGD{LearningRate: 1}
	s := NewReduceLROnPlateau(o, 0.5, 1, 0, 0)
	s.Cooldown = 2

	s.Step(1) // best
	s.Step(1) // reduce to 0.5, start cooling
	s.Step(1)
	s.Step(1)
	if o.LearningRate != 0.5 {
		t.Fatalf("lr = %v during cooldown, want 0.5", o.LearningRate)
	}
	s.Step(1)
	if o.LearningRate != 0.25 {
		t.Errorf("lr = %v after cooldown, want 0.25", o.LearningRate)
	}
}

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		sched Schedule
		want  float64 // learning rate after three epochs of constant loss
	}{
		{Schedule{Name: "none"}, 1},
		{Schedule{Name: "step", StepSize: 2, Gamma: 0.1}, 0.1},
		{Schedule{Name: "exponential", Gamma: 0.5}, 0.125},
		{Schedule{Name: "exponential", Gamma: 0.5, MinLR: 0.3}, 0.3},
		{Schedule{Name: "plateau", Gamma: 0.5, Patience: 1}, 0.25},
	}
	for _, tt := range tests {
		o := &SGD{LearningRate: 1}
		s, err := NewScheduler(o, tt.sched)
		if err != nil {
			t.Fatalf("%+v: %v", tt.sched, err)
		}
		for i := 0; i < 3 && s != nil; i++ {
			s.Step(1)
		}
		if math.Abs(o.LearningRate-tt.want) > 1e-12 {
			t.Errorf("%+v: lr = %v, want %v", tt.sched, o.LearningRate, tt.want)
		}
	}

	if _, err := NewScheduler(&SGD{}, Schedule{Name: "cosine"}); err == nil {
		t.Error("expected error for unknown scheduler")
	}
	if _, err := NewScheduler(&SGD{}, Schedule{Name: "step"}); err == nil {
		t.Error("expected error for zero step size")
	}
}
