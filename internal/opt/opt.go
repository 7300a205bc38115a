// Package opt provides optimization algorithms.
package opt

import (
	"fmt"
	"math"
)

// Optimizer updates network parameters based on gradients.
//
// Parameters are handed over as flat slices, one group per layer (or per graph
// variable). Stateful optimizers keep their moments keyed by group, so the same
// group index must always refer to the same parameters.
type Optimizer interface {
	// StepInPlace updates params in-place from gradients.
	StepInPlace(group int, params, gradients []float64)

	// State exposes tunable hyperparameters, at least "LearningRate".
	State() map[string]interface{}
	SetState(state map[string]interface{})
}

func checkGroup(name string, params, gradients []float64) {
	if len(params) != len(gradients) {
		panic(fmt.Sprintf("%s: %d params but %d gradients", name, len(params), len(gradients)))
	}
}

// SGD (Stochastic Gradient Descent) optimizer.
type SGD struct {
	LearningRate float64
}

// Step computes updated parameters: params - lr * gradients
// Returns a new slice with updated values.
func (s *SGD) Step(params, gradients []float64) []float64 {
	result := make([]float64, len(params))
	copy(result, params)
	s.StepInPlace(0, result, gradients)
	return result
}

// StepInPlace updates params in-place: params = params - lr * gradients
func (s *SGD) StepInPlace(_ int, params, gradients []float64) {
	checkGroup("SGD", params, gradients)
	for i := range params {
		params[i] -= s.LearningRate * gradients[i]
	}
}

func (s *SGD) State() map[string]interface{} {
	return map[string]interface{}{"LearningRate": s.LearningRate}
}

func (s *SGD) SetState(state map[string]interface{}) {
	if lr, ok := state["LearningRate"].(float64); ok {
		s.LearningRate = lr
	}
}

// Momentum is SGD with classical (heavy ball) momentum:
// v = mu*v - lr*g; p = p + v.
type Momentum struct {
	LearningRate float64
	Mu           float64

	velocity map[int][]float64
}

// NewMomentum creates a momentum optimizer.
func NewMomentum(learningRate, mu float64) *Momentum {
	return &Momentum{
		LearningRate: learningRate,
		Mu:           mu,
		velocity:     make(map[int][]float64),
	}
}

func (m *Momentum) StepInPlace(group int, params, gradients []float64) {
	checkGroup("Momentum", params, gradients)
	if m.velocity == nil {
		m.velocity = make(map[int][]float64)
	}
	v := m.velocity[group]
	if len(v) != len(params) {
		v = make([]float64, len(params))
		m.velocity[group] = v
	}
	for i := range params {
		v[i] = m.Mu*v[i] - m.LearningRate*gradients[i]
		params[i] += v[i]
	}
}

func (m *Momentum) State() map[string]interface{} {
	return map[string]interface{}{"LearningRate": m.LearningRate, "Mu": m.Mu}
}

func (m *Momentum) SetState(state map[string]interface{}) {
	if lr, ok := state["LearningRate"].(float64); ok {
		m.LearningRate = lr
	}
	if mu, ok := state["Mu"].(float64); ok {
		m.Mu = mu
	}
}

// Adam optimizer for faster convergence. Zero Beta1, Beta2 or Epsilon take
// the NewAdam defaults on the first step, so a literal &Adam{LearningRate: lr}
// is usable.
type Adam struct {
	LearningRate float64
	Beta1        float64 // Exponential decay rate for first moment
	Beta2        float64 // Exponential decay rate for second moment
	Epsilon      float64 // Small constant for numerical stability

	m map[int][]float64
	v map[int][]float64
	t map[int]int
}

// NewAdam creates a new Adam optimizer with default values.
func NewAdam(learningRate float64) *Adam {
	a := &Adam{LearningRate: learningRate}
	a.init()
	return a
}

// StepInPlace applies one bias-corrected Adam update to a parameter group.
func (a *Adam) StepInPlace(group int, params, gradients []float64) {
	checkGroup("Adam", params, gradients)
	a.init()
	m, v := a.m[group], a.v[group]
	if len(m) != len(params) {
		m = make([]float64, len(params))
		v = make([]float64, len(params))
		a.m[group], a.v[group] = m, v
		a.t[group] = 0
	}
	a.t[group]++
	t := float64(a.t[group])
	c1 := 1 - math.Pow(a.Beta1, t)
	c2 := 1 - math.Pow(a.Beta2, t)

	for i, g := range gradients {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		mHat := m[i] / c1
		vHat := v[i] / c2
		params[i] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
	}
}

func (a *Adam) init() {
	if a.m != nil {
		return
	}
	if a.Beta1 == 0 {
		a.Beta1 = 0.9
	}
	if a.Beta2 == 0 {
		a.Beta2 = 0.999
	}
	if a.Epsilon == 0 {
		a.Epsilon = 1e-8
	}
	a.m = make(map[int][]float64)
	a.v = make(map[int][]float64)
	a.t = make(map[int]int)
}

func (a *Adam) State() map[string]interface{} {
	return map[string]interface{}{
		"LearningRate": a.LearningRate,
		"Beta1":        a.Beta1,
		"Beta2":        a.Beta2,
		"Epsilon":      a.Epsilon,
	}
}

func (a *Adam) SetState(state map[string]interface{}) {
	if lr, ok := state["LearningRate"].(float64); ok {
		a.LearningRate = lr
	}
	if b1, ok := state["Beta1"].(float64); ok {
		a.Beta1 = b1
	}
	if b2, ok := state["Beta2"].(float64); ok {
		a.Beta2 = b2
	}
	if eps, ok := state["Epsilon"].(float64); ok {
		a.Epsilon = eps
	}
}

// New builds an optimizer by name: "sgd", "momentum" or "adam".
func New(name string, learningRate, momentum float64) (Optimizer, error) {
	switch name {
	case "sgd", "SGD", "":
		return &SGD{LearningRate: learningRate}, nil
	case "momentum", "Momentum":
		return NewMomentum(learningRate, momentum), nil
	case "adam", "Adam":
		return NewAdam(learningRate), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}

// Name returns the name New accepts for o.
func Name(o Optimizer) string {
	switch o.(type) {
	case *Momentum:
		return "momentum"
	case *Adam:
		return "adam"
	default:
		return "sgd"
	}
}

// LearningRate reads the learning rate from an optimizer's state.
func LearningRate(o Optimizer) float64 {
	lr, _ := o.State()["LearningRate"].(float64)
	return lr
}
