package graph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Solver updates variables from their gradients.
type Solver interface {
	Step(vars []*Node) error
}

// GradientDescent is vanilla gradient descent: v -= lr * dv.
type GradientDescent struct {
	LearningRate float64
}

// NewGradientDescent creates a solver with the given learning rate.
func NewGradientDescent(lr float64) *GradientDescent {
	return &GradientDescent{LearningRate: lr}
}

// Step updates every variable in place. Variables without a gradient are an
// error, as they usually mean Backward was not run.
func (s *GradientDescent) Step(vars []*Node) error {
	for _, v := range vars {
		if v.kind != kindVariable {
			return fmt.Errorf("graph: %s is not a variable", v.name)
		}
		if v.grad == nil {
			return fmt.Errorf("%w: %s", errNoGrad, v.name)
		}
		v.value.Apply(func(i, j int, x float64) float64 {
			return x - s.LearningRate*v.grad.At(i, j)
		}, v.value)
	}
	return nil
}

// Momentum is gradient descent with a velocity term per variable.
type Momentum struct {
	LearningRate float64
	Mu           float64

	velocity map[*Node]*mat.Dense
}

// NewMomentum creates a momentum solver.
func NewMomentum(lr, mu float64) *Momentum {
	return &Momentum{LearningRate: lr, Mu: mu, velocity: make(map[*Node]*mat.Dense)}
}

// Step applies v = mu*v - lr*grad; x += v.
func (s *Momentum) Step(vars []*Node) error {
	if s.velocity == nil {
		s.velocity = make(map[*Node]*mat.Dense)
	}
	for _, n := range vars {
		if n.grad == nil {
			return fmt.Errorf("%w: %s", errNoGrad, n.name)
		}
		vel, ok := s.velocity[n]
		if !ok {
			vel = zerosLike(n.value)
			s.velocity[n] = vel
		}
		vel.Apply(func(i, j int, v float64) float64 {
			return s.Mu*v - s.LearningRate*n.grad.At(i, j)
		}, vel)
		n.value.Add(n.value, vel)
	}
	return nil
}
