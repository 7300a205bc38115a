package opt

import (
	"fmt"
	"math"
)

// Scheduler adjusts an optimizer's learning rate once per epoch.
type Scheduler interface {
	// Step is called after every epoch with the monitored loss.
	Step(loss float64)
	GetLR() float64
}

// Schedule names a scheduler and its knobs, mirroring the train.scheduler
// config section.
type Schedule struct {
	Name     string
	StepSize int
	Gamma    float64
	Patience int
	MinLR    float64
}

// NewScheduler builds the scheduler named by s around o. "none" and the
// empty name return a nil Scheduler.
func NewScheduler(o Optimizer, s Schedule) (Scheduler, error) {
	switch s.Name {
	case "", "none":
		return nil, nil
	case "step":
		if s.StepSize <= 0 {
			return nil, fmt.Errorf("step schedule needs a positive step size, got %d", s.StepSize)
		}
		st := NewStepLR(o, s.StepSize, s.Gamma)
		st.MinLR = s.MinLR
		return st, nil
	case "exponential":
		e := NewExponentialLR(o, s.Gamma)
		e.MinLR = s.MinLR
		return e, nil
	case "plateau":
		return NewReduceLROnPlateau(o, s.Gamma, s.Patience, 0, s.MinLR), nil
	default:
		return nil, fmt.Errorf("unknown scheduler %q", s.Name)
	}
}

func setLR(o Optimizer, lr float64) {
	state := o.State()
	if _, ok := state["LearningRate"]; ok {
		state["LearningRate"] = lr
		o.SetState(state)
	}
}

// decay tracks the learning rate an optimizer started with so epoch based
// schedules can be computed in closed form instead of compounding.
type decay struct {
	optimizer Optimizer
	base      float64
	epochs    int
	started   bool
}

// advance counts one epoch and sets lr = base * gamma^k, floored at minLR.
func (d *decay) advance(k func(epochs int) int, gamma, minLR float64) {
	if !d.started {
		d.base = LearningRate(d.optimizer)
		d.started = true
	}
	d.epochs++
	setLR(d.optimizer, math.Max(d.base*math.Pow(gamma, float64(k(d.epochs))), minLR))
}

// StepLR multiplies the starting learning rate by Gamma every StepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float64
	MinLR    float64
	decay
}

func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{StepSize: stepSize, Gamma: gamma, decay: decay{optimizer: optimizer}}
}

func (s *StepLR) Step(float64) {
	if s.StepSize <= 0 {
		return
	}
	s.advance(func(e int) int { return e / s.StepSize }, s.Gamma, s.MinLR)
}

func (s *StepLR) GetLR() float64 { return LearningRate(s.optimizer) }

// ExponentialLR multiplies the learning rate by Gamma every epoch.
type ExponentialLR struct {
	Gamma float64
	MinLR float64
	decay
}

func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	return &ExponentialLR{Gamma: gamma, decay: decay{optimizer: optimizer}}
}

func (s *ExponentialLR) Step(float64) {
	s.advance(func(e int) int { return e }, s.Gamma, s.MinLR)
}

func (s *ExponentialLR) GetLR() float64 { return LearningRate(s.optimizer) }

// ReduceLROnPlateau multiplies the learning rate by Factor once the loss
// has failed to beat its best by Threshold for Patience epochs, then waits
// Cooldown epochs before watching again.
type ReduceLROnPlateau struct {
	Factor    float64
	Patience  int
	Threshold float64
	Cooldown  int
	MinLR     float64

	optimizer Optimizer
	best      float64
	seen      bool
	bad       int
	cooling   int
}

func NewReduceLROnPlateau(optimizer Optimizer, factor float64, patience int, threshold, minLR float64) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		MinLR:     minLR,
		optimizer: optimizer,
	}
}

func (s *ReduceLROnPlateau) Step(loss float64) {
	if s.cooling > 0 {
		s.cooling--
		return
	}
	if !s.seen || loss < s.best-s.Threshold {
		s.best, s.seen, s.bad = loss, true, 0
		return
	}
	s.bad++
	if s.bad < s.Patience {
		return
	}
	setLR(s.optimizer, math.Max(LearningRate(s.optimizer)*s.Factor, s.MinLR))
	s.bad = 0
	s.cooling = s.Cooldown
}

func (s *ReduceLROnPlateau) GetLR() float64 { return LearningRate(s.optimizer) }
