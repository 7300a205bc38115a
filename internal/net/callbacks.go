package net

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Callback defines the interface for training callbacks.
type Callback interface {
	OnTrainBegin(n *Network)
	OnTrainEnd(n *Network)
	OnEpochBegin(epoch int, n *Network)
	OnEpochEnd(epoch int, m EpochMetrics, n *Network)
	OnBatchBegin(batch int, n *Network)
	OnBatchEnd(batch int, loss float64, n *Network)
}

// Stopper is implemented by callbacks that can end training early.
type Stopper interface {
	ShouldStop() bool
}

// BaseCallback provides default empty implementations for Callback.
type BaseCallback struct{}

func (c BaseCallback) OnTrainBegin(n *Network)                          {}
func (c BaseCallback) OnTrainEnd(n *Network)                            {}
func (c BaseCallback) OnEpochBegin(epoch int, n *Network)               {}
func (c BaseCallback) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {}
func (c BaseCallback) OnBatchBegin(batch int, n *Network)               {}
func (c BaseCallback) OnBatchEnd(batch int, loss float64, n *Network)   {}

// SchedulerCallback is a callback that wraps a learning rate scheduler.
type SchedulerCallback struct {
	BaseCallback
	scheduler opt.Scheduler
}

func NewSchedulerCallback(scheduler opt.Scheduler) *SchedulerCallback {
	return &SchedulerCallback{scheduler: scheduler}
}

func (c *SchedulerCallback) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {
	c.scheduler.Step(m.Monitored())
}

// EarlyStopping stops training when the monitored loss has stopped improving.
type EarlyStopping struct {
	BaseCallback
	Patience  int
	Threshold float64
	Out       io.Writer

	bestLoss     float64
	numBadEpochs int
	Stopped      bool
}

func NewEarlyStopping(patience int, threshold float64) *EarlyStopping {
	return &EarlyStopping{
		Patience:  patience,
		Threshold: threshold,
		Out:       os.Stdout,
		bestLoss:  math.MaxFloat64,
	}
}

// OnTrainBegin resets the best loss so the callback can be reused and built
// as a literal.
func (c *EarlyStopping) OnTrainBegin(n *Network) {
	c.bestLoss = math.MaxFloat64
	c.numBadEpochs = 0
	c.Stopped = false
}

func (c *EarlyStopping) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {
	loss := m.Monitored()
	if loss < c.bestLoss-c.Threshold {
		c.bestLoss = loss
		c.numBadEpochs = 0
	} else {
		c.numBadEpochs++
	}

	if c.numBadEpochs >= c.Patience {
		if c.Out != nil {
			fmt.Fprintf(c.Out, "Early stopping at epoch %d: loss %.6f did not improve for %d epochs\n", epoch, loss, c.Patience)
		}
		c.Stopped = true
	}
}

func (c *EarlyStopping) ShouldStop() bool { return c.Stopped }

// ModelCheckpoint saves the model after every epoch if it's the best so far.
type ModelCheckpoint struct {
	BaseCallback
	Filename string
	Out      io.Writer

	bestLoss float64
}

func NewModelCheckpoint(filename string) *ModelCheckpoint {
	return &ModelCheckpoint{
		Filename: filename,
		Out:      os.Stdout,
		bestLoss: math.MaxFloat64,
	}
}

// OnTrainBegin resets the best loss.
func (c *ModelCheckpoint) OnTrainBegin(n *Network) {
	c.bestLoss = math.MaxFloat64
}

func (c *ModelCheckpoint) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {
	loss := m.Monitored()
	if loss >= c.bestLoss {
		return
	}
	c.bestLoss = loss
	err := n.Save(c.Filename)
	if c.Out == nil {
		return
	}
	if err != nil {
		fmt.Fprintf(c.Out, "Error saving checkpoint: %v\n", err)
	} else {
		fmt.Fprintf(c.Out, "Checkpoint saved: loss %.6f is new best\n", loss)
	}
}

// Logger logs training progress to Out (stdout when nil).
type Logger struct {
	BaseCallback
	Interval int
	Out      io.Writer
}

func (c Logger) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {
	if c.Interval <= 0 || epoch%c.Interval != 0 {
		return
	}
	w := c.Out
	if w == nil {
		w = os.Stdout
	}
	if m.HasVal {
		fmt.Fprintf(w, "Epoch %d: loss = %.6f, acc = %.2f%%, val_loss = %.6f, val_acc = %.2f%%\n",
			epoch, m.Loss, m.Accuracy*100, m.ValLoss, m.ValAccuracy*100)
		return
	}
	fmt.Fprintf(w, "Epoch %d: loss = %.6f, acc = %.2f%%\n", epoch, m.Loss, m.Accuracy*100)
}
