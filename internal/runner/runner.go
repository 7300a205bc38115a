// Package runner is the plumbing shared by the lesson commands: flags over a
// YAML config, a run directory stamped with a run id, data loading and the
// standard training loop with logging, checkpoints and plots.
package runner

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/FlavioCFOliveira/nnlab/internal/config"
	"github.com/FlavioCFOliveira/nnlab/internal/dataset"
	"github.com/FlavioCFOliveira/nnlab/internal/hostinfo"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
	"github.com/FlavioCFOliveira/nnlab/internal/viz"
)

// MetaFile is written into every run directory.
const MetaFile = "run.yaml"

// Run is one invocation of a lesson command.
type Run struct {
	ID      uuid.UUID
	Name    string
	Config  *config.Config
	Host    hostinfo.Info
	Dir     string
	Out     io.Writer
	Started time.Time
}

// Meta is the content of MetaFile.
type Meta struct {
	ID      string         `yaml:"id"`
	Command string         `yaml:"command"`
	Started time.Time      `yaml:"started"`
	Host    string         `yaml:"host"`
	Config  *config.Config `yaml:"config"`
}

// Start registers the shared flags on fs, parses args, loads the config file
// named by -config, applies flag overrides and creates the run directory
// <output.dir>/<name>. Commands add their own flags to fs before calling
// Start.
func Start(name string, fs *flag.FlagSet, args []string, out io.Writer) (*Run, error) {
	var (
		path string
		o    config.Overrides
	)
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&o.DataDir, "data", "", "MNIST directory")
	fs.BoolVar(&o.Synthetic, "synthetic", false, "use generated digits instead of MNIST")
	fs.IntVar(&o.TrainSize, "train-size", 0, "training samples to use")
	fs.IntVar(&o.TestSize, "test-size", 0, "test samples to use")
	fs.IntVar(&o.Epochs, "epochs", 0, "training epochs")
	fs.IntVar(&o.BatchSize, "batch", 0, "mini-batch size")
	fs.Float64Var(&o.LearningRate, "lr", 0, "learning rate")
	fs.Int64Var(&o.Seed, "seed", 0, "random seed")
	fs.StringVar(&o.OutputDir, "out", "", "output directory")
	fs.StringVar(&o.Checkpoint, "checkpoint", "", "checkpoint file name")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Run{
		ID:      uuid.New(),
		Name:    name,
		Config:  cfg,
		Host:    hostinfo.Detect(),
		Dir:     filepath.Join(cfg.Output.Dir, name),
		Out:     out,
		Started: time.Now(),
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	if err := r.writeMeta(); err != nil {
		return nil, err
	}

	r.Printf("=== %s ===\n", name)
	r.Printf("Run:  %s\n", r.ID)
	r.Printf("Host: %s\n", r.Host)
	r.Printf("Out:  %s\n\n", r.Dir)
	return r, nil
}

func (r *Run) writeMeta() error {
	b, err := yaml.Marshal(Meta{
		ID:      r.ID.String(),
		Command: r.Name,
		Started: r.Started,
		Host:    r.Host.String(),
		Config:  r.Config,
	})
	if err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	if err := os.WriteFile(r.Path(MetaFile), b, 0o644); err != nil {
		return fmt.Errorf("write run metadata: %w", err)
	}
	return nil
}

// ReadMeta loads the metadata written next to a checkpoint.
func ReadMeta(dir string) (*Meta, error) {
	b, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}
	m := &Meta{Config: config.Default()}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode run metadata: %w", err)
	}
	return m, nil
}

// Printf writes to the run's output.
func (r *Run) Printf(format string, args ...interface{}) {
	fmt.Fprintf(r.Out, format, args...)
}

// Path joins name onto the run directory.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// Workers is the configured worker count, or one per physical core.
func (r *Run) Workers() int {
	if w := r.Config.Train.Workers; w > 0 {
		return w
	}
	return r.Host.Workers()
}

// Optimizer builds the configured optimizer.
func (r *Run) Optimizer() (opt.Optimizer, error) {
	t := r.Config.Train
	return opt.New(t.Optimizer, t.LearningRate, t.Momentum)
}

// Data returns the training and test sets, generating them when
// data.synthetic is set, reading data.csv.train when it is named and
// otherwise reading (and optionally downloading) MNIST. Both sets are
// trimmed to the configured sizes.
func (r *Run) Data(ctx context.Context) (train, test *dataset.Dataset, err error) {
	d := r.Config.Data
	if d.Synthetic {
		train = dataset.Synthetic(orDefault(d.TrainSize, 2000), d.Seed)
		test = dataset.Synthetic(orDefault(d.TestSize, 500), d.Seed+1)
		r.Printf("Data: %d synthetic training and %d test digits\n", train.Len(), test.Len())
		return train, test, nil
	}
	if d.CSV.Train != "" {
		return r.csvData()
	}

	if d.Download {
		mirror := d.Mirror
		if mirror == "" {
			mirror = dataset.DefaultMirror
		}
		client := &http.Client{Timeout: 5 * time.Minute}
		if err := dataset.Download(ctx, client, d.Dir, mirror); err != nil {
			return nil, nil, err
		}
	}
	train, test, err = dataset.Load(d.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load MNIST from %s: %w (use -synthetic to run offline)", d.Dir, err)
	}
	train.Shuffle(d.Seed)
	train, test = train.Subset(d.TrainSize), test.Subset(d.TestSize)
	r.Printf("Data: %d MNIST training and %d test images\n", train.Len(), test.Len())
	return train, test, nil
}

// csvHoldout is the share of data.csv.train kept for testing when no
// data.csv.test file is named.
const csvHoldout = 0.2

func (r *Run) csvData() (train, test *dataset.Dataset, err error) {
	d := r.Config.Data
	load := func(path string) (*dataset.Dataset, error) {
		set, err := dataset.LoadCSV(path, d.CSV.LabelCol, d.CSV.Header,
			dataset.SyntheticSize, dataset.SyntheticSize, dataset.SyntheticClasses)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		return set, nil
	}

	train, err = load(d.CSV.Train)
	if err != nil {
		return nil, nil, err
	}
	train.Shuffle(d.Seed)
	if d.CSV.Test != "" {
		if test, err = load(d.CSV.Test); err != nil {
			return nil, nil, err
		}
	} else {
		train, test = train.Split(1 - csvHoldout)
	}
	train, test = train.Subset(d.TrainSize), test.Subset(d.TestSize)
	r.Printf("Data: %d CSV training and %d test images\n", train.Len(), test.Len())
	return train, test, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Fit trains model with the configured epochs, batch size, validation split,
// early stopping, learning rate schedule, CSV log and checkpoint, then
// reports test accuracy and draws the loss curve. model must be compiled.
func (r *Run) Fit(model *net.Sequential, train, test *dataset.Dataset) (net.History, error) {
	cfg := r.Config
	fitSet := train
	if cfg.Train.Validation > 0 {
		var val *dataset.Dataset
		fitSet, val = train.Split(1 - cfg.Train.Validation)
		model.SetValidation(val.Samples, val.OneHot())
	}
	model.SetShuffleSeed(cfg.Data.Seed)

	csvLog := net.NewCSVLogger(r.Path(cfg.Output.CSVLog), false)
	csvLog.Errors = r.Out
	checkpoint := net.NewModelCheckpoint(r.Path(cfg.Output.Checkpoint))
	checkpoint.Out = r.Out
	callbacks := []net.Callback{
		&net.Logger{Interval: 1, Out: r.Out},
		csvLog,
		checkpoint,
	}
	if cfg.Train.Patience > 0 {
		stop := net.NewEarlyStopping(cfg.Train.Patience, 1e-4)
		stop.Out = r.Out
		callbacks = append(callbacks, stop)
	}
	sched, err := opt.NewScheduler(model.Optimizer(), opt.Schedule(cfg.Train.Scheduler))
	if err != nil {
		return net.History{}, err
	}
	if sched != nil {
		callbacks = append(callbacks, net.NewSchedulerCallback(sched))
	}

	model.Summary(r.Out)
	r.Printf("\nTraining on %d samples for %d epochs (batch %d, %s lr=%g)\n",
		fitSet.Len(), cfg.Train.Epochs, cfg.Train.BatchSize, cfg.Train.Optimizer, cfg.Train.LearningRate)
	start := time.Now()
	h := model.Fit(fitSet.Samples, fitSet.OneHot(), cfg.Train.Epochs, cfg.Train.BatchSize, callbacks...)
	r.Printf("Trained %d epochs in %s\n", len(h.Epochs), time.Since(start).Round(time.Millisecond))
	if sched != nil {
		r.Printf("Final learning rate: %g (%s schedule)\n", sched.GetLR(), cfg.Train.Scheduler.Name)
	}

	if test != nil && test.Len() > 0 {
		loss, acc := model.EvaluateParallel(test.Samples, test.OneHot(), r.Workers())
		r.Printf("Test: loss = %.4f, accuracy = %.2f%%\n", loss, acc*100)
	}

	if cfg.Output.Plots && len(h.Epochs) > 0 {
		if err := viz.LossCurve(h, r.Path("loss.png")); err != nil {
			return h, fmt.Errorf("plot loss curve: %w", err)
		}
	}
	return h, nil
}

// Main runs fn and exits non-zero on error.
func Main(fn func(args []string, out io.Writer) error) {
	if err := fn(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
