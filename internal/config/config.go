// Package config holds the knobs shared by the lesson commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a lesson run.
type Config struct {
	Data   Data   `yaml:"data"`
	Train  Train  `yaml:"train"`
	Model  Model  `yaml:"model"`
	Probe  Probe  `yaml:"probe"`
	Output Output `yaml:"output"`
}

// Data selects and limits the dataset.
type Data struct {
	Dir      string `yaml:"dir"`
	Download bool   `yaml:"download"`
	Mirror   string `yaml:"mirror"`
	// Synthetic generates digit-like images instead of reading MNIST.
	Synthetic bool  `yaml:"synthetic"`
	CSV       CSV   `yaml:"csv"`
	TrainSize int   `yaml:"train_size"` // 0 keeps everything
	TestSize  int   `yaml:"test_size"`
	Seed      int64 `yaml:"seed"`
}

// CSV reads 28×28 digits from files in the Kaggle layout instead of IDX.
type CSV struct {
	Train    string `yaml:"train"`
	Test     string `yaml:"test"` // empty holds out part of train
	LabelCol int    `yaml:"label_col"`
	Header   bool   `yaml:"header"`
}

// Train holds optimisation settings.
type Train struct {
	Epochs       int      `yaml:"epochs"`
	BatchSize    int      `yaml:"batch_size"`
	LearningRate float64  `yaml:"learning_rate"`
	Optimizer    string   `yaml:"optimizer"` // sgd, momentum or adam
	Momentum     float64  `yaml:"momentum"`
	Dropout      float64  `yaml:"dropout"`
	Patience     int      `yaml:"patience"` // 0 disables early stopping
	Validation   float64  `yaml:"validation"`
	Workers      int      `yaml:"workers"` // 0 picks one per physical core
	Scheduler    Schedule `yaml:"scheduler"`
}

// Schedule selects a learning rate schedule applied after every epoch.
type Schedule struct {
	Name     string  `yaml:"name"` // none, step, exponential or plateau
	StepSize int     `yaml:"step_size"`
	Gamma    float64 `yaml:"gamma"`
	Patience int     `yaml:"patience"`
	MinLR    float64 `yaml:"min_lr"`
}

// Model sizes the networks.
type Model struct {
	Hidden    []int `yaml:"hidden"`
	Filters   []int `yaml:"filters"`
	Kernel    int   `yaml:"kernel"`
	RNNHidden int   `yaml:"rnn_hidden"`
	// RNNClip bounds the recurrent layer's batch gradient norm; 0 disables it.
	RNNClip float64 `yaml:"rnn_clip"`
}

// Probe configures representation probing.
type Probe struct {
	Samples    int     `yaml:"samples"`
	Layer      int     `yaml:"layer"`
	Perplexity float64 `yaml:"perplexity"`
	Iterations int     `yaml:"iterations"`
	PCADims    int     `yaml:"pca_dims"`
	Fields     int     `yaml:"fields"`
}

// Output names where artefacts go.
type Output struct {
	Dir        string `yaml:"dir"`
	CSVLog     string `yaml:"csv_log"`
	Checkpoint string `yaml:"checkpoint"`
	Plots      bool   `yaml:"plots"`
}

// Overrides captures CLI supplied values. Zero values leave the config alone.
type Overrides struct {
	DataDir      string
	Synthetic    bool
	TrainSize    int
	TestSize     int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
	OutputDir    string
	Checkpoint   string
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Data: Data{
			Dir:       "data/mnist",
			TrainSize: 10000,
			TestSize:  2000,
			Seed:      42,
		},
		Train: Train{
			Epochs:       10,
			BatchSize:    64,
			LearningRate: 0.01,
			Optimizer:    "adam",
			Momentum:     0.9,
			Dropout:      0.2,
			Patience:     3,
			Validation:   0.1,
			Scheduler: Schedule{
				Name:     "none",
				StepSize: 5,
				Gamma:    0.5,
				Patience: 2,
			},
		},
		Model: Model{
			Hidden:    []int{128},
			Filters:   []int{8, 16},
			Kernel:    3,
			RNNHidden: 64,
			RNNClip:   5,
		},
		Probe: Probe{
			Samples:    500,
			Layer:      0,
			Perplexity: 30,
			Iterations: 500,
			PCADims:    50,
			Fields:     64,
		},
		Output: Output{
			Dir:        "out",
			CSVLog:     "training.csv",
			Checkpoint: "model.gob",
			Plots:      true,
		},
	}
}

// Load reads a YAML file over Default and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.Data.Dir = o.DataDir
	}
	if o.Synthetic {
		c.Data.Synthetic = true
	}
	if o.TrainSize > 0 {
		c.Data.TrainSize = o.TrainSize
	}
	if o.TestSize > 0 {
		c.Data.TestSize = o.TestSize
	}
	if o.Seed != 0 {
		c.Data.Seed = o.Seed
	}
	if o.Epochs > 0 {
		c.Train.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Train.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.Train.LearningRate = o.LearningRate
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.Checkpoint != "" {
		c.Output.Checkpoint = o.Checkpoint
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if !c.Data.Synthetic && c.Data.CSV.Train == "" && c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir must be set unless data.synthetic or data.csv.train is"))
	}
	if c.Data.TrainSize < 0 || c.Data.TestSize < 0 {
		errs = append(errs, errors.New("data sizes must be >= 0"))
	}
	if c.Train.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("train.epochs must be > 0 (got %d)", c.Train.Epochs))
	}
	if c.Train.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("train.batch_size must be > 0 (got %d)", c.Train.BatchSize))
	}
	if c.Train.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("train.learning_rate must be > 0 (got %g)", c.Train.LearningRate))
	}
	switch c.Train.Optimizer {
	case "sgd", "momentum", "adam":
	default:
		errs = append(errs, fmt.Errorf("train.optimizer %q is not one of sgd, momentum, adam", c.Train.Optimizer))
	}
	switch sc := c.Train.Scheduler; sc.Name {
	case "", "none":
	case "step":
		if sc.StepSize <= 0 {
			errs = append(errs, fmt.Errorf("train.scheduler.step_size must be > 0 (got %d)", sc.StepSize))
		}
		fallthrough
	case "exponential", "plateau":
		if sc.Gamma <= 0 || sc.Gamma >= 1 {
			errs = append(errs, fmt.Errorf("train.scheduler.gamma must be in (0, 1) (got %g)", sc.Gamma))
		}
		if sc.Patience < 0 || sc.MinLR < 0 {
			errs = append(errs, errors.New("train.scheduler.patience and min_lr must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("train.scheduler.name %q is not one of none, step, exponential, plateau", sc.Name))
	}
	if c.Data.CSV.Train == "" && c.Data.CSV.Test != "" {
		errs = append(errs, errors.New("data.csv.test needs data.csv.train"))
	}
	if c.Data.CSV.LabelCol < 0 {
		errs = append(errs, fmt.Errorf("data.csv.label_col must be >= 0 (got %d)", c.Data.CSV.LabelCol))
	}
	if c.Train.Dropout < 0 || c.Train.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("train.dropout must be in [0, 1) (got %g)", c.Train.Dropout))
	}
	if c.Train.Validation < 0 || c.Train.Validation >= 1 {
		errs = append(errs, fmt.Errorf("train.validation must be in [0, 1) (got %g)", c.Train.Validation))
	}
	if c.Train.Patience < 0 || c.Train.Workers < 0 {
		errs = append(errs, errors.New("train.patience and train.workers must be >= 0"))
	}
	if len(c.Model.Hidden) == 0 {
		errs = append(errs, errors.New("model.hidden needs at least one layer size"))
	}
	for _, v := range append(append([]int(nil), c.Model.Hidden...), c.Model.Filters...) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("model sizes must be > 0 (got %d)", v))
			break
		}
	}
	if c.Model.Kernel <= 0 || c.Model.RNNHidden <= 0 {
		errs = append(errs, errors.New("model.kernel and model.rnn_hidden must be > 0"))
	}
	if c.Model.RNNClip < 0 {
		errs = append(errs, fmt.Errorf("model.rnn_clip must be >= 0 (got %g)", c.Model.RNNClip))
	}
	if c.Probe.Samples < 3 {
		errs = append(errs, fmt.Errorf("probe.samples must be >= 3 (got %d)", c.Probe.Samples))
	} else if c.Probe.Perplexity <= 0 || c.Probe.Perplexity >= float64(c.Probe.Samples) {
		errs = append(errs, fmt.Errorf("probe.perplexity must be in (0, %d) (got %g)", c.Probe.Samples, c.Probe.Perplexity))
	}
	if c.Probe.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("probe.iterations must be > 0 (got %d)", c.Probe.Iterations))
	}
	if c.Probe.PCADims < 0 || c.Probe.Fields < 0 {
		errs = append(errs, errors.New("probe.pca_dims and probe.fields must be >= 0"))
	}
	return errors.Join(errs...)
}
