package net

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

// Save saves the network to a file using gob encoding.
// Optimizer moments are not saved; the optimizer type and its hyperparameters
// are.
func (n *Network) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := n.Encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Load loads a network from a file written by Save.
func Load(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return Decode(file)
}

// maxLayers bounds the layer count read from a file header.
const maxLayers = 1 << 12

type header struct {
	NumLayers    int
	Loss         string
	Optimizer    string
	LearningRate float64
	// OptState holds the optimizer's numeric hyperparameters (State()).
	OptState map[string]float64
}

// Encode writes the network to an io.Writer using gob encoding.
func (n *Network) Encode(w io.Writer) error {
	encoder := gob.NewEncoder(w)

	h := header{NumLayers: len(n.layers), Loss: "MSE", Optimizer: "sgd"}
	if n.loss != nil {
		h.Loss = loss.Name(n.loss)
	}
	if n.opt != nil {
		h.Optimizer = opt.Name(n.opt)
		h.LearningRate = opt.LearningRate(n.opt)
		h.OptState = make(map[string]float64)
		for k, v := range n.opt.State() {
			if f, ok := v.(float64); ok {
				h.OptState[k] = f
			}
		}
	}
	if err := encoder.Encode(h); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}

	for i, l := range n.layers {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode layer %d: %w", i, err)
		}
	}

	if err := encoder.Encode(n.Params()); err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	return nil
}

// Decode reads a network written by Encode.
func Decode(r io.Reader) (*Network, error) {
	decoder := gob.NewDecoder(r)

	var h header
	if err := decoder.Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if h.NumLayers < 0 || h.NumLayers > maxLayers {
		return nil, fmt.Errorf("invalid layer count %d", h.NumLayers)
	}
	layers := make([]layer.Layer, h.NumLayers)
	for i := range layers {
		var cfg LayerConfig
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read layer %d: %w", i, err)
		}
		l, err := cfg.CreateLayer()
		if err != nil {
			return nil, fmt.Errorf("failed to create layer %d: %w", i, err)
		}
		layers[i] = l
	}

	var params []float64
	if err := decoder.Decode(&params); err != nil {
		return nil, fmt.Errorf("failed to read parameters: %w", err)
	}

	n := New(layers, nil, nil)
	if want := len(n.Params()); want != len(params) {
		return nil, fmt.Errorf("parameter count mismatch: layers need %d, file has %d", want, len(params))
	}
	n.SetParams(params)

	var err error
	if n.loss, err = loss.ByName(h.Loss); err != nil {
		return nil, err
	}
	if n.opt, err = opt.New(h.Optimizer, h.LearningRate, 0.9); err != nil {
		return nil, err
	}
	if len(h.OptState) > 0 {
		state := make(map[string]interface{}, len(h.OptState))
		for k, v := range h.OptState {
			state[k] = v
		}
		n.opt.SetState(state)
	}
	return n, nil
}

// LayerConfig holds the configuration needed to reconstruct a layer.
type LayerConfig struct {
	Type       string
	InSize     int
	OutSize    int
	Activation string

	// Spatial layers
	In          layer.Shape3
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	// Dropout
	P float64

	// SimpleRNN
	Steps           int
	ReturnSequences bool
	ClipNorm        float64
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) (LayerConfig, error) {
	cfg := LayerConfig{InSize: l.InSize(), OutSize: l.OutSize()}

	switch v := l.(type) {
	case *layer.Dense:
		cfg.Type = "Dense"
		cfg.Activation = activations.Name(v.Activation())
	case *layer.Conv2D:
		cfg.Type = "Conv2D"
		cfg.In = v.InShape()
		cfg.OutChannels = v.OutShape().Channels
		cfg.KernelSize = v.KernelSize()
		cfg.Stride = v.Stride()
		cfg.Padding = v.Padding()
		cfg.Activation = activations.Name(v.Activation())
	case *layer.MaxPool2D:
		cfg.Type = "MaxPool2D"
		cfg.In = v.InShape()
		cfg.KernelSize = v.KernelSize()
		cfg.Stride = v.Stride()
		cfg.Padding = v.Padding()
	case *layer.Dropout:
		cfg.Type = "Dropout"
		cfg.P = v.P()
	case *layer.Flatten:
		cfg.Type = "Flatten"
		cfg.In = v.InShape()
	case *layer.Activation:
		cfg.Type = "Activation"
		cfg.Activation = activations.Name(v.Func())
	case *layer.SimpleRNN:
		cfg.Type = "SimpleRNN"
		cfg.InSize = v.StepSize()
		cfg.OutSize = v.Hidden()
		cfg.Steps = v.Steps()
		cfg.ReturnSequences = v.ReturnSequences()
		cfg.ClipNorm = v.ClipNorm
	default:
		return cfg, fmt.Errorf("unsupported layer type %T", l)
	}
	return cfg, nil
}

// CreateLayer creates a new layer from the configuration. Parameters are
// freshly initialised and must be overwritten with SetParams.
func (c *LayerConfig) CreateLayer() (layer.Layer, error) {
	act, err := activations.ByName(c.Activation)
	if err != nil {
		return nil, err
	}

	switch c.Type {
	case "Dense":
		return layer.NewDense(c.InSize, c.OutSize, act), nil
	case "Conv2D":
		return layer.NewConv2D(c.In.Channels, c.In.Height, c.In.Width,
			c.OutChannels, c.KernelSize, c.Stride, c.Padding, act), nil
	case "MaxPool2D":
		return layer.NewMaxPool2D(c.In.Channels, c.In.Height, c.In.Width,
			c.KernelSize, c.Stride, c.Padding), nil
	case "Dropout":
		return layer.NewDropout(c.P, c.InSize), nil
	case "Flatten":
		return layer.NewFlatten(c.In), nil
	case "Activation":
		return layer.NewActivation(act, c.InSize), nil
	case "SimpleRNN":
		r := layer.NewSimpleRNN(c.InSize, c.OutSize, c.Steps, c.ReturnSequences)
		r.ClipNorm = c.ClipNorm
		return r, nil
	}
	return nil, fmt.Errorf("unsupported layer type: %s", c.Type)
}
