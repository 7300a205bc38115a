package runner

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/nnlab/internal/activations"
	"github.com/FlavioCFOliveira/nnlab/internal/layer"
	"github.com/FlavioCFOliveira/nnlab/internal/loss"
	"github.com/FlavioCFOliveira/nnlab/internal/net"
	"github.com/FlavioCFOliveira/nnlab/internal/opt"
)

func start(t *testing.T, out io.Writer, args ...string) *Run {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	r, err := Start("lesson", fs, append([]string{"-out", t.TempDir()}, args...), out)
	require.NoError(t, err)
	return r
}

func TestStartWritesMeta(t *testing.T) {
	var out bytes.Buffer
	r := start(t, &out, "-synthetic", "-epochs", "7")

	assert.Equal(t, 7, r.Config.Train.Epochs)
	assert.DirExists(t, r.Dir)
	assert.Contains(t, out.String(), r.ID.String())
	assert.Contains(t, out.String(), "cores")

	meta, err := ReadMeta(r.Dir)
	require.NoError(t, err)
	assert.Equal(t, r.ID.String(), meta.ID)
	assert.Equal(t, "lesson", meta.Command)
	assert.True(t, meta.Config.Data.Synthetic)
	assert.Equal(t, 7, meta.Config.Train.Epochs)
	assert.GreaterOrEqual(t, r.Workers(), 1)
}

func TestStartErrors(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err := Start("lesson", fs, []string{"-no-such-flag"}, io.Discard)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("train:\n  optimizer: lbfgs\n"), 0o644))
	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	_, err = Start("lesson", fs, []string{"-config", bad}, io.Discard)
	assert.ErrorContains(t, err, "lbfgs")
}

func TestConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lesson.yaml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  epochs: 3\n  optimizer: sgd\n"), 0o644))
	r := start(t, io.Discard, "-config", path, "-lr", "0.5")
	assert.Equal(t, 3, r.Config.Train.Epochs)
	assert.Equal(t, 0.5, r.Config.Train.LearningRate)

	o, err := r.Optimizer()
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestDataMissingMNIST(t *testing.T) {
	r := start(t, io.Discard, "-data", filepath.Join(t.TempDir(), "nothing"))
	_, _, err := r.Data(context.Background())
	assert.ErrorContains(t, err, "-synthetic")
}

func TestFitSynthetic(t *testing.T) {
	var out bytes.Buffer
	r := start(t, &out, "-synthetic", "-train-size", "60", "-test-size", "20", "-epochs", "2", "-batch", "10")

	train, test, err := r.Data(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, train.Len())
	assert.Equal(t, 20, test.Len())

	layer.SetSeed(1)
	model := net.NewSequential(
		layer.NewDense(784, 16, activations.ReLU{}),
		layer.NewDense(16, 10, activations.Softmax{}),
	)
	o, err := r.Optimizer()
	require.NoError(t, err)
	model.Compile(o, loss.CrossEntropy{})

	h, err := r.Fit(model, train, test)
	require.NoError(t, err)
	require.Len(t, h.Epochs, 2)
	assert.True(t, h.Last().HasVal)

	assert.FileExists(t, r.Path(r.Config.Output.CSVLog))
	assert.FileExists(t, r.Path(r.Config.Output.Checkpoint))
	assert.FileExists(t, r.Path("loss.png"))
	assert.Contains(t, out.String(), "Test: loss")
	assert.Contains(t, out.String(), "Total params")

	back, err := net.Load(r.Path(r.Config.Output.Checkpoint))
	require.NoError(t, err)
	assert.Equal(t, 784, back.InSize())
}

// writeDigitsCSV writes n rows of label,pixel... with a header line.
func writeDigitsCSV(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("label")
	for i := 0; i < 784; i++ {
		b.WriteString(",p" + strconv.Itoa(i))
	}
	b.WriteByte('\n')
	for row := 0; row < n; row++ {
		b.WriteString(strconv.Itoa(row % 10))
		for i := 0; i < 784; i++ {
			b.WriteString("," + strconv.Itoa((row*31+i)%256))
		}
		b.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestDataCSV(t *testing.T) {
	dir := t.TempDir()
	trainCSV := filepath.Join(dir, "train.csv")
	testCSV := filepath.Join(dir, "test.csv")
	writeDigitsCSV(t, trainCSV, 50)
	writeDigitsCSV(t, testCSV, 7)

	cfgPath := filepath.Join(dir, "csv.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	}

	write("data:\n  csv:\n    train: " + trainCSV + "\n    header: true\n")
	var out bytes.Buffer
	r := start(t, &out, "-config", cfgPath)
	train, test, err := r.Data(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, train.Len())
	assert.Equal(t, 10, test.Len())
	assert.Equal(t, 784, train.Features())
	assert.Contains(t, out.String(), "CSV training")
	for _, px := range train.Samples[0] {
		assert.True(t, px >= 0 && px <= 1)
	}

	write("data:\n  csv:\n    train: " + trainCSV + "\n    test: " + testCSV + "\n    header: true\n")
	r = start(t, io.Discard, "-config", cfgPath, "-train-size", "20")
	train, test, err = r.Data(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, train.Len())
	assert.Equal(t, 7, test.Len())

	// without the header flag the header row fails to parse
	write("data:\n  csv:\n    train: " + trainCSV + "\n")
	r = start(t, io.Discard, "-config", cfgPath)
	_, _, err = r.Data(context.Background())
	assert.ErrorContains(t, err, trainCSV)
}

func TestFitAppliesScheduler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.yaml")
	body := "train:\n  optimizer: sgd\n  learning_rate: 0.4\n  validation: 0\n  patience: 0\n" +
		"  scheduler:\n    name: exponential\n    gamma: 0.5\noutput:\n  plots: false\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	var out bytes.Buffer
	r := start(t, &out, "-config", path, "-synthetic", "-train-size", "20", "-test-size", "10", "-epochs", "3", "-batch", "10")
	train, test, err := r.Data(context.Background())
	require.NoError(t, err)

	layer.SetSeed(1)
	model := net.NewSequential(layer.NewDense(784, 10, activations.Softmax{}))
	o, err := r.Optimizer()
	require.NoError(t, err)
	model.Compile(o, loss.CrossEntropy{})

	_, err = r.Fit(model, train, test)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, opt.LearningRate(o), 1e-12)
	assert.Contains(t, out.String(), "Final learning rate: 0.05 (exponential schedule)")
}
