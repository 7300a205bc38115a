package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DefaultMirror serves the original gzip files.
const DefaultMirror = "https://storage.googleapis.com/cvdf-datasets/mnist/"

// MNIST file names and the sha256 digests of their gzip form.
var mnistFiles = []struct {
	name, sha256 string
}{
	{"train-images-idx3-ubyte", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"},
	{"train-labels-idx1-ubyte", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"},
	{"t10k-images-idx3-ubyte", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"},
	{"t10k-labels-idx1-ubyte", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"},
}

// ErrNotFound is returned by Load when a dataset file is in neither plain nor
// gzip form in the directory.
var ErrNotFound = errors.New("mnist file not found")

// Load reads the MNIST training and test sets from dir, accepting either the
// plain IDX files or their .gz versions.
func Load(dir string) (train, test *Dataset, err error) {
	train, err = LoadSet(dir, mnistFiles[0].name, mnistFiles[1].name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load training set: %w", err)
	}
	test, err = LoadSet(dir, mnistFiles[2].name, mnistFiles[3].name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load test set: %w", err)
	}
	return train, test, nil
}

// LoadSet reads one pair of IDX image and label files from dir.
func LoadSet(dir, imagesName, labelsName string) (*Dataset, error) {
	imgPath, err := find(dir, imagesName)
	if err != nil {
		return nil, err
	}
	lblPath, err := find(dir, labelsName)
	if err != nil {
		return nil, err
	}

	r, err := openIDX(imgPath)
	if err != nil {
		return nil, err
	}
	images, rows, cols, err := ReadImages(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imgPath, err)
	}

	r, err = openIDX(lblPath)
	if err != nil {
		return nil, err
	}
	labels, err := ReadLabels(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lblPath, err)
	}

	return FromIDX(images, labels, rows, cols, 10)
}

func find(dir, name string) (string, error) {
	for _, candidate := range []string{name, name + ".gz"} {
		p := filepath.Join(dir, candidate)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
}

// Download fetches the four gzip files from baseURL into dir, skipping files
// that are already present with the right digest.
func Download(ctx context.Context, client *http.Client, dir, baseURL string) error {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultMirror
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	for _, f := range mnistFiles {
		path := filepath.Join(dir, f.name+".gz")
		if sum, err := fileSHA256(path); err == nil && sum == f.sha256 {
			continue
		}
		if err := fetch(ctx, client, baseURL+f.name+".gz", path, f.sha256); err != nil {
			return err
		}
	}
	return nil
}

func fetch(ctx context.Context, client *http.Client, url, path, want string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("file hash for %s is incorrect: got %s, want %s", url, got, want)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
