package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// IDX magic numbers: unsigned byte data with 3 and 1 dimensions.
const (
	imagesMagic = 2051
	labelsMagic = 2049

	// maxIDXItems guards against allocating from a corrupt header.
	maxIDXItems = 1 << 28
)

var (
	// ErrBadMagic is returned when an IDX header has the wrong magic number.
	ErrBadMagic = errors.New("invalid IDX magic number")
	// ErrTruncated is returned when an IDX file ends before its declared size.
	ErrTruncated = errors.New("truncated IDX file")
	// ErrBadHeader is returned when IDX dimensions are zero or too large.
	ErrBadHeader = errors.New("invalid IDX dimensions")
)

// ReadImages reads an IDX image file (magic 2051):
//
//	magic number: 4 bytes
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
func ReadImages(r io.Reader) (images [][]byte, rows, cols int, err error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read image header: %w", truncated(err))
	}
	if header[0] != imagesMagic {
		return nil, 0, 0, fmt.Errorf("%w: got %d, want %d", ErrBadMagic, header[0], imagesMagic)
	}
	n, h, w := uint64(header[1]), uint64(header[2]), uint64(header[3])
	if h == 0 || w == 0 || h > maxIDXItems || w > maxIDXItems ||
		h*w > maxIDXItems || n > maxIDXItems/(h*w) {
		return nil, 0, 0, fmt.Errorf("%w: %d images of %d×%d", ErrBadHeader, n, h, w)
	}
	count := int(n)
	rows, cols = int(h), int(w)

	imageSize := rows * cols
	buf := make([]byte, count*imageSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read %d images: %w", count, truncated(err))
	}
	images = make([][]byte, count)
	for i := range images {
		images[i] = buf[i*imageSize : (i+1)*imageSize]
	}
	return images, rows, cols, nil
}

// ReadLabels reads an IDX label file (magic 2049):
//
//	magic number: 4 bytes
//	number of labels: 4 bytes
//	label data: unsigned bytes
func ReadLabels(r io.Reader) ([]byte, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read label header: %w", truncated(err))
	}
	if header[0] != labelsMagic {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadMagic, header[0], labelsMagic)
	}
	if header[1] > maxIDXItems {
		return nil, fmt.Errorf("%w: %d labels", ErrBadHeader, header[1])
	}
	labels := make([]byte, header[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read %d labels: %w", header[1], truncated(err))
	}
	return labels, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

// openIDX opens path, transparently decompressing it when the name ends in
// .gz.
func openIDX(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return struct {
			io.Reader
			io.Closer
		}{bufio.NewReader(f), f}, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.f.Close(); err != nil {
		return err
	}
	return zerr
}

// FromIDX converts raw images and labels into a Dataset with pixels scaled
// to [0, 1].
func FromIDX(images [][]byte, labels []byte, rows, cols, classes int) (*Dataset, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("count mismatch: %d images but %d labels", len(images), len(labels))
	}
	d := &Dataset{
		Samples: make([][]float64, len(images)),
		Labels:  make([]int, len(labels)),
		Classes: classes,
		Rows:    rows,
		Cols:    cols,
	}
	backing := make([]float64, len(images)*rows*cols)
	for i, img := range images {
		s := backing[i*rows*cols : (i+1)*rows*cols]
		for j, p := range img {
			s[j] = float64(p) / 255
		}
		d.Samples[i] = s
		if int(labels[i]) >= classes {
			return nil, fmt.Errorf("label %d at index %d exceeds %d classes", labels[i], i, classes)
		}
		d.Labels[i] = int(labels[i])
	}
	return d, nil
}
