package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCSV loads a labelled set in the Kaggle MNIST layout: one sample per
// line, the label in labelCol and every other column a pixel value in
// [0, 255]. hasHeader skips the first line. rows×cols describes the image and
// must match the number of pixel columns.
func LoadCSV(filename string, labelCol int, hasHeader bool, rows, cols, classes int) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true
	if hasHeader {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("failed to read csv header: %w", err)
		}
	}

	d := &Dataset{Classes: classes, Rows: rows, Cols: cols}
	numFeatures := rows * cols
	line := 0
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++
		if len(record) != numFeatures+1 {
			return nil, fmt.Errorf("row %d has %d columns, want %d", line, len(record), numFeatures+1)
		}
		if labelCol < 0 || labelCol >= len(record) {
			return nil, fmt.Errorf("label column %d out of range", labelCol)
		}

		sample := make([]float64, 0, numFeatures)
		var label int
		for j, valStr := range record {
			if j == labelCol {
				label, err = strconv.Atoi(valStr)
				if err != nil || label < 0 || label >= classes {
					return nil, fmt.Errorf("invalid label %q at row %d", valStr, line)
				}
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse value at row %d, col %d: %w", line, j, err)
			}
			sample = append(sample, val/255)
		}
		d.Samples = append(d.Samples, sample)
		d.Labels = append(d.Labels, label)
	}

	if d.Len() == 0 {
		return nil, fmt.Errorf("csv file has no data rows")
	}
	return d, nil
}
