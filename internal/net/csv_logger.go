package net

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVLogger logs one row of metrics per epoch to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool
	// Errors reports I/O problems; training is never interrupted by them.
	Errors io.Writer

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
		Errors:   os.Stderr,
	}
}

var csvHeader = []string{"epoch", "loss", "accuracy", "val_loss", "val_accuracy", "time_seconds"}

func (c *CSVLogger) OnTrainBegin(n *Network) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0o644)
	if err != nil {
		c.report("failed to open file %s: %v", c.Filename, err)
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.write(csvHeader)
	}
}

func (c *CSVLogger) OnEpochEnd(epoch int, m EpochMetrics, n *Network) {
	if c.writer == nil {
		return
	}
	val := func(v float64) string {
		if !m.HasVal {
			return ""
		}
		return strconv.FormatFloat(v, 'f', 6, 64)
	}
	c.write([]string{
		strconv.Itoa(epoch),
		strconv.FormatFloat(m.Loss, 'f', 6, 64),
		strconv.FormatFloat(m.Accuracy, 'f', 6, 64),
		val(m.ValLoss),
		val(m.ValAccuracy),
		fmt.Sprintf("%.2f", time.Since(c.start).Seconds()),
	})
}

func (c *CSVLogger) OnTrainEnd(n *Network) {
	if c.file == nil {
		return
	}
	c.writer.Flush()
	if err := c.file.Close(); err != nil {
		c.report("failed to close %s: %v", c.Filename, err)
	}
	c.file = nil
	c.writer = nil
}

func (c *CSVLogger) write(record []string) {
	if err := c.writer.Write(record); err != nil {
		c.report("failed to write record: %v", err)
		return
	}
	c.writer.Flush()
}

func (c *CSVLogger) report(format string, args ...interface{}) {
	if c.Errors != nil {
		fmt.Fprintf(c.Errors, "CSVLogger: "+format+"\n", args...)
	}
}
