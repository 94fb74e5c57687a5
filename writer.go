package cputrace

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/ianlancetaylor/demangle"
	"github.com/olekukonko/tablewriter"
	"github.com/zyedidia/cputrace/pkg/hwcounter"
)

// A MetricsWriter receives a dump as a header and rows. Writers that can fail
// also implement Error, which WriteStats checks after Render.
type MetricsWriter interface {
	SetHeader(headers []string)
	Append(record []string)
	Render()
}

// A CSVWriter writes a dump as CSV records, header first.
type CSVWriter struct {
	*csv.Writer
}

// NewCSVWriter returns a CSVWriter on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{Writer: csv.NewWriter(w)}
}

func (c *CSVWriter) SetHeader(headers []string) {
	c.Writer.Write(headers)
}

func (c *CSVWriter) Append(record []string) {
	c.Writer.Write(record)
}

// Render flushes buffered records.
func (c *CSVWriter) Render() {
	c.Writer.Flush()
}

// Error returns the first error from a previous SetHeader, Append or Render.
func (c *CSVWriter) Error() error {
	return c.Writer.Error()
}

// NewTableWriter returns a MetricsWriter that renders an ASCII table with
// left-aligned cells.
func NewTableWriter(w io.Writer) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// WriteStats writes one row per anchor with its call count, the total and
// per-call average of every metric captured by any anchor, and its error and
// dropped-sample counts. Metrics an anchor never captured are shown as "-".
// It returns the writer's error, if it reports one.
func WriteStats(w MetricsWriter, stats []Stats) error {
	var captured Flags
	for _, s := range stats {
		captured |= s.Metrics
	}
	metrics := captured.Metrics()

	header := []string{"anchor", "calls"}
	for _, m := range metrics {
		header = append(header, m.Label(), m.Label()+"/call")
	}
	header = append(header, "errors", "dropped")
	w.SetHeader(header)

	for _, s := range stats {
		row := []string{displayName(s.Name), strconv.FormatUint(s.Calls, 10)}
		for _, m := range metrics {
			if !s.Metrics.Has(m) {
				row = append(row, "-", "-")
				continue
			}
			row = append(row, strconv.FormatUint(s.Sums[m], 10), formatAverage(s, m))
		}
		row = append(row, strconv.FormatUint(s.Errors, 10), strconv.FormatUint(s.Dropped, 10))
		w.Append(row)
	}
	w.Render()

	if ew, ok := w.(interface{ Error() error }); ok {
		return ew.Error()
	}
	return nil
}

func formatAverage(s Stats, m hwcounter.Metric) string {
	if s.Calls == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", s.Average(m))
}

// displayName demangles anchor labels taken from C++ symbols; other names are
// returned unchanged.
func displayName(name string) string {
	return demangle.Filter(name)
}
