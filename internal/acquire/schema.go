package acquire

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/datascout-ai/datascout/internal/model"
)

const (
	// scanRows caps how many rows type inference reads. Enough for a
	// stable read of column types without a full pass over large files.
	scanRows = 10000

	sampleRows      = 5
	distinctHintCap = 50
)

// summarizeCSV derives a schema summary from a CSV file: column names from
// the header row, inferred types, null counts and a small row sample.
// Rows with a deviant field count are skipped rather than failing the scan.
func summarizeCSV(path string) (model.SchemaSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.SchemaSummary{}, fmt.Errorf("acquire: open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return model.SchemaSummary{}, fmt.Errorf("acquire: read csv header: %w: %v", model.ErrInvalidInput, err)
	}

	cols := make([]columnScan, len(header))
	for i, name := range header {
		cols[i] = columnScan{name: strings.TrimSpace(name), distinct: make(map[string]struct{})}
	}

	summary := model.SchemaSummary{}
	for summary.RowCount < scanRows {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(row) != len(header) {
			continue
		}
		summary.RowCount++
		if len(summary.RowSample) < sampleRows {
			summary.RowSample = append(summary.RowSample, row)
		}
		for i, v := range row {
			cols[i].observe(v)
		}
	}

	summary.Columns = make([]model.ColumnSummary, len(cols))
	for i, c := range cols {
		summary.Columns[i] = c.summary()
	}
	return summary, nil
}

// columnScan accumulates per-column observations during the scan.
type columnScan struct {
	name     string
	nulls    int
	values   int
	ints     int
	floats   int
	bools    int
	distinct map[string]struct{}
}

func (c *columnScan) observe(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		c.nulls++
		return
	}
	c.values++
	if len(c.distinct) < distinctHintCap {
		c.distinct[v] = struct{}{}
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		c.ints++
		return
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		c.floats++
		return
	}
	switch strings.ToLower(v) {
	case "true", "false":
		c.bools++
	}
}

// summary resolves the widest type the observed values need: all integers
// stay integer, integers mixed with floats widen to float, anything else
// is a string.
func (c *columnScan) summary() model.ColumnSummary {
	inferred := "string"
	switch {
	case c.values > 0 && c.ints == c.values:
		inferred = "integer"
	case c.values > 0 && c.ints+c.floats == c.values:
		inferred = "float"
	case c.values > 0 && c.bools == c.values:
		inferred = "boolean"
	}
	return model.ColumnSummary{
		Name:         c.name,
		InferredType: inferred,
		NullCount:    c.nulls,
		DistinctHint: len(c.distinct),
	}
}
