package train

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/datascout-ai/datascout/internal/model"
)

const (
	// maxTrainRows caps how much of a dataset training reads.
	maxTrainRows = 100000

	// oneHotCap is the category limit above which a categorical feature
	// column is dropped instead of one-hot encoded.
	oneHotCap = 10

	// classDistinctCap: a numeric target with more distinct values than
	// this is treated as a regression target, not class labels.
	classDistinctCap = 20
)

// targetNames are column names that strongly suggest the prediction target,
// checked case-insensitively when the caller names no target.
var targetNames = []string{"target", "label", "class", "outcome", "y"}

// table is a parsed CSV with a header.
type table struct {
	header []string
	rows   [][]string
}

func loadTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("train: open dataset: %w: %v", model.ErrNotFound, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("train: read dataset header: %w: %v", model.ErrInvalidInput, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &table{header: header}
	for len(t.rows) < maxTrainRows {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(row) != len(header) {
			continue
		}
		t.rows = append(t.rows, row)
	}
	if len(t.rows) < 2 {
		return nil, fmt.Errorf("train: dataset has %d usable rows, need at least 2: %w", len(t.rows), model.ErrInvalidInput)
	}
	return t, nil
}

// resolveTarget picks the target column. An explicit name must exist; with
// none given, a label-like column name wins, then the last column.
func (t *table) resolveTarget(requested string) (idx int, inferred bool, err error) {
	if requested != "" {
		for i, name := range t.header {
			if strings.EqualFold(name, requested) {
				return i, false, nil
			}
		}
		return 0, false, fmt.Errorf("train: target column %q not in dataset: %w", requested, model.ErrInvalidInput)
	}
	for _, want := range targetNames {
		for i, name := range t.header {
			if strings.EqualFold(name, want) {
				return i, true, nil
			}
		}
	}
	return len(t.header) - 1, true, nil
}

// matrix is the numeric design matrix for model fitting.
type matrix struct {
	features [][]float64
	featDim  int

	taskType string // "classification" or "regression"

	// Classification targets, label-encoded.
	classes []string
	labels  []int

	// Regression targets.
	targets []float64
}

// encode builds the design matrix: numeric columns standardized, low
// cardinality categorical columns one-hot encoded, the rest dropped.
// Rows with a missing target are dropped; missing feature values become
// the column mean (numeric) or all-zero (one-hot).
func (t *table) encode(targetIdx int) (*matrix, error) {
	target := make([]string, 0, len(t.rows))
	kept := make([][]string, 0, len(t.rows))
	for _, row := range t.rows {
		v := strings.TrimSpace(row[targetIdx])
		if v == "" {
			continue
		}
		target = append(target, v)
		kept = append(kept, row)
	}
	if len(kept) < 2 {
		return nil, fmt.Errorf("train: too few rows with a target value: %w", model.ErrInvalidInput)
	}

	m := &matrix{taskType: taskTypeFor(target)}
	switch m.taskType {
	case "classification":
		index := map[string]int{}
		for _, v := range target {
			if _, ok := index[v]; !ok {
				index[v] = len(m.classes)
				m.classes = append(m.classes, v)
			}
			m.labels = append(m.labels, index[v])
		}
	case "regression":
		for _, v := range target {
			f, _ := strconv.ParseFloat(v, 64)
			m.targets = append(m.targets, f)
		}
	}

	// Column-wise feature encoders.
	var encoders []func(row []string, out []float64)
	dim := 0
	for col := range t.header {
		if col == targetIdx {
			continue
		}
		enc, width := t.columnEncoder(kept, col, dim)
		if enc == nil {
			continue
		}
		encoders = append(encoders, enc)
		dim += width
	}
	if dim == 0 {
		return nil, fmt.Errorf("train: no usable feature columns: %w", model.ErrInvalidInput)
	}
	m.featDim = dim

	m.features = make([][]float64, len(kept))
	for i, row := range kept {
		out := make([]float64, dim)
		for _, enc := range encoders {
			enc(row, out)
		}
		m.features[i] = out
	}
	return m, nil
}

// columnEncoder returns an encoder writing this column's features starting
// at offset, plus the number of slots it uses. Nil means skip the column.
func (t *table) columnEncoder(rows [][]string, col, offset int) (func(row []string, out []float64), int) {
	numeric := 0
	nonEmpty := 0
	var sum float64
	distinct := map[string]struct{}{}
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		nonEmpty++
		distinct[v] = struct{}{}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			numeric++
			sum += f
		}
	}
	if nonEmpty == 0 {
		return nil, 0
	}

	if numeric == nonEmpty {
		mean := sum / float64(nonEmpty)
		var varsum float64
		for _, row := range rows {
			if f, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64); err == nil {
				varsum += (f - mean) * (f - mean)
			}
		}
		std := 1.0
		if varsum > 0 {
			std = math.Sqrt(varsum / float64(nonEmpty))
		}
		return func(row []string, out []float64) {
			v := strings.TrimSpace(row[col])
			f, err := strconv.ParseFloat(v, 64)
			if v == "" || err != nil {
				f = mean
			}
			out[offset] = (f - mean) / std
		}, 1
	}

	if len(distinct) > oneHotCap {
		return nil, 0
	}
	categories := make(map[string]int, len(distinct))
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if _, ok := categories[v]; !ok {
			categories[v] = len(categories)
		}
	}
	return func(row []string, out []float64) {
		if slot, ok := categories[strings.TrimSpace(row[col])]; ok {
			out[offset+slot] = 1
		}
	}, len(categories)
}

// taskTypeFor inspects target values: all numeric with enough distinct
// values means regression, anything else is classification.
func taskTypeFor(values []string) string {
	distinct := map[string]struct{}{}
	numeric := 0
	for _, v := range values {
		distinct[v] = struct{}{}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			numeric++
		}
	}
	if numeric == len(values) && len(distinct) > classDistinctCap {
		return "regression"
	}
	return "classification"
}

// split partitions the matrix into train and holdout sets. The shuffle is
// seeded per call so repeated runs over the same data split identically.
func (m *matrix) split(holdoutFrac float64, seed uint64) (train, holdout *matrix) {
	n := len(m.features)
	perm := rand.New(rand.NewPCG(seed, 0)).Perm(n)

	cut := n - int(float64(n)*holdoutFrac)
	if cut < 1 {
		cut = 1
	}
	if cut == n {
		cut = n - 1
	}

	pick := func(idx []int) *matrix {
		sub := &matrix{taskType: m.taskType, featDim: m.featDim, classes: m.classes}
		for _, i := range idx {
			sub.features = append(sub.features, m.features[i])
			if m.taskType == "classification" {
				sub.labels = append(sub.labels, m.labels[i])
			} else {
				sub.targets = append(sub.targets, m.targets[i])
			}
		}
		return sub
	}
	return pick(perm[:cut]), pick(perm[cut:])
}
