package train

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/model"
)

func newTrainer(t *testing.T) (*Trainer, *job.MemoryStore, string) {
	t.Helper()
	store := job.NewMemoryStore()
	dataDir := t.TempDir()
	return NewTrainer(store, dataDir, slog.Default()), store, dataDir
}

func writeDataset(t *testing.T, dataDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(dataDir, "datasets", "test")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	return filepath.Join("datasets", "test", name)
}

func trainJob(t *testing.T, req model.TrainRequest) model.Job {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return model.Job{ID: uuid.New(), Kind: model.JobKindTraining, State: model.JobRunning, Payload: payload}
}

func reporter(store *job.MemoryStore, id uuid.UUID) *job.Reporter {
	return job.NewReporter(store, job.NewBroker(64), id, 1)
}

// separableCSV builds a linearly separable two-class dataset whose last
// column is the categorical outcome, with no label-like column name.
func separableCSV(rows int) string {
	rng := rand.New(rand.NewPCG(7, 0))
	var b strings.Builder
	b.WriteString("weight,height,species\n")
	for i := 0; i < rows; i++ {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%.2f,%.2f,heron\n", 1+rng.Float64(), 1+rng.Float64())
		} else {
			fmt.Fprintf(&b, "%.2f,%.2f,crane\n", 5+rng.Float64(), 5+rng.Float64())
		}
	}
	return b.String()
}

func TestExecuteClassificationInfersLastColumn(t *testing.T) {
	tr, store, dataDir := newTrainer(t)
	ref := writeDataset(t, dataDir, "birds.csv", separableCSV(200))
	j := trainJob(t, model.TrainRequest{DatasetRef: ref})

	out, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	require.NoError(t, err)

	var result model.TrainingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "classification", result.TaskType)
	assert.Equal(t, "species", result.TargetColumn)
	assert.True(t, result.TargetInferred)
	assert.Equal(t, "logistic_regression", result.BestModelID, "separable classes must beat the majority baseline")

	metrics := metricMap(result.Metrics)
	assert.Greater(t, metrics["accuracy"], 0.9)
	assert.GreaterOrEqual(t, metrics["accuracy"], metrics["baseline_accuracy"])

	assert.FileExists(t, filepath.Join(dataDir, result.ArtifactRef))
	artifacts, err := store.ListArtifacts(context.Background(), j.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "model", artifacts[0].Kind)
}

func TestExecuteRegressionExplicitTarget(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	var b strings.Builder
	b.WriteString("x1,x2,price\n")
	for i := 0; i < 300; i++ {
		x1 := rng.Float64() * 10
		x2 := rng.Float64() * 10
		fmt.Fprintf(&b, "%.3f,%.3f,%.3f\n", x1, x2, 3*x1-2*x2+5+rng.Float64()*0.1)
	}

	tr, store, dataDir := newTrainer(t)
	ref := writeDataset(t, dataDir, "prices.csv", b.String())
	j := trainJob(t, model.TrainRequest{DatasetRef: ref, TargetColumn: "price"})

	out, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	require.NoError(t, err)

	var result model.TrainingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "regression", result.TaskType)
	assert.Equal(t, "price", result.TargetColumn)
	assert.False(t, result.TargetInferred)
	assert.Equal(t, "linear_regression", result.BestModelID)

	metrics := metricMap(result.Metrics)
	assert.Less(t, metrics["rmse"], metrics["baseline_rmse"], "the fit must beat predicting the mean")
}

func TestExecuteLabelColumnPreferredOverLast(t *testing.T) {
	var b strings.Builder
	b.WriteString("label,reading\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "on,%d\n", i)
		fmt.Fprintf(&b, "off,%d\n", i+100)
	}

	tr, store, dataDir := newTrainer(t)
	ref := writeDataset(t, dataDir, "switch.csv", b.String())
	j := trainJob(t, model.TrainRequest{DatasetRef: ref})

	out, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	require.NoError(t, err)

	var result model.TrainingResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "label", result.TargetColumn)
	assert.True(t, result.TargetInferred)
}

func TestExecuteUnknownTargetColumn(t *testing.T) {
	tr, store, dataDir := newTrainer(t)
	ref := writeDataset(t, dataDir, "birds.csv", separableCSV(20))
	j := trainJob(t, model.TrainRequest{DatasetRef: ref, TargetColumn: "wingspan"})

	_, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestExecuteMissingDataset(t *testing.T) {
	tr, store, _ := newTrainer(t)
	j := trainJob(t, model.TrainRequest{DatasetRef: "datasets/nope/gone.csv"})

	_, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestExecuteRejectsEscapingRef(t *testing.T) {
	tr, store, _ := newTrainer(t)
	j := trainJob(t, model.TrainRequest{DatasetRef: "../../etc/passwd"})

	_, err := tr.Execute(context.Background(), j, reporter(store, j.ID))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestExecuteCancelledLeavesNoArtifact(t *testing.T) {
	tr, store, dataDir := newTrainer(t)
	ref := writeDataset(t, dataDir, "birds.csv", separableCSV(200))
	j := trainJob(t, model.TrainRequest{DatasetRef: ref})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Execute(ctx, j, reporter(store, j.ID))
	require.ErrorIs(t, err, context.Canceled)

	assert.NoDirExists(t, filepath.Join(dataDir, "models", j.ID.String()))
	artifacts, err := store.ListArtifacts(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestFitAbortsOnExhaustedBudget(t *testing.T) {
	tbl := &table{
		header: []string{"x", "y"},
		rows:   [][]string{{"1", "a"}, {"2", "b"}, {"3", "a"}, {"4", "b"}},
	}
	m, err := tbl.encode(1)
	require.NoError(t, err)

	budgetErr := fmt.Errorf("train: budget exhausted: %w", model.ErrResourceExceeded)
	_, err = fitLogistic(m, func() error { return budgetErr })
	assert.ErrorIs(t, err, model.ErrResourceExceeded)
}

func TestTaskTypeFor(t *testing.T) {
	categorical := []string{"yes", "no", "yes", "no"}
	assert.Equal(t, "classification", taskTypeFor(categorical))

	smallInts := []string{"0", "1", "0", "1"}
	assert.Equal(t, "classification", taskTypeFor(smallInts), "few distinct numeric values are class codes")

	continuous := make([]string, 50)
	for i := range continuous {
		continuous[i] = fmt.Sprintf("%.3f", float64(i)*1.7)
	}
	assert.Equal(t, "regression", taskTypeFor(continuous))
}

func TestSplitIsDeterministic(t *testing.T) {
	tbl := &table{header: []string{"x", "label"}}
	for i := 0; i < 50; i++ {
		tbl.rows = append(tbl.rows, []string{fmt.Sprintf("%d", i), fmt.Sprintf("c%d", i%3)})
	}
	m, err := tbl.encode(1)
	require.NoError(t, err)

	a1, b1 := m.split(0.2, 99)
	a2, b2 := m.split(0.2, 99)
	assert.Equal(t, a1.labels, a2.labels)
	assert.Equal(t, b1.labels, b2.labels)
	assert.Len(t, b1.features, 10)
}

func metricMap(metrics []model.Metric) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		out[m.Name] = m.Value
	}
	return out
}
