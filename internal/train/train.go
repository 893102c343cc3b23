// Package train implements the model training job: load an acquired
// dataset, infer the prediction target, fit a small pool of candidate
// models within a wall-clock budget, and persist the best one.
package train

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/model"
)

const holdoutFraction = 0.2

// Trainer executes training jobs. Model artifacts land under
// dataDir/models/<job-id>/.
type Trainer struct {
	store   job.Store
	dataDir string
	logger  *slog.Logger
}

// NewTrainer creates the training executor.
func NewTrainer(store job.Store, dataDir string, logger *slog.Logger) *Trainer {
	return &Trainer{
		store:   store,
		dataDir: dataDir,
		logger:  logger.With("component", "trainer"),
	}
}

// Kind identifies the executor.
func (t *Trainer) Kind() model.JobKind { return model.JobKindTraining }

// Execute runs one training job. The budget is wall clock over the whole
// job; exceeding it fails the job with model.ErrResourceExceeded. Failed
// and cancelled jobs leave no model artifact behind.
func (t *Trainer) Execute(ctx context.Context, j model.Job, progress *job.Reporter) (json.RawMessage, error) {
	var req model.TrainRequest
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return nil, fmt.Errorf("train: decode payload: %w: %v", model.ErrInvalidInput, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !filepath.IsLocal(req.DatasetRef) {
		return nil, fmt.Errorf("train: dataset ref %q escapes the data dir: %w", req.DatasetRef, model.ErrInvalidInput)
	}

	budget := time.Duration(req.BudgetSeconds) * time.Second
	if req.BudgetSeconds == 0 {
		budget = model.DefaultTrainBudgetSeconds * time.Second
	}
	deadline := time.Now().Add(budget)
	check := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("train: budget of %s exhausted: %w", budget, model.ErrResourceExceeded)
		}
		return nil
	}

	progress.Report(ctx, model.PhaseLoad, 2, "loading dataset")
	tbl, err := loadTable(filepath.Join(t.dataDir, req.DatasetRef))
	if err != nil {
		return nil, err
	}
	progress.Report(ctx, model.PhaseLoad, 10, fmt.Sprintf("loaded %d rows, %d columns", len(tbl.rows), len(tbl.header)))
	if err := check(); err != nil {
		return nil, err
	}

	targetIdx, inferred, err := tbl.resolveTarget(req.TargetColumn)
	if err != nil {
		return nil, err
	}
	progress.Report(ctx, model.PhaseInferTarget, 12, fmt.Sprintf("target column %q", tbl.header[targetIdx]))

	m, err := tbl.encode(targetIdx)
	if err != nil {
		return nil, err
	}
	seed := binary.BigEndian.Uint64(j.ID[:8])
	trainSet, holdout := m.split(holdoutFraction, seed)
	if err := check(); err != nil {
		return nil, err
	}

	candidates, err := t.fitCandidates(ctx, trainSet, check, progress)
	if err != nil {
		return nil, err
	}

	progress.Report(ctx, model.PhaseEvaluate, 82, fmt.Sprintf("evaluating %d candidates on %d holdout rows", len(candidates), len(holdout.features)))
	best, metrics := evaluate(candidates, holdout)
	if err := check(); err != nil {
		return nil, err
	}

	progress.Report(ctx, model.PhaseFinalize, 96, "persisting best model")
	artifactRef, err := t.persist(ctx, j.ID, req, tbl.header[targetIdx], inferred, m.taskType, best, metrics)
	if err != nil {
		return nil, err
	}

	result := model.TrainingResult{
		BestModelID:    best.id,
		TargetColumn:   tbl.header[targetIdx],
		TargetInferred: inferred,
		TaskType:       m.taskType,
		Metrics:        metrics,
		ArtifactRef:    artifactRef,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("train: encode result: %w", err)
	}

	t.logger.Info("training finished",
		"job_id", j.ID, "dataset", req.DatasetRef, "task", m.taskType,
		"target", tbl.header[targetIdx], "best_model", best.id)
	return out, nil
}

// fitCandidates fits the model pool for the task type. The baseline is
// always first so a budget that expires mid-pool still leaves something
// to evaluate against.
func (t *Trainer) fitCandidates(ctx context.Context, trainSet *matrix, check checkpoint, progress *job.Reporter) ([]*fitted, error) {
	switch trainSet.taskType {
	case "classification":
		progress.Report(ctx, model.PhaseFit, 20, "fitting majority baseline")
		candidates := []*fitted{fitMajority(trainSet)}
		progress.Report(ctx, model.PhaseFit, 40, "fitting logistic regression")
		lr, err := fitLogistic(trainSet, check)
		if err != nil {
			return nil, err
		}
		return append(candidates, lr), nil
	default:
		progress.Report(ctx, model.PhaseFit, 20, "fitting mean baseline")
		candidates := []*fitted{fitMean(trainSet)}
		progress.Report(ctx, model.PhaseFit, 40, "fitting linear regression")
		lin, err := fitLinear(trainSet, check)
		if err != nil {
			return nil, err
		}
		return append(candidates, lin), nil
	}
}

// evaluate scores every candidate on the holdout and returns the winner
// with its metrics. Ties go to the earlier candidate, which keeps the
// simpler model when it matches a fancier one.
func evaluate(candidates []*fitted, holdout *matrix) (*fitted, []model.Metric) {
	best := candidates[0]
	var bestScore float64
	scores := make(map[string]float64, len(candidates))

	if holdout.taskType == "classification" {
		bestScore = -1
		for _, c := range candidates {
			acc := accuracy(c, holdout)
			scores[c.id] = acc
			if acc > bestScore {
				best, bestScore = c, acc
			}
		}
		return best, []model.Metric{
			{Name: "accuracy", Value: scores[best.id]},
			{Name: "baseline_accuracy", Value: scores[candidates[0].id]},
			{Name: "holdout_rows", Value: float64(len(holdout.features))},
		}
	}

	bestScore = rmse(candidates[0], holdout)
	scores[candidates[0].id] = bestScore
	best = candidates[0]
	for _, c := range candidates[1:] {
		e := rmse(c, holdout)
		scores[c.id] = e
		if e < bestScore {
			best, bestScore = c, e
		}
	}
	return best, []model.Metric{
		{Name: "rmse", Value: scores[best.id]},
		{Name: "baseline_rmse", Value: scores[candidates[0].id]},
		{Name: "holdout_rows", Value: float64(len(holdout.features))},
	}
}

// persist writes the model artifact and records it. A failure after the
// file is written removes it again: artifacts exist only for jobs that
// reach the succeeded state.
func (t *Trainer) persist(ctx context.Context, jobID uuid.UUID, req model.TrainRequest, target string, inferred bool, taskType string, best *fitted, metrics []model.Metric) (string, error) {
	jobDir := filepath.Join(t.dataDir, "models", jobID.String())
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return "", fmt.Errorf("train: create model dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			if err := os.RemoveAll(jobDir); err != nil {
				t.logger.Warn("model cleanup failed", "job_id", jobID, "dir", jobDir, "error", err)
			}
		}
	}()

	doc := map[string]any{
		"model_id":        best.id,
		"task_type":       taskType,
		"dataset_ref":     req.DatasetRef,
		"target_column":   target,
		"target_inferred": inferred,
		"metrics":         metrics,
		"parameters":      best.params,
		"trained_at":      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("train: encode model: %w", err)
	}

	path := filepath.Join(jobDir, "model.json")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("train: write model: %w", err)
	}

	localRef := filepath.Join("models", jobID.String(), "model.json")
	artifact := model.Artifact{
		ID:        uuid.New(),
		JobID:     jobID,
		Kind:      "model",
		LocalRef:  localRef,
		SizeBytes: int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}
	if err := t.store.CreateArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("train: record artifact: %w", err)
	}

	cleanup = false
	return localRef, nil
}
