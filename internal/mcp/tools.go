package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/datascout-ai/datascout/internal/model"
)

func (s *Server) registerTools() {
	// search_datasets — find datasets across all configured catalogs.
	s.mcpServer.AddTool(
		mcplib.NewTool("search_datasets",
			mcplib.WithDescription(`Search public dataset catalogs (Kaggle, Hugging Face, OpenML) with a natural language query.

The query is typo-corrected and distilled into keywords before the catalogs
are queried concurrently. With rerank=true the pooled candidates are ordered
by semantic similarity to your query; otherwise they are ordered by each
catalog's popularity signal.

WHAT YOU GET BACK:
- corrected_query and keywords: the normalized form of your query
- ranked_candidates: the best matches, each with source and external_id
- per_source_counts and warnings: which catalogs contributed and which degraded

Use the source and external_id of a candidate with acquire_dataset to
download it.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("Natural language description of the dataset you need, e.g. \"hous prices in california\" (typos are fine)"),
				mcplib.Required(),
			),
			mcplib.WithBoolean("rerank",
				mcplib.Description("Order results by semantic similarity to the query instead of raw popularity"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of ranked candidates to return"),
				mcplib.Min(1),
				mcplib.Max(25),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleSearchDatasets,
	)

	// acquire_dataset — download a dataset as a background job.
	s.mcpServer.AddTool(
		mcplib.NewTool("acquire_dataset",
			mcplib.WithDescription(`Download a dataset from a catalog into local storage as a background job.

Returns immediately with a job_id. Poll get_job_status for progress, or read
the datascout://jobs/{id}/events resource for the full event stream. On
success the job's result includes a dataset_ref and an inferred column
schema; pass the dataset_ref to train_model.`),
			mcplib.WithString("source",
				mcplib.Description("Catalog hosting the dataset"),
				mcplib.Required(),
				mcplib.Enum("kaggle", "huggingface", "openml"),
			),
			mcplib.WithString("external_id",
				mcplib.Description("Dataset identifier within the source, as returned by search_datasets"),
				mcplib.Required(),
			),
		),
		s.handleAcquireDataset,
	)

	// train_model — train a baseline model on an acquired dataset.
	s.mcpServer.AddTool(
		mcplib.NewTool("train_model",
			mcplib.WithDescription(`Train a model on a previously acquired dataset as a background job.

The task type (classification or regression) is inferred from the target
column, and the target column itself is inferred when omitted. Returns
immediately with a job_id; on success the job's result includes the chosen
model, its holdout metrics, and a model_ref.`),
			mcplib.WithString("dataset_ref",
				mcplib.Description("Dataset reference from a successful acquire_dataset job"),
				mcplib.Required(),
			),
			mcplib.WithString("target_column",
				mcplib.Description("Column to predict. If omitted, a label-like column is inferred."),
			),
			mcplib.WithNumber("budget_seconds",
				mcplib.Description("Wall-clock training budget in seconds"),
				mcplib.Min(1),
				mcplib.Max(model.MaxTrainBudgetSeconds),
				mcplib.DefaultNumber(model.DefaultTrainBudgetSeconds),
			),
		),
		s.handleTrainModel,
	)

	// get_job_status — snapshot of one job.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_job_status",
			mcplib.WithDescription(`Get the current state of a job: its lifecycle state, result or error, artifacts, and last progress sequence.

Call this after acquire_dataset or train_model to check on progress. A job
in state "succeeded" carries its result payload; "failed" carries an error
reason.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("job_id",
				mcplib.Description("UUID of the job"),
				mcplib.Required(),
			),
		),
		s.handleGetJobStatus,
	)

	// cancel_job — stop a queued or running job.
	s.mcpServer.AddTool(
		mcplib.NewTool("cancel_job",
			mcplib.WithDescription(`Cancel a queued or running job. Partial downloads and model files are cleaned up. Cancelling a job that already finished is an error.`),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("job_id",
				mcplib.Description("UUID of the job to cancel"),
				mcplib.Required(),
			),
		),
		s.handleCancelJob,
	)
}

func (s *Server) handleSearchDatasets(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}

	resp, err := s.searcher.Search(ctx, model.SearchRequest{
		Query:         query,
		WantReranking: request.GetBool("rerank", false),
		Limit:         request.GetInt("limit", 0),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(resp), nil
}

func (s *Server) handleAcquireDataset(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.AcquireRequest{
		Source:     model.SourceName(request.GetString("source", "")),
		ExternalID: request.GetString("external_id", ""),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal payload: %v", err)), nil
	}

	j, err := s.runner.Submit(ctx, model.JobKindAcquisition, payload)
	if err != nil {
		return errorResult(fmt.Sprintf("submit acquisition: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"job_id": j.ID,
		"kind":   j.Kind,
		"state":  j.State,
	}), nil
}

func (s *Server) handleTrainModel(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.TrainRequest{
		DatasetRef:    request.GetString("dataset_ref", ""),
		TargetColumn:  request.GetString("target_column", ""),
		BudgetSeconds: request.GetInt("budget_seconds", 0),
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return errorResult(fmt.Sprintf("marshal payload: %v", err)), nil
	}

	j, err := s.runner.Submit(ctx, model.JobKindTraining, payload)
	if err != nil {
		return errorResult(fmt.Sprintf("submit training: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"job_id": j.ID,
		"kind":   j.Kind,
		"state":  j.State,
	}), nil
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("job_id", ""))
	if err != nil {
		return errorResult("job_id must be a valid UUID"), nil
	}

	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return errorResult(fmt.Sprintf("job %s not found", id)), nil
		}
		return errorResult(fmt.Sprintf("get job: %v", err)), nil
	}

	lastSeq, err := s.store.LastSequence(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("last sequence: %v", err)), nil
	}

	artifacts, err := s.store.ListArtifacts(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("list artifacts: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"job":           j,
		"last_sequence": lastSeq,
		"artifacts":     artifacts,
	}), nil
}

func (s *Server) handleCancelJob(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("job_id", ""))
	if err != nil {
		return errorResult("job_id must be a valid UUID"), nil
	}

	j, err := s.runner.Cancel(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return errorResult(fmt.Sprintf("job %s not found", id)), nil
	case errors.Is(err, model.ErrJobTerminal):
		return errorResult(fmt.Sprintf("job %s already finished", id)), nil
	case err != nil:
		return errorResult(fmt.Sprintf("cancel job: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"job_id": j.ID,
		"state":  j.State,
	}), nil
}
