package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

const submitQueueSize = 256

// Executor runs the work of one job kind. Execute must honor ctx
// cancellation promptly and clean up any partial outputs before returning;
// by the time it returns, nothing half-written may remain.
type Executor interface {
	Kind() model.JobKind
	Execute(ctx context.Context, j model.Job, progress *Reporter) (json.RawMessage, error)
}

// Runner owns the job worker pool. It creates jobs, dispatches them to
// registered executors, records every progress event, and performs the
// single atomic terminal transition per job.
type Runner struct {
	store  Store
	broker *Broker
	logger *slog.Logger

	executors map[model.JobKind]Executor
	queue     chan uuid.UUID
	workers   int

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc

	wg sync.WaitGroup
}

// NewRunner creates a runner with the given worker count.
func NewRunner(store Store, broker *Broker, workers int, logger *slog.Logger, executors ...Executor) *Runner {
	if workers <= 0 {
		workers = 4
	}
	byKind := make(map[model.JobKind]Executor, len(executors))
	for _, e := range executors {
		byKind[e.Kind()] = e
	}
	return &Runner{
		store:     store,
		broker:    broker,
		logger:    logger.With("component", "job_runner"),
		executors: byKind,
		queue:     make(chan uuid.UUID, submitQueueSize),
		workers:   workers,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// Shutdown waits for in-flight jobs to finish.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-r.queue:
					r.run(ctx, id)
				}
			}
		}()
	}
	r.logger.Info("job workers started", "workers", r.workers)
}

// Shutdown blocks until all workers have returned. Call after cancelling
// the context passed to Start.
func (r *Runner) Shutdown() {
	r.wg.Wait()
}

// Submit creates a job in the queued state and enqueues it for execution.
// The queued event (sequence 1) is recorded and published before Submit
// returns, so a subscriber attaching immediately sees a complete stream.
func (r *Runner) Submit(ctx context.Context, kind model.JobKind, payload json.RawMessage) (model.Job, error) {
	if _, ok := r.executors[kind]; !ok {
		return model.Job{}, fmt.Errorf("job: no executor for kind %q: %w", kind, model.ErrInvalidInput)
	}

	j := model.Job{
		ID:        uuid.New(),
		Kind:      kind,
		State:     model.JobQueued,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateJob(ctx, j); err != nil {
		return model.Job{}, fmt.Errorf("job: create: %w", err)
	}

	queued := model.ProgressEvent{
		JobID:     j.ID,
		Sequence:  1,
		Phase:     model.PhaseQueued,
		Percent:   0,
		Message:   "job accepted",
		EmittedAt: time.Now().UTC(),
	}
	if err := r.store.AppendEvent(ctx, queued); err != nil {
		return model.Job{}, fmt.Errorf("job: record queued event: %w", err)
	}
	r.broker.Publish(queued)

	select {
	case r.queue <- j.ID:
	default:
		// The record and queued event are already persisted. Close the job
		// out so it is not stranded in queued with no worker ever taking it.
		now := time.Now().UTC()
		failed, ferr := r.store.Transition(ctx, j.ID, model.JobQueued, model.JobFailed, func(j *model.Job) {
			j.ErrorReason = "submit queue full"
			j.FinishedAt = &now
		})
		if ferr != nil {
			r.logger.Error("full-queue submit cleanup failed", "job_id", j.ID, "error", ferr)
		} else {
			r.emitTerminal(ctx, failed, 0, model.PhaseQueued, "submit queue full", "submit queue full")
		}
		return model.Job{}, fmt.Errorf("job: submit queue full: %w", model.ErrResourceExceeded)
	}

	r.logger.Info("job submitted", "job_id", j.ID, "kind", kind)
	return j, nil
}

// Cancel requests cancellation of a job. Queued jobs are cancelled
// immediately; running jobs have their context cancelled and reach the
// cancelled state when the executor returns. Cancelling a terminal job
// returns model.ErrJobTerminal.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) (model.Job, error) {
	j, err := r.store.GetJob(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	if j.State.Terminal() {
		return j, fmt.Errorf("job %s is %s: %w", id, j.State, model.ErrJobTerminal)
	}

	if j.State == model.JobQueued {
		now := time.Now().UTC()
		cancelled, err := r.store.Transition(ctx, id, model.JobQueued, model.JobCancelled, func(j *model.Job) {
			j.FinishedAt = &now
		})
		switch {
		case err == nil:
			r.emitTerminal(ctx, cancelled, 0, model.PhaseQueued, "cancelled before start", "cancelled by request")
			return cancelled, nil
		case errors.Is(err, model.ErrJobTerminal):
			return j, fmt.Errorf("job %s: %w", id, model.ErrJobTerminal)
		case errors.Is(err, model.ErrInvalidInput):
			// A worker picked it up between GetJob and Transition; fall
			// through to the running path.
		default:
			return model.Job{}, err
		}
	}

	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	r.logger.Info("job cancellation requested", "job_id", id)
	return r.store.GetJob(ctx, id)
}

// run executes one dequeued job to its terminal state.
func (r *Runner) run(ctx context.Context, id uuid.UUID) {
	now := time.Now().UTC()
	j, err := r.store.Transition(ctx, id, model.JobQueued, model.JobRunning, func(j *model.Job) {
		j.StartedAt = &now
	})
	if err != nil {
		// Cancelled while queued, or gone; nothing to run.
		if !errors.Is(err, model.ErrJobTerminal) {
			r.logger.Warn("job start failed", "job_id", id, "error", err)
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel()
	}()

	lastSeq, err := r.store.LastSequence(ctx, id)
	if err != nil {
		r.logger.Error("job sequence lookup failed", "job_id", id, "error", err)
		lastSeq = 1
	}
	progress := &Reporter{
		store:  r.store,
		broker: r.broker,
		jobID:  id,
		seq:    lastSeq,
	}

	executor := r.executors[j.Kind]
	start := time.Now()
	result, execErr := executor.Execute(jobCtx, j, progress)
	elapsed := time.Since(start)

	// Terminal transition. Detached from the worker context so a cancelled
	// job, or one finishing during shutdown, still persists its final state.
	termCtx := context.WithoutCancel(ctx)
	finished := time.Now().UTC()
	switch {
	case execErr == nil:
		_, err := r.store.Transition(termCtx, id, model.JobRunning, model.JobSucceeded, func(j *model.Job) {
			j.Result = result
			j.FinishedAt = &finished
		})
		if err != nil {
			r.logger.Error("job terminal transition failed", "job_id", id, "error", err)
			return
		}
		progress.emit(termCtx, model.ProgressEvent{
			Phase:    model.PhaseDone,
			Percent:  100,
			Message:  "completed",
			Terminal: true,
			State:    model.JobSucceeded,
			Result:   result,
		})
		r.logger.Info("job succeeded", "job_id", id, "kind", j.Kind, "duration", elapsed)

	case jobCtx.Err() != nil && errors.Is(execErr, context.Canceled):
		_, err := r.store.Transition(termCtx, id, model.JobRunning, model.JobCancelled, func(j *model.Job) {
			j.FinishedAt = &finished
		})
		if err != nil {
			r.logger.Error("job terminal transition failed", "job_id", id, "error", err)
			return
		}
		progress.emit(termCtx, model.ProgressEvent{
			Phase:    progress.lastPhase,
			Percent:  progress.lastPercent,
			Message:  "cancelled",
			Terminal: true,
			State:    model.JobCancelled,
			Error:    "cancelled by request",
		})
		r.logger.Info("job cancelled", "job_id", id, "kind", j.Kind, "duration", elapsed)

	default:
		_, err := r.store.Transition(termCtx, id, model.JobRunning, model.JobFailed, func(j *model.Job) {
			j.ErrorReason = execErr.Error()
			j.FinishedAt = &finished
		})
		if err != nil {
			r.logger.Error("job terminal transition failed", "job_id", id, "error", err)
			return
		}
		progress.emit(termCtx, model.ProgressEvent{
			Phase:    progress.lastPhase,
			Percent:  progress.lastPercent,
			Message:  "failed",
			Terminal: true,
			State:    model.JobFailed,
			Error:    execErr.Error(),
		})
		r.logger.Warn("job failed", "job_id", id, "kind", j.Kind, "duration", elapsed, "error", execErr)
	}
}

// emitTerminal records and publishes a terminal event for a job that never
// started running.
func (r *Runner) emitTerminal(ctx context.Context, j model.Job, percent int, phase, message, errMsg string) {
	lastSeq, err := r.store.LastSequence(ctx, j.ID)
	if err != nil {
		r.logger.Error("job sequence lookup failed", "job_id", j.ID, "error", err)
		return
	}
	rep := &Reporter{store: r.store, broker: r.broker, jobID: j.ID, seq: lastSeq}
	rep.emit(ctx, model.ProgressEvent{
		Phase:    phase,
		Percent:  percent,
		Message:  message,
		Terminal: true,
		State:    j.State,
		Error:    errMsg,
	})
}

// NewReporter creates a reporter that records events for one job,
// continuing the sequence after lastSeq.
func NewReporter(store Store, broker *Broker, jobID uuid.UUID, lastSeq int64) *Reporter {
	return &Reporter{store: store, broker: broker, jobID: jobID, seq: lastSeq}
}

// Reporter records progress for one running job. It assigns sequence
// numbers and keeps percent non-decreasing. Not safe for concurrent use;
// each job has exactly one reporting goroutine.
type Reporter struct {
	store  Store
	broker *Broker
	jobID  uuid.UUID

	seq         int64
	lastPercent int
	lastPhase   string
}

// Report records one progress step. Percent below the previous value or
// a negative percent (unknown total) repeats the last value; percent is
// capped at 99 for non-terminal events so 100 always means finished.
func (p *Reporter) Report(ctx context.Context, phase string, percent int, message string) error {
	if percent < p.lastPercent {
		percent = p.lastPercent
	}
	if percent > 99 {
		percent = 99
	}
	return p.emit(ctx, model.ProgressEvent{
		Phase:   phase,
		Percent: percent,
		Message: message,
	})
}

func (p *Reporter) emit(ctx context.Context, e model.ProgressEvent) error {
	p.seq++
	e.JobID = p.jobID
	e.Sequence = p.seq
	e.EmittedAt = time.Now().UTC()
	p.lastPercent = e.Percent
	p.lastPhase = e.Phase

	// Persist before publish: the stored history is the source of truth
	// a reconnecting subscriber replays from.
	if err := p.store.AppendEvent(ctx, e); err != nil {
		return fmt.Errorf("job: record event: %w", err)
	}
	p.broker.Publish(e)
	return nil
}
