//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// Stage names one phase of item processing, used to tag failures.
type Stage string

// Processing stages.
const (
	StageResourceCheck    Stage = "ResourceCheck"
	StageTargetExecute    Stage = "TargetExecute"
	StageEvaluatorExecute Stage = "EvaluatorExecute"
)

// StageError is a failure tagged with the stage it happened in and whether a
// retry can help. The retriable flag travels with the error so the retry
// bookkeeping never re-guesses it.
type StageError struct {
	Stage     Stage
	Retriable bool
	Err       error
}

// NewStageError wraps err with its stage and retry verdict.
func NewStageError(stage Stage, retriable bool, err error) *StageError {
	return &StageError{Stage: stage, Retriable: retriable, Err: err}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Stage, e.Err)
}

// Unwrap exposes the wrapped error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Fixed progress milestones reported by the processors, so a supervising
// queue UI shows coarse progress without polling item internals.
const (
	itemProgressStart      = 0
	itemProgressChecked    = 10
	itemProgressTargetDone = 30
	itemProgressDone       = 100

	taskProgressStart     = 0
	taskProgressValidated = 20
	taskProgressDone      = 100
)

// fanOutDelayStep staggers item job starts so a large task does not slam the
// target all at once.
const fanOutDelayStep = 100 * time.Millisecond

// Processor runs evaluation task and item jobs. All state lives in the
// Store; a Processor itself is stateless and safe for concurrent use by
// multiple workers.
type Processor struct {
	store      Store
	targets    TargetFactory
	evaluators EvaluatorFactory
	checker    ResourceChecker
	usage      UsageRecorder
	calculator ScoreCalculator
	summary    SummaryGenerator
	queue      ItemEnqueuer
	maxRetries int
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithResourceChecker sets the team quota checker.
func WithResourceChecker(c ResourceChecker) ProcessorOption {
	return func(p *Processor) { p.checker = c }
}

// WithUsageRecorder sets the billing sink.
func WithUsageRecorder(u UsageRecorder) ProcessorOption {
	return func(p *Processor) { p.usage = u }
}

// WithScoreCalculator replaces the default mean aggregate calculator.
func WithScoreCalculator(c ScoreCalculator) ProcessorOption {
	return func(p *Processor) { p.calculator = c }
}

// WithSummaryGenerator sets the post-completion report generator.
func WithSummaryGenerator(s SummaryGenerator) ProcessorOption {
	return func(p *Processor) { p.summary = s }
}

// WithItemEnqueuer sets the queue used to fan out item jobs.
func WithItemEnqueuer(q ItemEnqueuer) ProcessorOption {
	return func(p *Processor) { p.queue = q }
}

// WithMaxRetries overrides the per-item retry budget.
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) { p.maxRetries = n }
}

// NewProcessor creates a Processor. store, targets and evaluators are
// required; the remaining collaborators default to no-ops where that is
// safe.
func NewProcessor(store Store, targets TargetFactory, evaluators EvaluatorFactory, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:      store,
		targets:    targets,
		evaluators: evaluators,
		calculator: MeanScoreCalculator{},
		maxRetries: MaxRetries(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessTask fans one task out into items: validate the config, load the
// dataset, create (or on resume, reuse) one item per row, and enqueue a job
// for every item not already completed. A task that no longer exists is
// logged and dropped, not an error.
func (p *Processor) ProcessTask(ctx context.Context, evalID string, progress ProgressReporter) error {
	report(progress, taskProgressStart)
	log.Debugf("evaluation task %s: start", evalID)

	task, err := p.store.Task(ctx, evalID)
	if errors.Is(err, ErrNotFound) {
		log.Warnf("evaluation task %s no longer exists, dropping job", evalID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load evaluation task %s: %w", evalID, err)
	}

	if err := p.fanOut(ctx, task, progress); err != nil {
		p.failTask(ctx, evalID, err)
		return err
	}
	report(progress, taskProgressDone)
	return nil
}

// fanOut validates the task and creates and enqueues its items. Validation
// happens before any dataset work so malformed tasks never produce partial
// items.
func (p *Processor) fanOut(ctx context.Context, task *Task, progress ProgressReporter) error {
	if !task.Target.Valid() {
		return fmt.Errorf("evaluation task %s: invalid target config", task.ID)
	}
	if len(task.Evaluators) == 0 {
		return fmt.Errorf("evaluation task %s: no evaluators configured", task.ID)
	}

	rows, err := p.store.DatasetRows(ctx, task.DatasetID)
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", task.DatasetID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("evaluation task %s: dataset %s has no rows", task.ID, task.DatasetID)
	}
	report(progress, taskProgressValidated)

	items, err := p.store.Items(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load items of task %s: %w", task.ID, err)
	}
	if len(items) == 0 {
		fresh := make([]Item, 0, len(rows))
		for _, row := range rows {
			fresh = append(fresh, Item{
				EvalID:   task.ID,
				DataItem: row,
				Status:   StatusQueuing,
				Retry:    p.maxRetries,
			})
		}
		ids, err := p.store.InsertItems(ctx, fresh)
		if err != nil {
			return fmt.Errorf("create items for task %s: %w", task.ID, err)
		}
		for i, id := range ids {
			fresh[i].ID = id
		}
		items = fresh
		log.Debugf("evaluation task %s: created %d items", task.ID, len(items))
	} else {
		log.Debugf("evaluation task %s: resuming with %d existing items", task.ID, len(items))
	}

	enqueued := 0
	for i := range items {
		if items[i].Status == StatusCompleted {
			continue
		}
		delay := time.Duration(enqueued) * fanOutDelayStep
		if err := p.enqueueItem(ctx, task.ID, items[i].ID, delay); err != nil {
			return fmt.Errorf("enqueue item %s: %w", items[i].ID, err)
		}
		enqueued++
	}
	log.Debugf("evaluation task %s: enqueued %d item jobs", task.ID, enqueued)
	return nil
}

func (p *Processor) enqueueItem(ctx context.Context, evalID, itemID string, delay time.Duration) error {
	if p.queue == nil {
		return errors.New("evaluation: no item queue configured")
	}
	return p.queue.EnqueueItem(ctx, evalID, itemID, delay)
}

// failTask marks the task failed. Best effort: the job error is what the
// operator acts on.
func (p *Processor) failTask(ctx context.Context, evalID string, cause error) {
	msg := cause.Error()
	status := StatusError
	now := time.Now()
	if err := p.store.UpdateTask(ctx, evalID, TaskUpdate{
		Status:       &status,
		ErrorMessage: &msg,
		FinishTime:   &now,
	}); err != nil {
		log.Errorf("mark evaluation task %s failed: %v", evalID, err)
	}
}

// ProcessItem runs one item end to end: quota check, target execution,
// evaluator execution, score aggregation. Each stage persists its output as
// a checkpoint before the next starts, so a retried job skips paid work that
// already happened. The returned error is the job verdict; retry
// bookkeeping has already been applied when it is non-nil.
func (p *Processor) ProcessItem(ctx context.Context, evalID, itemID string, progress ProgressReporter) error {
	report(progress, itemProgressStart)

	err := p.processItem(ctx, evalID, itemID, progress)
	if err != nil {
		p.handleItemError(ctx, evalID, itemID, err)
	} else {
		report(progress, itemProgressDone)
	}

	// Speculative completion check after every item; only the last one
	// takes effect.
	p.FinishTask(ctx, evalID)
	return err
}

func (p *Processor) processItem(ctx context.Context, evalID, itemID string, progress ProgressReporter) error {
	item, err := p.store.Item(ctx, itemID)
	if errors.Is(err, ErrNotFound) {
		return NewStageError(StageResourceCheck, false, fmt.Errorf("evaluation item %s not found", itemID))
	}
	if err != nil {
		return fmt.Errorf("load evaluation item %s: %w", itemID, err)
	}
	if item.Status == StatusCompleted {
		log.Debugf("evaluation item %s already completed", itemID)
		return nil
	}

	task, err := p.store.Task(ctx, evalID)
	if errors.Is(err, ErrNotFound) {
		return NewStageError(StageResourceCheck, false, fmt.Errorf("evaluation task %s not found", evalID))
	}
	if err != nil {
		return fmt.Errorf("load evaluation task %s: %w", evalID, err)
	}

	if p.checker != nil {
		if err := p.checker.CheckAIPoints(ctx, task.TeamID); err != nil {
			return NewStageError(StageResourceCheck, false, err)
		}
	}
	report(progress, itemProgressChecked)

	// Checkpoints survive only while the item stays in evaluating; a job
	// restarted from queuing or error runs the unfinished stages again.
	var targetOutput *TargetOutput
	var evaluatorOutputs []MetricResult
	if item.Status == StatusEvaluating {
		if item.TargetOutput != nil && item.TargetOutput.ActualOutput != "" {
			log.Debugf("evaluation item %s: resuming target output from checkpoint", itemID)
			targetOutput = item.TargetOutput
		}
		if item.EvaluatorOutputs != nil {
			log.Debugf("evaluation item %s: resuming evaluator outputs from checkpoint", itemID)
			evaluatorOutputs = item.EvaluatorOutputs
		}
	}

	evaluating := StatusEvaluating
	if err := p.store.UpdateItem(ctx, itemID, ItemUpdate{Status: &evaluating}); err != nil {
		return fmt.Errorf("mark item %s evaluating: %w", itemID, err)
	}

	if targetOutput == nil {
		targetOutput, err = p.executeTarget(ctx, task, item)
		if err != nil {
			return err
		}
		if err := p.store.UpdateItem(ctx, itemID, ItemUpdate{TargetOutput: targetOutput}); err != nil {
			return fmt.Errorf("checkpoint target output of item %s: %w", itemID, err)
		}
		p.recordTargetUsage(ctx, task, targetOutput)
	}
	report(progress, itemProgressTargetDone)

	if evaluatorOutputs == nil {
		evaluatorOutputs, err = p.runEvaluators(ctx, task, item, targetOutput)
		if err != nil {
			return err
		}
	}

	score := p.calculator.Aggregate(evaluatorOutputs)
	now := time.Now()
	completed := StatusCompleted
	if err := p.store.UpdateItem(ctx, itemID, ItemUpdate{
		Status:           &completed,
		TargetOutput:     targetOutput,
		EvaluatorOutputs: evaluatorOutputs,
		AggregateScore:   &score,
		FinishTime:       &now,
	}); err != nil {
		return fmt.Errorf("store results of item %s: %w", itemID, err)
	}
	log.Debugf("evaluation item %s completed, score %.2f", itemID, score)
	return nil
}

func (p *Processor) executeTarget(ctx context.Context, task *Task, item *Item) (*TargetOutput, error) {
	target, err := p.targets.NewTarget(task.Target)
	if err != nil {
		return nil, NewStageError(StageTargetExecute, false, err)
	}
	output, err := target.Execute(ctx, item.DataItem)
	if err != nil {
		return nil, NewStageError(StageTargetExecute, AnalyzeError(err).Retriable, err)
	}
	if output == nil || output.ActualOutput == "" {
		return nil, NewStageError(StageTargetExecute, false,
			fmt.Errorf("target returned no actual output for item %s", item.ID))
	}
	return output, nil
}

// runEvaluators executes every configured evaluator in order. A single
// failed evaluator fails the whole item; partial success is not item
// success, but the outputs produced so far are persisted for inspection.
func (p *Processor) runEvaluators(ctx context.Context, task *Task, item *Item, target *TargetOutput) ([]MetricResult, error) {
	input := EvalInput{
		UserInput:        item.DataItem.UserInput,
		ExpectedOutput:   item.DataItem.ExpectedOutput,
		ActualOutput:     target.ActualOutput,
		Context:          item.DataItem.Context,
		RetrievalContext: target.RetrievalContext,
	}

	results := make([]MetricResult, 0, len(task.Evaluators))
	var failures []string
	for _, cfg := range task.Evaluators {
		result := p.runEvaluator(ctx, cfg, input)
		results = append(results, result)
		if result.Status == MetricFailed {
			failures = append(failures, fmt.Sprintf("%s: %s", result.MetricName, result.Error))
		}
		p.recordMetricUsage(ctx, task, &result)
	}

	if len(failures) > 0 {
		if err := p.store.UpdateItem(ctx, item.ID, ItemUpdate{EvaluatorOutputs: results}); err != nil {
			log.Errorf("persist evaluator outputs of failed item %s: %v", item.ID, err)
		}
		retriable := false
		for _, f := range failures {
			if AnalyzeError(errors.New(f)).Retriable {
				retriable = true
				break
			}
		}
		return nil, NewStageError(StageEvaluatorExecute, retriable,
			fmt.Errorf("Evaluator errors: %s", strings.Join(failures, "; ")))
	}
	return results, nil
}

// runEvaluator never returns an error: an evaluator failure becomes a
// Failed result so sibling evaluators still run and their outputs persist.
func (p *Processor) runEvaluator(ctx context.Context, cfg EvaluatorConfig, input EvalInput) MetricResult {
	evaluator, err := p.evaluators.NewEvaluator(cfg)
	if err != nil {
		return MetricResult{
			MetricName: cfg.Metric,
			Status:     MetricFailed,
			Data:       MetricData{MetricName: cfg.Metric},
			Error:      err.Error(),
		}
	}
	result, err := evaluator.Evaluate(ctx, input)
	if err != nil {
		return MetricResult{
			MetricName: cfg.Metric,
			Status:     MetricFailed,
			Data:       MetricData{MetricName: cfg.Metric},
			Error:      err.Error(),
		}
	}
	if result == nil {
		return MetricResult{
			MetricName: cfg.Metric,
			Status:     MetricFailed,
			Data:       MetricData{MetricName: cfg.Metric},
			Error:      "evaluator returned no result",
		}
	}
	if result.MetricName == "" {
		result.MetricName = cfg.Metric
	}
	return *result
}

func (p *Processor) recordTargetUsage(ctx context.Context, task *Task, output *TargetOutput) {
	if p.usage == nil || len(output.Usage) == 0 {
		return
	}
	var total float64
	for _, u := range output.Usage {
		total += u.TotalPoints
	}
	p.recordUsage(ctx, task, total, "target")
}

func (p *Processor) recordMetricUsage(ctx context.Context, task *Task, result *MetricResult) {
	if p.usage == nil || result.TotalPoints == 0 {
		return
	}
	p.recordUsage(ctx, task, result.TotalPoints, "metric")
}

func (p *Processor) recordUsage(ctx context.Context, task *Task, points float64, kind string) {
	err := p.usage.RecordUsage(ctx, MergedUsage{
		EvalID:      task.ID,
		TeamID:      task.TeamID,
		UsageID:     task.UsageID,
		TotalPoints: points,
		Kind:        kind,
	})
	if err != nil {
		log.Errorf("record %s usage for task %s: %v", kind, task.ID, err)
	}
}

// handleItemError applies retry bookkeeping to a failed item: retriable
// failures go back to queuing with a decremented budget and a backoff
// delay, everything else is terminal.
func (p *Processor) handleItemError(ctx context.Context, evalID, itemID string, cause error) {
	item, err := p.store.Item(ctx, itemID)
	if err != nil {
		log.Errorf("evaluation item %s failed and could not be loaded for retry bookkeeping: %v (cause: %v)",
			itemID, err, cause)
		return
	}

	analysis := AnalyzeError(cause)
	remaining := 0
	if analysis.Retriable && item.Retry > 0 {
		remaining = item.Retry - 1
	}
	shouldRetry := analysis.Retriable && remaining > 0

	msg := cause.Error()
	status := StatusError
	update := ItemUpdate{
		ErrorMessage: &msg,
		Status:       &status,
	}
	if analysis.Retriable {
		update.Retry = &remaining
	}
	if shouldRetry {
		queuing := StatusQueuing
		update.Status = &queuing
	} else {
		now := time.Now()
		update.FinishTime = &now
	}
	if err := p.store.UpdateItem(ctx, itemID, update); err != nil {
		log.Errorf("update failed item %s: %v", itemID, err)
		return
	}

	if shouldRetry {
		delay := RetryDelay(p.maxRetries, remaining)
		if err := p.enqueueItem(ctx, evalID, itemID, delay); err != nil {
			log.Errorf("requeue item %s: %v", itemID, err)
			return
		}
		log.Debugf("evaluation item %s requeued, category %s, remaining %d, delay %s",
			itemID, analysis.Category, remaining, delay)
		return
	}
	log.Errorf("evaluation item %s failed permanently (retriable=%v): %v", itemID, analysis.Retriable, cause)
}

// FinishTask closes the task once every item reached a terminal status. It
// is safe to call speculatively after each item; the call is a no-op while
// items are still pending. Internal failures are logged, never propagated:
// the terminal timestamp must not get stuck behind report generation.
func (p *Processor) FinishTask(ctx context.Context, evalID string) {
	if err := p.finishTask(ctx, evalID); err != nil {
		log.Errorf("finish evaluation task %s: %v", evalID, err)
	}
}

func (p *Processor) finishTask(ctx context.Context, evalID string) error {
	items, err := p.store.Items(ctx, evalID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		log.Warnf("evaluation task %s has no items to finish", evalID)
		return nil
	}

	stats := ComputeBatchStats(items)
	if stats.Pending() > 0 {
		log.Debugf("evaluation task %s not finished yet, %d items pending", evalID, stats.Pending())
		return nil
	}

	task, err := p.store.Task(ctx, evalID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.FinishTime != nil {
		return nil
	}

	now := time.Now()
	status := StatusCompleted
	var errMsg *string
	if stats.Completed == 0 {
		status = StatusError
		msg := fmt.Sprintf("all %d evaluation items failed", stats.Total)
		errMsg = &msg
	} else if stats.Errored > 0 {
		msg := fmt.Sprintf("%d of %d evaluation items failed", stats.Errored, stats.Total)
		errMsg = &msg
	}
	avg := stats.AvgScore
	if err := p.store.UpdateTask(ctx, evalID, TaskUpdate{
		Status:       &status,
		ErrorMessage: errMsg,
		AvgScore:     &avg,
		FinishTime:   &now,
		Statistics: &TaskStatistics{
			TotalItems:     stats.Total,
			CompletedItems: stats.Completed,
			ErrorItems:     stats.Errored,
		},
	}); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	if p.summary != nil {
		if err := p.summary.GenerateSummaryReports(ctx, evalID); err != nil {
			log.Errorf("generate summary reports for task %s: %v", evalID, err)
		}
	}
	log.Debugf("evaluation task %s finished: total %d, completed %d, errored %d, avg %.2f",
		evalID, stats.Total, stats.Completed, stats.Errored, stats.AvgScore)
	return nil
}

// report forwards a milestone when a reporter is attached.
func report(progress ProgressReporter, percent int) {
	if progress != nil {
		progress.UpdateProgress(percent)
	}
}
