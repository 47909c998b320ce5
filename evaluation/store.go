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
	"time"
)

// ErrNotFound is returned by Store implementations when a task, item or
// dataset does not exist.
var ErrNotFound = errors.New("evaluation: not found")

// TaskUpdate is a partial task write. Nil fields are left unchanged.
type TaskUpdate struct {
	Status       *Status
	ErrorMessage *string
	AvgScore     *float64
	Statistics   *TaskStatistics
	FinishTime   *time.Time
}

// ItemUpdate is a partial item write. Nil fields are left unchanged.
type ItemUpdate struct {
	Status           *Status
	Retry            *int
	ErrorMessage     *string
	TargetOutput     *TargetOutput
	EvaluatorOutputs []MetricResult
	AggregateScore   *float64
	FinishTime       *time.Time
}

// Store persists evaluation tasks and items. All coordination between item
// jobs happens through the store; the processors keep no shared in-process
// state.
type Store interface {
	Task(ctx context.Context, evalID string) (*Task, error)
	UpdateTask(ctx context.Context, evalID string, update TaskUpdate) error

	Item(ctx context.Context, itemID string) (*Item, error)
	Items(ctx context.Context, evalID string) ([]Item, error)
	InsertItems(ctx context.Context, items []Item) ([]string, error)
	UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error

	DatasetRows(ctx context.Context, datasetID string) ([]DataItem, error)
}

// Target executes the app under evaluation for one dataset row.
type Target interface {
	Execute(ctx context.Context, item DataItem) (*TargetOutput, error)
}

// TargetFactory builds a target instance from a task's target config.
type TargetFactory interface {
	NewTarget(cfg TargetConfig) (Target, error)
}

// EvalInput is what one evaluator scores.
type EvalInput struct {
	UserInput        string
	ExpectedOutput   string
	ActualOutput     string
	Context          []string
	RetrievalContext []string
}

// Evaluator scores one target output against one metric.
type Evaluator interface {
	Evaluate(ctx context.Context, input EvalInput) (*MetricResult, error)
}

// EvaluatorFactory builds an evaluator instance from its config.
type EvaluatorFactory interface {
	NewEvaluator(cfg EvaluatorConfig) (Evaluator, error)
}

// ResourceChecker verifies a team can pay for upcoming work. The check runs
// before any paid call so an exhausted team aborts cheaply.
type ResourceChecker interface {
	CheckAIPoints(ctx context.Context, teamID string) error
}

// MergedUsage is one aggregated billing record for a task.
type MergedUsage struct {
	EvalID      string
	TeamID      string
	UsageID     string
	TotalPoints float64
	Kind        string // "target" or "metric"
}

// UsageRecorder persists merged usage entries.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, usage MergedUsage) error
}

// ScoreCalculator aggregates per-evaluator scores into one item score.
type ScoreCalculator interface {
	Aggregate(results []MetricResult) float64
}

// SummaryGenerator produces the task-level summary report after all items
// finished. Failures here are best-effort and never block task completion.
type SummaryGenerator interface {
	GenerateSummaryReports(ctx context.Context, evalID string) error
}

// ProgressReporter receives coarse-grained progress milestones from a
// running job. Implementations must tolerate repeated or out-of-order calls
// from retried jobs.
type ProgressReporter interface {
	UpdateProgress(percent int)
}

// ItemEnqueuer submits per-item jobs to the processing queue.
type ItemEnqueuer interface {
	EnqueueItem(ctx context.Context, evalID, itemID string, delay time.Duration) error
}
