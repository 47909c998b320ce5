//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package queue drives evaluation jobs through a work queue. The redis
// variant coordinates multiple worker processes; the in-memory variant
// serves single-process deployments and tests.
package queue

import (
	"context"

	"trpc.group/trpc-go/trpc-flow-go/evaluation"
)

// Runner executes one job. *evaluation.Processor satisfies it.
type Runner interface {
	ProcessTask(ctx context.Context, evalID string, progress evaluation.ProgressReporter) error
	ProcessItem(ctx context.Context, evalID, itemID string, progress evaluation.ProgressReporter) error
}

// taskJob is the wire payload of a task fan-out job.
type taskJob struct {
	EvalID string `json:"evalId"`
}

// itemJob is the wire payload of a per-item job.
type itemJob struct {
	EvalID     string `json:"evalId"`
	EvalItemID string `json:"evalItemId"`
}

const defaultConcurrency = 5

// noopProgress swallows milestones when no reporter is configured.
type noopProgress struct{}

func (noopProgress) UpdateProgress(int) {}
