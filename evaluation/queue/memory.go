//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// memJob is one queued job. Task jobs leave itemID empty.
type memJob struct {
	evalID string
	itemID string
}

// MemoryQueue runs evaluation jobs on an in-process worker pool. It serves
// single-node deployments and tests where redis would be overhead.
type MemoryQueue struct {
	runner Runner
	pool   *ants.Pool

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}

	jobsWg sync.WaitGroup
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	concurrency int
}

// WithMemoryConcurrency sets the worker pool size.
func WithMemoryConcurrency(n int) MemoryOption {
	return func(c *memoryConfig) { c.concurrency = n }
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(runner Runner, opts ...MemoryOption) (*MemoryQueue, error) {
	if runner == nil {
		return nil, errors.New("queue: runner is required")
	}
	cfg := memoryConfig{concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	pool, err := ants.NewPool(cfg.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &MemoryQueue{
		runner: runner,
		pool:   pool,
		timers: map[*time.Timer]struct{}{},
	}, nil
}

// EnqueueTask submits a task fan-out job.
func (q *MemoryQueue) EnqueueTask(ctx context.Context, evalID string) error {
	return q.submit(ctx, memJob{evalID: evalID})
}

// EnqueueItem submits a per-item job, optionally delayed. It implements
// evaluation.ItemEnqueuer.
func (q *MemoryQueue) EnqueueItem(ctx context.Context, evalID, itemID string, delay time.Duration) error {
	job := memJob{evalID: evalID, itemID: itemID}
	if delay <= 0 {
		return q.submit(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("queue: closed")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		if err := q.submit(context.Background(), job); err != nil {
			log.Errorf("evaluation queue delayed submit: %v", err)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *MemoryQueue) submit(ctx context.Context, job memJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue: closed")
	}
	q.jobsWg.Add(1)
	q.mu.Unlock()

	err := q.pool.Submit(func() {
		defer q.jobsWg.Done()
		q.run(ctx, job)
	})
	if err != nil {
		q.jobsWg.Done()
		return fmt.Errorf("submit job: %w", err)
	}
	return nil
}

func (q *MemoryQueue) run(ctx context.Context, job memJob) {
	var err error
	if job.itemID == "" {
		err = q.runner.ProcessTask(ctx, job.evalID, noopProgress{})
	} else {
		err = q.runner.ProcessItem(ctx, job.evalID, job.itemID, noopProgress{})
	}
	if err != nil {
		log.Errorf("evaluation job %s/%s: %v", job.evalID, job.itemID, err)
	}
}

// Stop cancels pending delayed jobs, waits for in-flight jobs and releases
// the pool.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	q.jobsWg.Wait()
	q.pool.Release()
}
