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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-flow-go/evaluation"
	"trpc.group/trpc-go/trpc-flow-go/log"
)

const (
	defaultPrefix          = "eval"
	defaultPopTimeout      = time.Second
	defaultPromoteInterval = 200 * time.Millisecond
	defaultProgressTTL     = 24 * time.Hour

	// promoteBatch bounds how many due delayed jobs one tick moves.
	promoteBatch = 100
)

// RedisQueue is a redis-backed job queue shared by multiple worker
// processes. Jobs are JSON payloads on lists; delayed jobs wait in a sorted
// set keyed by their ready time until a promoter moves them onto the list.
type RedisQueue struct {
	client      redis.UniversalClient
	runner      Runner
	prefix      string
	concurrency int
	popTimeout  time.Duration
	promoteTick time.Duration
	progressTTL time.Duration

	pool    *ants.Pool
	cancel  context.CancelFunc
	loopsWg sync.WaitGroup
	jobsWg  sync.WaitGroup
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithPrefix sets the redis key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(q *RedisQueue) { q.prefix = prefix }
}

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) RedisOption {
	return func(q *RedisQueue) { q.concurrency = n }
}

// WithPromoteInterval sets how often due delayed jobs are promoted.
func WithPromoteInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.promoteTick = d }
}

// WithPopTimeout sets the blocking-pop timeout of the consumer loop.
func WithPopTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.popTimeout = d }
}

// NewRedisQueue creates a queue over the given redis client.
func NewRedisQueue(client redis.UniversalClient, runner Runner, opts ...RedisOption) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	if runner == nil {
		return nil, errors.New("queue: runner is required")
	}
	q := &RedisQueue{
		client:      client,
		runner:      runner,
		prefix:      defaultPrefix,
		concurrency: defaultConcurrency,
		popTimeout:  defaultPopTimeout,
		promoteTick: defaultPromoteInterval,
		progressTTL: defaultProgressTTL,
	}
	for _, opt := range opts {
		opt(q)
	}
	pool, err := ants.NewPool(q.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	q.pool = pool
	return q, nil
}

func (q *RedisQueue) taskKey() string    { return q.prefix + ":tasks" }
func (q *RedisQueue) itemKey() string    { return q.prefix + ":items" }
func (q *RedisQueue) delayedKey() string { return q.prefix + ":items:delayed" }

func (q *RedisQueue) taskProgressKey(evalID string) string {
	return q.prefix + ":progress:" + evalID
}

func (q *RedisQueue) itemProgressKey(evalID, itemID string) string {
	return q.prefix + ":progress:" + evalID + ":" + itemID
}

// EnqueueTask submits a task fan-out job.
func (q *RedisQueue) EnqueueTask(ctx context.Context, evalID string) error {
	payload, err := json.Marshal(taskJob{EvalID: evalID})
	if err != nil {
		return fmt.Errorf("encode task job: %w", err)
	}
	return q.client.LPush(ctx, q.taskKey(), payload).Err()
}

// EnqueueItem submits a per-item job, optionally delayed. It implements
// evaluation.ItemEnqueuer so retried items flow back through the same queue.
func (q *RedisQueue) EnqueueItem(ctx context.Context, evalID, itemID string, delay time.Duration) error {
	payload, err := json.Marshal(itemJob{EvalID: evalID, EvalItemID: itemID})
	if err != nil {
		return fmt.Errorf("encode item job: %w", err)
	}
	if delay <= 0 {
		return q.client.LPush(ctx, q.itemKey(), payload).Err()
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	return q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(readyAt),
		Member: string(payload),
	}).Err()
}

// Start launches the consumer and promoter loops. It returns immediately;
// call Stop to drain.
func (q *RedisQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.loopsWg.Add(2)
	go q.consumeLoop(ctx)
	go q.promoteLoop(ctx)
}

// Stop halts the loops, waits for in-flight jobs and releases the pool.
func (q *RedisQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.loopsWg.Wait()
	q.jobsWg.Wait()
	q.pool.Release()
}

func (q *RedisQueue) consumeLoop(ctx context.Context) {
	defer q.loopsWg.Done()
	for {
		res, err := q.client.BRPop(ctx, q.popTimeout, q.taskKey(), q.itemKey()).Result()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Errorf("evaluation queue pop: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.popTimeout):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}
		q.dispatch(ctx, res[0], []byte(res[1]))
	}
}

func (q *RedisQueue) dispatch(ctx context.Context, key string, payload []byte) {
	var run func()
	switch key {
	case q.taskKey():
		var job taskJob
		if err := json.Unmarshal(payload, &job); err != nil {
			log.Errorf("evaluation queue: bad task payload %q: %v", payload, err)
			return
		}
		run = func() {
			progress := q.taskProgress(job.EvalID)
			if err := q.runner.ProcessTask(ctx, job.EvalID, progress); err != nil {
				log.Errorf("evaluation task job %s: %v", job.EvalID, err)
			}
		}
	case q.itemKey():
		var job itemJob
		if err := json.Unmarshal(payload, &job); err != nil {
			log.Errorf("evaluation queue: bad item payload %q: %v", payload, err)
			return
		}
		run = func() {
			progress := q.itemProgress(job.EvalID, job.EvalItemID)
			if err := q.runner.ProcessItem(ctx, job.EvalID, job.EvalItemID, progress); err != nil {
				log.Errorf("evaluation item job %s/%s: %v", job.EvalID, job.EvalItemID, err)
			}
		}
	default:
		return
	}

	q.jobsWg.Add(1)
	if err := q.pool.Submit(func() {
		defer q.jobsWg.Done()
		run()
	}); err != nil {
		q.jobsWg.Done()
		log.Errorf("evaluation queue submit: %v", err)
	}
}

func (q *RedisQueue) promoteLoop(ctx context.Context) {
	defer q.loopsWg.Done()
	ticker := time.NewTicker(q.promoteTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDue(ctx)
		}
	}
}

// promoteDue moves delayed jobs whose ready time has passed onto the item
// list. Only the worker that wins the ZRem pushes, so concurrent promoters
// never double-deliver a job.
func (q *RedisQueue) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Errorf("evaluation queue promote scan: %v", err)
		}
		return
	}
	for _, member := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("evaluation queue promote remove: %v", err)
			}
			return
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.itemKey(), member).Err(); err != nil {
			log.Errorf("evaluation queue promote push: %v", err)
		}
	}
}

func (q *RedisQueue) taskProgress(evalID string) evaluation.ProgressReporter {
	return &redisProgress{client: q.client, key: q.taskProgressKey(evalID), ttl: q.progressTTL}
}

func (q *RedisQueue) itemProgress(evalID, itemID string) evaluation.ProgressReporter {
	return &redisProgress{client: q.client, key: q.itemProgressKey(evalID, itemID), ttl: q.progressTTL}
}

// TaskProgress reads the last reported task milestone. Missing keys read as
// zero.
func (q *RedisQueue) TaskProgress(ctx context.Context, evalID string) (int, error) {
	return q.readProgress(ctx, q.taskProgressKey(evalID))
}

// ItemProgress reads the last reported item milestone.
func (q *RedisQueue) ItemProgress(ctx context.Context, evalID, itemID string) (int, error) {
	return q.readProgress(ctx, q.itemProgressKey(evalID, itemID))
}

func (q *RedisQueue) readProgress(ctx context.Context, key string) (int, error) {
	percent, err := q.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return percent, err
}

// redisProgress persists milestones so a dashboard can poll job progress
// across worker processes.
type redisProgress struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func (p *redisProgress) UpdateProgress(percent int) {
	if err := p.client.Set(context.Background(), p.key, percent, p.ttl).Err(); err != nil {
		log.Warnf("store progress %s: %v", p.key, err)
	}
}
