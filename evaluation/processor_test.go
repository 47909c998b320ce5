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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-process Store for tests.
type memStore struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	items    map[string]*Item
	order    []string
	datasets map[string][]DataItem
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    map[string]*Task{},
		items:    map[string]*Item{},
		datasets: map[string][]DataItem{},
	}
}

func (s *memStore) Task(_ context.Context, evalID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[evalID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *memStore) UpdateTask(_ context.Context, evalID string, update TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[evalID]
	if !ok {
		return ErrNotFound
	}
	if update.Status != nil {
		task.Status = *update.Status
	}
	if update.ErrorMessage != nil {
		task.ErrorMessage = *update.ErrorMessage
	}
	if update.AvgScore != nil {
		task.AvgScore = update.AvgScore
	}
	if update.Statistics != nil {
		task.Statistics = update.Statistics
	}
	if update.FinishTime != nil {
		task.FinishTime = update.FinishTime
	}
	return nil
}

func (s *memStore) Item(_ context.Context, itemID string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *memStore) Items(_ context.Context, evalID string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, id := range s.order {
		if s.items[id].EvalID == evalID {
			out = append(out, *s.items[id])
		}
	}
	return out, nil
}

func (s *memStore) InsertItems(_ context.Context, items []Item) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	for i := range items {
		s.seq++
		item := items[i]
		item.ID = fmt.Sprintf("item-%d", s.seq)
		s.items[item.ID] = &item
		s.order = append(s.order, item.ID)
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (s *memStore) UpdateItem(_ context.Context, itemID string, update ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return ErrNotFound
	}
	if update.Status != nil {
		item.Status = *update.Status
	}
	if update.Retry != nil {
		item.Retry = *update.Retry
	}
	if update.ErrorMessage != nil {
		item.ErrorMessage = *update.ErrorMessage
	}
	if update.TargetOutput != nil {
		item.TargetOutput = update.TargetOutput
	}
	if update.EvaluatorOutputs != nil {
		item.EvaluatorOutputs = update.EvaluatorOutputs
	}
	if update.AggregateScore != nil {
		item.AggregateScore = update.AggregateScore
	}
	if update.FinishTime != nil {
		item.FinishTime = update.FinishTime
	}
	return nil
}

func (s *memStore) DatasetRows(_ context.Context, datasetID string) ([]DataItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasets[datasetID], nil
}

type targetFunc func(ctx context.Context, item DataItem) (*TargetOutput, error)

func (f targetFunc) Execute(ctx context.Context, item DataItem) (*TargetOutput, error) {
	return f(ctx, item)
}

// fakeTargets counts instantiations so tests can prove checkpoint reuse.
type fakeTargets struct {
	mu    sync.Mutex
	calls int
	fn    targetFunc
}

func (f *fakeTargets) NewTarget(TargetConfig) (Target, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn, nil
}

func (f *fakeTargets) instantiations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type evaluatorFunc func(ctx context.Context, input EvalInput) (*MetricResult, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, input EvalInput) (*MetricResult, error) {
	return f(ctx, input)
}

// fakeEvaluators dispatches per metric name.
type fakeEvaluators struct {
	byMetric map[string]evaluatorFunc
}

func (f *fakeEvaluators) NewEvaluator(cfg EvaluatorConfig) (Evaluator, error) {
	fn, ok := f.byMetric[cfg.Metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %s", cfg.Metric)
	}
	return fn, nil
}

type enqueuedJob struct {
	evalID string
	itemID string
	delay  time.Duration
}

// recordingQueue captures enqueued jobs without running them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (q *recordingQueue) EnqueueItem(_ context.Context, evalID, itemID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueuedJob{evalID: evalID, itemID: itemID, delay: delay})
	return nil
}

func (q *recordingQueue) all() []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueuedJob(nil), q.jobs...)
}

type progressLog struct {
	mu    sync.Mutex
	steps []int
}

func (p *progressLog) UpdateProgress(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, percent)
}

func (p *progressLog) all() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.steps...)
}

type countingSummary struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSummary) GenerateSummaryReports(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingSummary) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func scoringEvaluator(score float64) evaluatorFunc {
	return func(_ context.Context, _ EvalInput) (*MetricResult, error) {
		return &MetricResult{
			Status: MetricSuccess,
			Data:   MetricData{Score: score},
		}, nil
	}
}

func echoTarget() targetFunc {
	return func(_ context.Context, item DataItem) (*TargetOutput, error) {
		return &TargetOutput{ActualOutput: "echo: " + item.UserInput}, nil
	}
}

func seedTask(store *memStore, rows int, evaluators ...string) *Task {
	task := &Task{
		ID:        "eval-1",
		TeamID:    "team-1",
		DatasetID: "ds-1",
		Target:    TargetConfig{Type: "workflow", Config: map[string]any{"appId": "app-1"}},
		Status:    StatusQueuing,
	}
	for _, m := range evaluators {
		task.Evaluators = append(task.Evaluators, EvaluatorConfig{Metric: m})
	}
	store.tasks[task.ID] = task
	for i := 0; i < rows; i++ {
		store.datasets["ds-1"] = append(store.datasets["ds-1"], DataItem{
			UserInput:      fmt.Sprintf("question %d", i),
			ExpectedOutput: fmt.Sprintf("answer %d", i),
		})
	}
	return task
}

func TestProcessTaskFansOutItems(t *testing.T) {
	store := newMemStore()
	seedTask(store, 2, "accuracy")
	queue := &recordingQueue{}
	progress := &progressLog{}
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()},
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{"accuracy": scoringEvaluator(80)}},
		WithItemEnqueuer(queue))

	err := p.ProcessTask(context.Background(), "eval-1", progress)
	require.NoError(t, err)

	items, err := store.Items(context.Background(), "eval-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, StatusQueuing, item.Status)
		assert.Equal(t, DefaultMaxRetries, item.Retry)
		assert.Equal(t, "eval-1", item.EvalID)
	}

	jobs := queue.all()
	require.Len(t, jobs, 2)
	assert.Equal(t, time.Duration(0), jobs[0].delay)
	assert.Equal(t, 100*time.Millisecond, jobs[1].delay)
	assert.Equal(t, []int{0, 20, 100}, progress.all())
}

func TestProcessTaskResumeSkipsCompletedItems(t *testing.T) {
	store := newMemStore()
	seedTask(store, 2, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{
		{EvalID: "eval-1", Status: StatusCompleted},
		{EvalID: "eval-1", Status: StatusError},
	})
	require.NoError(t, err)

	queue := &recordingQueue{}
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()},
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{"accuracy": scoringEvaluator(80)}},
		WithItemEnqueuer(queue))

	require.NoError(t, p.ProcessTask(context.Background(), "eval-1", nil))

	// No new items, and only the non-completed one is requeued.
	items, err := store.Items(context.Background(), "eval-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	jobs := queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[1], jobs[0].itemID)
}

func TestProcessTaskMissingTaskIsDropped(t *testing.T) {
	store := newMemStore()
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()}, &fakeEvaluators{},
		WithItemEnqueuer(&recordingQueue{}))
	assert.NoError(t, p.ProcessTask(context.Background(), "gone", nil))
}

func TestProcessTaskValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		seed func(store *memStore)
		want string
	}{
		{
			name: "invalid target",
			seed: func(store *memStore) {
				task := seedTask(store, 1, "accuracy")
				task.Target = TargetConfig{}
			},
			want: "invalid target config",
		},
		{
			name: "no evaluators",
			seed: func(store *memStore) {
				seedTask(store, 1)
			},
			want: "no evaluators",
		},
		{
			name: "empty dataset",
			seed: func(store *memStore) {
				seedTask(store, 0, "accuracy")
			},
			want: "has no rows",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			tt.seed(store)
			p := NewProcessor(store, &fakeTargets{fn: echoTarget()}, &fakeEvaluators{},
				WithItemEnqueuer(&recordingQueue{}))

			err := p.ProcessTask(context.Background(), "eval-1", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			task, err := store.Task(context.Background(), "eval-1")
			require.NoError(t, err)
			assert.Equal(t, StatusError, task.Status)
			assert.NotNil(t, task.FinishTime)
			assert.NotEmpty(t, task.ErrorMessage)
		})
	}
}

func TestProcessItemCompletes(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy", "relevance")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:   "eval-1",
		DataItem: DataItem{UserInput: "question 0"},
		Status:   StatusQueuing,
		Retry:    DefaultMaxRetries,
	}})
	require.NoError(t, err)

	progress := &progressLog{}
	summary := &countingSummary{}
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()},
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{
			"accuracy":  scoringEvaluator(80),
			"relevance": scoringEvaluator(91),
		}},
		WithItemEnqueuer(&recordingQueue{}),
		WithSummaryGenerator(summary))

	require.NoError(t, p.ProcessItem(context.Background(), "eval-1", ids[0], progress))

	item, err := store.Item(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
	require.NotNil(t, item.TargetOutput)
	assert.Equal(t, "echo: question 0", item.TargetOutput.ActualOutput)
	require.Len(t, item.EvaluatorOutputs, 2)
	require.NotNil(t, item.AggregateScore)
	assert.InDelta(t, 85.5, *item.AggregateScore, 0.001)
	assert.NotNil(t, item.FinishTime)
	assert.Equal(t, StageScored, item.Stage())
	assert.Equal(t, []int{0, 10, 30, 100}, progress.all())

	// The only item finished, so the task closed too.
	task, err := store.Task(context.Background(), "eval-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	require.NotNil(t, task.AvgScore)
	assert.InDelta(t, 85.5, *task.AvgScore, 0.001)
	require.NotNil(t, task.Statistics)
	assert.Equal(t, TaskStatistics{TotalItems: 1, CompletedItems: 1, ErrorItems: 0}, *task.Statistics)
	assert.Equal(t, 1, summary.count())
}

func TestProcessItemResumesFromTargetCheckpoint(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:       "eval-1",
		DataItem:     DataItem{UserInput: "question 0"},
		Status:       StatusEvaluating,
		Retry:        DefaultMaxRetries,
		TargetOutput: &TargetOutput{ActualOutput: "cached answer"},
	}})
	require.NoError(t, err)

	targets := &fakeTargets{fn: echoTarget()}
	var seen EvalInput
	p := NewProcessor(store, targets,
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{
			"accuracy": func(_ context.Context, input EvalInput) (*MetricResult, error) {
				seen = input
				return &MetricResult{Status: MetricSuccess, Data: MetricData{Score: 70}}, nil
			},
		}},
		WithItemEnqueuer(&recordingQueue{}))

	require.NoError(t, p.ProcessItem(context.Background(), "eval-1", ids[0], nil))

	assert.Equal(t, 0, targets.instantiations(), "checkpointed target output must not rerun the target")
	assert.Equal(t, "cached answer", seen.ActualOutput)

	item, err := store.Item(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
}

func TestProcessItemCheckpointIgnoredOutsideEvaluating(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:       "eval-1",
		DataItem:     DataItem{UserInput: "question 0"},
		Status:       StatusQueuing,
		Retry:        DefaultMaxRetries,
		TargetOutput: &TargetOutput{ActualOutput: "stale answer"},
	}})
	require.NoError(t, err)

	targets := &fakeTargets{fn: echoTarget()}
	p := NewProcessor(store, targets,
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{"accuracy": scoringEvaluator(60)}},
		WithItemEnqueuer(&recordingQueue{}))

	require.NoError(t, p.ProcessItem(context.Background(), "eval-1", ids[0], nil))
	assert.Equal(t, 1, targets.instantiations())

	item, err := store.Item(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "echo: question 0", item.TargetOutput.ActualOutput)
}

func TestProcessItemEvaluatorFailureFailsItem(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy", "relevance")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:   "eval-1",
		DataItem: DataItem{UserInput: "question 0"},
		Status:   StatusQueuing,
		Retry:    DefaultMaxRetries,
	}})
	require.NoError(t, err)

	p := NewProcessor(store, &fakeTargets{fn: echoTarget()},
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{
			"accuracy": scoringEvaluator(85),
			"relevance": func(_ context.Context, _ EvalInput) (*MetricResult, error) {
				return nil, errors.New("judge model rejected the prompt")
			},
		}},
		WithItemEnqueuer(&recordingQueue{}))

	err = p.ProcessItem(context.Background(), "eval-1", ids[0], nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Evaluator errors")

	item, getErr := store.Item(context.Background(), ids[0])
	require.NoError(t, getErr)
	assert.Equal(t, StatusError, item.Status)
	assert.NotNil(t, item.FinishTime)
	// The paid target work survives the evaluator failure, and the partial
	// evaluator outputs stay inspectable.
	require.NotNil(t, item.TargetOutput)
	assert.Equal(t, "echo: question 0", item.TargetOutput.ActualOutput)
	require.Len(t, item.EvaluatorOutputs, 2)
	assert.Equal(t, MetricSuccess, item.EvaluatorOutputs[0].Status)
	assert.Equal(t, MetricFailed, item.EvaluatorOutputs[1].Status)
}

func TestProcessItemRetriableFailureRequeues(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:   "eval-1",
		DataItem: DataItem{UserInput: "question 0"},
		Status:   StatusQueuing,
		Retry:    DefaultMaxRetries,
	}})
	require.NoError(t, err)

	queue := &recordingQueue{}
	p := NewProcessor(store, &fakeTargets{fn: func(context.Context, DataItem) (*TargetOutput, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}, &fakeEvaluators{}, WithItemEnqueuer(queue))

	err = p.ProcessItem(context.Background(), "eval-1", ids[0], nil)
	require.Error(t, err)

	item, getErr := store.Item(context.Background(), ids[0])
	require.NoError(t, getErr)
	assert.Equal(t, StatusQueuing, item.Status)
	assert.Equal(t, DefaultMaxRetries-1, item.Retry)
	assert.Nil(t, item.FinishTime)
	assert.Contains(t, item.ErrorMessage, "connection refused")

	jobs := queue.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, ids[0], jobs[0].itemID)
	assert.Equal(t, RetryDelay(DefaultMaxRetries, DefaultMaxRetries-1), jobs[0].delay)
}

func TestProcessItemExhaustedRetriesFailPermanently(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:   "eval-1",
		DataItem: DataItem{UserInput: "question 0"},
		Status:   StatusQueuing,
		Retry:    1,
	}})
	require.NoError(t, err)

	queue := &recordingQueue{}
	p := NewProcessor(store, &fakeTargets{fn: func(context.Context, DataItem) (*TargetOutput, error) {
		return nil, errors.New("request timeout")
	}}, &fakeEvaluators{}, WithItemEnqueuer(queue))

	require.Error(t, p.ProcessItem(context.Background(), "eval-1", ids[0], nil))

	item, getErr := store.Item(context.Background(), ids[0])
	require.NoError(t, getErr)
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, 0, item.Retry)
	assert.NotNil(t, item.FinishTime)
	assert.Empty(t, queue.all())
}

func TestProcessItemQuotaFailureIsPermanent(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID: "eval-1",
		Status: StatusQueuing,
		Retry:  DefaultMaxRetries,
	}})
	require.NoError(t, err)

	queue := &recordingQueue{}
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()}, &fakeEvaluators{},
		WithItemEnqueuer(queue),
		WithResourceChecker(resourceCheckerFunc(func(context.Context, string) error {
			return errors.New("team has no AI points left")
		})))

	err = p.ProcessItem(context.Background(), "eval-1", ids[0], nil)
	require.Error(t, err)

	item, getErr := store.Item(context.Background(), ids[0])
	require.NoError(t, getErr)
	assert.Equal(t, StatusError, item.Status)
	assert.Empty(t, queue.all(), "quota failures must not burn retries")
}

type resourceCheckerFunc func(ctx context.Context, teamID string) error

func (f resourceCheckerFunc) CheckAIPoints(ctx context.Context, teamID string) error {
	return f(ctx, teamID)
}

func TestFinishTaskWaitsForPendingItems(t *testing.T) {
	store := newMemStore()
	seedTask(store, 2, "accuracy")
	score := 90.0
	ids, err := store.InsertItems(context.Background(), []Item{
		{EvalID: "eval-1", Status: StatusCompleted, AggregateScore: &score},
		{EvalID: "eval-1", Status: StatusEvaluating},
	})
	require.NoError(t, err)

	summary := &countingSummary{}
	p := NewProcessor(store, &fakeTargets{fn: echoTarget()}, &fakeEvaluators{},
		WithItemEnqueuer(&recordingQueue{}), WithSummaryGenerator(summary))

	p.FinishTask(context.Background(), "eval-1")
	task, err := store.Task(context.Background(), "eval-1")
	require.NoError(t, err)
	assert.Nil(t, task.FinishTime)
	assert.Equal(t, 0, summary.count())

	// Second item reaches a terminal state; now the task closes, once.
	completed := StatusCompleted
	other := 70.0
	require.NoError(t, store.UpdateItem(context.Background(), ids[1], ItemUpdate{
		Status:         &completed,
		AggregateScore: &other,
	}))
	p.FinishTask(context.Background(), "eval-1")
	p.FinishTask(context.Background(), "eval-1")

	task, err = store.Task(context.Background(), "eval-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	require.NotNil(t, task.FinishTime)
	require.NotNil(t, task.AvgScore)
	assert.InDelta(t, 80.0, *task.AvgScore, 0.001)
	assert.Equal(t, 1, summary.count())
}

func TestFinishTaskAllItemsFailed(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	_, err := store.InsertItems(context.Background(), []Item{
		{EvalID: "eval-1", Status: StatusError},
	})
	require.NoError(t, err)

	p := NewProcessor(store, &fakeTargets{fn: echoTarget()}, &fakeEvaluators{},
		WithItemEnqueuer(&recordingQueue{}))
	p.FinishTask(context.Background(), "eval-1")

	task, err := store.Task(context.Background(), "eval-1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, task.Status)
	assert.Contains(t, task.ErrorMessage, "all 1 evaluation items failed")
	require.NotNil(t, task.Statistics)
	assert.Equal(t, TaskStatistics{TotalItems: 1, CompletedItems: 0, ErrorItems: 1}, *task.Statistics)
}

func TestProcessItemRecordsUsage(t *testing.T) {
	store := newMemStore()
	seedTask(store, 1, "accuracy")
	ids, err := store.InsertItems(context.Background(), []Item{{
		EvalID:   "eval-1",
		DataItem: DataItem{UserInput: "question 0"},
		Status:   StatusQueuing,
		Retry:    DefaultMaxRetries,
	}})
	require.NoError(t, err)

	var mu sync.Mutex
	var recorded []MergedUsage
	p := NewProcessor(store,
		&fakeTargets{fn: func(_ context.Context, item DataItem) (*TargetOutput, error) {
			return &TargetOutput{
				ActualOutput: "answer",
				Usage:        []UsageEntry{{TotalPoints: 3}, {TotalPoints: 2}},
			}, nil
		}},
		&fakeEvaluators{byMetric: map[string]evaluatorFunc{
			"accuracy": func(context.Context, EvalInput) (*MetricResult, error) {
				return &MetricResult{
					Status:      MetricSuccess,
					Data:        MetricData{Score: 50},
					TotalPoints: 1.5,
				}, nil
			},
		}},
		WithItemEnqueuer(&recordingQueue{}),
		WithUsageRecorder(usageRecorderFunc(func(_ context.Context, u MergedUsage) error {
			mu.Lock()
			defer mu.Unlock()
			recorded = append(recorded, u)
			return nil
		})))

	require.NoError(t, p.ProcessItem(context.Background(), "eval-1", ids[0], nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 2)
	assert.Equal(t, "target", recorded[0].Kind)
	assert.InDelta(t, 5.0, recorded[0].TotalPoints, 0.001)
	assert.Equal(t, "metric", recorded[1].Kind)
	assert.InDelta(t, 1.5, recorded[1].TotalPoints, 0.001)
	assert.Equal(t, "team-1", recorded[0].TeamID)
}

type usageRecorderFunc func(ctx context.Context, usage MergedUsage) error

func (f usageRecorderFunc) RecordUsage(ctx context.Context, usage MergedUsage) error {
	return f(ctx, usage)
}
