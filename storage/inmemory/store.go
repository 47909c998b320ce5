//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides a map-backed evaluation store for single-node
// deployments and tests.
package inmemory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/evaluation"
)

// Store keeps tasks, items and dataset rows in process memory. All methods
// are safe for concurrent use and return copies, so callers never alias
// internal state.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]evaluation.Task
	items     map[string]evaluation.Item
	itemOrder []string
	datasets  map[string][]evaluation.DataItem
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:    map[string]evaluation.Task{},
		items:    map[string]evaluation.Item{},
		datasets: map[string][]evaluation.DataItem{},
	}
}

// CreateTask stores a new task, assigning an ID when missing.
func (s *Store) CreateTask(_ context.Context, task *evaluation.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	s.tasks[task.ID] = *task
	return task.ID, nil
}

// PutDataset stores the rows of a dataset, replacing previous content.
func (s *Store) PutDataset(_ context.Context, datasetID string, rows []evaluation.DataItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[datasetID] = append([]evaluation.DataItem(nil), rows...)
	return nil
}

// Task implements evaluation.Store.
func (s *Store) Task(_ context.Context, evalID string) (*evaluation.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[evalID]
	if !ok {
		return nil, evaluation.ErrNotFound
	}
	return &task, nil
}

// UpdateTask implements evaluation.Store.
func (s *Store) UpdateTask(_ context.Context, evalID string, update evaluation.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[evalID]
	if !ok {
		return evaluation.ErrNotFound
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
	s.tasks[evalID] = task
	return nil
}

// Item implements evaluation.Store.
func (s *Store) Item(_ context.Context, itemID string) (*evaluation.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, evaluation.ErrNotFound
	}
	return &item, nil
}

// Items implements evaluation.Store. Items come back in insertion order.
func (s *Store) Items(_ context.Context, evalID string) ([]evaluation.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evaluation.Item
	for _, id := range s.itemOrder {
		if item, ok := s.items[id]; ok && item.EvalID == evalID {
			out = append(out, item)
		}
	}
	return out, nil
}

// InsertItems implements evaluation.Store.
func (s *Store) InsertItems(_ context.Context, items []evaluation.Item) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		s.items[item.ID] = item
		s.itemOrder = append(s.itemOrder, item.ID)
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// UpdateItem implements evaluation.Store.
func (s *Store) UpdateItem(_ context.Context, itemID string, update evaluation.ItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return evaluation.ErrNotFound
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
	s.items[itemID] = item
	return nil
}

// DatasetRows implements evaluation.Store.
func (s *Store) DatasetRows(_ context.Context, datasetID string) ([]evaluation.DataItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.datasets[datasetID]
	if !ok {
		return nil, evaluation.ErrNotFound
	}
	return append([]evaluation.DataItem(nil), rows...), nil
}
