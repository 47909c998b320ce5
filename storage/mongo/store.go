//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package mongo persists evaluation tasks, items and dataset rows in
// MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trpc.group/trpc-go/trpc-flow-go/evaluation"
)

// Collection names.
const (
	taskCollection = "eval_tasks"
	itemCollection = "eval_items"
	rowCollection  = "eval_dataset_rows"
)

// Store implements evaluation.Store on a MongoDB database.
type Store struct {
	tasks *mongo.Collection
	items *mongo.Collection
	rows  *mongo.Collection
}

// NewStore wires the store onto db.
func NewStore(db *mongo.Database) *Store {
	return &Store{
		tasks: db.Collection(taskCollection),
		items: db.Collection(itemCollection),
		rows:  db.Collection(rowCollection),
	}
}

// EnsureIndexes creates the lookup indexes the processors depend on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "evalId", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create item index: %w", err)
	}
	_, err = s.rows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "datasetId", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create dataset row index: %w", err)
	}
	return nil
}

// CreateTask inserts a new task and returns its ID.
func (s *Store) CreateTask(ctx context.Context, task *evaluation.Task) (string, error) {
	if task.ID == "" {
		task.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return "", fmt.Errorf("insert evaluation task: %w", err)
	}
	return task.ID, nil
}

// Task implements evaluation.Store.
func (s *Store) Task(ctx context.Context, evalID string) (*evaluation.Task, error) {
	var task evaluation.Task
	err := s.tasks.FindOne(ctx, bson.M{"_id": evalID}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, evaluation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find evaluation task %s: %w", evalID, err)
	}
	return &task, nil
}

// UpdateTask implements evaluation.Store.
func (s *Store) UpdateTask(ctx context.Context, evalID string, update evaluation.TaskUpdate) error {
	set := taskUpdateSet(update)
	if len(set) == 0 {
		return nil
	}
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": evalID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update evaluation task %s: %w", evalID, err)
	}
	if res.MatchedCount == 0 {
		return evaluation.ErrNotFound
	}
	return nil
}

// taskUpdateSet translates a partial task write into a $set document.
func taskUpdateSet(update evaluation.TaskUpdate) bson.M {
	set := bson.M{}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.ErrorMessage != nil {
		set["errorMessage"] = *update.ErrorMessage
	}
	if update.AvgScore != nil {
		set["avgScore"] = *update.AvgScore
	}
	if update.Statistics != nil {
		set["statistics"] = update.Statistics
	}
	if update.FinishTime != nil {
		set["finishTime"] = update.FinishTime
	}
	return set
}

// Item implements evaluation.Store.
func (s *Store) Item(ctx context.Context, itemID string) (*evaluation.Item, error) {
	var item evaluation.Item
	err := s.items.FindOne(ctx, bson.M{"_id": itemID}).Decode(&item)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, evaluation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find evaluation item %s: %w", itemID, err)
	}
	return &item, nil
}

// Items implements evaluation.Store. Items come back in insertion order.
func (s *Store) Items(ctx context.Context, evalID string) ([]evaluation.Item, error) {
	cursor, err := s.items.Find(ctx, bson.M{"evalId": evalID},
		options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find items of task %s: %w", evalID, err)
	}
	var items []evaluation.Item
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("decode items of task %s: %w", evalID, err)
	}
	return items, nil
}

// InsertItems implements evaluation.Store.
func (s *Store) InsertItems(ctx context.Context, items []evaluation.Item) ([]string, error) {
	docs := make([]any, 0, len(items))
	ids := make([]string, 0, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = primitive.NewObjectID().Hex()
		}
		docs = append(docs, items[i])
		ids = append(ids, items[i].ID)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if _, err := s.items.InsertMany(ctx, docs); err != nil {
		return nil, fmt.Errorf("insert evaluation items: %w", err)
	}
	return ids, nil
}

// UpdateItem implements evaluation.Store.
func (s *Store) UpdateItem(ctx context.Context, itemID string, update evaluation.ItemUpdate) error {
	set := itemUpdateSet(update)
	if len(set) == 0 {
		return nil
	}
	res, err := s.items.UpdateOne(ctx, bson.M{"_id": itemID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update evaluation item %s: %w", itemID, err)
	}
	if res.MatchedCount == 0 {
		return evaluation.ErrNotFound
	}
	return nil
}

// itemUpdateSet translates a partial item write into a $set document.
func itemUpdateSet(update evaluation.ItemUpdate) bson.M {
	set := bson.M{}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.Retry != nil {
		set["retry"] = *update.Retry
	}
	if update.ErrorMessage != nil {
		set["errorMessage"] = *update.ErrorMessage
	}
	if update.TargetOutput != nil {
		set["targetOutput"] = update.TargetOutput
	}
	if update.EvaluatorOutputs != nil {
		set["evaluatorOutputs"] = update.EvaluatorOutputs
	}
	if update.AggregateScore != nil {
		set["aggregateScore"] = *update.AggregateScore
	}
	if update.FinishTime != nil {
		set["finishTime"] = update.FinishTime
	}
	return set
}

// rowDoc is one dataset row as stored.
type rowDoc struct {
	ID        string              `bson:"_id,omitempty"`
	DatasetID string              `bson:"datasetId"`
	Data      evaluation.DataItem `bson:"data"`
}

// InsertDatasetRows stores rows under a dataset.
func (s *Store) InsertDatasetRows(ctx context.Context, datasetID string, rows []evaluation.DataItem) error {
	docs := make([]any, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, rowDoc{
			ID:        primitive.NewObjectID().Hex(),
			DatasetID: datasetID,
			Data:      row,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.rows.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert dataset rows: %w", err)
	}
	return nil
}

// DatasetRows implements evaluation.Store.
func (s *Store) DatasetRows(ctx context.Context, datasetID string) ([]evaluation.DataItem, error) {
	cursor, err := s.rows.Find(ctx, bson.M{"datasetId": datasetID},
		options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find rows of dataset %s: %w", datasetID, err)
	}
	var docs []rowDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode rows of dataset %s: %w", datasetID, err)
	}
	rows := make([]evaluation.DataItem, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, doc.Data)
	}
	return rows, nil
}
