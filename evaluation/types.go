//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package evaluation runs batch scoring jobs: a task fans out into one item
// per dataset row, each item executes a target app and scores its output
// with the configured metric evaluators. Item jobs are independent and
// individually checkpointed so a crashed worker resumes instead of redoing
// paid work.
package evaluation

import (
	"time"
)

// Status is the lifecycle state shared by tasks and items.
type Status string

// Task and item states.
const (
	StatusQueuing    Status = "queuing"
	StatusEvaluating Status = "evaluating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// DataItem is one dataset row fed to the target and the evaluators.
type DataItem struct {
	UserInput       string         `json:"userInput" bson:"userInput"`
	ExpectedOutput  string         `json:"expectedOutput,omitempty" bson:"expectedOutput,omitempty"`
	Context         []string       `json:"context,omitempty" bson:"context,omitempty"`
	GlobalVariables map[string]any `json:"globalVariables,omitempty" bson:"globalVariables,omitempty"`
}

// UsageEntry is one billing record produced by a target or evaluator call.
type UsageEntry struct {
	TotalPoints  float64 `json:"totalPoints" bson:"totalPoints"`
	InputTokens  int     `json:"inputTokens,omitempty" bson:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty" bson:"outputTokens,omitempty"`
}

// TargetOutput is what one target execution produced. ActualOutput present
// means the target stage checkpoint is set.
type TargetOutput struct {
	ActualOutput     string       `json:"actualOutput" bson:"actualOutput"`
	ResponseTime     float64      `json:"responseTime" bson:"responseTime"`
	ChatID           string       `json:"chatId,omitempty" bson:"chatId,omitempty"`
	AIChatItemDataID string       `json:"aiChatItemDataId,omitempty" bson:"aiChatItemDataId,omitempty"`
	RetrievalContext []string     `json:"retrievalContext,omitempty" bson:"retrievalContext,omitempty"`
	Usage            []UsageEntry `json:"usage,omitempty" bson:"usage,omitempty"`
}

// MetricResultStatus is the per-evaluator verdict.
type MetricResultStatus string

// Metric result statuses.
const (
	MetricSuccess MetricResultStatus = "Success"
	MetricFailed  MetricResultStatus = "Failed"
)

// MetricData is the scored payload of one evaluator run.
type MetricData struct {
	Score      float64 `json:"score" bson:"score"`
	Reason     string  `json:"reason,omitempty" bson:"reason,omitempty"`
	MetricName string  `json:"metricName" bson:"metricName"`
}

// MetricResult is one evaluator's outcome for one item.
type MetricResult struct {
	MetricName  string             `json:"metricName" bson:"metricName"`
	Status      MetricResultStatus `json:"status" bson:"status"`
	Data        MetricData         `json:"data" bson:"data"`
	TotalPoints float64            `json:"totalPoints,omitempty" bson:"totalPoints,omitempty"`
	Usages      []UsageEntry       `json:"usages,omitempty" bson:"usages,omitempty"`
	Error       string             `json:"error,omitempty" bson:"error,omitempty"`
}

// TargetConfig selects and configures the app under evaluation.
type TargetConfig struct {
	Type   string         `json:"type" bson:"type"`
	Config map[string]any `json:"config" bson:"config"`
}

// Valid reports whether the config carries both a type and a payload.
func (c *TargetConfig) Valid() bool {
	return c != nil && c.Type != "" && c.Config != nil
}

// EvaluatorConfig configures one metric evaluator.
type EvaluatorConfig struct {
	Metric         string         `json:"metric" bson:"metric"`
	RuntimeConfig  map[string]any `json:"runtimeConfig,omitempty" bson:"runtimeConfig,omitempty"`
	ThresholdValue float64        `json:"thresholdValue,omitempty" bson:"thresholdValue,omitempty"`
}

// TaskStatistics is the execution summary persisted when a task finishes.
type TaskStatistics struct {
	TotalItems     int `json:"totalItems" bson:"totalItems"`
	CompletedItems int `json:"completedItems" bson:"completedItems"`
	ErrorItems     int `json:"errorItems" bson:"errorItems"`
}

// Task is one batch evaluation run over a dataset.
type Task struct {
	ID           string            `json:"id" bson:"_id,omitempty"`
	TeamID       string            `json:"teamId" bson:"teamId"`
	UsageID      string            `json:"usageId,omitempty" bson:"usageId,omitempty"`
	Name         string            `json:"name" bson:"name"`
	DatasetID    string            `json:"datasetId" bson:"datasetId"`
	Target       TargetConfig      `json:"target" bson:"target"`
	Evaluators   []EvaluatorConfig `json:"evaluators" bson:"evaluators"`
	Status       Status            `json:"status" bson:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	AvgScore     *float64          `json:"avgScore,omitempty" bson:"avgScore,omitempty"`
	Statistics   *TaskStatistics   `json:"statistics,omitempty" bson:"statistics,omitempty"`
	CreateTime   time.Time         `json:"createTime" bson:"createTime"`
	FinishTime   *time.Time        `json:"finishTime,omitempty" bson:"finishTime,omitempty"`
}

// ItemStage is the derived progress of one item, computed from its
// checkpoint fields rather than stored separately so the fields stay the
// single source of truth.
type ItemStage string

// Item stages, in order.
const (
	StagePending        ItemStage = "pending"
	StageTargetDone     ItemStage = "targetDone"
	StageEvaluatorsDone ItemStage = "evaluatorsDone"
	StageScored         ItemStage = "scored"
)

// Item is one dataset row's worth of target execution plus scoring.
type Item struct {
	ID               string         `json:"id" bson:"_id,omitempty"`
	EvalID           string         `json:"evalId" bson:"evalId"`
	DataItem         DataItem       `json:"dataItem" bson:"dataItem"`
	Status           Status         `json:"status" bson:"status"`
	Retry            int            `json:"retry" bson:"retry"`
	ErrorMessage     string         `json:"errorMessage,omitempty" bson:"errorMessage,omitempty"`
	TargetOutput     *TargetOutput  `json:"targetOutput,omitempty" bson:"targetOutput,omitempty"`
	EvaluatorOutputs []MetricResult `json:"evaluatorOutputs,omitempty" bson:"evaluatorOutputs,omitempty"`
	AggregateScore   *float64       `json:"aggregateScore,omitempty" bson:"aggregateScore,omitempty"`
	FinishTime       *time.Time     `json:"finishTime,omitempty" bson:"finishTime,omitempty"`
}

// Stage derives the item's progress from its checkpoint fields.
func (i *Item) Stage() ItemStage {
	switch {
	case i.AggregateScore != nil:
		return StageScored
	case i.EvaluatorOutputs != nil:
		return StageEvaluatorsDone
	case i.TargetOutput != nil && i.TargetOutput.ActualOutput != "":
		return StageTargetDone
	}
	return StagePending
}
