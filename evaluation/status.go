//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package evaluation

import "math"

// BatchStats summarizes the statuses of a task's items in one pass.
type BatchStats struct {
	Total      int
	Completed  int
	Errored    int
	Evaluating int
	Queuing    int
	// AvgScore averages the aggregate scores of completed items, rounded to
	// two decimals. Zero when no completed item carries a score.
	AvgScore float64
}

// Pending counts items that have not reached a terminal status.
func (s BatchStats) Pending() int {
	return s.Evaluating + s.Queuing
}

// ComputeBatchStats folds an item list into status counts and the average
// score of completed items.
func ComputeBatchStats(items []Item) BatchStats {
	var stats BatchStats
	stats.Total = len(items)

	var scoreSum float64
	var scored int
	for i := range items {
		switch items[i].Status {
		case StatusCompleted:
			stats.Completed++
			if items[i].AggregateScore != nil {
				scoreSum += *items[i].AggregateScore
				scored++
			}
		case StatusError:
			stats.Errored++
		case StatusEvaluating:
			stats.Evaluating++
		default:
			stats.Queuing++
		}
	}
	if scored > 0 {
		stats.AvgScore = math.Round(scoreSum/float64(scored)*100) / 100
	}
	return stats
}

// MeanScoreCalculator aggregates evaluator scores by arithmetic mean over
// the successful results. It is the default ScoreCalculator.
type MeanScoreCalculator struct{}

// Aggregate implements ScoreCalculator.
func (MeanScoreCalculator) Aggregate(results []MetricResult) float64 {
	var sum float64
	var n int
	for i := range results {
		if results[i].Status != MetricSuccess {
			continue
		}
		sum += results[i].Data.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}
