//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// RunDecision is the dispatch engine's verdict for a node in the current
// wave.
type RunDecision string

// Run decisions.
const (
	DecisionRun  RunDecision = "run"
	DecisionSkip RunDecision = "skip"
	DecisionWait RunDecision = "wait"
)

// FilterDataEdges strips tool-selection wiring, leaving only edges that
// carry data flow.
func FilterDataEdges(edges []RuntimeEdge) []RuntimeEdge {
	out := make([]RuntimeEdge, 0, len(edges))
	for _, e := range edges {
		if e.SourceHandle == HandleSelectedTools || e.TargetHandle == HandleSelectedTools {
			continue
		}
		out = append(out, e)
	}
	return out
}

// CheckNodeRunStatus classifies whether a node can run in the current wave.
// A node with no inbound data edges is an entry and runs. A node runs when
// at least one inbound edge succeeded and none is still pending; it is
// skipped when every inbound edge was skipped or failed; otherwise it waits.
func CheckNodeRunStatus(node *RuntimeNode, edges []RuntimeEdge) RunDecision {
	var inbound []RuntimeEdge
	for _, e := range FilterDataEdges(edges) {
		if e.Target == node.NodeID {
			inbound = append(inbound, e)
		}
	}
	if len(inbound) == 0 {
		return DecisionRun
	}

	succeeded, pending := 0, 0
	for _, e := range inbound {
		switch e.Status {
		case EdgeStatusSucceeded:
			succeeded++
		case EdgeStatusWaiting, EdgeStatusRunning:
			pending++
		}
	}
	if pending > 0 {
		return DecisionWait
	}
	if succeeded > 0 {
		return DecisionRun
	}
	return DecisionSkip
}
