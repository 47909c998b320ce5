//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// EdgeStatus is the per-run state of an edge. Only the dispatch engine
// mutates it, as it visits the edge's source node.
type EdgeStatus string

// Edge states. waiting -> running -> {succeeded, skipped, failed}.
const (
	EdgeStatusWaiting   EdgeStatus = "waiting"
	EdgeStatusRunning   EdgeStatus = "running"
	EdgeStatusSucceeded EdgeStatus = "succeeded"
	EdgeStatusSkipped   EdgeStatus = "skipped"
	EdgeStatusFailed    EdgeStatus = "failed"
)

// Terminal reports whether the status is one of the final states.
func (s EdgeStatus) Terminal() bool {
	switch s {
	case EdgeStatusSucceeded, EdgeStatusSkipped, EdgeStatusFailed:
		return true
	}
	return false
}

// HandleSelectedTools is the reserved handle that wires tool children under
// a tool-call node. Edges using it carry selection, not data flow.
const HandleSelectedTools = "selectedTools"

// RuntimeEdge is a directed connection between two node ports. Both Source
// and Target must name nodes present in the runtime node list; edges that do
// not are pruned before execution.
type RuntimeEdge struct {
	Source       string     `json:"source" bson:"source"`
	Target       string     `json:"target" bson:"target"`
	SourceHandle string     `json:"sourceHandle,omitempty" bson:"sourceHandle,omitempty"`
	TargetHandle string     `json:"targetHandle,omitempty" bson:"targetHandle,omitempty"`
	Status       EdgeStatus `json:"status,omitempty" bson:"status,omitempty"`
}

// RuntimeWorkflow is the node/edge pair owned by one in-flight run. After the
// rewriter has expanded tool sets, the structure is the final executable
// graph for that run.
type RuntimeWorkflow struct {
	Nodes []RuntimeNode
	Edges []RuntimeEdge
}

// NodeIDSet returns the set of node ids in the workflow.
func (w *RuntimeWorkflow) NodeIDSet() map[string]struct{} {
	ids := make(map[string]struct{}, len(w.Nodes))
	for i := range w.Nodes {
		ids[w.Nodes[i].NodeID] = struct{}{}
	}
	return ids
}

// Node returns the node with the given id.
func (w *RuntimeWorkflow) Node(id string) (*RuntimeNode, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].NodeID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}
