//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// defaultMaxRunTimes bounds the number of node executions in one dispatch so
// a cyclic or interactive graph cannot spin forever.
const defaultMaxRunTimes = 500

// ErrMaxRunTimes reports a dispatch that exhausted its execution budget.
var ErrMaxRunTimes = errors.New("dispatch: max node run times exceeded")

// ErrNoHandler reports a node type without a registered handler.
var ErrNoHandler = errors.New("dispatch: no handler for node type")

// NodeResult is what a handler returns for one successful node execution.
type NodeResult struct {
	// Outputs are the values, keyed by output key, that downstream
	// references resolve against.
	Outputs map[string]any
	// AnswerText is appended to the aggregated assistant answer.
	AnswerText string
	// NodeResponse is the per-node trace entry shown in detail mode.
	NodeResponse map[string]any
	// ToolResponses is handed back to a tool-calling model.
	ToolResponses any
	// Usages are billing entries produced while the node ran.
	Usages []workflow.NodeUsage
	// NewVariables are merged into the run's variable bag.
	NewVariables map[string]any
	// Skipped marks the node as not having run; its outbound edges are
	// skipped instead of succeeded.
	Skipped bool
}

// NodeHandler executes one node. A returned error fails the node; whether
// that fails the whole run depends on the node's CatchError flag.
type NodeHandler func(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error)

// State is the mutable context of one dispatch pass. It is owned by a single
// goroutine for the duration of the run.
type State struct {
	Workflow  workflow.RuntimeWorkflow
	Variables map[string]any
	Histories []workflow.ChatItem
	Query     string
	Writer    Writer

	outputs map[string]map[string]any
}

// NodeOutputs returns the recorded outputs of an already-executed node.
func (s *State) NodeOutputs(nodeID string) (map[string]any, bool) {
	out, ok := s.outputs[nodeID]
	return out, ok
}

// ResolveInput returns the runtime value of one node input: a reference is
// resolved against upstream outputs, otherwise the literal value is used.
// Either way the value is coerced to the input's declared type.
func (s *State) ResolveInput(in *workflow.NodeInput) any {
	value := in.Value
	if in.Reference != nil {
		if out, ok := s.outputs[in.Reference.NodeID]; ok {
			if v, ok := out[in.Reference.OutputKey]; ok {
				value = v
			}
		}
	}
	if str, ok := value.(string); ok {
		value = s.interpolateVariables(str)
	}
	return workflow.CoerceValue(value, in.ValueType)
}

// interpolateVariables substitutes {{key}} markers with run variables.
func (s *State) interpolateVariables(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	for k, v := range s.Variables {
		marker := "{{" + k + "}}"
		if strings.Contains(text, marker) {
			text = strings.ReplaceAll(text, marker, fmt.Sprintf("%v", v))
		}
	}
	return text
}

// NodeResponse is one aggregated trace entry of a finished dispatch.
type NodeResponse struct {
	NodeID       string         `json:"nodeId" bson:"nodeId"`
	ModuleName   string         `json:"moduleName,omitempty" bson:"moduleName,omitempty"`
	ModuleType   string         `json:"moduleType,omitempty" bson:"moduleType,omitempty"`
	RunningTime  float64        `json:"runningTime,omitempty" bson:"runningTime,omitempty"`
	Response     map[string]any `json:"response,omitempty" bson:"response,omitempty"`
	ErrorText    string         `json:"errorText,omitempty" bson:"errorText,omitempty"`
}

// Result is the aggregated outcome of one dispatch pass.
type Result struct {
	FlowResponses   []NodeResponse         `json:"flowResponses" bson:"flowResponses"`
	FlowUsages      []workflow.NodeUsage   `json:"flowUsages" bson:"flowUsages"`
	AssistantAnswer string                 `json:"assistantAnswer" bson:"assistantAnswer"`
	ToolResponses   []any                  `json:"toolResponses,omitempty" bson:"toolResponses,omitempty"`
	NewVariables    map[string]any         `json:"newVariables,omitempty" bson:"newVariables,omitempty"`
	DurationSeconds float64                `json:"durationSeconds" bson:"durationSeconds"`
	RunTimes        int                    `json:"runTimes" bson:"runTimes"`
}

// Dispatcher executes workflow graphs. Handlers are registered per node
// type; the zero value is unusable, use NewDispatcher.
type Dispatcher struct {
	handlers    map[workflow.FlowNodeType]NodeHandler
	maxRunTimes int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHandler registers the handler for one node type, replacing any
// previous registration.
func WithHandler(t workflow.FlowNodeType, h NodeHandler) Option {
	return func(d *Dispatcher) { d.handlers[t] = h }
}

// WithMaxRunTimes overrides the node execution budget for one dispatch.
func WithMaxRunTimes(n int) Option {
	return func(d *Dispatcher) { d.maxRunTimes = n }
}

// NewDispatcher creates a Dispatcher with the built-in handlers registered.
// Options may add or replace handlers.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers:    map[workflow.FlowNodeType]NodeHandler{},
		maxRunTimes: defaultMaxRunTimes,
	}
	registerBuiltins(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one pass over st.Workflow. The workflow must already be
// rewritten (no tool-set nodes) and pruned of orphan edges. Edge statuses on
// st.Workflow are consumed and updated in place; the caller passes a fresh
// snapshot per run.
func (d *Dispatcher) Dispatch(ctx context.Context, st *State) (*Result, error) {
	start := time.Now()
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	st.outputs = make(map[string]map[string]any, len(st.Workflow.Nodes))

	for i := range st.Workflow.Edges {
		if st.Workflow.Edges[i].Status == "" {
			st.Workflow.Edges[i].Status = workflow.EdgeStatusWaiting
		}
	}

	result := &Result{NewVariables: map[string]any{}}
	queue := d.entryNodes(st)

	// Flagged entries run unconditionally; an interactive graph re-enters
	// through them even when they have pending inbound edges.
	entries := make(map[string]bool, len(queue))
	for i := range st.Workflow.Nodes {
		if st.Workflow.Nodes[i].IsEntry {
			entries[st.Workflow.Nodes[i].NodeID] = true
		}
	}
	var answer strings.Builder

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id := queue[0]
		queue = queue[1:]

		node, ok := st.Workflow.Node(id)
		if !ok {
			continue
		}
		// A node that already ran or was skipped is finished; visiting it
		// again must be a no-op or a skip cycle would re-enqueue itself
		// forever.
		if _, done := st.outputs[node.NodeID]; done {
			continue
		}
		decision := workflow.CheckNodeRunStatus(node, st.Workflow.Edges)
		if entries[node.NodeID] {
			decision = workflow.DecisionRun
		}
		switch decision {
		case workflow.DecisionWait:
			// Revisited when another inbound edge reaches a terminal state.
			continue
		case workflow.DecisionSkip:
			queue = append(queue, d.finishNode(st, node, workflow.EdgeStatusSkipped)...)
			continue
		}
		result.RunTimes++
		if result.RunTimes > d.maxRunTimes {
			return result, fmt.Errorf("%w: %d", ErrMaxRunTimes, d.maxRunTimes)
		}

		d.markEdges(st, node, workflow.EdgeStatusRunning)
		res, err := d.runNode(ctx, st, node)
		if err != nil {
			if !node.CatchError {
				return result, fmt.Errorf("node %s (%s): %w", node.NodeID, node.Name, err)
			}
			res = caughtNodeResult(node, err)
		}

		d.record(st, node, res, result, &answer)
		status := workflow.EdgeStatusSucceeded
		if res.Skipped {
			status = workflow.EdgeStatusSkipped
		}
		queue = append(queue, d.finishNode(st, node, status)...)
	}

	result.AssistantAnswer = answer.String()
	result.DurationSeconds = time.Since(start).Seconds()
	return result, nil
}

// entryNodes returns the ids of nodes that can start the run: explicitly
// flagged entries plus nodes with no inbound data edge.
func (d *Dispatcher) entryNodes(st *State) []string {
	dataEdges := workflow.FilterDataEdges(st.Workflow.Edges)
	hasInbound := make(map[string]bool, len(dataEdges))
	for _, e := range dataEdges {
		hasInbound[e.Target] = true
	}
	var ids []string
	for i := range st.Workflow.Nodes {
		n := &st.Workflow.Nodes[i]
		if n.FlowNodeType == workflow.NodeTypeSystemConfig {
			continue
		}
		if n.IsEntry || !hasInbound[n.NodeID] {
			ids = append(ids, n.NodeID)
		}
	}
	return ids
}

// runNode executes one node through its handler, emitting the node-status
// event around it.
func (d *Dispatcher) runNode(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
	handler, ok := d.handlers[node.FlowNodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, node.FlowNodeType)
	}
	if node.ShowStatus && st.Writer != nil {
		st.Writer.Write(Event{
			Type: EventFlowNodeStatus,
			Data: map[string]any{"status": "running", "name": node.Name},
		})
	}
	res, err := handler(ctx, st, node)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &NodeResult{}
	}
	return res, nil
}

// caughtNodeResult converts a handler error on a CatchError node into the
// uniform failure envelope so the run continues.
func caughtNodeResult(node *workflow.RuntimeNode, err error) *NodeResult {
	info := workflow.FormatHTTPError(err)
	custom := map[string]any{}
	if info.Code != "" {
		custom["code"] = info.Code
	}
	if info.Status != 0 {
		custom["status"] = info.Status
	}
	envelope := workflow.NewNodeErrResponse(workflow.NodeErrParams{
		Err:       err,
		CustomErr: custom,
	})
	log.Warnf("node %s (%s) failed, error caught: %v", node.NodeID, node.Name, err)
	return &NodeResult{
		Outputs:       map[string]any{"error": envelope.Error},
		NodeResponse:  envelope.NodeResponse,
		ToolResponses: envelope.ToolResponses,
	}
}

// record folds one node result into the run state and the aggregate result.
func (d *Dispatcher) record(st *State, node *workflow.RuntimeNode, res *NodeResult, result *Result, answer *strings.Builder) {
	outputs := res.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	st.outputs[node.NodeID] = outputs

	if res.AnswerText != "" {
		answer.WriteString(res.AnswerText)
	}
	if res.NodeResponse != nil {
		entry := NodeResponse{
			NodeID:     node.NodeID,
			ModuleName: node.Name,
			ModuleType: string(node.FlowNodeType),
			Response:   res.NodeResponse,
		}
		if text, ok := res.NodeResponse["errorText"].(string); ok {
			entry.ErrorText = text
		}
		result.FlowResponses = append(result.FlowResponses, entry)
		if st.Writer != nil {
			st.Writer.Write(Event{
				Type:   EventFlowNodeResponse,
				StepID: node.NodeID,
				Data:   res.NodeResponse,
			})
		}
	}
	if res.ToolResponses != nil {
		result.ToolResponses = append(result.ToolResponses, res.ToolResponses)
	}
	result.FlowUsages = append(result.FlowUsages, res.Usages...)
	for k, v := range res.NewVariables {
		st.Variables[k] = v
		result.NewVariables[k] = v
	}
}

// markEdges moves the node's non-terminal outbound data edges to status.
// While the node executes they sit in running, so downstream nodes keep
// waiting on them.
func (d *Dispatcher) markEdges(st *State, node *workflow.RuntimeNode, status workflow.EdgeStatus) {
	for i := range st.Workflow.Edges {
		e := &st.Workflow.Edges[i]
		if e.Source != node.NodeID {
			continue
		}
		if e.SourceHandle == workflow.HandleSelectedTools || e.TargetHandle == workflow.HandleSelectedTools {
			continue
		}
		if !e.Status.Terminal() {
			e.Status = status
		}
	}
}

// finishNode moves the node's outbound data edges to status and returns the
// downstream node ids to visit next. Tool-selection edges are left alone.
func (d *Dispatcher) finishNode(st *State, node *workflow.RuntimeNode, status workflow.EdgeStatus) []string {
	var next []string
	for i := range st.Workflow.Edges {
		e := &st.Workflow.Edges[i]
		if e.Source != node.NodeID {
			continue
		}
		if e.SourceHandle == workflow.HandleSelectedTools || e.TargetHandle == workflow.HandleSelectedTools {
			continue
		}
		if !e.Status.Terminal() {
			e.Status = status
		}
		// Targets of already-terminal edges are still visited so their own
		// run decision can be made.
		next = append(next, e.Target)
	}
	if status == workflow.EdgeStatusSkipped {
		// A skipped node still occupies its slot in the outputs map so loops
		// do not revisit it.
		if _, ok := st.outputs[node.NodeID]; !ok {
			st.outputs[node.NodeID] = map[string]any{}
		}
	}
	return next
}
