//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package toolset provides the catalog resolvers the runtime rewriter uses
// to expand tool-set nodes: a registry of built-in system tools and an MCP
// client backed catalog for externally hosted tools.
package toolset

import (
	"context"
	"fmt"
	"sync"

	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// SystemRegistry is an in-process catalog of built-in tool node templates,
// keyed by tool id. Safe for concurrent use.
type SystemRegistry struct {
	mu    sync.RWMutex
	tools map[string][]workflow.RuntimeNode
}

// NewSystemRegistry creates an empty SystemRegistry.
func NewSystemRegistry() *SystemRegistry {
	return &SystemRegistry{tools: map[string][]workflow.RuntimeNode{}}
}

// Register stores the node templates for one tool id, replacing any previous
// registration.
func (r *SystemRegistry) Register(toolID string, nodes []workflow.RuntimeNode) {
	r.mu.Lock()
	r.tools[toolID] = nodes
	r.mu.Unlock()
}

// RuntimeNodes implements workflow.SystemToolCatalog. Returned nodes are
// copies; runs mutate their node sets freely.
func (r *SystemRegistry) RuntimeNodes(_ context.Context, toolID string) ([]workflow.RuntimeNode, error) {
	r.mu.RLock()
	templates, ok := r.tools[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("toolset: unknown system tool %q", toolID)
	}
	nodes := make([]workflow.RuntimeNode, len(templates))
	for i := range templates {
		nodes[i] = cloneNode(&templates[i])
	}
	return nodes, nil
}

// cloneNode copies a node template deep enough that a run cannot write back
// into the registry: the input/output slices are duplicated, values inside
// them are treated as read-only.
func cloneNode(n *workflow.RuntimeNode) workflow.RuntimeNode {
	out := *n
	if n.Inputs != nil {
		out.Inputs = make([]workflow.NodeInput, len(n.Inputs))
		copy(out.Inputs, n.Inputs)
	}
	if n.Outputs != nil {
		out.Outputs = make([]workflow.NodeOutput, len(n.Outputs))
		copy(out.Outputs, n.Outputs)
	}
	if n.ToolMeta != nil {
		meta := *n.ToolMeta
		out.ToolMeta = &meta
	}
	return out
}
