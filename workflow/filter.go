//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"time"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// orphanFilterSlowThreshold is the wall-clock budget for one filtering pass.
// Exceeding it indicates a pathological graph and is logged at warn level.
const orphanFilterSlowThreshold = 100 * time.Millisecond

// FilterOrphanEdges returns the edges whose source and target both exist in
// the node list. Orphan edges are an expected condition in user-edited flows
// (an endpoint may transiently reference a deleted node), so they are pruned
// silently rather than treated as a validation failure. workflowID is used
// only for diagnostics.
func FilterOrphanEdges(edges []RuntimeEdge, nodes []RuntimeNode, workflowID string) []RuntimeEdge {
	start := time.Now()

	ids := make(map[string]struct{}, len(nodes))
	for i := range nodes {
		ids[nodes[i].NodeID] = struct{}{}
	}

	// Dropped edges are collected only when debug logging is on; the common
	// path pays nothing for diagnostics.
	collect := log.DebugEnabled()
	var dropped []RuntimeEdge

	valid := make([]RuntimeEdge, 0, len(edges))
	for _, edge := range edges {
		_, srcOK := ids[edge.Source]
		_, dstOK := ids[edge.Target]
		if srcOK && dstOK {
			valid = append(valid, edge)
			continue
		}
		if collect {
			dropped = append(dropped, edge)
		}
	}

	if collect && len(dropped) > 0 {
		log.Debugf("workflow %s: pruned %d orphan edges: %+v", workflowID, len(dropped), dropped)
	}
	if elapsed := time.Since(start); elapsed > orphanFilterSlowThreshold {
		log.Warnf("workflow %s: orphan edge filtering took %s for %d nodes / %d edges",
			workflowID, elapsed, len(nodes), len(edges))
	}
	return valid
}

// FilterToolNodeIDs returns the target node ids of the edges that wire tool
// children under nodeID via the reserved selectedTools handle. The rewriter
// uses it to discover which children were attached to a tool-call node.
func FilterToolNodeIDs(nodeID string, edges []RuntimeEdge) []string {
	var ids []string
	for _, edge := range edges {
		if edge.Source == nodeID && edge.TargetHandle == HandleSelectedTools {
			ids = append(ids, edge.Target)
		}
	}
	return ids
}
