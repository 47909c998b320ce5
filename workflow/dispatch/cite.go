//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package dispatch

import "trpc.group/trpc-go/trpc-flow-go/workflow"

// CiteCollectionIDs collects the distinct collection ids cited by dataset
// search nodes during the run, in first-seen order. The result is persisted
// with the AI message so citations survive the conversation.
func (r *Result) CiteCollectionIDs() []string {
	var ids []string
	seen := map[string]struct{}{}
	for i := range r.FlowResponses {
		entry := &r.FlowResponses[i]
		if entry.ModuleType != string(workflow.NodeTypeDatasetSearch) {
			continue
		}
		quotes, ok := entry.Response["quoteList"].([]workflow.QuoteQA)
		if !ok {
			continue
		}
		for _, quote := range quotes {
			if quote.CollectionID == "" {
				continue
			}
			if _, dup := seen[quote.CollectionID]; dup {
				continue
			}
			seen[quote.CollectionID] = struct{}{}
			ids = append(ids, quote.CollectionID)
		}
	}
	return ids
}
