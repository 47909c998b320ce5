//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

// ChatRole identifies the author of a chat history entry.
type ChatRole string

// Chat roles.
const (
	ChatRoleSystem ChatRole = "System"
	ChatRoleHuman  ChatRole = "Human"
	ChatRoleAI     ChatRole = "AI"
)

// ChatValueType identifies the kind of one content block.
type ChatValueType string

// Chat content block kinds.
const (
	ChatValueText     ChatValueType = "text"
	ChatValueToolCall ChatValueType = "toolCall"
)

// ChatItemValue is one content block of a chat history entry.
type ChatItemValue struct {
	Type ChatValueType `json:"type" bson:"type"`
	Text string        `json:"text,omitempty" bson:"text,omitempty"`
	Tool any           `json:"tool,omitempty" bson:"tool,omitempty"`
}

// ChatItem is one chat history entry. Immutable once persisted; a run reads
// a bounded window of them.
type ChatItem struct {
	Obj   ChatRole        `json:"obj" bson:"obj"`
	Value []ChatItemValue `json:"value" bson:"value"`
}

// HistoryLimit selects the history window for a run. Items, when non-nil,
// wins: the caller already resolved the window and it is returned verbatim.
// Otherwise Count chat exchanges (Human/AI pairs) are kept from the tail,
// plus the leading system entry when one is present, so the run never loses
// its boundary instructions. A nil limit selects nothing.
type HistoryLimit struct {
	Count int
	Items []ChatItem
}

// HistoryCount limits history to the most recent n exchanges.
func HistoryCount(n int) *HistoryLimit {
	return &HistoryLimit{Count: n}
}

// HistoryList uses an explicit, already-resolved history window.
func HistoryList(items []ChatItem) *HistoryLimit {
	return &HistoryLimit{Items: items}
}

// GetHistories bounds the chronological history for a run according to
// limit. The returned slice shares backing entries with all (entries are
// immutable).
func GetHistories(limit *HistoryLimit, all []ChatItem) []ChatItem {
	if limit == nil {
		return []ChatItem{}
	}
	if limit.Items != nil {
		return limit.Items
	}
	if limit.Count <= 0 {
		return []ChatItem{}
	}

	// One exchange is a Human/AI pair, so the tail window is 2*Count wide.
	window := limit.Count * 2
	if len(all) > 0 && all[0].Obj == ChatRoleSystem {
		if window >= len(all)-1 {
			return all
		}
		result := make([]ChatItem, 0, window+1)
		result = append(result, all[0])
		result = append(result, all[len(all)-window:]...)
		return result
	}
	if window >= len(all) {
		return all
	}
	return all[len(all)-window:]
}

// QuoteQA is one quoted question/answer pair fed to a chat node. The
// source fields identify where the quote came from so citations can be
// traced back to their collection.
type QuoteQA struct {
	Q            string  `json:"q" bson:"q"`
	A            string  `json:"a,omitempty" bson:"a,omitempty"`
	DatasetID    string  `json:"datasetId,omitempty" bson:"datasetId,omitempty"`
	CollectionID string  `json:"collectionId,omitempty" bson:"collectionId,omitempty"`
	SourceName   string  `json:"sourceName,omitempty" bson:"sourceName,omitempty"`
	Score        float64 `json:"score,omitempty" bson:"score,omitempty"`
}

// CheckQuoteQAValue validates a prospective list of quote pairs. A nil
// return signals the list is unusable: every item must carry a question. An
// empty list is valid and passed through.
func CheckQuoteQAValue(items []QuoteQA) []QuoteQA {
	if items == nil {
		return nil
	}
	for i := range items {
		if items[i].Q == "" {
			return nil
		}
	}
	return items
}
