//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import "math"

// StoredChatItem is one chat message as persisted. Field names are stable
// storage contract; renaming them breaks existing documents.
type StoredChatItem struct {
	DataID string          `json:"dataId" bson:"dataId"`
	Obj    ChatRole        `json:"obj" bson:"obj"`
	Value  []ChatItemValue `json:"value" bson:"value"`

	// Feedback fields live on AI messages only.
	UserGoodFeedback  string   `json:"userGoodFeedback,omitempty" bson:"userGoodFeedback,omitempty"`
	UserBadFeedback   string   `json:"userBadFeedback,omitempty" bson:"userBadFeedback,omitempty"`
	IsFeedbackRead    bool     `json:"isFeedbackRead,omitempty" bson:"isFeedbackRead,omitempty"`
	CustomFeedbacks   []string `json:"customFeedbacks,omitempty" bson:"customFeedbacks,omitempty"`
	CiteCollectionIDs []string `json:"citeCollectionIds,omitempty" bson:"citeCollectionIds,omitempty"`
	DurationSeconds   float64  `json:"durationSeconds,omitempty" bson:"durationSeconds,omitempty"`
	ErrorMsg          string   `json:"errorMsg,omitempty" bson:"errorMsg,omitempty"`
}

// FeedbackFlags is the conversation-level feedback summary derived from its
// messages. Flags are only ever true or absent, never stored as false, so
// the marshaled form stays sparse.
type FeedbackFlags struct {
	HasGoodFeedback       bool `json:"hasGoodFeedback,omitempty" bson:"hasGoodFeedback,omitempty"`
	HasBadFeedback        bool `json:"hasBadFeedback,omitempty" bson:"hasBadFeedback,omitempty"`
	HasUnreadGoodFeedback bool `json:"hasUnreadGoodFeedback,omitempty" bson:"hasUnreadGoodFeedback,omitempty"`
	HasUnreadBadFeedback  bool `json:"hasUnreadBadFeedback,omitempty" bson:"hasUnreadBadFeedback,omitempty"`
}

// ComputeFeedbackFlags aggregates per-message feedback into conversation
// flags. Unread flags require at least one unread message carrying the
// corresponding feedback; a read message keeps the has-flag set but not the
// unread one.
func ComputeFeedbackFlags(items []StoredChatItem) FeedbackFlags {
	var flags FeedbackFlags
	for i := range items {
		if items[i].UserGoodFeedback != "" {
			flags.HasGoodFeedback = true
			if !items[i].IsFeedbackRead {
				flags.HasUnreadGoodFeedback = true
			}
		}
		if items[i].UserBadFeedback != "" {
			flags.HasBadFeedback = true
			if !items[i].IsFeedbackRead {
				flags.HasUnreadBadFeedback = true
			}
		}
	}
	return flags
}

// AppendCustomFeedbacks adds feedback tags onto a message. Missing targets
// are tolerated: callers fire this from UI paths where the message may have
// been deleted meanwhile.
func AppendCustomFeedbacks(item *StoredChatItem, feedbacks []string) {
	if item == nil || len(feedbacks) == 0 {
		return
	}
	item.CustomFeedbacks = append(item.CustomFeedbacks, feedbacks...)
}

// MergeAIChatItem folds a continuation of the same AI turn into the stored
// message: content blocks and feedback tags append, cited collections
// union, and durations accumulate rounded to two decimals.
func MergeAIChatItem(dst *StoredChatItem, src StoredChatItem) {
	if dst == nil {
		return
	}
	dst.Value = append(dst.Value, src.Value...)
	dst.CustomFeedbacks = append(dst.CustomFeedbacks, src.CustomFeedbacks...)
	for _, id := range src.CiteCollectionIDs {
		if !containsString(dst.CiteCollectionIDs, id) {
			dst.CiteCollectionIDs = append(dst.CiteCollectionIDs, id)
		}
	}
	dst.DurationSeconds = math.Round((dst.DurationSeconds+src.DurationSeconds)*100) / 100
	if src.ErrorMsg != "" {
		dst.ErrorMsg = src.ErrorMsg
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
