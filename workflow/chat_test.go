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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeFeedbackFlags(t *testing.T) {
	tests := []struct {
		name  string
		items []StoredChatItem
		want  FeedbackFlags
	}{
		{
			name:  "no feedback",
			items: []StoredChatItem{{Obj: ChatRoleAI}},
			want:  FeedbackFlags{},
		},
		{
			name: "good feedback unread",
			items: []StoredChatItem{
				{Obj: ChatRoleAI, UserGoodFeedback: "Excellent", IsFeedbackRead: false},
			},
			want: FeedbackFlags{HasGoodFeedback: true, HasUnreadGoodFeedback: true},
		},
		{
			name: "good feedback read",
			items: []StoredChatItem{
				{Obj: ChatRoleAI, UserGoodFeedback: "Good answer", IsFeedbackRead: true},
			},
			want: FeedbackFlags{HasGoodFeedback: true},
		},
		{
			name: "mixed read good and unread bad",
			items: []StoredChatItem{
				{Obj: ChatRoleAI, UserGoodFeedback: "Good answer", IsFeedbackRead: true},
				{Obj: ChatRoleAI, UserBadFeedback: "Wrong answer", IsFeedbackRead: false},
			},
			want: FeedbackFlags{
				HasGoodFeedback:      true,
				HasBadFeedback:       true,
				HasUnreadBadFeedback: true,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeFeedbackFlags(tt.items))
		})
	}
}

func TestFeedbackFlagsMarshalSparse(t *testing.T) {
	// False flags must vanish from the marshaled form, not serialize as
	// explicit false.
	raw, err := json.Marshal(FeedbackFlags{HasGoodFeedback: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hasGoodFeedback":true}`, string(raw))

	raw, err = json.Marshal(FeedbackFlags{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestStoredChatItemFieldNames(t *testing.T) {
	item := StoredChatItem{
		DataID:            "d1",
		Obj:               ChatRoleAI,
		Value:             []ChatItemValue{{Type: ChatValueText, Text: "hi"}},
		UserGoodFeedback:  "nice",
		UserBadFeedback:   "meh",
		IsFeedbackRead:    true,
		CustomFeedbacks:   []string{"helpful"},
		CiteCollectionIDs: []string{"col-1"},
		DurationSeconds:   1.25,
	}
	raw, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{
		"userGoodFeedback", "userBadFeedback", "isFeedbackRead",
		"customFeedbacks", "citeCollectionIds", "durationSeconds",
	} {
		assert.Contains(t, decoded, key)
	}
}

func TestAppendCustomFeedbacks(t *testing.T) {
	item := &StoredChatItem{Obj: ChatRoleAI}
	AppendCustomFeedbacks(item, []string{"good", "helpful"})
	assert.Equal(t, []string{"good", "helpful"}, item.CustomFeedbacks)

	AppendCustomFeedbacks(item, []string{"clear"})
	assert.Equal(t, []string{"good", "helpful", "clear"}, item.CustomFeedbacks)

	AppendCustomFeedbacks(item, nil)
	assert.Len(t, item.CustomFeedbacks, 3)

	AppendCustomFeedbacks(nil, []string{"good"})
}

func TestMergeAIChatItem(t *testing.T) {
	dst := &StoredChatItem{
		Obj:               ChatRoleAI,
		Value:             []ChatItemValue{{Type: ChatValueText, Text: "part one"}},
		CustomFeedbacks:   []string{"good"},
		CiteCollectionIDs: []string{"col-1"},
		DurationSeconds:   1.2,
	}
	MergeAIChatItem(dst, StoredChatItem{
		Value:             []ChatItemValue{{Type: ChatValueText, Text: "part two"}},
		CustomFeedbacks:   []string{"helpful"},
		CiteCollectionIDs: []string{"col-1", "col-2"},
		DurationSeconds:   0.345,
		ErrorMsg:          "late failure",
	})

	assert.Len(t, dst.Value, 2)
	assert.Equal(t, []string{"good", "helpful"}, dst.CustomFeedbacks)
	assert.Equal(t, []string{"col-1", "col-2"}, dst.CiteCollectionIDs)
	assert.InDelta(t, 1.55, dst.DurationSeconds, 0.0001)
	assert.Equal(t, "late failure", dst.ErrorMsg)
}
