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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allEventTypes() []EventType {
	return []EventType{
		EventAnswer, EventFastAnswer, EventFlowNodeStatus,
		EventToolCall, EventFlowNodeResponse, EventError,
	}
}

func TestResponseWriterSilenceContract(t *testing.T) {
	var buf bytes.Buffer

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	configs := map[string]WriteConfig{
		"no destination": {Stream: true, Detail: true},
		"streaming off":  {W: &buf, Stream: false, Detail: true},
		"context gone":   {Ctx: canceled, W: &buf, Stream: true, Detail: true},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			w := NewResponseWriter(cfg)
			for _, et := range allEventTypes() {
				w.Write(Event{Type: et, Data: map[string]any{"text": "x"}})
			}
			assert.Zero(t, buf.Len(), "Expected zero underlying writes")
		})
	}
}

func TestResponseWriterNilSafe(t *testing.T) {
	var w *ResponseWriter
	assert.NotPanics(t, func() {
		w.Write(Event{Type: EventAnswer, Data: map[string]any{"text": "x"}})
	})
}

func TestResponseWriterDetailGating(t *testing.T) {
	var buf bytes.Buffer
	w := NewResponseWriter(WriteConfig{W: &buf, Stream: true, Detail: false})

	for _, et := range allEventTypes() {
		w.Write(Event{Type: et, Data: map[string]any{"text": string(et)}})
	}

	out := buf.String()
	assert.NotContains(t, out, "event:", "Expected the event tag to be omitted without detail")
	assert.Contains(t, out, `"text":"answer"`)
	assert.Contains(t, out, `"text":"fastAnswer"`)
	assert.NotContains(t, out, "flowNodeStatus")
	assert.NotContains(t, out, "toolCall")
	assert.Equal(t, 2, strings.Count(out, "data: "))
}

func TestResponseWriterNodeStatusGate(t *testing.T) {
	var buf bytes.Buffer
	w := NewResponseWriter(WriteConfig{W: &buf, Stream: true, Detail: true, ShowNodeStatus: false})

	w.Write(Event{Type: EventFlowNodeStatus, Data: map[string]any{"status": "running"}})
	w.Write(Event{Type: EventToolCall, Data: map[string]any{"toolName": "t"}})
	assert.Zero(t, buf.Len(), "Expected node status events to be suppressed")

	w.Write(Event{Type: EventFlowNodeResponse, Data: map[string]any{"ok": true}})
	assert.Contains(t, buf.String(), "event: flowNodeResponse",
		"Expected other detail events to still flow")
}

func TestResponseWriterPayloadTagging(t *testing.T) {
	var buf bytes.Buffer
	w := NewResponseWriter(WriteConfig{W: &buf, Stream: true, Detail: true, ID: "resp-1"})

	w.Write(Event{Type: EventAnswer, StepID: "node-1", Data: map[string]any{"text": "hi"}})

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "event: answer\n"))
	dataLine := strings.TrimPrefix(strings.Split(out, "\n")[1], "data: ")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(dataLine), &payload))
	assert.Equal(t, "hi", payload["text"])
	assert.Equal(t, "node-1", payload["stepId"])
	assert.Equal(t, "resp-1", payload["responseValueId"])
}

func TestResponseWriterGeneratesID(t *testing.T) {
	w := NewResponseWriter(WriteConfig{})
	assert.NotEmpty(t, w.ID())
}

type failingWriter struct{ calls int }

func (f *failingWriter) Write([]byte) (int, error) {
	f.calls++
	return 0, errors.New("broken pipe")
}

func TestResponseWriterStopsAfterWriteError(t *testing.T) {
	sink := &failingWriter{}
	w := NewResponseWriter(WriteConfig{W: sink, Stream: true})

	w.Write(Event{Type: EventAnswer, Data: map[string]any{"text": "a"}})
	w.Write(Event{Type: EventAnswer, Data: map[string]any{"text": "b"}})
	assert.Equal(t, 1, sink.calls, "Expected no further writes after the stream broke")
}

type recordingWriter struct{ events []Event }

func (r *recordingWriter) Write(ev Event) { r.events = append(r.events, ev) }

func TestChildResponseWriter(t *testing.T) {
	assert.Nil(t, NewChildResponseWriter("id", "step", nil),
		"Expected no child writer without a parent")

	parent := &recordingWriter{}
	child := NewChildResponseWriter("call-1", "node-9", parent)
	require.NotNil(t, child)

	child.Write(Event{Type: EventAnswer, Data: map[string]any{"text": "x"}})
	require.Len(t, parent.events, 1)
	assert.Equal(t, "node-9", parent.events[0].StepID)
	assert.Equal(t, "call-1", parent.events[0].Data["id"])
	assert.Equal(t, "x", parent.events[0].Data["text"])
}
