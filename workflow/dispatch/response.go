//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package dispatch executes one workflow graph pass for a single chat turn
// and streams the resulting events to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// EventType tags one streamed dispatch event.
type EventType string

// Dispatch event kinds.
const (
	EventAnswer           EventType = "answer"
	EventFastAnswer       EventType = "fastAnswer"
	EventFlowNodeStatus   EventType = "flowNodeStatus"
	EventToolCall         EventType = "toolCall"
	EventFlowNodeResponse EventType = "flowNodeResponse"
	EventError            EventType = "error"
)

// Event is one streamed payload produced during a dispatch.
type Event struct {
	Type   EventType
	StepID string
	Data   map[string]any
}

// Writer consumes dispatch events. Implementations never return errors to
// the dispatch engine; a broken client must not fail the run.
type Writer interface {
	Write(ev Event)
}

// WriteConfig configures a ResponseWriter.
type WriteConfig struct {
	// Ctx is the request context. A canceled context silences the writer.
	Ctx context.Context
	// W is the destination stream. A nil W silences the writer.
	W io.Writer
	// Detail forwards node trace events and tags payloads with the event
	// kind. Without it only answer text flows.
	Detail bool
	// Stream enables writing at all.
	Stream bool
	// ShowNodeStatus gates flowNodeStatus and toolCall events independently
	// of Detail.
	ShowNodeStatus bool
	// ID correlates every chunk of this response. Generated when empty.
	ID string
}

// ResponseWriter serializes dispatch events as server-sent events on a
// caller-owned stream. Every silencing condition (no destination, streaming
// off, connection gone) turns Write into a no-op rather than an error: a
// dispatch must finish regardless of who is still listening.
type ResponseWriter struct {
	cfg WriteConfig

	mu     sync.Mutex
	broken bool
}

// NewResponseWriter creates a ResponseWriter.
func NewResponseWriter(cfg WriteConfig) *ResponseWriter {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Ctx == nil {
		cfg.Ctx = context.Background()
	}
	return &ResponseWriter{cfg: cfg}
}

// ID returns the correlation id attached to forwarded payloads.
func (w *ResponseWriter) ID() string {
	return w.cfg.ID
}

// Write forwards one event to the underlying stream, applying the detail and
// node-status gates. Safe for concurrent use.
func (w *ResponseWriter) Write(ev Event) {
	if w == nil || !w.cfg.Stream || w.cfg.W == nil {
		return
	}
	if w.cfg.Ctx.Err() != nil {
		return
	}
	if !w.forwards(ev.Type) {
		return
	}

	payload := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		payload[k] = v
	}
	if ev.StepID != "" {
		payload["stepId"] = ev.StepID
	}
	payload["responseValueId"] = w.cfg.ID

	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshal dispatch event %s: %v", ev.Type, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return
	}
	if w.cfg.Detail {
		if _, err := fmt.Fprintf(w.cfg.W, "event: %s\n", ev.Type); err != nil {
			w.broken = true
			return
		}
	}
	if _, err := fmt.Fprintf(w.cfg.W, "data: %s\n\n", data); err != nil {
		w.broken = true
		return
	}
	if f, ok := w.cfg.W.(http.Flusher); ok {
		f.Flush()
	}
}

// forwards applies the detail and node-status gates to one event kind.
func (w *ResponseWriter) forwards(t EventType) bool {
	if !w.cfg.Detail {
		return t == EventAnswer || t == EventFastAnswer
	}
	if !w.cfg.ShowNodeStatus && (t == EventFlowNodeStatus || t == EventToolCall) {
		return false
	}
	return true
}

// childWriter tags every event with a fixed step id before forwarding to the
// parent stream. Used when a node internally spawns a sub-flow whose events
// must correlate with the parent step.
type childWriter struct {
	id     string
	stepID string
	parent Writer
}

// NewChildResponseWriter returns a Writer bound to the given step, or nil
// when there is no parent to forward to.
func NewChildResponseWriter(id, stepID string, parent Writer) Writer {
	if parent == nil {
		return nil
	}
	return &childWriter{id: id, stepID: stepID, parent: parent}
}

// Write implements Writer.
func (c *childWriter) Write(ev Event) {
	ev.StepID = c.stepID
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	if _, ok := ev.Data["id"]; !ok && c.id != "" {
		ev.Data["id"] = c.id
	}
	c.parent.Write(ev)
}
