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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/workflow"
)

// Well-known node input and output keys.
const (
	InputKeyText     = "text"
	InputKeyMethod   = "httpMethod"
	InputKeyURL      = "httpReqUrl"
	InputKeyHeaders  = "httpHeaders"
	InputKeyJSONBody = "httpJsonBody"

	OutputKeyUserChatInput = "userChatInput"
	OutputKeyRawResponse   = "httpRawResponse"
	OutputKeyAnswerText    = "answerText"
	OutputKeyResult        = "result"
)

// registerBuiltins installs the handlers that need no external collaborator.
func registerBuiltins(d *Dispatcher) {
	d.handlers[workflow.NodeTypeWorkflowStart] = handleWorkflowStart
	d.handlers[workflow.NodeTypeAnswer] = handleAnswer
	d.handlers[workflow.NodeTypeHTTPRequest] = newHTTPRequestHandler(http.DefaultClient)
	d.handlers[workflow.NodeTypePluginInput] = handlePluginInput
	d.handlers[workflow.NodeTypePluginOutput] = handlePluginOutput
}

// handleWorkflowStart exposes the user query to downstream references.
func handleWorkflowStart(_ context.Context, st *State, _ *workflow.RuntimeNode) (*NodeResult, error) {
	return &NodeResult{
		Outputs: map[string]any{OutputKeyUserChatInput: st.Query},
	}, nil
}

// handleAnswer streams its resolved text input to the client and contributes
// it to the aggregated assistant answer.
func handleAnswer(_ context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
	text := ""
	if in, ok := node.Input(InputKeyText); ok {
		if v := st.ResolveInput(in); v != nil {
			text = fmt.Sprintf("%v", v)
		}
	}
	if st.Writer != nil && text != "" {
		st.Writer.Write(Event{
			Type:   EventAnswer,
			StepID: node.NodeID,
			Data:   map[string]any{"text": text},
		})
	}
	return &NodeResult{
		Outputs:    map[string]any{OutputKeyAnswerText: text},
		AnswerText: text,
		NodeResponse: map[string]any{
			"textOutput": text,
		},
	}, nil
}

// newHTTPRequestHandler builds the httpRequest node handler on the given
// client, so tests can inject a transport.
func newHTTPRequestHandler(client *http.Client) NodeHandler {
	return func(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
		method := http.MethodPost
		if in, ok := node.Input(InputKeyMethod); ok {
			if m, isStr := st.ResolveInput(in).(string); isStr && m != "" {
				method = strings.ToUpper(m)
			}
		}
		urlIn, ok := node.Input(InputKeyURL)
		if !ok {
			return nil, fmt.Errorf("http node %s: missing %s input", node.NodeID, InputKeyURL)
		}
		reqURL, _ := st.ResolveInput(urlIn).(string)
		if reqURL == "" {
			return nil, fmt.Errorf("http node %s: empty request url", node.NodeID)
		}

		var body io.Reader
		if in, ok := node.Input(InputKeyJSONBody); ok {
			if v := st.ResolveInput(in); v != nil {
				switch b := v.(type) {
				case string:
					if b != "" {
						body = strings.NewReader(b)
					}
				default:
					raw, err := json.Marshal(b)
					if err != nil {
						return nil, fmt.Errorf("http node %s: marshal body: %w", node.NodeID, err)
					}
					body = bytes.NewReader(raw)
				}
			}
		}

		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, &workflow.HTTPError{Message: err.Error(), Method: method}
		}
		req.Header.Set("Content-Type", "application/json")
		if in, ok := node.Input(InputKeyHeaders); ok {
			if headers, isMap := st.ResolveInput(in).(map[string]any); isMap {
				for k, v := range headers {
					req.Header.Set(k, fmt.Sprintf("%v", v))
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, &workflow.HTTPError{Message: err.Error(), Method: method}
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &workflow.HTTPError{Message: err.Error(), Method: method, Status: resp.StatusCode}
		}

		var parsed any = string(raw)
		var asJSON any
		if json.Unmarshal(raw, &asJSON) == nil {
			parsed = asJSON
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &workflow.HTTPError{
				Message: fmt.Sprintf("request failed with status %d", resp.StatusCode),
				Method:  method,
				Status:  resp.StatusCode,
				Data:    parsed,
			}
		}

		outputs := map[string]any{OutputKeyRawResponse: parsed}
		// Declared outputs are filled from top-level response keys.
		if m, isMap := parsed.(map[string]any); isMap {
			for i := range node.Outputs {
				key := node.Outputs[i].Key
				if key == OutputKeyRawResponse {
					continue
				}
				if v, exists := m[key]; exists {
					outputs[key] = v
				}
			}
		}
		return &NodeResult{
			Outputs: outputs,
			NodeResponse: map[string]any{
				"httpUrl":    reqURL,
				"httpMethod": method,
				"httpResult": parsed,
				"runningMs":  time.Since(start).Milliseconds(),
			},
		}, nil
	}
}

// handlePluginInput resolves the declared inputs into outputs so child nodes
// of an embedded plugin flow can reference them.
func handlePluginInput(_ context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
	outputs := make(map[string]any, len(node.Inputs))
	for i := range node.Inputs {
		in := &node.Inputs[i]
		outputs[in.Key] = st.ResolveInput(in)
	}
	return &NodeResult{Outputs: outputs}, nil
}

// handlePluginOutput collects the plugin flow's declared result values.
func handlePluginOutput(_ context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
	outputs := make(map[string]any, len(node.Inputs))
	for i := range node.Inputs {
		in := &node.Inputs[i]
		outputs[in.Key] = st.ResolveInput(in)
	}
	return &NodeResult{
		Outputs:      outputs,
		NodeResponse: map[string]any{"pluginOutput": outputs},
	}, nil
}

// ChatModel generates an assistant reply for a chat node. Implementations
// stream partial text through the writer when one is provided.
type ChatModel interface {
	Generate(ctx context.Context, req *ChatRequest) (*ChatReply, error)
}

// ChatRequest is the resolved input of one chat node execution.
type ChatRequest struct {
	NodeID    string
	Prompt    string
	Query     string
	Histories []workflow.ChatItem
	Quotes    []workflow.QuoteQA
	Writer    Writer
}

// ChatReply is a chat node's outcome.
type ChatReply struct {
	Answer        string
	ToolResponses any
	Usages        []workflow.NodeUsage
}

// Chat node input keys.
const (
	InputKeyPrompt    = "systemPrompt"
	InputKeyHistory   = "history"
	InputKeyQuoteQA   = "quoteQA"
	InputKeyUserInput = "userChatInput"
)

// NewChatHandler adapts a ChatModel into the chat node handler.
func NewChatHandler(model ChatModel) NodeHandler {
	return func(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
		req := &ChatRequest{
			NodeID:    node.NodeID,
			Query:     st.Query,
			Histories: st.Histories,
			Writer:    NewChildResponseWriter("", node.NodeID, st.Writer),
		}
		if in, ok := node.Input(InputKeyPrompt); ok {
			req.Prompt, _ = st.ResolveInput(in).(string)
		}
		if in, ok := node.Input(InputKeyUserInput); ok {
			if q, isStr := st.ResolveInput(in).(string); isStr && q != "" {
				req.Query = q
			}
		}
		if in, ok := node.Input(InputKeyHistory); ok {
			switch v := st.ResolveInput(in).(type) {
			case float64:
				req.Histories = workflow.GetHistories(workflow.HistoryCount(int(v)), st.Histories)
			case []workflow.ChatItem:
				req.Histories = workflow.GetHistories(workflow.HistoryList(v), st.Histories)
			}
		}
		if in, ok := node.Input(InputKeyQuoteQA); ok {
			if quotes, isQuotes := st.ResolveInput(in).([]workflow.QuoteQA); isQuotes {
				req.Quotes = workflow.CheckQuoteQAValue(quotes)
			}
		}

		reply, err := model.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		return &NodeResult{
			Outputs:       map[string]any{OutputKeyAnswerText: reply.Answer},
			AnswerText:    reply.Answer,
			ToolResponses: reply.ToolResponses,
			Usages:        reply.Usages,
			NodeResponse: map[string]any{
				"textOutput": reply.Answer,
			},
		}, nil
	}
}

// DatasetSearcher retrieves quote pairs for a search query.
type DatasetSearcher interface {
	Search(ctx context.Context, query string) ([]workflow.QuoteQA, error)
}

// NewDatasetSearchHandler adapts a DatasetSearcher into the dataset search
// node handler.
func NewDatasetSearchHandler(searcher DatasetSearcher) NodeHandler {
	return func(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
		query := st.Query
		if in, ok := node.Input(InputKeyUserInput); ok {
			if q, isStr := st.ResolveInput(in).(string); isStr && q != "" {
				query = q
			}
		}
		quotes, err := searcher.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return &NodeResult{
			Outputs: map[string]any{InputKeyQuoteQA: quotes},
			NodeResponse: map[string]any{
				"query":      query,
				"quoteCount": len(quotes),
				"quoteList":  quotes,
			},
		}, nil
	}
}

// ToolInvoker executes one expanded tool node against its backing service.
type ToolInvoker interface {
	Invoke(ctx context.Context, meta *workflow.ToolMeta, args map[string]any) (any, error)
}

// NewToolHandler adapts a ToolInvoker into the tool node handler. The node's
// ToolMeta carries the call target recorded at rewrite time.
func NewToolHandler(invoker ToolInvoker) NodeHandler {
	return func(ctx context.Context, st *State, node *workflow.RuntimeNode) (*NodeResult, error) {
		if node.ToolMeta == nil {
			return nil, fmt.Errorf("tool node %s: missing tool metadata", node.NodeID)
		}
		args := make(map[string]any, len(node.Inputs))
		for i := range node.Inputs {
			in := &node.Inputs[i]
			if v := st.ResolveInput(in); v != nil {
				args[in.Key] = v
			}
		}
		if st.Writer != nil {
			st.Writer.Write(Event{
				Type:   EventToolCall,
				StepID: node.NodeID,
				Data:   map[string]any{"toolName": node.ToolMeta.ToolName, "params": args},
			})
		}
		result, err := invoker.Invoke(ctx, node.ToolMeta, args)
		if err != nil {
			return nil, err
		}
		return &NodeResult{
			Outputs:       map[string]any{OutputKeyResult: result},
			ToolResponses: result,
			NodeResponse: map[string]any{
				"toolName":   node.ToolMeta.ToolName,
				"toolResult": result,
			},
		}, nil
	}
}
