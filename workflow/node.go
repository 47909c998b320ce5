//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package workflow provides the runtime graph model for flow execution:
// typed nodes and edges, orphan-edge pruning, tool-set expansion and the
// history/variable utilities shared by the dispatch engine.
package workflow

import (
	"errors"
	"fmt"
)

// FlowNodeType identifies the kind of work a runtime node performs.
type FlowNodeType string

// Known node types.
const (
	NodeTypeSystemConfig  FlowNodeType = "systemConfig"
	NodeTypeWorkflowStart FlowNodeType = "workflowStart"
	NodeTypeChat          FlowNodeType = "chatNode"
	NodeTypeAnswer        FlowNodeType = "answerNode"
	NodeTypeHTTPRequest   FlowNodeType = "httpRequest"
	NodeTypeDatasetSearch FlowNodeType = "datasetSearchNode"
	NodeTypeToolSet       FlowNodeType = "toolSet"
	NodeTypeTool          FlowNodeType = "tool"
	NodeTypePluginInput   FlowNodeType = "pluginInput"
	NodeTypePluginOutput  FlowNodeType = "pluginOutput"
)

// ValueType declares the expected type of a node input or output value.
type ValueType string

// Known value types.
const (
	ValueTypeAny         ValueType = "any"
	ValueTypeString      ValueType = "string"
	ValueTypeNumber      ValueType = "number"
	ValueTypeBoolean     ValueType = "boolean"
	ValueTypeObject      ValueType = "object"
	ValueTypeArrayString ValueType = "arrayString"
	ValueTypeChatHistory ValueType = "chatHistory"
	ValueTypeDatasetQuote ValueType = "datasetQuote"
)

// OutputRef points an input at an upstream node's output.
type OutputRef struct {
	NodeID    string `json:"nodeId" bson:"nodeId"`
	OutputKey string `json:"outputKey" bson:"outputKey"`
}

// NodeInput is one key/value slot on a node. Value is the resolved runtime
// value; Reference, when set, names the upstream output the dispatch engine
// resolves it from.
type NodeInput struct {
	Key             string     `json:"key" bson:"key"`
	Value           any        `json:"value,omitempty" bson:"value,omitempty"`
	ValueType       ValueType  `json:"valueType,omitempty" bson:"valueType,omitempty"`
	Reference       *OutputRef `json:"reference,omitempty" bson:"reference,omitempty"`
	Required        bool       `json:"required,omitempty" bson:"required,omitempty"`
	ToolDescription string     `json:"toolDescription,omitempty" bson:"toolDescription,omitempty"`
}

// NodeOutput is one declared output slot on a node. Value is populated by the
// dispatch engine when the node runs.
type NodeOutput struct {
	Key          string    `json:"key" bson:"key"`
	ValueType    ValueType `json:"valueType,omitempty" bson:"valueType,omitempty"`
	Value        any       `json:"value,omitempty" bson:"value,omitempty"`
	Required     bool      `json:"required,omitempty" bson:"required,omitempty"`
	DefaultValue any       `json:"defaultValue,omitempty" bson:"defaultValue,omitempty"`
}

// ToolSource records where an expanded tool node came from.
type ToolSource string

// Tool sources.
const (
	ToolSourceSystem ToolSource = "system"
	ToolSourceMCP    ToolSource = "mcp"
	ToolSourceHTTP   ToolSource = "http"
)

// ToolMeta carries the call information an expanded tool node needs at
// execution time.
type ToolMeta struct {
	Source      ToolSource     `json:"source" bson:"source"`
	ParentID    string         `json:"parentId,omitempty" bson:"parentId,omitempty"`
	ToolName    string         `json:"toolName" bson:"toolName"`
	Method      string         `json:"method,omitempty" bson:"method,omitempty"`
	Path        string         `json:"path,omitempty" bson:"path,omitempty"`
	BaseURL     string         `json:"baseUrl,omitempty" bson:"baseUrl,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty" bson:"inputSchema,omitempty"`
}

// RuntimeNode is one unit of work in a flow. Nodes are cloned from the stored
// flow definition at run start and owned by a single dispatch pass; they are
// never mutated concurrently.
type RuntimeNode struct {
	NodeID       string       `json:"nodeId" bson:"nodeId"`
	Name         string       `json:"name,omitempty" bson:"name,omitempty"`
	Intro        string       `json:"intro,omitempty" bson:"intro,omitempty"`
	FlowNodeType FlowNodeType `json:"flowNodeType" bson:"flowNodeType"`
	ShowStatus   bool         `json:"showStatus,omitempty" bson:"showStatus,omitempty"`
	IsEntry      bool         `json:"isEntry,omitempty" bson:"isEntry,omitempty"`
	Inputs       []NodeInput  `json:"inputs,omitempty" bson:"inputs,omitempty"`
	Outputs      []NodeOutput `json:"outputs,omitempty" bson:"outputs,omitempty"`
	PluginID     string       `json:"pluginId,omitempty" bson:"pluginId,omitempty"`
	ToolConfig   *ToolConfig  `json:"toolConfig,omitempty" bson:"toolConfig,omitempty"`
	ToolMeta     *ToolMeta    `json:"toolMeta,omitempty" bson:"toolMeta,omitempty"`
	CatchError   bool         `json:"catchError,omitempty" bson:"catchError,omitempty"`
}

// Input returns the input with the given key.
func (n *RuntimeNode) Input(key string) (*NodeInput, bool) {
	for i := range n.Inputs {
		if n.Inputs[i].Key == key {
			return &n.Inputs[i], true
		}
	}
	return nil, false
}

// Output returns the output with the given key.
func (n *RuntimeNode) Output(key string) (*NodeOutput, bool) {
	for i := range n.Outputs {
		if n.Outputs[i].Key == key {
			return &n.Outputs[i], true
		}
	}
	return nil, false
}

// ToolConfigType discriminates the tool-set variants.
type ToolConfigType string

// Tool-set variants.
const (
	ToolConfigSystem ToolConfigType = "systemToolSet"
	ToolConfigMCP    ToolConfigType = "mcpToolSet"
	ToolConfigHTTP   ToolConfigType = "httpToolSet"
)

// ErrInvalidToolConfig reports a tool config whose discriminant and payload
// do not match.
var ErrInvalidToolConfig = errors.New("workflow: invalid tool config")

// SystemToolSetConfig references a built-in tool catalog.
type SystemToolSetConfig struct {
	ToolID string `json:"toolId" bson:"toolId"`
}

// MCPToolSetConfig references an externally hosted tool catalog owned by an
// app record.
type MCPToolSetConfig struct {
	ToolID       string            `json:"toolId" bson:"toolId"`
	URL          string            `json:"url,omitempty" bson:"url,omitempty"`
	HeaderSecret map[string]string `json:"headerSecret,omitempty" bson:"headerSecret,omitempty"`
}

// HTTPToolDescriptor is one inline HTTP tool.
type HTTPToolDescriptor struct {
	Name        string         `json:"name" bson:"name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Method      string         `json:"method,omitempty" bson:"method,omitempty"`
	Path        string         `json:"path,omitempty" bson:"path,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty" bson:"inputSchema,omitempty"`
}

// HTTPToolSetConfig embeds an inline list of HTTP tool descriptors.
type HTTPToolSetConfig struct {
	BaseURL  string               `json:"baseUrl,omitempty" bson:"baseUrl,omitempty"`
	ToolList []HTTPToolDescriptor `json:"toolList" bson:"toolList"`
}

// ToolConfig is a closed sum over the tool-set variants. Exactly one payload
// matching Type must be set.
type ToolConfig struct {
	Type   ToolConfigType       `json:"type" bson:"type"`
	System *SystemToolSetConfig `json:"systemToolSet,omitempty" bson:"systemToolSet,omitempty"`
	MCP    *MCPToolSetConfig    `json:"mcpToolSet,omitempty" bson:"mcpToolSet,omitempty"`
	HTTP   *HTTPToolSetConfig   `json:"httpToolSet,omitempty" bson:"httpToolSet,omitempty"`
}

// Validate checks that the discriminant matches the populated payload.
func (c *ToolConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidToolConfig)
	}
	switch c.Type {
	case ToolConfigSystem:
		if c.System == nil || c.System.ToolID == "" {
			return fmt.Errorf("%w: systemToolSet payload missing", ErrInvalidToolConfig)
		}
	case ToolConfigMCP:
		if c.MCP == nil || c.MCP.ToolID == "" {
			return fmt.Errorf("%w: mcpToolSet payload missing", ErrInvalidToolConfig)
		}
	case ToolConfigHTTP:
		if c.HTTP == nil {
			return fmt.Errorf("%w: httpToolSet payload missing", ErrInvalidToolConfig)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidToolConfig, c.Type)
	}
	return nil
}
