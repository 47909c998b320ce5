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
	"errors"
)

// NodeUsage is one billing entry produced while a node ran.
type NodeUsage struct {
	ModuleName   string  `json:"moduleName,omitempty" bson:"moduleName,omitempty"`
	TotalPoints  float64 `json:"totalPoints" bson:"totalPoints"`
	InputTokens  int     `json:"inputTokens,omitempty" bson:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty" bson:"outputTokens,omitempty"`
	Model        string  `json:"model,omitempty" bson:"model,omitempty"`
}

// HTTPError is a rich error produced by HTTP-backed node handlers. It keeps
// the response facts a caller may branch on.
type HTTPError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Method  string `json:"method,omitempty"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// HTTPErrorInfo is the stable normalized shape of a caught HTTP error.
// Missing fields stay zero-valued; normalization never fails.
type HTTPErrorInfo struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Name    string `json:"name,omitempty"`
	Method  string `json:"method,omitempty"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// FormatHTTPError normalizes a heterogeneous caught error into one stable
// shape. Rich HTTPError values contribute their response facts; anything
// else contributes only its message.
func FormatHTTPError(err error) HTTPErrorInfo {
	if err == nil {
		return HTTPErrorInfo{}
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return HTTPErrorInfo{
			Message: httpErr.Message,
			Data:    httpErr.Data,
			Name:    httpErr.Name,
			Method:  httpErr.Method,
			Code:    httpErr.Code,
			Status:  httpErr.Status,
		}
	}
	return HTTPErrorInfo{Message: err.Error()}
}

// NodeErrParams are the inputs to NewNodeErrResponse.
type NodeErrParams struct {
	Err            error
	CustomErr      map[string]any
	ResponseData   map[string]any
	Usages         []NodeUsage
	RunTimes       int
	NewVariables   map[string]any
	SystemMemories map[string]any
}

// NodeErrResponse is the uniform failure envelope every node handler
// returns, so the dispatch engine never branches on error shape. The same
// error text appears in three facets: Error for the engine, NodeResponse
// for the trace UI, and ToolResponses for a tool-calling model.
type NodeErrResponse struct {
	Error          map[string]any `json:"error"`
	NodeResponse   map[string]any `json:"nodeResponse"`
	ToolResponses  map[string]any `json:"toolResponses"`
	Usages         []NodeUsage    `json:"usages,omitempty"`
	RunTimes       int            `json:"runTimes,omitempty"`
	NewVariables   map[string]any `json:"newVariables,omitempty"`
	SystemMemories map[string]any `json:"systemMemories,omitempty"`
}

// NewNodeErrResponse builds the normalized three-facet failure envelope.
func NewNodeErrResponse(p NodeErrParams) *NodeErrResponse {
	errorText := ""
	if p.Err != nil {
		errorText = p.Err.Error()
	}

	errFacet := map[string]any{"errorText": errorText}
	for k, v := range p.CustomErr {
		errFacet[k] = v
	}

	nodeFacet := map[string]any{"errorText": errorText}
	for k, v := range p.ResponseData {
		nodeFacet[k] = v
	}

	toolFacet := map[string]any{"errorText": errorText}
	for k, v := range p.CustomErr {
		toolFacet[k] = v
	}

	return &NodeErrResponse{
		Error:          errFacet,
		NodeResponse:   nodeFacet,
		ToolResponses:  toolFacet,
		Usages:         p.Usages,
		RunTimes:       p.RunTimes,
		NewVariables:   p.NewVariables,
		SystemMemories: p.SystemMemories,
	}
}
