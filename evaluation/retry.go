//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package evaluation

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxRetries is the retry budget given to a fresh item. Overridable
// via EVAL_ITEM_MAX_RETRY.
const DefaultMaxRetries = 3

// maxRetryDelay caps the exponential backoff between item retries.
const maxRetryDelay = 30 * time.Second

// MaxRetries returns the configured per-item retry budget.
func MaxRetries() int {
	if env := os.Getenv("EVAL_ITEM_MAX_RETRY"); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxRetries
}

// Patterns of transient failures worth retrying, grouped by category.
// Conservative: anything not matching is treated as permanent.
var retriablePatterns = map[string][]string{
	"network": {
		"network_error", "econnreset", "enotfound", "econnrefused",
		"connection refused", "connection reset", "socket hang up",
		"connect timeout", "ehostunreach", "enetunreach", "broken pipe", "eof",
	},
	"timeout": {
		"timeout", "etimedout", "deadline exceeded",
	},
	"rateLimit": {
		"rate limit", "too many requests", "429", "quota exceeded", "throttled",
	},
	"serverError": {
		"502", "503", "504", "bad gateway", "service unavailable",
		"gateway timeout", "temporary failure", "server overloaded",
	},
}

var httpStatusRe = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// ErrorAnalysis classifies one failure.
type ErrorAnalysis struct {
	Retriable bool
	Category  string
	Pattern   string
}

// AnalyzeError decides whether a failure is worth retrying and which
// category matched. Stage errors carry their own verdict and win.
func AnalyzeError(err error) ErrorAnalysis {
	if err == nil {
		return ErrorAnalysis{}
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return ErrorAnalysis{Retriable: stageErr.Retriable, Category: string(stageErr.Stage)}
	}

	msg := strings.ToLower(err.Error())
	for category, patterns := range retriablePatterns {
		for _, pattern := range patterns {
			if strings.Contains(msg, pattern) {
				return ErrorAnalysis{Retriable: true, Category: category, Pattern: pattern}
			}
		}
	}

	// 5xx and 429 status codes embedded in the message are transient; other
	// 4xx are caller mistakes.
	if match := httpStatusRe.FindString(err.Error()); match != "" {
		if match == "429" {
			return ErrorAnalysis{Retriable: true, Category: "rateLimit", Pattern: match}
		}
		if strings.HasPrefix(match, "5") {
			return ErrorAnalysis{Retriable: true, Category: "serverError", Pattern: match}
		}
	}
	return ErrorAnalysis{}
}

// RetryDelay computes the exponential backoff before the next attempt.
// remaining is the retry budget left after decrementing.
func RetryDelay(maxRetries, remaining int) time.Duration {
	exp := maxRetries - remaining
	if exp < 0 {
		exp = 0
	}
	delay := time.Second << uint(exp)
	if delay > maxRetryDelay || delay <= 0 {
		return maxRetryDelay
	}
	return delay
}
