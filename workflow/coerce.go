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
	"fmt"
	"strconv"
	"strings"
)

// CoerceValue normalizes a node input value to its declared type before the
// handler runs, so handlers can rely on the declared shape. Unknown or any
// declarations pass values through untouched; failed coercions fall back to
// the original value rather than erroring (flows are user-authored and the
// handler surfaces the real problem with more context).
func CoerceValue(value any, valueType ValueType) any {
	if value == nil {
		return nil
	}
	switch valueType {
	case "", ValueTypeAny:
		return value
	case ValueTypeString:
		return coerceString(value)
	case ValueTypeNumber:
		return coerceNumber(value)
	case ValueTypeBoolean:
		return coerceBool(value)
	case ValueTypeObject:
		return coerceObject(value)
	case ValueTypeArrayString, ValueTypeDatasetQuote:
		return coerceArray(value)
	case ValueTypeChatHistory:
		// Either an explicit list or a count; both are valid runtime forms.
		return value
	}
	return value
}

func coerceString(value any) any {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceNumber(value any) any {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if v == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return value
}

func coerceBool(value any) any {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return value
}

func coerceObject(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			var m map[string]any
			if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
				return m
			}
		}
	}
	return value
}

func coerceArray(value any) any {
	switch v := value.(type) {
	case []any:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			var a []any
			if err := json.Unmarshal([]byte(trimmed), &a); err == nil {
				return a
			}
		}
		return []any{v}
	default:
		return []any{v}
	}
}
