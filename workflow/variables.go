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
	"net/url"
	"path"
	"strings"

	"trpc.group/trpc-go/trpc-flow-go/log"
)

// Reserved system variable keys. They exist only for the duration of a run
// and are stripped before variables are persisted.
const (
	VarKeyUserID             = "userId"
	VarKeyAppID              = "appId"
	VarKeyChatID             = "chatId"
	VarKeyResponseChatItemID = "responseChatItemId"
	VarKeyHistories          = "histories"
	VarKeyCTime              = "cTime"
)

var systemVariableKeys = []string{
	VarKeyUserID,
	VarKeyAppID,
	VarKeyChatID,
	VarKeyResponseChatItemID,
	VarKeyHistories,
	VarKeyCTime,
}

// VariableType declares how a user variable is treated at persistence time.
type VariableType string

// Variable types with special persistence handling.
const (
	VariableTypePassword VariableType = "password"
	VariableTypeFile     VariableType = "file"
)

// VariableConfig declares the type of one user variable.
type VariableConfig struct {
	Key  string       `json:"key" bson:"key"`
	Type VariableType `json:"type" bson:"type"`
}

// StoredSecret is the persistence-safe form of a password variable: the
// plaintext is cleared and only the encrypted envelope is stored.
type StoredSecret struct {
	Value  string `json:"value" bson:"value"`
	Secret string `json:"secret" bson:"secret"`
}

// StoredFile is the persistence-safe form of one file variable entry.
type StoredFile struct {
	Key  string `json:"key" bson:"key"`
	Name string `json:"name" bson:"name"`
	ID   string `json:"id" bson:"id"`
}

// fileStorePrefix is the storage-path prefix stripped from file URLs to
// recover the stored object id.
const fileStorePrefix = "/api/common/file/read/"

// RuntimeSystemVarsToStore produces a persistence-safe copy of a run's
// variable bag: reserved system keys and any caller-specified extra keys are
// removed, password-typed string values are replaced by an encrypted
// envelope, and file-typed values are mapped from external URLs to stored
// file triples. The input map is not modified.
func RuntimeSystemVarsToStore(variables map[string]any, removeKeys []string, configs []VariableConfig) map[string]any {
	out := make(map[string]any, len(variables))
	for k, v := range variables {
		out[k] = v
	}
	for _, key := range systemVariableKeys {
		delete(out, key)
	}
	for _, key := range removeKeys {
		delete(out, key)
	}

	for _, cfg := range configs {
		val, ok := out[cfg.Key]
		if !ok {
			continue
		}
		switch cfg.Type {
		case VariableTypePassword:
			// Only string values are sealed; anything else passes through
			// unchanged (already an envelope, or not a secret at all).
			str, isStr := val.(string)
			if !isStr {
				continue
			}
			secret, err := sealSecret(str)
			if err != nil {
				log.Errorf("seal password variable %s: %v", cfg.Key, err)
				continue
			}
			out[cfg.Key] = StoredSecret{Value: "", Secret: secret}
		case VariableTypeFile:
			out[cfg.Key] = fileVarToStore(val)
		}
	}
	return out
}

// fileVarToStore maps file variable entries from external URLs into stored
// file triples, discarding entries that are not well-formed URLs.
func fileVarToStore(val any) []StoredFile {
	entries, ok := val.([]any)
	if !ok {
		if strs, isStrs := val.([]string); isStrs {
			entries = make([]any, len(strs))
			for i, s := range strs {
				entries[i] = s
			}
		} else {
			return nil
		}
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		raw, isStr := entry.(string)
		if !isStr {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Path == "" {
			continue
		}
		name, err := url.PathUnescape(path.Base(u.Path))
		if err != nil {
			name = path.Base(u.Path)
		}
		files = append(files, StoredFile{
			Key:  raw,
			Name: name,
			ID:   strings.TrimPrefix(u.Path, fileStorePrefix),
		})
	}
	return files
}

// FilterSystemVariables extracts just the reserved system keys into a new
// map, dropping everything else.
func FilterSystemVariables(variables map[string]any) map[string]any {
	out := make(map[string]any, len(systemVariableKeys))
	for _, key := range systemVariableKeys {
		if v, ok := variables[key]; ok {
			out[key] = v
		}
	}
	return out
}
