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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeSystemVarsToStoreStripsReservedKeys(t *testing.T) {
	vars := map[string]any{
		VarKeyUserID:    "u1",
		VarKeyAppID:     "a1",
		VarKeyChatID:    "c1",
		VarKeyHistories: []any{},
		VarKeyCTime:     "2025-01-01",
		"customVar":     "keep me",
		"tempVar":       "drop me",
	}

	got := RuntimeSystemVarsToStore(vars, []string{"tempVar"}, nil)
	assert.Equal(t, map[string]any{"customVar": "keep me"}, got)

	// Input untouched.
	assert.Equal(t, "u1", vars[VarKeyUserID])
	assert.Equal(t, "drop me", vars["tempVar"])
}

func TestRuntimeSystemVarsToStorePassword(t *testing.T) {
	SetSecretKey([]byte("test-key"))

	vars := map[string]any{"apiKey": "hunter2"}
	configs := []VariableConfig{{Key: "apiKey", Type: VariableTypePassword}}

	got := RuntimeSystemVarsToStore(vars, nil, configs)
	sealed, ok := got["apiKey"].(StoredSecret)
	require.True(t, ok, "Expected password variable to be replaced by an envelope")
	assert.Empty(t, sealed.Value, "Expected plaintext to be cleared")

	parts := strings.Split(sealed.Secret, ":")
	require.Len(t, parts, 3, "Expected algorithm:nonce:ciphertext envelope")
	assert.Equal(t, "aes-256-gcm", parts[0])
	assert.NotContains(t, sealed.Secret, "hunter2")

	plain, err := OpenSecret(sealed.Secret)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestRuntimeSystemVarsToStorePasswordNonString(t *testing.T) {
	SetSecretKey([]byte("test-key"))

	already := StoredSecret{Secret: "aes-256-gcm:x:y"}
	vars := map[string]any{"apiKey": already}
	got := RuntimeSystemVarsToStore(vars, nil, []VariableConfig{
		{Key: "apiKey", Type: VariableTypePassword},
	})
	assert.Equal(t, already, got["apiKey"], "Expected non-string password values to pass through")
}

func TestRuntimeSystemVarsToStoreFile(t *testing.T) {
	vars := map[string]any{
		"docs": []any{
			"https://host.example.com/api/common/file/read/abc123?token=t#frag",
			"https://host.example.com/api/common/file/read/report%20final.pdf",
			42,
		},
	}
	got := RuntimeSystemVarsToStore(vars, nil, []VariableConfig{
		{Key: "docs", Type: VariableTypeFile},
	})

	files, ok := got["docs"].([]StoredFile)
	require.True(t, ok)
	require.Len(t, files, 2, "Expected non-string entries to be discarded")

	assert.Equal(t, "https://host.example.com/api/common/file/read/abc123?token=t#frag", files[0].Key)
	assert.Equal(t, "abc123", files[0].Name)
	assert.Equal(t, "abc123", files[0].ID)

	assert.Equal(t, "report final.pdf", files[1].Name, "Expected the basename to be unescaped")
	assert.Equal(t, "report%20final.pdf", files[1].ID)
}

func TestFilterSystemVariables(t *testing.T) {
	vars := map[string]any{
		VarKeyUserID: "u1",
		VarKeyChatID: "c1",
		"customVar":  "x",
	}
	got := FilterSystemVariables(vars)
	assert.Equal(t, map[string]any{VarKeyUserID: "u1", VarKeyChatID: "c1"}, got)
}

func TestOpenSecretMalformed(t *testing.T) {
	SetSecretKey([]byte("test-key"))

	_, err := OpenSecret("not-an-envelope")
	assert.Error(t, err)

	_, err = OpenSecret("rot13:a:b")
	assert.Error(t, err)

	_, err = OpenSecret("aes-256-gcm:!!!:!!!")
	assert.Error(t, err)
}

func TestOpenSecretWrongKey(t *testing.T) {
	SetSecretKey([]byte("key-one"))
	sealed, err := sealSecret("payload")
	require.NoError(t, err)

	SetSecretKey([]byte("key-two"))
	_, err = OpenSecret(sealed)
	assert.Error(t, err, "Expected a key change to invalidate old envelopes")
}
