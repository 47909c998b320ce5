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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
)

// secretAlgorithm tags stored envelopes so the format can evolve.
const secretAlgorithm = "aes-256-gcm"

// secretKeyEnv names the environment variable holding the variable
// encryption key.
const secretKeyEnv = "FLOW_VAR_SECRET_KEY"

var (
	secretKeyMu sync.RWMutex
	secretKey   []byte
)

// SetSecretKey sets the key used to seal password variables. Any key
// material is accepted; it is stretched to 32 bytes.
func SetSecretKey(key []byte) {
	sum := sha256.Sum256(key)
	secretKeyMu.Lock()
	secretKey = sum[:]
	secretKeyMu.Unlock()
}

func getSecretKey() []byte {
	secretKeyMu.RLock()
	key := secretKey
	secretKeyMu.RUnlock()
	if key != nil {
		return key
	}

	secretKeyMu.Lock()
	defer secretKeyMu.Unlock()
	if secretKey == nil {
		if env := os.Getenv(secretKeyEnv); env != "" {
			sum := sha256.Sum256([]byte(env))
			secretKey = sum[:]
		} else {
			// No configured key: generate a process-local one. Envelopes
			// sealed with it cannot be opened after restart, which is still
			// safer than persisting plaintext.
			secretKey = make([]byte, 32)
			if _, err := rand.Read(secretKey); err != nil {
				panic(fmt.Sprintf("workflow: generate secret key: %v", err))
			}
		}
	}
	return secretKey
}

// sealSecret encrypts a plaintext into the three-part envelope format
// algorithm:nonce:ciphertext.
func sealSecret(plain string) (string, error) {
	block, err := aes.NewCipher(getSecretKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plain), nil)
	return strings.Join([]string{
		secretAlgorithm,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(sealed),
	}, ":"), nil
}

// OpenSecret decrypts an envelope produced by RuntimeSystemVarsToStore.
func OpenSecret(envelope string) (string, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("workflow: malformed secret envelope")
	}
	if parts[0] != secretAlgorithm {
		return "", fmt.Errorf("workflow: unsupported secret algorithm %q", parts[0])
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("workflow: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("workflow: decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(getSecretKey())
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("workflow: open secret: %w", err)
	}
	return string(plain), nil
}
