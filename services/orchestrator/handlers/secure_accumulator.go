// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the HTTP handlers for the orchestrator service.
//
// This file implements accumulation of streamed answer chunks. The streaming
// pipeline writes every content chunk here before emitting it, so the final
// done event provably matches what the client received. Chunks live in
// mlocked memory so policy-derived answers do not swap to disk.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// secureBufferSize bounds one streamed answer. 512 KB is roughly
	// 131k tokens at 4 bytes per token, far past any policy answer.
	secureBufferSize = 512 * 1024

	// minMlockLimitKB is the smallest RLIMIT_MEMLOCK under which the
	// locked buffer can be allocated.
	minMlockLimitKB = 512
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// TokenAccumulator collects streamed answer chunks before they go out on
// the wire, so the done event provably equals the concatenation of the
// content events. Chunks are hashed incrementally as they arrive.
//
// An accumulator is single-use: after Finalize or Destroy, Write fails.
// Implementations are safe for concurrent use.
type TokenAccumulator interface {
	// Write appends one chunk.
	Write(token string) error

	// Finalize returns the accumulated answer and the hex SHA-256 of its
	// bytes, then wipes the buffer. It can be called once.
	Finalize() (answer string, hashHex string, err error)

	// Destroy wipes the buffer. Idempotent.
	Destroy()
}

// IsMlockAvailable reports whether RLIMIT_MEMLOCK admits the locked
// buffer, and the current limit in KB (-1 for unlimited).
func IsMlockAvailable() (bool, int64) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return false, 0
	}
	if limit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(limit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

func initSecureMemory() {
	memguardInitOnce.Do(func() {
		mlockSufficient, mlockLimitKB = IsMlockAvailable()
		if mlockSufficient {
			memguard.CatchInterrupt()
		} else {
			slog.Warn("mlock limit too low for secure accumulation",
				"limit_kb", mlockLimitKB, "required_kb", minMlockLimitKB)
		}
	})
}

// NewSecureTokenAccumulator returns an accumulator over mlocked memory.
//
// When the mlock limit is insufficient the behavior depends on
// ALEUTIAN_INSECURE_MEMORY: "true" degrades to an unlocked heap buffer
// with a warning, anything else is a hard error.
func NewSecureTokenAccumulator() (TokenAccumulator, error) {
	initSecureMemory()

	if !mlockSufficient {
		if os.Getenv("ALEUTIAN_INSECURE_MEMORY") != "true" {
			return nil, fmt.Errorf(
				"mlock limit %d KB is below the %d KB required; raise RLIMIT_MEMLOCK "+
					"or set ALEUTIAN_INSECURE_MEMORY=true to accept unlocked buffers",
				mlockLimitKB, minMlockLimitKB)
		}
		slog.Warn("Using insecure answer accumulation, chunks may swap to disk")
		return newInsecureTokenAccumulator(), nil
	}

	buf := memguard.NewBuffer(secureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate locked buffer of %d bytes", secureBufferSize)
	}
	buf.Melt()
	return &secureTokenAccumulator{buffer: buf, hasher: sha256.New()}, nil
}

// PurgeAllSecureMemory wipes every memguard allocation. Called on process
// shutdown after the HTTP server has drained.
func PurgeAllSecureMemory() {
	memguard.Purge()
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureTokenAccumulator stores chunks in an mlocked memguard buffer.
type secureTokenAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	hasher    hash.Hash
	length    int
	finalized bool
	destroyed bool
}

func (a *secureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return fmt.Errorf("accumulator already finalized")
	}
	if token == "" {
		return nil
	}
	if a.length+len(token) > a.buffer.Size() {
		return fmt.Errorf("accumulator overflow: %d + %d exceeds %d bytes",
			a.length, len(token), a.buffer.Size())
	}

	copy(a.buffer.Bytes()[a.length:], token)
	a.length += len(token)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *secureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return "", "", fmt.Errorf("accumulator already finalized")
	}
	a.finalized = true

	answer := string(a.buffer.Bytes()[:a.length])
	hashHex := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.destroyed = true
	return answer, hashHex, nil
}

func (a *secureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

// =============================================================================
// Insecure Fallback
// =============================================================================

// insecureTokenAccumulator is the unlocked fallback for hosts without
// usable mlock. Same contract, best-effort wipe on destroy.
type insecureTokenAccumulator struct {
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	finalized bool
	destroyed bool
}

func newInsecureTokenAccumulator() TokenAccumulator {
	return &insecureTokenAccumulator{
		data:   make([]byte, 0, 4096),
		hasher: sha256.New(),
	}
}

func (a *insecureTokenAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return fmt.Errorf("accumulator already finalized")
	}
	if len(a.data)+len(token) > secureBufferSize {
		return fmt.Errorf("accumulator overflow: %d + %d exceeds %d bytes",
			len(a.data), len(token), secureBufferSize)
	}

	a.data = append(a.data, token...)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *insecureTokenAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return "", "", fmt.Errorf("accumulator already finalized")
	}
	a.finalized = true

	answer := string(a.data)
	hashHex := hex.EncodeToString(a.hasher.Sum(nil))

	a.wipe()
	a.destroyed = true
	return answer, hashHex, nil
}

func (a *insecureTokenAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	a.destroyed = true
}

func (a *insecureTokenAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
}

var _ TokenAccumulator = (*secureTokenAccumulator)(nil)
var _ TokenAccumulator = (*insecureTokenAccumulator)(nil)
