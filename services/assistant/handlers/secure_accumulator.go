// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers of the assistant service.
//
// This file implements secure accumulation of streamed answer tokens.
// During streaming the accumulated text is the only unredacted copy of
// the answer in the process, so it lives in mlocked memory that cannot
// be swapped to disk, and is wiped as soon as redaction has produced
// the deliverable text.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// SecureBufferSize is the mlocked buffer size for one streamed answer.
	// 256 KB holds roughly 65k tokens, far beyond any configured response
	// length limit.
	SecureBufferSize = 256 * 1024

	// MinMlockLimitKB is the minimum RLIMIT_MEMLOCK needed, in kilobytes.
	MinMlockLimitKB = 256

	// insecureMemoryEnv acknowledges running without mlocked buffers.
	insecureMemoryEnv = "CORTEX_INSECURE_MEMORY"
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// TokenAccumulator collects streamed tokens and hashes them as they
// arrive, so the finalized answer carries an integrity hash computed
// incrementally rather than over a reassembled copy.
//
// Implementations must be safe for concurrent use. An accumulator is
// single-shot: after Finalize or Destroy it cannot be written again.
type TokenAccumulator interface {
	// Write appends one token. Fails when the buffer would overflow or
	// the accumulator was already finalized or destroyed.
	Write(token string) error

	// Finalize returns the accumulated text and its SHA-256 hex hash,
	// then wipes the buffer. Can be called once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without returning data. Idempotent; use
	// on error paths.
	Destroy()

	// ID identifies this accumulator in logs.
	ID() string

	// CreatedAt is when the accumulator was allocated.
	CreatedAt() time.Time
}

// NewTokenAccumulator returns a secure accumulator backed by mlocked
// memory. When the system's RLIMIT_MEMLOCK is too small, it fails unless
// CORTEX_INSECURE_MEMORY=true, in which case a plain-memory fallback is
// returned with a logged warning.
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			slog.Warn("using insecure token accumulator, answer text may swap to disk",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newInsecureAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB; raise the limit or set %s=true",
			currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
		)
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	return &secureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Error("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"override", insecureMemoryEnv+"=true",
			)
		}
	})
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes every memguard allocation. Called during
// graceful shutdown; all live buffers become invalid afterwards.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("purged all secure memory")
}

// secureAccumulator stores tokens in an mlocked, guard-paged buffer.
type secureAccumulator struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	if a.overflow {
		return fmt.Errorf("accumulator %s overflowed", a.id)
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > a.buffer.Size() {
		a.overflow = true
		return fmt.Errorf("accumulator %s overflow: %d bytes would exceed %d",
			a.id, a.offset+len(tokenBytes), a.buffer.Size())
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	if a.overflow {
		return "", "", fmt.Errorf("accumulator %s overflowed, content incomplete", a.id)
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.buffer.Destroy()
	a.destroyed = true

	slog.Debug("finalized secure accumulator",
		"accumulator_id", a.id,
		"answer_bytes", len(answer),
	)
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.buffer.Destroy()
	a.destroyed = true
}

func (a *secureAccumulator) ID() string { return a.id }

func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

// insecureAccumulator is the plain-memory fallback. Same contract, no
// swap protection.
type insecureAccumulator struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	data      []byte
	hasher    hash.Hash
	destroyed bool
}

func newInsecureAccumulator() *insecureAccumulator {
	return &insecureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

func (a *insecureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		return fmt.Errorf("accumulator %s overflow: %d bytes would exceed %d",
			a.id, len(a.data)+len(tokenBytes), SecureBufferSize)
	}
	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator %s already destroyed", a.id)
	}
	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))

	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

// wipe zeroes the slice before release. Best effort, the GC may already
// have copied it. Caller holds mu.
func (a *insecureAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureAccumulator) ID() string { return a.id }

func (a *insecureAccumulator) CreatedAt() time.Time { return a.createdAt }

var (
	_ TokenAccumulator = (*secureAccumulator)(nil)
	_ TokenAccumulator = (*insecureAccumulator)(nil)
)
