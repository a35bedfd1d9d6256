// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

// Package store defines the persistence collaborator contract for the
// scoring engine and provides a BadgerDB-backed implementation.
//
// The engine treats keys as opaque strings and values as JSON documents.
// Callers never talk to a Store directly; they go through the decorators
// in this package (retry with exponential backoff, circuit breaker) so
// transient failures surface as typed, recoverable errors.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no document exists for the key.
var ErrNotFound = errors.New("document not found")

// Store is the key-value contract the engine persists through.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the document under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// List returns all documents whose keys begin with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Close releases underlying resources.
	Close() error
}

// TransientError marks a store failure that is expected to clear on retry
// (timeout, temporarily unavailable backend). The retry decorator backs off
// and retries these; after exhaustion the error is surfaced, never dropped.
type TransientError struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// StaleWriteError reports a mutation that lost its race after retry
// exhaustion. Recovery is to re-read the document and reapply the delta;
// all engine mutations are idempotent replays, so reapplication is safe.
type StaleWriteError struct {
	Key      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write on %q after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StaleWriteError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the key has no document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
