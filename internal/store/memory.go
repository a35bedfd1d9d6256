// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package store

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-memory Store used by tests and as a no-persistence mode.
// It supports transient-failure injection to exercise retry paths.
type Memory struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	failPuts int
	failGets int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// FailNextPuts makes the next n Put calls fail with a TransientError.
func (m *Memory) FailNextPuts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts = n
}

// FailNextGets makes the next n Get calls fail with a TransientError.
func (m *Memory) FailNextGets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets = n
}

// Get returns the document stored under key, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failGets > 0 {
		m.failGets--
		return nil, &TransientError{Op: "get", Key: key, Err: errInjected}
	}

	value, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Put stores the document under key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPuts > 0 {
		m.failPuts--
		return &TransientError{Op: "put", Key: key, Err: errInjected}
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	m.docs[key] = cp
	return nil
}

// List returns all documents whose keys begin with prefix.
func (m *Memory) List(_ context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make(map[string][]byte)
	for key, value := range m.docs {
		if strings.HasPrefix(key, prefix) {
			cp := make([]byte, len(value))
			copy(cp, value)
			docs[key] = cp
		}
	}
	return docs, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// errInjected marks failures injected by tests.
var errInjected = &injectedError{}

type injectedError struct{}

func (*injectedError) Error() string { return "injected failure" }

// Interface guards.
var (
	_ Store = (*Memory)(nil)
	_ Store = (*BadgerStore)(nil)
	_ Store = (*Resilient)(nil)
)
