// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// RetryConfig controls the retry decorator.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// DefaultRetryConfig returns production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Resilient decorates a Store with exponential-backoff retries and a
// circuit breaker. Transient failures are retried; after exhaustion a Get
// or List surfaces the TransientError and a Put surfaces a StaleWriteError,
// so no failure is ever silently dropped.
type Resilient struct {
	inner   Store
	cfg     RetryConfig
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

// NewResilient wraps inner with retry and circuit-breaker behavior.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewResilient(inner Store, cfg RetryConfig, logger zerolog.Logger) *Resilient {
	r := &Resilient{
		inner:  inner,
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "store",
		Timeout: 10 * time.Second,
		IsSuccessful: func(err error) bool {
			// Absent keys are an answer, not a backend failure.
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state change")
		},
	})
	return r
}

// Get retrieves a document, retrying transient failures.
func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		var value []byte
		op := func() error {
			var err error
			value, err = r.inner.Get(ctx, key)
			return permanentUnlessTransient(err)
		}
		if err := backoff.Retry(op, r.newBackOff(ctx)); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	value, _ := v.([]byte)
	return value, nil
}

// Put stores a document, retrying transient failures. Retry exhaustion is
// reported as a StaleWriteError; the caller re-reads and reapplies.
func (r *Resilient) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.breaker.Execute(func() (any, error) {
		op := func() error {
			return permanentUnlessTransient(r.inner.Put(ctx, key, value))
		}
		return nil, backoff.Retry(op, r.newBackOff(ctx))
	})
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		r.logger.Error().Str("key", key).Err(err).Msg("store write retries exhausted")
		return &StaleWriteError{Key: key, Attempts: int(r.cfg.MaxRetries) + 1, Err: err}
	}
	return err
}

// List retrieves documents by prefix, retrying transient failures.
func (r *Resilient) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		var docs map[string][]byte
		op := func() error {
			var err error
			docs, err = r.inner.List(ctx, prefix)
			return permanentUnlessTransient(err)
		}
		if err := backoff.Retry(op, r.newBackOff(ctx)); err != nil {
			return nil, err
		}
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	docs, _ := v.(map[string][]byte)
	return docs, nil
}

// Close closes the underlying store.
func (r *Resilient) Close() error {
	return r.inner.Close()
}

// newBackOff builds the per-call backoff policy.
func (r *Resilient) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialInterval
	bo.MaxInterval = r.cfg.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx)
}

// permanentUnlessTransient stops the retry loop for anything that a retry
// cannot fix (ErrNotFound, corrupt documents, canceled contexts).
func permanentUnlessTransient(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
