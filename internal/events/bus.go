// Rotation - Adaptive Scoring and Queue Engine for Live Audio Broadcasts
// Copyright 2026 Rotation FM
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rotationfm/rotation

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/rotationfm/rotation/internal/logging"
)

// Bus carries playback events between the Player boundary and the engine.
// It is an in-process pub/sub; every subscriber receives every event.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

// NewBus creates the bus with a small buffer so a slow consumer briefly
// lags instead of blocking the publisher.
func NewBus() *Bus {
	logger := logging.With().Str("component", "events").Logger()
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, &watermillLogger{logger: logger}),
		logger: logger,
	}
}

// Publish validates and publishes one event.
func (b *Bus) Publish(e *PlaybackEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.EventID, err)
	}
	return b.pubsub.Publish(Topic, message.NewMessage(e.EventID, payload))
}

// Subscribe returns a channel of decoded events. Malformed or invalid
// messages are acked and dropped with a log line; they would never become
// processable.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *PlaybackEvent, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", Topic, err)
	}

	out := make(chan *PlaybackEvent)
	go func() {
		defer close(out)
		for msg := range msgs {
			event := &PlaybackEvent{}
			if err := json.Unmarshal(msg.Payload, event); err != nil {
				b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable event")
				msg.Ack()
				continue
			}
			if err := event.Validate(); err != nil {
				b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping invalid event")
				msg.Ack()
				continue
			}
			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), msg, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields) // watermill info is chatty, demote it
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{logger: ctx.Logger()}
}

func (l *watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
