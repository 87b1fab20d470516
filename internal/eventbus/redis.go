/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process engine events to external brokers so
// other deployment components (bot frontend, web status pages) can observe
// the engine without polling it.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
)

// forwardedTypes is the set of engine events worth broadcasting.
var forwardedTypes = []events.EventType{
	events.EventAutoplaySelected,
	events.EventAutoplayExhausted,
	events.EventDownloadCompleted,
	events.EventDownloadFailed,
	events.EventDownloadSelfHeal,
	events.EventPlaybackRecorded,
}

// envelope is the wire form of a forwarded event.
type envelope struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// RedisForwarder republishes engine events on Redis pubsub channels
// ("bragi.events.<type>"). Publish failures are logged and dropped; the
// engine never depends on the broker being up.
type RedisForwarder struct {
	client *redis.Client
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	cancel context.CancelFunc
}

// RedisConfig contains Redis connection configuration for the forwarder.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisForwarder connects to Redis and starts forwarding. A failed
// initial ping returns an error; the caller decides whether that is fatal.
func NewRedisForwarder(cfg RedisConfig, bus *events.Bus, nodeID string, logger zerolog.Logger) (*RedisForwarder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &RedisForwarder{
		client: client,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus_redis").Logger(),
		nodeID: nodeID,
		cancel: cancel,
	}

	for _, eventType := range forwardedTypes {
		go fw.pump(ctx, eventType, bus.Subscribe(eventType))
	}

	fw.logger.Info().Str("addr", cfg.Addr).Msg("redis event forwarding started")
	return fw, nil
}

func (fw *RedisForwarder) pump(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			fw.publish(ctx, eventType, payload)
		}
	}
}

func (fw *RedisForwarder) publish(ctx context.Context, eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(envelope{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    fw.nodeID,
	})
	if err != nil {
		fw.logger.Debug().Err(err).Str("event", string(eventType)).Msg("marshal event failed")
		return
	}

	if err := fw.client.Publish(ctx, "bragi.events."+string(eventType), data).Err(); err != nil {
		fw.logger.Debug().Err(err).Str("event", string(eventType)).Msg("redis publish failed")
	}
}

// Close stops forwarding and releases the Redis connection.
func (fw *RedisForwarder) Close() error {
	fw.cancel()
	return fw.client.Close()
}
