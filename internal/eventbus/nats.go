/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_autodj/internal/events"
)

// NATSForwarder republishes engine events on NATS subjects
// ("bragi.events.<type>").
type NATSForwarder struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	cancel context.CancelFunc
}

// NewNATSForwarder connects to the NATS server and starts forwarding.
func NewNATSForwarder(url string, bus *events.Bus, nodeID string, logger zerolog.Logger) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &NATSForwarder{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus_nats").Logger(),
		nodeID: nodeID,
		cancel: cancel,
	}

	for _, eventType := range forwardedTypes {
		go fw.pump(ctx, eventType, bus.Subscribe(eventType))
	}

	fw.logger.Info().Str("url", url).Msg("nats event forwarding started")
	return fw, nil
}

func (fw *NATSForwarder) pump(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			fw.publish(eventType, payload)
		}
	}
}

func (fw *NATSForwarder) publish(eventType events.EventType, payload events.Payload) {
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

	if err := fw.conn.Publish("bragi.events."+string(eventType), data); err != nil {
		fw.logger.Debug().Err(err).Str("event", string(eventType)).Msg("nats publish failed")
	}
}

// Close stops forwarding and drains the connection.
func (fw *NATSForwarder) Close() error {
	fw.cancel()
	return fw.conn.Drain()
}
