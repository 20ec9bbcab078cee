// Package telemetry publishes congestion-control events to a redis channel
// so a fleet operator can watch window behavior without attaching to the
// process. Disabled unless configured; a nil Publisher is safe to call.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ewancrowle/quill/internal/config"
)

// Event is one congestion-control observation.
type Event struct {
	Type             string    `json:"type"` // sent, ack, loss
	Bytes            int       `json:"bytes"`
	CongestionWindow int64     `json:"congestion_window"`
	BytesInFlight    int64     `json:"bytes_in_flight"`
	At               time.Time `json:"at"`
}

type Publisher struct {
	client  *redis.Client
	channel string
}

// New returns nil when telemetry is disabled.
func New(cfg *config.Config) *Publisher {
	if !cfg.Telemetry.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Telemetry.Address,
		Password: cfg.Telemetry.Password,
		DB:       cfg.Telemetry.DB,
	})

	return &Publisher{
		client:  client,
		channel: cfg.Telemetry.Channel,
	}
}

// Publish sends one event. Best effort: the transport never blocks on
// telemetry failures beyond the publish call itself.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
