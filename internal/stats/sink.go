// Package stats feeds accepted funnel transitions to the external statistics
// pipeline. The sink is append-only; the mailer never reads it back.
package stats

import (
	"context"
	"encoding/json"

	"github.com/Lexxtor/mailer/internal/mailer"
	"github.com/Lexxtor/mailer/pkg/rmq"
)

// RMQSink publishes funnel events as persistent JSON messages to a durable
// queue.
type RMQSink struct {
	Pub *rmq.Publisher
}

func NewRMQSink(pub *rmq.Publisher) *RMQSink { return &RMQSink{Pub: pub} }

func (s *RMQSink) Publish(ctx context.Context, ev mailer.FunnelEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Pub.PublishJSON(ctx, payload)
}

// NopSink drops events; used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, mailer.FunnelEvent) error { return nil }
