package worker

import (
	"context"
	"errors"
	"math/rand"

	"github.com/Lexxtor/mailer/internal/mailer"
)

var errRelayUnavailable = errors.New("relay connection reset")

// SimulatedTransport stands in for the real SMTP/API relay. Real transports
// plug in behind the mailer.Mailer interface; this one renders nothing and
// fails the way relays do, which keeps the worker runnable end to end without
// network access.
type SimulatedTransport struct {
	// SuccessRate of definite deliveries; the remainder splits evenly into
	// transient and definite failures.
	SuccessRate float64
}

func NewSimulatedTransport() *SimulatedTransport {
	return &SimulatedTransport{SuccessRate: 0.96}
}

func (t *SimulatedTransport) Send(ctx context.Context, req mailer.SendRequest) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", &mailer.TransientError{Err: err}
	}

	r := rand.Float64()
	switch {
	case r < t.SuccessRate:
		return true, "", nil
	case r < t.SuccessRate+(1-t.SuccessRate)/2:
		return false, "", &mailer.TransientError{Err: errRelayUnavailable}
	default:
		return false, "recipient rejected by relay", nil
	}
}
