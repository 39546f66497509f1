package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/Lexxtor/mailer/pkg/logx"
	"github.com/Lexxtor/mailer/pkg/metrics"
)

// Status of a queued message. Control statuses (awaits, sending, delayed,
// cancelled) describe where the message is in the queue; outcome statuses form
// an ordered funnel and may only move forward.
type Status string

const (
	StatusAwaits    Status = "awaits"
	StatusSending   Status = "sending"
	StatusDelayed   Status = "delayed"
	StatusCancelled Status = "cancelled"

	StatusError        Status = "error"
	StatusSended       Status = "sended"
	StatusDelivered    Status = "delivered"
	StatusOpened       Status = "opened"
	StatusClicked      Status = "clicked"
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
	StatusRegistered   Status = "registered"
	StatusPaid         Status = "paid"
)

// FunnelStatuses lists the outcome statuses in increasing funnel order.
var FunnelStatuses = []Status{
	StatusError,
	StatusSended,
	StatusDelivered,
	StatusOpened,
	StatusClicked,
	StatusSubscribed,
	StatusUnsubscribed,
	StatusRegistered,
	StatusPaid,
}

var funnelRank = func() map[Status]int {
	m := make(map[Status]int, len(FunnelStatuses))
	for i, s := range FunnelStatuses {
		m[s] = i
	}
	return m
}()

// Rank returns the funnel rank of s, or -1 when s is not an outcome status.
func Rank(s Status) int {
	r, ok := funnelRank[s]
	if !ok {
		return -1
	}
	return r
}

// IsOutcome reports whether s belongs to the funnel.
func IsOutcome(s Status) bool { return Rank(s) >= 0 }

// statusIncreased reports a forward funnel move: either the first entry into
// the funnel from a control status, or a strictly higher rank.
func statusIncreased(old, next Status) bool {
	if !IsOutcome(next) {
		return false
	}
	if !IsOutcome(old) {
		return true
	}
	return Rank(old) < Rank(next)
}

// Message is one queued, recipient-specific unit of outbound mail.
type Message struct {
	ID          int64
	CampaignID  int64
	RecipientID int64
	IsInvite    bool
	Priority    int
	Status      Status

	// Optional delivery window, hours of day. Nil means open-ended.
	HourFrom *int
	HourTo   *int

	ScheduledAt *time.Time
	CreatedAt   time.Time
	AlteredAt   *time.Time

	ErroredAt      *time.Time
	SendedAt       *time.Time
	DeliveredAt    *time.Time
	OpenedAt       *time.Time
	ClickedAt      *time.Time
	SubscribedAt   *time.Time
	UnsubscribedAt *time.Time
	RegisteredAt   *time.Time
	PaidAt         *time.Time

	Error string
}

// FunnelEvent records one accepted forward transition; published to the
// statistics sink and never read back.
type FunnelEvent struct {
	CampaignID int64     `json:"campaign_id"`
	Status     Status    `json:"status"`
	At         time.Time `json:"at"`
	PaidValue  *int64    `json:"paid_value,omitempty"`
}

// Transition applies a status write to m under the monotonic funnel rule.
// Control statuses are always accepted; an outcome status is accepted only
// when it moves the funnel forward, except paid which repeats. A rejected
// write leaves m untouched and returns nil. The returned event, when non-nil,
// must be emitted exactly once.
func Transition(m *Message, next Status, now time.Time, paidValue *int64) *FunnelEvent {
	if !IsOutcome(next) {
		if m.Status != next {
			m.Status = next
			m.AlteredAt = &now
		}
		return nil
	}

	increased := statusIncreased(m.Status, next)
	if !increased && next != StatusPaid {
		return nil
	}

	if m.Status != next {
		m.AlteredAt = &now
	}
	m.Status = next

	// Outcome timestamps are set at most once; a repeated paid keeps the
	// first date_paid.
	if increased {
		stampOutcome(m, next, now)
	}

	return &FunnelEvent{CampaignID: m.CampaignID, Status: next, At: now, PaidValue: paidValue}
}

func stampOutcome(m *Message, s Status, now time.Time) {
	switch s {
	case StatusError:
		m.ErroredAt = &now
	case StatusSended:
		m.SendedAt = &now
	case StatusDelivered:
		m.DeliveredAt = &now
	case StatusOpened:
		m.OpenedAt = &now
	case StatusClicked:
		m.ClickedAt = &now
	case StatusSubscribed:
		m.SubscribedAt = &now
	case StatusUnsubscribed:
		m.UnsubscribedAt = &now
	case StatusRegistered:
		m.RegisteredAt = &now
	case StatusPaid:
		m.PaidAt = &now
	}
}

// MessageWriter persists the current state of a message row.
type MessageWriter interface {
	UpdateMessage(ctx context.Context, m *Message) error
}

// EventSink accepts forward funnel events; append-only.
type EventSink interface {
	Publish(ctx context.Context, ev FunnelEvent) error
}

// SaveStatus runs the transition rule, persists the result and emits the
// funnel event when the write moved the funnel forward. Sink failures are
// logged and swallowed: the durable row is the source of truth, the sink is
// best-effort.
func SaveStatus(ctx context.Context, w MessageWriter, sink EventSink, m *Message, next Status, now time.Time, paidValue *int64) error {
	ev := Transition(m, next, now, paidValue)
	if err := w.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("save mail %d status %s: %w", m.ID, next, err)
	}
	if ev != nil && sink != nil {
		if err := sink.Publish(ctx, *ev); err != nil {
			logx.L().Warnw("funnel_event_publish_error",
				"mail_id", m.ID, "campaign_id", m.CampaignID, "status", next, "error", err)
		} else {
			metrics.FunnelEventsPublished.Inc()
		}
	}
	return nil
}
