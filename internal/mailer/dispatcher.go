package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lexxtor/mailer/pkg/logx"
	"github.com/Lexxtor/mailer/pkg/metrics"
)

// SendRequest carries everything a Mailer needs to render and transmit one
// message.
type SendRequest struct {
	Domain    Domain
	IP        IP
	Template  Template
	Recipient Recipient
	Campaign  Campaign
	Message   Message
	From      string
	Subject   string
}

// Mailer is the transport collaborator. A false result is a definite delivery
// failure described by reason. Transport problems worth a retry are reported
// as *TransientError; a render-time veto as ErrSendCancelled.
type Mailer interface {
	Send(ctx context.Context, req SendRequest) (ok bool, reason string, err error)
}

// DispatchStore is what the dispatcher needs from persistence.
type DispatchStore interface {
	MessageWriter
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]Message, error)
	GetCampaign(ctx context.Context, id int64) (*Campaign, error)
	GetRecipient(ctx context.Context, id int64) (*Recipient, error)
	GetTemplate(ctx context.Context, id int64) (*Template, error)
	IsSuppressed(ctx context.Context, recipientID, campaignID int64) (bool, error)
	PauseCampaign(ctx context.Context, id int64, reason string) error
	RecordIPSend(ctx context.Context, ipID int64, at time.Time) error
}

// Dispatcher claims batches of eligible messages and drives each through the
// outcome table. Any number of dispatchers may run concurrently; the claim
// transaction is the only coordination point.
type Dispatcher struct {
	Store  DispatchStore
	Mailer Mailer
	Router *Router
	Sink   EventSink
	Pinger *Pinger

	// PortionSize is used when a caller passes limit <= 0.
	PortionSize int
	// Disabled is the global administrative switch.
	Disabled bool
}

func (d *Dispatcher) portionSize(limit int) int {
	if limit > 0 {
		return limit
	}
	if d.PortionSize > 0 {
		return d.PortionSize
	}
	return 10
}

// dispatchCache memoizes campaign and template lookups for one portion. It is
// created per SendPortion call and passed down explicitly, so two runs never
// share state.
type dispatchCache struct {
	campaigns map[int64]*Campaign
	templates map[int64]*Template
}

func newDispatchCache() *dispatchCache {
	return &dispatchCache{
		campaigns: make(map[int64]*Campaign),
		templates: make(map[int64]*Template),
	}
}

func (c *dispatchCache) campaign(ctx context.Context, s DispatchStore, id int64) (*Campaign, error) {
	if cached, ok := c.campaigns[id]; ok {
		if cached == nil {
			return nil, ErrCampaignNotFound
		}
		return cached, nil
	}
	cp, err := s.GetCampaign(ctx, id)
	if errors.Is(err, ErrCampaignNotFound) {
		c.campaigns[id] = nil
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.campaigns[id] = cp
	return cp, nil
}

func (c *dispatchCache) template(ctx context.Context, s DispatchStore, id int64) (*Template, error) {
	if cached, ok := c.templates[id]; ok {
		if cached == nil {
			return nil, ErrTemplateNotFound
		}
		return cached, nil
	}
	t, err := s.GetTemplate(ctx, id)
	if errors.Is(err, ErrTemplateNotFound) {
		c.templates[id] = nil
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.templates[id] = t
	return t, nil
}

// sendFailure wraps an internal Mailer error whose outcome is already
// persisted on the message; the portion continues past it and the error is
// re-raised once the loop finishes.
type sendFailure struct{ err error }

func (e *sendFailure) Error() string { return e.err.Error() }
func (e *sendFailure) Unwrap() error { return e.err }

// SendPortion claims up to limit eligible messages and processes them,
// returning the count of definite sends. ErrMailerDisabled when the global
// switch is off. Internal send failures with a decided outcome are collected
// and surfaced after the whole portion ran; only a structural or persistence
// failure aborts the remainder, leaving untouched claims in sending, same
// exposure as a worker crash mid-portion.
func (d *Dispatcher) SendPortion(ctx context.Context, limit int) (int, error) {
	if d.Disabled {
		return 0, ErrMailerDisabled
	}

	start := time.Now()
	msgs, err := d.Store.ClaimBatch(ctx, d.portionSize(limit), time.Now())
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	metrics.MailsClaimed.Add(float64(len(msgs)))

	cache := newDispatchCache()
	sent := 0
	var failures []error
	for i := range msgs {
		ok, err := d.processClaimed(ctx, cache, &msgs[i])
		var sf *sendFailure
		switch {
		case errors.As(err, &sf):
			logx.L().Errorw("mail_send_internal_error", "mail_id", msgs[i].ID, "error", err)
			failures = append(failures, err)
		case err != nil:
			logx.L().Errorw("process_claimed_error", "mail_id", msgs[i].ID, "error", err)
			metrics.PortionDuration.Observe(time.Since(start).Seconds())
			return sent, err
		case ok:
			sent++
		}
	}

	if sent != len(msgs) {
		// Remainder is retrying, delayed or failed; routine, but worth a trace.
		logx.L().Warnw("portion_not_fully_sent", "claimed", len(msgs), "sent", sent)
	}
	metrics.PortionDuration.Observe(time.Since(start).Seconds())

	return sent, errors.Join(failures...)
}

// processClaimed resolves campaign, recipient, template and outbound identity
// in that order, short-circuiting per the outcome table, then hands off to the
// Mailer and finalizes the result. The returned error is a *sendFailure for
// a recorded internal send error, otherwise a structural or persistence
// failure.
func (d *Dispatcher) processClaimed(ctx context.Context, cache *dispatchCache, m *Message) (bool, error) {
	c, err := cache.campaign(ctx, d.Store, m.CampaignID)
	if errors.Is(err, ErrCampaignNotFound) {
		logx.L().Infow("mail_cancelled", "mail_id", m.ID, "reason", "campaign not found")
		metrics.MailsCancelled.Inc()
		return false, d.saveStatus(ctx, m, StatusCancelled)
	}
	if err != nil {
		return false, err
	}

	rcpt, err := d.Store.GetRecipient(ctx, m.RecipientID)
	if errors.Is(err, ErrRecipientNotFound) {
		logx.L().Infow("mail_cancelled", "mail_id", m.ID, "reason", "recipient not found")
		metrics.MailsCancelled.Inc()
		return false, d.saveStatus(ctx, m, StatusCancelled)
	}
	if err != nil {
		return false, err
	}

	// Suppression may have arrived after scheduling; honor it up to the last
	// moment before transmission.
	suppressed, err := d.Store.IsSuppressed(ctx, m.RecipientID, m.CampaignID)
	if err != nil {
		return false, err
	}
	if suppressed {
		logx.L().Infow("mail_cancelled", "mail_id", m.ID, "reason", "recipient suppressed")
		metrics.MailsCancelled.Inc()
		return false, d.saveStatus(ctx, m, StatusCancelled)
	}

	var tpl *Template
	if tid, ok := c.TemplateFor(m.IsInvite); ok {
		tpl, err = cache.template(ctx, d.Store, tid)
	} else {
		err = ErrTemplateNotFound
	}
	if errors.Is(err, ErrTemplateNotFound) {
		return false, d.delayAndPause(ctx, m, c, "template not found")
	}
	if err != nil {
		return false, err
	}

	dom, ip, err := d.Router.ProperDomain(ctx, c.ID)
	switch {
	case errors.Is(err, ErrNoVerifiedDomain):
		return false, d.delayAndPause(ctx, m, c, "no verified domain")
	case errors.Is(err, ErrAllIPsRateLimited):
		// Soft back-off: keep the message queued, just behind fresher ones.
		logx.L().Infow("mail_requeued_rate_limited", "mail_id", m.ID, "campaign_id", c.ID)
		m.Priority--
		metrics.MailsRequeued.Inc()
		return false, d.saveStatus(ctx, m, StatusAwaits)
	case err != nil:
		return false, err
	}

	ok, reason, err := d.Mailer.Send(ctx, SendRequest{
		Domain:    dom,
		IP:        ip,
		Template:  *tpl,
		Recipient: *rcpt,
		Campaign:  *c,
		Message:   *m,
		From:      c.FromIdentity + "@" + dom.Name,
		Subject:   c.SubjectFor(m.IsInvite),
	})

	var transient *TransientError
	switch {
	case errors.Is(err, ErrSendCancelled):
		logx.L().Infow("mail_cancelled", "mail_id", m.ID, "reason", "cancelled before transmission")
		metrics.MailsCancelled.Inc()
		return false, d.saveStatus(ctx, m, StatusCancelled)

	case errors.As(err, &transient):
		// Unbounded retries, no priority penalty: distinct from rate-limit
		// back-off.
		logx.L().Infow("mail_requeued_transient", "mail_id", m.ID, "error", err)
		metrics.MailsRequeued.Inc()
		return false, d.saveStatus(ctx, m, StatusAwaits)

	case err != nil:
		// Internal failure with the outcome already decided: record it as
		// error and re-raise, never let memory and storage diverge silently.
		// Only a failed persist aborts the portion.
		m.Error = err.Error()
		metrics.MailsErrored.Inc()
		if saveErr := d.saveStatus(ctx, m, StatusError); saveErr != nil {
			return false, fmt.Errorf("finalize failed send: %w (send error: %s)", saveErr, err)
		}
		return false, &sendFailure{err: err}

	case ok:
		if saveErr := d.saveStatus(ctx, m, StatusSended); saveErr != nil {
			m.Error = saveErr.Error()
			_ = d.saveStatus(ctx, m, StatusError) // best effort
			return false, saveErr
		}
		if err := d.Store.RecordIPSend(ctx, ip.ID, time.Now()); err != nil {
			logx.L().Warnw("ip_send_log_error", "ip_id", ip.ID, "error", err)
		}
		metrics.MailsSent.Inc()
		if d.Pinger != nil {
			d.Pinger.PingSent(c, m)
		}
		logx.L().Infow("mail_sended", "mail_id", m.ID, "campaign_id", c.ID, "domain", dom.Name)
		return true, nil

	default:
		m.Error = reason
		metrics.MailsErrored.Inc()
		logx.L().Infow("mail_send_failed", "mail_id", m.ID, "campaign_id", c.ID, "reason", reason)
		return false, d.saveStatus(ctx, m, StatusError)
	}
}

// delayAndPause parks the message and pauses the campaign: an operator must
// fix the configuration; reactivating the campaign resumes delayed messages.
func (d *Dispatcher) delayAndPause(ctx context.Context, m *Message, c *Campaign, reason string) error {
	logx.L().Errorw("mail_delayed_campaign_paused",
		"mail_id", m.ID, "campaign_id", c.ID, "reason", reason)
	metrics.MailsDelayed.Inc()
	if err := d.saveStatus(ctx, m, StatusDelayed); err != nil {
		return err
	}
	if err := d.Store.PauseCampaign(ctx, c.ID, reason); err != nil {
		return fmt.Errorf("pause campaign %d: %w", c.ID, err)
	}
	c.Status = CampaignPaused
	c.PauseReason = reason
	return nil
}

func (d *Dispatcher) saveStatus(ctx context.Context, m *Message, next Status) error {
	return SaveStatus(ctx, d.Store, d.Sink, m, next, time.Now(), nil)
}
