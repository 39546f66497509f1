package mailer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lexxtor/mailer/pkg/logx"
	"github.com/Lexxtor/mailer/pkg/metrics"
)

// ScheduleStore is what the scheduler needs from persistence. All methods run
// inside the caller-supplied transaction so one scheduler pass is atomic.
type ScheduleStore interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	// ActiveCampaignsForUpdate locks the active campaigns in descending
	// priority order, serializing concurrent scheduler passes.
	ActiveCampaignsForUpdate(ctx context.Context, tx *sql.Tx) ([]Campaign, error)

	// MarkCampaignScheduled persists date_last_sendout (and status for a
	// one-off); must commit-order before the bulk insert so a racing pass
	// observes the campaign as already handled.
	MarkCampaignScheduled(ctx context.Context, tx *sql.Tx, c *Campaign) error

	// InsertCampaignMessages bulk-inserts one awaits message per eligible
	// recipient (filter match, not suppressed, confirmed when invites are
	// enabled) with the campaign's priority and hour window.
	InsertCampaignMessages(ctx context.Context, tx *sql.Tx, c *Campaign, now time.Time) (int64, error)

	// InsertInviteMessages bulk-inserts invite messages for unconfirmed,
	// not-yet-invited recipients and marks them invite_sent.
	InsertInviteMessages(ctx context.Context, tx *sql.Tx, c *Campaign, now time.Time) (int64, error)
}

// Scheduler materializes queue entries from campaign definitions.
type Scheduler struct {
	Store    ScheduleStore
	Disabled bool
}

func NewScheduler(store ScheduleStore) *Scheduler {
	return &Scheduler{Store: store}
}

// ScheduleAll runs one scheduler pass: a single transaction over all active
// campaigns by descending priority, under an exclusive lock. Returns the
// number of messages put on the queue, or ErrMailerDisabled.
func (s *Scheduler) ScheduleAll(ctx context.Context) (int64, error) {
	if s.Disabled {
		return 0, ErrMailerDisabled
	}

	var total int64
	err := s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		campaigns, err := s.Store.ActiveCampaignsForUpdate(ctx, tx)
		if err != nil {
			return fmt.Errorf("lock active campaigns: %w", err)
		}
		for i := range campaigns {
			n, err := s.ScheduleMails(ctx, tx, &campaigns[i], time.Now())
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.ScheduleRuns.Inc()
	metrics.MailsScheduled.Add(float64(total))
	logx.L().Infow("schedule_pass_done", "scheduled", total)

	return total, nil
}

// ScheduleMails materializes queue entries for one campaign: invites first
// (whenever the campaign is active with invites on, regardless of
// recurrence), then a regular batch when the recurrence policy says now.
func (s *Scheduler) ScheduleMails(ctx context.Context, tx *sql.Tx, c *Campaign, now time.Time) (int64, error) {
	var scheduled int64

	if c.SendInvite && c.Status == CampaignActive {
		n, err := s.Store.InsertInviteMessages(ctx, tx, c, now)
		if err != nil {
			return scheduled, fmt.Errorf("campaign %d invites: %w", c.ID, err)
		}
		if n > 0 {
			logx.L().Infow("invites_scheduled", "campaign_id", c.ID, "count", n)
		}
		scheduled += n
	}

	if !c.IsTimeToSendout(now) {
		return scheduled, nil
	}

	// Persist the new sendout time (and done for a one-off) before inserting,
	// so a concurrently racing pass skips this campaign.
	c.LastSendoutAt = &now
	if c.Frequency == FrequencyOneOff {
		c.Status = CampaignDone
	}
	if err := s.Store.MarkCampaignScheduled(ctx, tx, c); err != nil {
		return scheduled, fmt.Errorf("campaign %d mark scheduled: %w", c.ID, err)
	}

	n, err := s.Store.InsertCampaignMessages(ctx, tx, c, now)
	if err != nil {
		return scheduled, fmt.Errorf("campaign %d bulk insert: %w", c.ID, err)
	}
	logx.L().Infow("batch_scheduled", "campaign_id", c.ID, "count", n)

	return scheduled + n, nil
}
