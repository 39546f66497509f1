package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
)

// InsertCampaignMessages bulk-inserts one awaits message per recipient that
// matches the campaign filter, is not stopped and not on the suppression list
// (confirmed only when the campaign gates on invites). Runs inside the
// scheduler's transaction.
func (s *Store) InsertCampaignMessages(ctx context.Context, tx *sql.Tx, c *mailer.Campaign, now time.Time) (int64, error) {
	args := []any{c.ID, c.Priority, c.HoursFrom, c.HoursTo, now}
	cond, filterArgs, err := c.Filter.WhereClause(len(args) + 1)
	if err != nil {
		return 0, err
	}
	args = append(args, filterArgs...)

	q := `
		INSERT INTO messages (campaign_id, recipient_id, is_invite, priority, status, hour_from, hour_to, date_created)
		SELECT $1, r.id, FALSE, $2, 'awaits', $3, $4, $5
		FROM recipients r
		LEFT JOIN suppressions sup ON sup.recipient_id = r.id AND sup.campaign_id = $1
		WHERE sup.campaign_id IS NULL AND NOT r.is_stopped`
	if c.SendInvite {
		q += ` AND r.confirmed`
	}
	if cond != "" {
		q += ` AND ` + cond
	}

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertInviteMessages bulk-inserts invite messages for unconfirmed
// recipients who have not been invited to this campaign yet, scheduling them
// invite_delay_hours after signup, then marks those recipients invite_sent so
// the next tick skips them.
func (s *Store) InsertInviteMessages(ctx context.Context, tx *sql.Tx, c *mailer.Campaign, now time.Time) (int64, error) {
	const inviteEligible = `
		FROM recipients r
		LEFT JOIN suppressions sup ON sup.recipient_id = r.id AND sup.campaign_id = $1
		WHERE sup.campaign_id IS NULL AND NOT r.is_stopped
		  AND NOT r.confirmed AND NOT r.invite_sent`

	insertArgs := []any{c.ID, c.Priority, now, c.InviteDelayHours}
	cond, filterArgs, err := c.Filter.WhereClause(len(insertArgs) + 1)
	if err != nil {
		return 0, err
	}
	insertArgs = append(insertArgs, filterArgs...)

	insertQ := `
		INSERT INTO messages (campaign_id, recipient_id, is_invite, priority, status, date_created, date_scheduled)
		SELECT $1, r.id, TRUE, $2, 'awaits', $3,
		       CASE WHEN $4::int <= 0 THEN NULL ELSE r.signup_at + make_interval(hours => $4::int) END
		` + inviteEligible
	if cond != "" {
		insertQ += ` AND ` + cond
	}

	res, err := tx.ExecContext(ctx, insertQ, insertArgs...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, nil
	}

	markArgs := []any{c.ID}
	cond, filterArgs, err = c.Filter.WhereClause(len(markArgs) + 1)
	if err != nil {
		return 0, err
	}
	markArgs = append(markArgs, filterArgs...)

	markQ := `
		UPDATE recipients SET invite_sent = TRUE
		WHERE id IN (
			SELECT r.id ` + inviteEligible
	if cond != "" {
		markQ += ` AND ` + cond
	}
	markQ += `
		)`

	if _, err := tx.ExecContext(ctx, markQ, markArgs...); err != nil {
		return 0, err
	}
	return affected, nil
}
