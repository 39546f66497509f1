package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
)

const campaignColumns = `id, name, status, priority, frequency, week_days,
	hours_from, hours_to, from_identity, subject, send_invite, invite_subject,
	invite_delay_hours, template_id, invite_template_id, filter,
	ping_url, unsubscribe_ping_url, date_last_sendout, pause_reason,
	tested, tested_invite`

func scanCampaign(row interface{ Scan(...any) error }) (mailer.Campaign, error) {
	var (
		c                mailer.Campaign
		status, weekDays string
		hoursFrom        sql.NullInt64
		hoursTo          sql.NullInt64
		templateID       sql.NullInt64
		inviteTemplateID sql.NullInt64
		filterJSON       []byte
		pingURL          sql.NullString
		unsubPingURL     sql.NullString
		lastSendout      sql.NullTime
		pauseReason      sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.Name, &status, &c.Priority, &c.Frequency, &weekDays,
		&hoursFrom, &hoursTo, &c.FromIdentity, &c.Subject, &c.SendInvite, &c.InviteSubject,
		&c.InviteDelayHours, &templateID, &inviteTemplateID, &filterJSON,
		&pingURL, &unsubPingURL, &lastSendout, &pauseReason,
		&c.Tested, &c.TestedInvite,
	)
	if err != nil {
		return mailer.Campaign{}, err
	}

	c.Status = mailer.CampaignStatus(status)
	c.WeekDays = parseWeekDays(weekDays)
	c.HoursFrom = nullableInt(hoursFrom)
	c.HoursTo = nullableInt(hoursTo)
	if templateID.Valid {
		c.TemplateID = &templateID.Int64
	}
	if inviteTemplateID.Valid {
		c.InviteTemplateID = &inviteTemplateID.Int64
	}
	if len(filterJSON) > 0 {
		if err := json.Unmarshal(filterJSON, &c.Filter); err != nil {
			return mailer.Campaign{}, fmt.Errorf("campaign %d filter: %w", c.ID, err)
		}
	}
	c.PingURL = pingURL.String
	c.UnsubscribePingURL = unsubPingURL.String
	c.LastSendoutAt = nullableTime(lastSendout)
	c.PauseReason = pauseReason.String

	return c, nil
}

// week_days is stored as a CSV of ISO weekdays, e.g. "1,3,5".
func parseWeekDays(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if d, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (*mailer.Campaign, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, mailer.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]mailer.Campaign, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mailer.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ActiveCampaignsForUpdate locks all active campaigns in priority order for
// the duration of a scheduler pass.
func (s *Store) ActiveCampaignsForUpdate(ctx context.Context, tx *sql.Tx) ([]mailer.Campaign, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = 'active'
		ORDER BY priority DESC
		FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mailer.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkCampaignScheduled persists date_last_sendout and status ahead of the
// bulk insert.
func (s *Store) MarkCampaignScheduled(ctx context.Context, tx *sql.Tx, c *mailer.Campaign) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns SET date_last_sendout = $2, status = $3, date_altered = NOW()
		WHERE id = $1`, c.ID, c.LastSendoutAt, string(c.Status))
	return err
}

// PauseCampaign stops a campaign with an operator-visible reason.
func (s *Store) PauseCampaign(ctx context.Context, id int64, reason string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = 'paused', pause_reason = $2, date_altered = NOW()
		WHERE id = $1`, id, reason)
	return err
}

// SetCampaignStatus writes a new lifecycle status and clears the pause
// reason.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status mailer.CampaignStatus) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE campaigns SET status = $2, pause_reason = '', date_altered = NOW()
		WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mailer.ErrCampaignNotFound
	}
	return err
}

func (s *Store) GetRecipient(ctx context.Context, id int64) (*mailer.Recipient, error) {
	var r mailer.Recipient
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, confirmed, invite_sent, is_stopped, signup_at
		FROM recipients WHERE id = $1`, id).
		Scan(&r.ID, &r.Email, &r.Confirmed, &r.InviteSent, &r.Stopped, &r.SignupAt)
	if err == sql.ErrNoRows {
		return nil, mailer.ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (*mailer.Template, error) {
	var t mailer.Template
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, body FROM templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Body)
	if err == sql.ErrNoRows {
		return nil, mailer.ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IsSuppressed reports whether the recipient opted out of this campaign.
func (s *Store) IsSuppressed(ctx context.Context, recipientID, campaignID int64) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM suppressions WHERE recipient_id = $1 AND campaign_id = $2
		LIMIT 1`, recipientID, campaignID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertSuppression excludes a recipient from a campaign; idempotent.
func (s *Store) InsertSuppression(ctx context.Context, recipientID, campaignID int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO suppressions (recipient_id, campaign_id, date_created)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient_id, campaign_id) DO NOTHING`, recipientID, campaignID, at)
	return err
}
