package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
)

const messageColumns = `id, campaign_id, recipient_id, is_invite, priority, status,
	hour_from, hour_to, date_scheduled, date_created, date_altered,
	date_error, date_sended, date_delivered, date_opened, date_clicked,
	date_subscribed, date_unsubscribed, date_registered, date_paid, error`

func scanMessage(row interface{ Scan(...any) error }) (mailer.Message, error) {
	var (
		m                  mailer.Message
		status             string
		hourFrom, hourTo   sql.NullInt64
		scheduled, altered sql.NullTime
		errored, sended    sql.NullTime
		delivered, opened  sql.NullTime
		clicked, subbed    sql.NullTime
		unsubbed, regd     sql.NullTime
		paid               sql.NullTime
		errText            sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.RecipientID, &m.IsInvite, &m.Priority, &status,
		&hourFrom, &hourTo, &scheduled, &m.CreatedAt, &altered,
		&errored, &sended, &delivered, &opened, &clicked,
		&subbed, &unsubbed, &regd, &paid, &errText,
	)
	if err != nil {
		return mailer.Message{}, err
	}

	m.Status = mailer.Status(status)
	m.HourFrom = nullableInt(hourFrom)
	m.HourTo = nullableInt(hourTo)
	m.ScheduledAt = nullableTime(scheduled)
	m.AlteredAt = nullableTime(altered)
	m.ErroredAt = nullableTime(errored)
	m.SendedAt = nullableTime(sended)
	m.DeliveredAt = nullableTime(delivered)
	m.OpenedAt = nullableTime(opened)
	m.ClickedAt = nullableTime(clicked)
	m.SubscribedAt = nullableTime(subbed)
	m.UnsubscribedAt = nullableTime(unsubbed)
	m.RegisteredAt = nullableTime(regd)
	m.PaidAt = nullableTime(paid)
	m.Error = errText.String

	return m, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullableInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// ClaimBatch selects up to limit eligible awaits messages ordered by
// descending priority under an exclusive row lock, flips them to sending and
// commits. SKIP LOCKED keeps concurrent claimers from blocking on each
// other's rows; a message is observed in awaits by at most one worker. No
// network I/O happens inside the transaction.
func (s *Store) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]mailer.Message, error) {
	var claimed []mailer.Message

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'awaits'
		  AND (date_scheduled IS NULL OR date_scheduled <= $1)
		  AND (hour_from IS NULL OR hour_from <= $2)
		  AND (hour_to IS NULL OR hour_to >= $2)
		ORDER BY priority DESC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, now, now.Hour(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			claimed = append(claimed, m)
			ids = append(ids, m.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET status = 'sending', date_altered = $1
		WHERE id = ANY($2)`, now, int64Slice(ids)); err != nil {
			return err
		}

		for i := range claimed {
			claimed[i].Status = mailer.StatusSending
			at := now
			claimed[i].AlteredAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateMessage writes the whole mutable state of a message row.
func (s *Store) UpdateMessage(ctx context.Context, m *mailer.Message) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		   SET status = $1, priority = $2, error = $3, date_altered = $4,
		       date_error = $5, date_sended = $6, date_delivered = $7,
		       date_opened = $8, date_clicked = $9, date_subscribed = $10,
		       date_unsubscribed = $11, date_registered = $12, date_paid = $13
		 WHERE id = $14`,
		string(m.Status), m.Priority, m.Error, m.AlteredAt,
		m.ErroredAt, m.SendedAt, m.DeliveredAt,
		m.OpenedAt, m.ClickedAt, m.SubscribedAt,
		m.UnsubscribedAt, m.RegisteredAt, m.PaidAt,
		m.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update message %d: %w", m.ID, mailer.ErrMessageNotFound)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*mailer.Message, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, mailer.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessagesByStatus returns the queue breakdown, optionally scoped to one
// campaign (campaignID = 0 means all).
func (s *Store) CountMessagesByStatus(ctx context.Context, campaignID int64) (map[mailer.Status]int, error) {
	q := `SELECT status, COUNT(*) FROM messages`
	args := []any{}
	if campaignID != 0 {
		q += ` WHERE campaign_id = $1`
		args = append(args, campaignID)
	}
	q += ` GROUP BY status`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[mailer.Status]int)
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[mailer.Status(st)] = n
	}
	return out, rows.Err()
}

// ResumeDelayedMessages returns a reactivated campaign's delayed messages to
// the queue.
func (s *Store) ResumeDelayedMessages(ctx context.Context, campaignID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET status = 'awaits', date_altered = NOW()
		WHERE campaign_id = $1 AND status = 'delayed'`, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CancelDelayedMessages finalizes a withdrawn campaign's delayed messages.
func (s *Store) CancelDelayedMessages(ctx context.Context, campaignID int64) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE messages SET status = 'cancelled', date_altered = NOW()
		WHERE campaign_id = $1 AND status = 'delayed'`, campaignID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
