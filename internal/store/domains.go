package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
)

// VerifiedDomainLoads reads the campaign's verified domains with per-IP send
// counts inside the rolling window. Domains without IPs are included so the
// router can tell "no verified domain" from "every IP over limit".
func (s *Store) VerifiedDomainLoads(ctx context.Context, campaignID int64, since time.Time) ([]mailer.DomainLoad, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.id, d.name, i.id, i.addr, i.send_limit,
		       (SELECT COUNT(*) FROM ip_sends l WHERE l.ip_id = i.id AND l.sent_at >= $2) AS sent
		FROM domains d
		JOIN campaign_domains cd ON cd.domain_id = d.id AND cd.campaign_id = $1
		LEFT JOIN ips i ON i.domain_id = d.id
		WHERE d.verified
		ORDER BY d.id, i.id`, campaignID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mailer.DomainLoad
	byID := make(map[int64]int)
	for rows.Next() {
		var (
			dID       int64
			dName     string
			ipID      sql.NullInt64
			ipAddr    sql.NullString
			sendLimit sql.NullInt64
			sent      sql.NullInt64
		)
		if err := rows.Scan(&dID, &dName, &ipID, &ipAddr, &sendLimit, &sent); err != nil {
			return nil, err
		}

		idx, ok := byID[dID]
		if !ok {
			out = append(out, mailer.DomainLoad{
				Domain: mailer.Domain{ID: dID, Name: dName, Verified: true},
			})
			idx = len(out) - 1
			byID[dID] = idx
		}
		if ipID.Valid {
			out[idx].IPs = append(out[idx].IPs, mailer.IPLoad{
				IP: mailer.IP{
					ID:        ipID.Int64,
					DomainID:  dID,
					Addr:      ipAddr.String,
					SendLimit: int(sendLimit.Int64),
				},
				Sent: int(sent.Int64),
			})
		}
	}
	return out, rows.Err()
}

// RecordIPSend appends to the rolling per-IP send log.
func (s *Store) RecordIPSend(ctx context.Context, ipID int64, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO ip_sends (ip_id, sent_at) VALUES ($1, $2)`, ipID, at)
	return err
}

// DeleteOldIPSends trims send-log rows older than the cutoff; the rate window
// never looks further back.
func (s *Store) DeleteOldIPSends(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM ip_sends WHERE sent_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
