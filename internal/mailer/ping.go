package mailer

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lexxtor/mailer/pkg/logx"
)

const pingUserAgent = "MailerPing"

// Pinger fires best-effort GET callbacks on campaign ping URLs. Failures are
// logged and never reported to the caller.
type Pinger struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewPinger(timeout time.Duration) *Pinger {
	return &Pinger{
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

// PingSent calls the campaign's ping_url after a successful send.
func (p *Pinger) PingSent(c *Campaign, m *Message) {
	if c.PingURL == "" {
		return
	}
	url := strings.NewReplacer(
		"{mail_id}", strconv.FormatInt(m.ID, 10),
		"{sendout_id}", strconv.FormatInt(c.ID, 10),
		"{subscriber_id}", strconv.FormatInt(m.RecipientID, 10),
	).Replace(c.PingURL)

	go p.get(url)
}

// PingUnsubscribe calls the campaign's unsubscribe_ping_url when a recipient
// unsubscribes.
func (p *Pinger) PingUnsubscribe(c *Campaign, r *Recipient, mailID int64) {
	if c.UnsubscribePingURL == "" {
		return
	}
	url := strings.NewReplacer(
		"{mail_id}", strconv.FormatInt(mailID, 10),
		"{sendout_id}", strconv.FormatInt(c.ID, 10),
		"{subscriber_id}", strconv.FormatInt(r.ID, 10),
		"{email}", r.Email,
	).Replace(c.UnsubscribePingURL)

	go p.get(url)
}

func (p *Pinger) get(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logx.L().Debugw("ping_request_error", "url", url, "error", err)
		return
	}
	req.Header.Set("User-Agent", pingUserAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		logx.L().Debugw("ping_error", "url", url, "error", err)
		return
	}
	resp.Body.Close()
}
