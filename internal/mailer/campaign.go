package mailer

import "time"

type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
	CampaignDone   CampaignStatus = "done"
	CampaignDraft  CampaignStatus = "draft"
)

// Frequency policy values below zero are special; a positive N means every
// N days.
const (
	FrequencyOneOff   = 0  // single shot, campaign becomes done on schedule
	FrequencyOnDemand = -1 // never auto-scheduled
	FrequencyWeekDays = -2 // send on the campaign's weekday set
)

// Campaign is a recurring or one-off bulk-mail definition.
type Campaign struct {
	ID       int64
	Name     string
	Status   CampaignStatus
	Priority int

	Frequency int
	WeekDays  []int // ISO weekdays, 1 = Monday .. 7 = Sunday

	HoursFrom *int
	HoursTo   *int

	FromIdentity  string
	Subject       string
	SendInvite    bool
	InviteSubject string

	InviteDelayHours int
	TemplateID       *int64
	InviteTemplateID *int64

	Filter RecipientFilter

	PingURL            string
	UnsubscribePingURL string

	LastSendoutAt *time.Time
	PauseReason   string

	Tested       bool
	TestedInvite bool
}

// SubjectFor picks the regular or invite subject line.
func (c *Campaign) SubjectFor(isInvite bool) string {
	if isInvite {
		return c.InviteSubject
	}
	return c.Subject
}

// TemplateFor picks the regular or invite template.
func (c *Campaign) TemplateFor(isInvite bool) (int64, bool) {
	id := c.TemplateID
	if isInvite {
		id = c.InviteTemplateID
	}
	if id == nil {
		return 0, false
	}
	return *id, true
}

// IsTimeToSendout decides whether the recurrence policy calls for a regular
// batch now. Invites are materialized independently of this.
func (c *Campaign) IsTimeToSendout(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}

	switch c.Frequency {
	case FrequencyOneOff:
		return true
	case FrequencyOnDemand:
		return false
	case FrequencyWeekDays:
		if !containsInt(c.WeekDays, isoWeekday(now)) {
			return false
		}
		// At most one regular batch per listed day.
		return c.LastSendoutAt == nil || !sameDate(*c.LastSendoutAt, now)
	}

	if c.LastSendoutAt == nil {
		return true
	}
	return daysBetween(*c.LastSendoutAt, now) >= c.Frequency
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return wd
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Recipient is the mail queue's read view of a subscriber.
type Recipient struct {
	ID         int64
	Email      string
	Confirmed  bool
	InviteSent bool
	Stopped    bool
	SignupAt   time.Time
}

// Template is resolved by ID only; rendering belongs to the Mailer
// collaborator.
type Template struct {
	ID   int64
	Name string
	Body string
}

// Domain is an outbound identity; lifecycle managed elsewhere, read-only here.
type Domain struct {
	ID       int64
	Name     string
	Verified bool
}

// IP belongs to a domain and carries a rolling send limit per rate window.
type IP struct {
	ID        int64
	DomainID  int64
	Addr      string
	SendLimit int
}
