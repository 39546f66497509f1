package mailer

import (
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestIsTimeToSendout(t *testing.T) {
	// 2026-03-10 is a Tuesday (ISO weekday 2).
	now := ts("2026-03-10T10:00:00Z")

	cases := []struct {
		name string
		c    Campaign
		want bool
	}{
		{
			name: "one-off always due",
			c:    Campaign{Status: CampaignActive, Frequency: FrequencyOneOff},
			want: true,
		},
		{
			name: "on-demand never due",
			c:    Campaign{Status: CampaignActive, Frequency: FrequencyOnDemand},
			want: false,
		},
		{
			name: "inactive never due",
			c:    Campaign{Status: CampaignPaused, Frequency: FrequencyOneOff},
			want: false,
		},
		{
			name: "weekday match, never sent",
			c:    Campaign{Status: CampaignActive, Frequency: FrequencyWeekDays, WeekDays: []int{2, 5}},
			want: true,
		},
		{
			name: "weekday mismatch",
			c:    Campaign{Status: CampaignActive, Frequency: FrequencyWeekDays, WeekDays: []int{1, 3}},
			want: false,
		},
		{
			name: "weekday match but already sent today",
			c: Campaign{
				Status: CampaignActive, Frequency: FrequencyWeekDays,
				WeekDays: []int{2}, LastSendoutAt: tsp("2026-03-10T02:00:00Z"),
			},
			want: false,
		},
		{
			name: "weekday match, last batch yesterday",
			c: Campaign{
				Status: CampaignActive, Frequency: FrequencyWeekDays,
				WeekDays: []int{2}, LastSendoutAt: tsp("2026-03-09T10:00:00Z"),
			},
			want: true,
		},
		{
			name: "every 3 days, never sent",
			c:    Campaign{Status: CampaignActive, Frequency: 3},
			want: true,
		},
		{
			name: "every 3 days, 2 days ago",
			c:    Campaign{Status: CampaignActive, Frequency: 3, LastSendoutAt: tsp("2026-03-08T10:00:00Z")},
			want: false,
		},
		{
			name: "every 3 days, 3 days ago",
			c:    Campaign{Status: CampaignActive, Frequency: 3, LastSendoutAt: tsp("2026-03-07T10:00:00Z")},
			want: true,
		},
		{
			name: "interval with future last sendout",
			c:    Campaign{Status: CampaignActive, Frequency: 1, LastSendoutAt: tsp("2026-03-11T10:00:00Z")},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.IsTimeToSendout(now); got != tc.want {
				t.Fatalf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestIsoWeekday(t *testing.T) {
	// Sunday maps to 7, not 0.
	if wd := isoWeekday(ts("2026-03-08T00:00:00Z")); wd != 7 {
		t.Fatalf("sunday=%d", wd)
	}
	if wd := isoWeekday(ts("2026-03-09T00:00:00Z")); wd != 1 {
		t.Fatalf("monday=%d", wd)
	}
}

func TestTemplateFor(t *testing.T) {
	tid := int64(11)
	iid := int64(22)
	c := Campaign{TemplateID: &tid, InviteTemplateID: &iid}

	if id, ok := c.TemplateFor(false); !ok || id != 11 {
		t.Fatalf("regular template: %d %v", id, ok)
	}
	if id, ok := c.TemplateFor(true); !ok || id != 22 {
		t.Fatalf("invite template: %d %v", id, ok)
	}

	c.InviteTemplateID = nil
	if _, ok := c.TemplateFor(true); ok {
		t.Fatal("missing invite template reported as present")
	}
}

func TestSubjectFor(t *testing.T) {
	c := Campaign{Subject: "weekly digest", InviteSubject: "welcome aboard"}
	if got := c.SubjectFor(false); got != "weekly digest" {
		t.Fatalf("subject=%q", got)
	}
	if got := c.SubjectFor(true); got != "welcome aboard" {
		t.Fatalf("invite subject=%q", got)
	}
}
