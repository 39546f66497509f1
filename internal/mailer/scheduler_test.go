package mailer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

type scheduleOp struct {
	kind       string // mark, batch, invite
	campaignID int64
}

type fakeScheduleStore struct {
	campaigns []Campaign

	ops       []scheduleOp
	marked    []Campaign
	batchN    int64
	inviteN   int64
	batchErr  error
	inviteErr error
	txErr     error
}

func (f *fakeScheduleStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(&sql.Tx{})
}

func (f *fakeScheduleStore) ActiveCampaignsForUpdate(ctx context.Context, tx *sql.Tx) ([]Campaign, error) {
	return f.campaigns, nil
}

func (f *fakeScheduleStore) MarkCampaignScheduled(ctx context.Context, tx *sql.Tx, c *Campaign) error {
	f.ops = append(f.ops, scheduleOp{"mark", c.ID})
	f.marked = append(f.marked, *c)
	return nil
}

func (f *fakeScheduleStore) InsertCampaignMessages(ctx context.Context, tx *sql.Tx, c *Campaign, now time.Time) (int64, error) {
	f.ops = append(f.ops, scheduleOp{"batch", c.ID})
	return f.batchN, f.batchErr
}

func (f *fakeScheduleStore) InsertInviteMessages(ctx context.Context, tx *sql.Tx, c *Campaign, now time.Time) (int64, error) {
	f.ops = append(f.ops, scheduleOp{"invite", c.ID})
	return f.inviteN, f.inviteErr
}

func TestScheduleAll_Disabled(t *testing.T) {
	s := &Scheduler{Store: &fakeScheduleStore{}, Disabled: true}

	if _, err := s.ScheduleAll(context.Background()); !errors.Is(err, ErrMailerDisabled) {
		t.Fatalf("err=%v", err)
	}
}

func TestScheduleAll_OneOff(t *testing.T) {
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOneOff}},
		batchN:    42,
	}
	s := NewScheduler(fs)

	n, err := s.ScheduleAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("scheduled=%d", n)
	}
	if len(fs.marked) != 1 {
		t.Fatalf("marked=%d", len(fs.marked))
	}
	m := fs.marked[0]
	if m.Status != CampaignDone {
		t.Fatalf("one-off stayed %s after scheduling", m.Status)
	}
	if m.LastSendoutAt == nil {
		t.Fatal("date_last_sendout not set")
	}
}

func TestScheduleAll_MarksBeforeInsert(t *testing.T) {
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOneOff}},
		batchN:    1,
	}
	s := NewScheduler(fs)

	if _, err := s.ScheduleAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fs.ops) != 2 || fs.ops[0].kind != "mark" || fs.ops[1].kind != "batch" {
		t.Fatalf("ops=%v", fs.ops)
	}
}

func TestScheduleAll_OnDemandSkipped(t *testing.T) {
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOnDemand}},
	}
	s := NewScheduler(fs)

	n, err := s.ScheduleAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(fs.ops) != 0 {
		t.Fatalf("scheduled=%d ops=%v", n, fs.ops)
	}
}

func TestScheduleAll_InvitesIndependentOfRecurrence(t *testing.T) {
	// On-demand campaign with invites enabled: no regular batch, but invites
	// still go out.
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOnDemand, SendInvite: true}},
		inviteN:   5,
	}
	s := NewScheduler(fs)

	n, err := s.ScheduleAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("scheduled=%d", n)
	}
	if len(fs.ops) != 1 || fs.ops[0].kind != "invite" {
		t.Fatalf("ops=%v", fs.ops)
	}
}

func TestScheduleAll_InvitesThenBatch(t *testing.T) {
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOneOff, SendInvite: true}},
		inviteN:   2,
		batchN:    8,
	}
	s := NewScheduler(fs)

	n, err := s.ScheduleAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("scheduled=%d", n)
	}
	kinds := []string{fs.ops[0].kind, fs.ops[1].kind, fs.ops[2].kind}
	if kinds[0] != "invite" || kinds[1] != "mark" || kinds[2] != "batch" {
		t.Fatalf("ops=%v", fs.ops)
	}
}

func TestScheduleAll_IntervalNotDueYet(t *testing.T) {
	recently := time.Now().Add(-6 * time.Hour)
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: 7, LastSendoutAt: &recently}},
	}
	s := NewScheduler(fs)

	n, err := s.ScheduleAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(fs.ops) != 0 {
		t.Fatalf("scheduled=%d ops=%v", n, fs.ops)
	}
}

func TestScheduleAll_InsertErrorAborts(t *testing.T) {
	fs := &fakeScheduleStore{
		campaigns: []Campaign{{ID: 1, Status: CampaignActive, Frequency: FrequencyOneOff}},
		batchErr:  errTest("insert failed"),
	}
	s := NewScheduler(fs)

	if _, err := s.ScheduleAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
