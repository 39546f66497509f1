package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
)

type fakeStore struct {
	campaigns map[int64]*mailer.Campaign
	messages  map[int64]*mailer.Message
	counts    map[mailer.Status]int

	statusSet   map[int64]mailer.CampaignStatus
	paused      map[int64]string
	resumedN    int64
	cancelledN  int64
	updated     []mailer.Message
	suppressed  [][2]int64
	recipientID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		campaigns: map[int64]*mailer.Campaign{},
		messages:  map[int64]*mailer.Message{},
		counts:    map[mailer.Status]int{},
		statusSet: map[int64]mailer.CampaignStatus{},
		paused:    map[int64]string{},
	}
}

func (f *fakeStore) GetCampaign(ctx context.Context, id int64) (*mailer.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, mailer.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListCampaigns(ctx context.Context, limit, offset int) ([]mailer.Campaign, error) {
	var out []mailer.Campaign
	for _, c := range f.campaigns {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) CountMessagesByStatus(ctx context.Context, campaignID int64) (map[mailer.Status]int, error) {
	return f.counts, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id int64) (*mailer.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, mailer.ErrMessageNotFound
	}
	return m, nil
}

func (f *fakeStore) GetRecipient(ctx context.Context, id int64) (*mailer.Recipient, error) {
	f.recipientID = id
	return &mailer.Recipient{ID: id, Email: "u@example.com"}, nil
}

func (f *fakeStore) UpdateMessage(ctx context.Context, m *mailer.Message) error {
	f.updated = append(f.updated, *m)
	return nil
}

func (f *fakeStore) PauseCampaign(ctx context.Context, id int64, reason string) error {
	f.paused[id] = reason
	return nil
}

func (f *fakeStore) SetCampaignStatus(ctx context.Context, id int64, status mailer.CampaignStatus) error {
	if _, ok := f.campaigns[id]; !ok {
		return mailer.ErrCampaignNotFound
	}
	f.statusSet[id] = status
	return nil
}

func (f *fakeStore) ResumeDelayedMessages(ctx context.Context, campaignID int64) (int64, error) {
	return f.resumedN, nil
}

func (f *fakeStore) CancelDelayedMessages(ctx context.Context, campaignID int64) (int64, error) {
	return f.cancelledN, nil
}

func (f *fakeStore) InsertSuppression(ctx context.Context, recipientID, campaignID int64, at time.Time) error {
	f.suppressed = append(f.suppressed, [2]int64{recipientID, campaignID})
	return nil
}

type fakeScheduler struct {
	n   int64
	err error
}

func (s *fakeScheduler) ScheduleAll(ctx context.Context) (int64, error) { return s.n, s.err }

type fakeSink struct{ events []mailer.FunnelEvent }

func (s *fakeSink) Publish(ctx context.Context, ev mailer.FunnelEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func do(t *testing.T, h *Handlers, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewHTTPServer(":0", h)
	rr := httptest.NewRecorder()

	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestGetCampaign_OK(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Name: "digest", Status: mailer.CampaignActive, Priority: 2}
	fs.counts = map[mailer.Status]int{mailer.StatusAwaits: 5, mailer.StatusSended: 10}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodGet, "/campaigns/3", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		ID       int64          `json:"id"`
		Status   string         `json:"status"`
		Messages map[string]int `json:"messages"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 3 || resp.Status != "active" {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Messages["awaits"] != 5 || resp.Messages["sended"] != 10 {
		t.Fatalf("messages=%v", resp.Messages)
	}
}

func TestGetCampaign_NotFound(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodGet, "/campaigns/404", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestGetCampaign_BadID(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodGet, "/campaigns/zero", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestQueueStats(t *testing.T) {
	fs := newFakeStore()
	fs.counts = map[mailer.Status]int{mailer.StatusAwaits: 100}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodGet, "/queue", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["awaits"] != 100 {
		t.Fatalf("resp=%v", resp)
	}
}

func TestPauseCampaign(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Status: mailer.CampaignActive}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/campaigns/3/pause", `{"reason":"content review"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if fs.paused[3] != "content review" {
		t.Fatalf("paused=%v", fs.paused)
	}
}

func TestPauseCampaign_ReasonRequired(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/campaigns/3/pause", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestResumeCampaign(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Status: mailer.CampaignPaused, Tested: true}
	fs.resumedN = 6
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/campaigns/3/resume", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if fs.statusSet[3] != mailer.CampaignActive {
		t.Fatalf("statusSet=%v", fs.statusSet)
	}
	var resp struct {
		Resumed int64 `json:"resumed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Resumed != 6 {
		t.Fatalf("resumed=%d", resp.Resumed)
	}
}

func TestResumeCampaign_NotPaused(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Status: mailer.CampaignActive, Tested: true}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/campaigns/3/resume", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestResumeCampaign_TestGate(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Status: mailer.CampaignPaused, Tested: false}
	fs.campaigns[4] = &mailer.Campaign{
		ID: 4, Status: mailer.CampaignPaused,
		Tested: true, SendInvite: true, TestedInvite: false,
	}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	if rr := do(t, h, http.MethodPost, "/campaigns/3/resume", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("untested: status=%d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/campaigns/4/resume", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("untested invite: status=%d", rr.Code)
	}
	if len(fs.statusSet) != 0 {
		t.Fatalf("statusSet=%v", fs.statusSet)
	}
}

func TestWithdrawCampaign(t *testing.T) {
	fs := newFakeStore()
	fs.campaigns[3] = &mailer.Campaign{ID: 3, Status: mailer.CampaignPaused}
	fs.cancelledN = 9
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/campaigns/3/withdraw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if fs.statusSet[3] != mailer.CampaignDraft {
		t.Fatalf("statusSet=%v", fs.statusSet)
	}
	var resp struct {
		Cancelled int64 `json:"cancelled"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Cancelled != 9 {
		t.Fatalf("cancelled=%d", resp.Cancelled)
	}
}

func TestRecordEvent_Delivered(t *testing.T) {
	fs := newFakeStore()
	fs.messages[77] = &mailer.Message{ID: 77, CampaignID: 3, RecipientID: 10, Status: mailer.StatusSended}
	sink := &fakeSink{}
	h := NewHandlers(fs, &fakeScheduler{}, sink, nil)

	rr := do(t, h, http.MethodPost, "/messages/77/events", `{"status":"delivered"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(fs.updated) != 1 || fs.updated[0].Status != mailer.StatusDelivered {
		t.Fatalf("updated=%+v", fs.updated)
	}
	if len(sink.events) != 1 || sink.events[0].Status != mailer.StatusDelivered {
		t.Fatalf("events=%+v", sink.events)
	}
}

func TestRecordEvent_Unsubscribe(t *testing.T) {
	fs := newFakeStore()
	fs.messages[77] = &mailer.Message{ID: 77, CampaignID: 3, RecipientID: 10, Status: mailer.StatusOpened}
	fs.campaigns[3] = &mailer.Campaign{ID: 3}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/messages/77/events", `{"status":"unsubscribed"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(fs.suppressed) != 1 || fs.suppressed[0] != [2]int64{10, 3} {
		t.Fatalf("suppressed=%v", fs.suppressed)
	}
}

func TestRecordEvent_Paid(t *testing.T) {
	fs := newFakeStore()
	fs.messages[77] = &mailer.Message{ID: 77, CampaignID: 3, RecipientID: 10, Status: mailer.StatusPaid}
	sink := &fakeSink{}
	h := NewHandlers(fs, &fakeScheduler{}, sink, nil)

	rr := do(t, h, http.MethodPost, "/messages/77/events", `{"status":"paid","paid_value":2500}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(sink.events) != 1 || sink.events[0].PaidValue == nil || *sink.events[0].PaidValue != 2500 {
		t.Fatalf("events=%+v", sink.events)
	}
}

func TestRecordEvent_NotAnOutcome(t *testing.T) {
	fs := newFakeStore()
	fs.messages[77] = &mailer.Message{ID: 77, Status: mailer.StatusSended}
	h := NewHandlers(fs, &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/messages/77/events", `{"status":"sending"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRecordEvent_MessageNotFound(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/messages/404/events", `{"status":"delivered"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestRunSchedule(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{n: 120}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/schedule", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Scheduled int64 `json:"scheduled"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Scheduled != 120 {
		t.Fatalf("scheduled=%d", resp.Scheduled)
	}
}

func TestRunSchedule_Disabled(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{err: mailer.ErrMailerDisabled}, &fakeSink{}, nil)

	rr := do(t, h, http.MethodPost, "/schedule", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestDocsEndpoints(t *testing.T) {
	h := NewHandlers(newFakeStore(), &fakeScheduler{}, &fakeSink{}, nil)
	srv := NewHTTPServer(":0", h)

	t.Run("html", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/docs", nil)

		srv.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
			t.Fatalf("swagger bundle not rendered: %s", rr.Body.String())
		}
	})

	t.Run("openapi", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil)

		srv.Handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "openapi: 3.0.3") {
			t.Fatalf("unexpected body: %s", rr.Body.String())
		}
	})
}
