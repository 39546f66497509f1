package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Lexxtor/mailer/internal/mailer"
	"github.com/Lexxtor/mailer/pkg/logx"
)

type storeAPI interface {
	GetCampaign(ctx context.Context, id int64) (*mailer.Campaign, error)
	ListCampaigns(ctx context.Context, limit, offset int) ([]mailer.Campaign, error)
	CountMessagesByStatus(ctx context.Context, campaignID int64) (map[mailer.Status]int, error)
	GetMessage(ctx context.Context, id int64) (*mailer.Message, error)
	GetRecipient(ctx context.Context, id int64) (*mailer.Recipient, error)
	UpdateMessage(ctx context.Context, m *mailer.Message) error
	PauseCampaign(ctx context.Context, id int64, reason string) error
	SetCampaignStatus(ctx context.Context, id int64, status mailer.CampaignStatus) error
	ResumeDelayedMessages(ctx context.Context, campaignID int64) (int64, error)
	CancelDelayedMessages(ctx context.Context, campaignID int64) (int64, error)
	InsertSuppression(ctx context.Context, recipientID, campaignID int64, at time.Time) error
}

type schedulerAPI interface {
	ScheduleAll(ctx context.Context) (int64, error)
}

type Handlers struct {
	Store  storeAPI
	Sched  schedulerAPI
	Sink   mailer.EventSink
	Pinger *mailer.Pinger
}

func NewHandlers(st storeAPI, sched schedulerAPI, sink mailer.EventSink, pinger *mailer.Pinger) *Handlers {
	return &Handlers{Store: st, Sched: sched, Sink: sink, Pinger: pinger}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type campaignItem struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	Frequency     int        `json:"frequency"`
	LastSendoutAt *time.Time `json:"last_sendout_at,omitempty"`
	PauseReason   string     `json:"pause_reason,omitempty"`
}

type campaignDetails struct {
	campaignItem
	Messages map[string]int `json:"messages"`
}

func toCampaignItem(c *mailer.Campaign) campaignItem {
	return campaignItem{
		ID:            c.ID,
		Name:          c.Name,
		Status:        string(c.Status),
		Priority:      c.Priority,
		Frequency:     c.Frequency,
		LastSendoutAt: c.LastSendoutAt,
		PauseReason:   c.PauseReason,
	}
}

func statusCounts(in map[mailer.Status]int) map[string]int {
	out := make(map[string]int, len(in))
	for st, n := range in {
		out[string(st)] = n
	}
	return out
}

func campaignID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	campaigns, err := h.Store.ListCampaigns(ctx, limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}

	out := make([]campaignItem, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, toCampaignItem(&campaigns[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	camp, err := h.Store.GetCampaign(ctx, id)
	if errors.Is(err, mailer.ErrCampaignNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		logx.L().Errorw("get_campaign_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign error"})
		return
	}

	counts, err := h.Store.CountMessagesByStatus(ctx, id)
	if err != nil {
		logx.L().Errorw("campaign_stats_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}

	c.JSON(http.StatusOK, campaignDetails{
		campaignItem: toCampaignItem(camp),
		Messages:     statusCounts(counts),
	})
}

func (h *Handlers) QueueStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	counts, err := h.Store.CountMessagesByStatus(ctx, 0)
	if err != nil {
		logx.L().Errorw("queue_stats_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, statusCounts(counts))
}

type pauseReq struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handlers) PauseCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req pauseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Store.PauseCampaign(ctx, id, req.Reason); err != nil {
		logx.L().Errorw("pause_campaign_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pause error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(mailer.CampaignPaused)})
}

// ResumeCampaign reactivates a paused campaign and returns its delayed
// messages to the queue. The test-send gate is enforced here, at the write
// boundary.
func (h *Handlers) ResumeCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	camp, err := h.Store.GetCampaign(ctx, id)
	if errors.Is(err, mailer.ErrCampaignNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "campaign error"})
		return
	}
	if camp.Status != mailer.CampaignPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign is not paused"})
		return
	}
	if !camp.Tested || (camp.SendInvite && !camp.TestedInvite) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "campaign has not passed the test-send gate"})
		return
	}

	if err := h.Store.SetCampaignStatus(ctx, id, mailer.CampaignActive); err != nil {
		logx.L().Errorw("resume_campaign_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resume error"})
		return
	}
	resumed, err := h.Store.ResumeDelayedMessages(ctx, id)
	if err != nil {
		logx.L().Errorw("resume_delayed_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resume error"})
		return
	}

	logx.L().Infow("campaign_resumed", "id", id, "resumed_mails", resumed)
	c.JSON(http.StatusOK, gin.H{"status": string(mailer.CampaignActive), "resumed": resumed})
}

// WithdrawCampaign moves a paused campaign back to draft; its delayed
// messages are cancelled for good.
func (h *Handlers) WithdrawCampaign(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := h.Store.SetCampaignStatus(ctx, id, mailer.CampaignDraft); err != nil {
		if errors.Is(err, mailer.ErrCampaignNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
			return
		}
		logx.L().Errorw("withdraw_campaign_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdraw error"})
		return
	}
	cancelled, err := h.Store.CancelDelayedMessages(ctx, id)
	if err != nil {
		logx.L().Errorw("cancel_delayed_error", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdraw error"})
		return
	}

	logx.L().Infow("campaign_withdrawn", "id", id, "cancelled_mails", cancelled)
	c.JSON(http.StatusOK, gin.H{"status": string(mailer.CampaignDraft), "cancelled": cancelled})
}

type eventReq struct {
	Status    string `json:"status" binding:"required"`
	PaidValue *int64 `json:"paid_value"`
}

// RecordEvent feeds tracking callbacks (delivery, open, click, unsubscribe,
// registration, payment) into the message funnel. Non-increasing writes are
// accepted and silently ignored, matching the monotonic transition rule.
func (h *Handlers) RecordEvent(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req eventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := mailer.Status(req.Status)
	if !mailer.IsOutcome(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is not a funnel outcome"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	msg, err := h.Store.GetMessage(ctx, id)
	if errors.Is(err, mailer.ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message error"})
		return
	}

	if err := mailer.SaveStatus(ctx, h.Store, h.Sink, msg, status, time.Now(), req.PaidValue); err != nil {
		logx.L().Errorw("record_event_error", "mail_id", id, "status", status, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event error"})
		return
	}

	if status == mailer.StatusUnsubscribed {
		h.recordUnsubscribe(ctx, msg)
	}

	c.JSON(http.StatusOK, gin.H{"status": string(msg.Status)})
}

// recordUnsubscribe suppresses the recipient for this campaign and fires the
// campaign's unsubscribe ping; both best-effort.
func (h *Handlers) recordUnsubscribe(ctx context.Context, msg *mailer.Message) {
	if err := h.Store.InsertSuppression(ctx, msg.RecipientID, msg.CampaignID, time.Now()); err != nil {
		logx.L().Warnw("suppression_insert_error",
			"recipient_id", msg.RecipientID, "campaign_id", msg.CampaignID, "error", err)
	}

	camp, err := h.Store.GetCampaign(ctx, msg.CampaignID)
	if err != nil {
		return
	}
	rcpt, err := h.Store.GetRecipient(ctx, msg.RecipientID)
	if err != nil {
		return
	}
	if h.Pinger != nil {
		h.Pinger.PingUnsubscribe(camp, rcpt, msg.ID)
	}
}

func (h *Handlers) RunSchedule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	n, err := h.Sched.ScheduleAll(ctx)
	if errors.Is(err, mailer.ErrMailerDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailer is disabled"})
		return
	}
	if err != nil {
		logx.L().Errorw("schedule_run_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "schedule error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled": n})
}
