package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Lexxtor/mailer/docs"
	"github.com/Lexxtor/mailer/pkg/metrics"
)

func NewHTTPServer(addr string, h *Handlers) *http.Server {
	r := gin.New()
	r.Use(Observability(), gin.Recovery())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", docs.MailerSwaggerHTML)
	})
	r.GET("/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", docs.MailerOpenAPI)
	})

	r.GET("/queue", h.QueueStats)
	r.GET("/campaigns", h.ListCampaigns)
	r.GET("/campaigns/:id", h.GetCampaign)
	r.POST("/campaigns/:id/pause", h.PauseCampaign)
	r.POST("/campaigns/:id/resume", h.ResumeCampaign)
	r.POST("/campaigns/:id/withdraw", h.WithdrawCampaign)
	r.POST("/messages/:id/events", h.RecordEvent)
	r.POST("/schedule", h.RunSchedule)

	return &http.Server{
		Addr:    addr,
		Handler: r,
	}
}
