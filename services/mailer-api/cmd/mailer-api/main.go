package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
	"github.com/Lexxtor/mailer/internal/stats"
	"github.com/Lexxtor/mailer/internal/store"
	"github.com/Lexxtor/mailer/pkg/config"
	"github.com/Lexxtor/mailer/pkg/db"
	"github.com/Lexxtor/mailer/pkg/logx"
	"github.com/Lexxtor/mailer/pkg/rmq"
	"github.com/Lexxtor/mailer/services/mailer-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		}
	}()

	st := store.New(sqlDB)

	var sink mailer.EventSink = stats.NopSink{}
	if cfg.RMQURL != "" {
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.EventsQueue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			}
		}()
		sink = stats.NewRMQSink(pub)
	} else {
		logx.L().Warnw("stats_sink_disabled", "reason", "RMQ_URL not set")
	}

	sched := mailer.NewScheduler(st)
	sched.Disabled = cfg.Disabled
	h := server.NewHandlers(st, sched, sink, mailer.NewPinger(cfg.PingTimeout))
	srv := server.NewHTTPServer(":"+cfg.Port, h)

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}
}
