package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Lexxtor/mailer/internal/mailer"
	"github.com/Lexxtor/mailer/internal/stats"
	"github.com/Lexxtor/mailer/internal/store"
	"github.com/Lexxtor/mailer/pkg/config"
	"github.com/Lexxtor/mailer/pkg/db"
	"github.com/Lexxtor/mailer/pkg/logx"
	"github.com/Lexxtor/mailer/pkg/metrics"
	"github.com/Lexxtor/mailer/pkg/rmq"
	"github.com/Lexxtor/mailer/services/mailer-worker/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()

	var sink mailer.EventSink = stats.NopSink{}
	if cfg.RMQURL != "" {
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.EventsQueue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer pub.Close()
		sink = stats.NewRMQSink(pub)
	} else {
		logx.L().Warnw("stats_sink_disabled", "reason", "RMQ_URL not set")
	}

	st := store.New(sqlDB)

	disp := &mailer.Dispatcher{
		Store:       st,
		Mailer:      worker.NewSimulatedTransport(),
		Router:      mailer.NewRouter(st, cfg.RateWindow),
		Sink:        sink,
		Pinger:      mailer.NewPinger(cfg.PingTimeout),
		PortionSize: cfg.PortionSize,
		Disabled:    cfg.Disabled,
	}

	sched := mailer.NewScheduler(st)
	sched.Disabled = cfg.Disabled

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(":9091", mux); err != nil {
			logx.L().Warnw("metrics_server_error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := worker.New(disp, sched, st, cfg)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logx.L().Fatalw("worker_error", "error", err)
	}
}
