package worker

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/Lexxtor/mailer/internal/mailer"
	"github.com/Lexxtor/mailer/internal/store"
	"github.com/Lexxtor/mailer/pkg/config"
	"github.com/Lexxtor/mailer/pkg/logx"
)

// memorySafetyMargin is headroom kept below the configured memory limit; the
// drain loop stops claiming before the process gets near the hard limit.
const memorySafetyMargin = 512 << 10

// Worker owns the periodic loops of one mailer process: draining the queue in
// portions, ticking the campaign scheduler and trimming the IP send log.
type Worker struct {
	Dispatcher *mailer.Dispatcher
	Scheduler  *mailer.Scheduler
	Store      *store.Store
	Cfg        config.WorkerConfig
}

func New(d *mailer.Dispatcher, s *mailer.Scheduler, st *store.Store, cfg config.WorkerConfig) *Worker {
	return &Worker{Dispatcher: d, Scheduler: s, Store: st, Cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) error {
	logx.L().Infow("worker_started",
		"portion", w.Cfg.PortionSize,
		"scheduler", w.Cfg.SchedulerEnabled,
		"disabled", w.Cfg.Disabled,
	)

	sendTicker := time.NewTicker(w.Cfg.SendInterval)
	defer sendTicker.Stop()

	var scheduleCh <-chan time.Time
	if w.Cfg.SchedulerEnabled {
		t := time.NewTicker(w.Cfg.ScheduleInterval)
		defer t.Stop()
		scheduleCh = t.C
		w.scheduleOnce(ctx)
	}

	cleanupTicker := time.NewTicker(w.Cfg.IPLogRetention)
	defer cleanupTicker.Stop()

	w.drainOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("worker_stopping")
			return ctx.Err()
		case <-sendTicker.C:
			w.drainOnce(ctx)
		case <-scheduleCh:
			w.scheduleOnce(ctx)
		case <-cleanupTicker.C:
			w.cleanupOnce(ctx)
		}
	}
}

// drainOnce sends portions until the queue is empty for now, the configured
// cap is reached, or memory headroom runs out. It reports the count and
// whether more work likely remains.
func (w *Worker) drainOnce(ctx context.Context) (total int, more bool) {
	for {
		if ctx.Err() != nil {
			return total, true
		}

		n, err := w.Dispatcher.SendPortion(ctx, 0)
		if errors.Is(err, mailer.ErrMailerDisabled) {
			logx.L().Debugw("sending_disabled")
			return 0, false
		}
		if err != nil {
			logx.L().Errorw("send_portion_error", "error", err)
			break
		}

		total += n
		if n == 0 {
			break
		}
		if w.Cfg.MaxSend > 0 && total >= w.Cfg.MaxSend {
			more = true
			break
		}
		if w.memoryPressured() {
			logx.L().Warnw("memory_pressure_stop", "sent", total)
			more = true
			break
		}
	}

	if total > 0 || more {
		logx.L().Infow("drain_done", "sent", total, "more_remain", more)
	}
	return total, more
}

// memoryPressured reports whether heap use plus the safety margin crossed the
// configured limit.
func (w *Worker) memoryPressured() bool {
	if w.Cfg.MemoryLimitBytes == 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc+memorySafetyMargin > w.Cfg.MemoryLimitBytes
}

func (w *Worker) scheduleOnce(ctx context.Context) {
	n, err := w.Scheduler.ScheduleAll(ctx)
	if errors.Is(err, mailer.ErrMailerDisabled) {
		logx.L().Debugw("scheduling_disabled")
		return
	}
	if err != nil {
		logx.L().Errorw("schedule_error", "error", err)
		return
	}
	if n > 0 {
		logx.L().Infow("schedule_done", "scheduled", n)
	}
}

func (w *Worker) cleanupOnce(ctx context.Context) {
	n, err := w.Store.DeleteOldIPSends(ctx, time.Now().Add(-w.Cfg.IPLogRetention))
	if err != nil {
		logx.L().Warnw("ip_send_log_cleanup_error", "error", err)
		return
	}
	if n > 0 {
		logx.L().Infow("ip_send_log_cleaned", "deleted", n)
	}
}
