package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler runs Orchestrator.Reconcile on a fixed interval. A run that is
// still going when the next tick fires makes that tick a no-op.
type Reconciler struct {
	orch     *Orchestrator
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewReconciler(orch *Orchestrator, interval time.Duration, log *logrus.Entry) *Reconciler {
	return &Reconciler{orch: orch, interval: interval, log: log}
}

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	if r.interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", r.interval)
	}

	logger := cron.PrintfLogger(r.log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.tick); err != nil {
		return err
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron = c
	r.running = true
	c.Start()
	r.log.WithField("interval", r.interval).Info("reconciler started")
	return nil
}

// Stop cancels the in-flight run and waits for it, or for ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	done := r.cron.Stop()
	r.mu.Unlock()

	select {
	case <-done.Done():
		r.log.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce reconciles immediately, outside the schedule.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	return r.orch.Reconcile(ctx)
}

func (r *Reconciler) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	report, err := r.orch.Reconcile(ctx)
	if err != nil {
		r.log.WithError(err).Error("reconcile failed")
		return
	}
	if report.ExpiredRegistrations+report.TimedOut+report.Regranted+report.GrantFailures > 0 {
		r.log.WithFields(logrus.Fields{
			"expired_registrations": report.ExpiredRegistrations,
			"timed_out":             report.TimedOut,
			"regranted":             report.Regranted,
			"grant_failures":        report.GrantFailures,
		}).Info("reconcile pass")
	}
}
