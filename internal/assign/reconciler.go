package assign

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReconcileInterval is the period of the counter recount.
const DefaultReconcileInterval = 10 * time.Minute

// Reconciler runs Ledger.Reconcile on start and then periodically.
type Reconciler struct {
	ledger   *Ledger
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReconciler creates a new reconciler.
func NewReconciler(l *Ledger, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{ledger: l, interval: interval, logger: logger}
}

// Start begins the reconcile loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop stops the loop and waits for a running pass to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()
	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.run(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) run(ctx context.Context) {
	drifts, err := r.ledger.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("reconciliation failed", zap.Error(err))
		}
		return
	}
	r.logger.Debug("reconciliation done", zap.Int("corrected", len(drifts)))
}
