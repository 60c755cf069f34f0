// Package watch reconciles the stored conectado bookkeeping flag with
// the liveness predicate and raises connectivity alerts. No request
// path depends on it: reads always recompute connectivity themselves,
// the sweep only keeps the durable flag honest and feeds notifications.
package watch

import (
	"context"
	"log"
	"time"

	"rehab-sync-backend/config"
	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/notification"
	"rehab-sync-backend/internal/store"
)

// Sweeper periodically scans device states for connectivity transitions.
type Sweeper struct {
	cfg   *config.Config
	store store.Store
	pool  *notification.WorkerPool

	now func() time.Time // overridable in tests
}

// New creates a sweeper. pool may be nil when push is not configured.
func New(cfg *config.Config, s store.Store, pool *notification.WorkerPool) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		store: s,
		pool:  pool,
		now:   time.Now,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("Liveness sweeper starting, interval %s", s.cfg.Watch.Interval)
	ticker := time.NewTicker(s.cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			log.Println("Liveness sweeper stopping")
			return
		}
	}
}

// SweepOnce runs a single reconciliation pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		log.Printf("Sweep: failed to list machine states: %v", err)
		return
	}

	now := s.now()
	for _, status := range statuses {
		if status.Estado == nil {
			continue
		}
		actual := liveness.Connected(status.Estado.UltimoTimestamp, now, s.cfg.Device.LivenessWindow)
		if actual == status.Estado.Conectado {
			continue
		}

		if err := s.store.ReconcileConnected(ctx, status.Machine.ID, actual); err != nil {
			log.Printf("Sweep: failed to reconcile machine %q: %v", status.Machine.Numero, err)
			continue
		}
		log.Printf("Machine %q connectivity changed: conectado=%t", status.Machine.Numero, actual)

		if s.pool != nil {
			s.pool.Dispatch(notification.Event{
				MachineID: status.Machine.ID,
				Numero:    status.Machine.Numero,
				Online:    actual,
			})
		}
	}
}
