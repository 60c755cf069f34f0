package api

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/statecache"
	"rehab-sync-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	mirror  *statecache.Mirror
	window  time.Duration
	webpush *webpush.Options

	now func() time.Time // overridable in tests
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, mirror *statecache.Mirror, window time.Duration, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		mirror:  mirror,
		window:  window,
		webpush: webpushOptions,
		now:     time.Now,
	}
}

// snapshotFor returns a machine's last-known state, preferring the
// mirror and lazily rebuilding the mirror entry from the durable record
// when the process restarted since the machine last reported. Returns
// zero-value defaults when the machine is unknown everywhere.
func (h *Handler) snapshotFor(ctx context.Context, numero string) (statecache.Snapshot, error) {
	if snap, ok := h.mirror.Get(numero); ok {
		return snap, nil
	}

	snap := statecache.Snapshot{Numero: numero}
	_, state, err := h.store.GetStateByNumero(ctx, numero)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if state != nil {
		snap.Activo = state.Activo
		snap.GradosActuales = state.GradosActuales
		snap.Repeticiones = state.Repeticiones
		if state.UltimoTimestamp != nil {
			snap.UltimoTimestamp = *state.UltimoTimestamp
		}
		h.mirror.Set(snap)
	}
	return snap, nil
}

// refreshMirrorContact bumps the mirror timestamp for a machine that
// just made contact, so mirror-preferring reads agree with the durable
// row the contact path already refreshed.
func (h *Handler) refreshMirrorContact(ctx context.Context, numero string, now time.Time) {
	snap, err := h.snapshotFor(ctx, numero)
	if err != nil {
		log.Printf("Error refreshing mirror for machine %q: %v", numero, err)
		return
	}
	snap.UltimoTimestamp = liveness.UnixSeconds(now)
	h.mirror.Set(snap)
}
