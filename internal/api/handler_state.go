package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/metrics"
	"rehab-sync-backend/internal/statecache"
)

// stateResponse is a state snapshot with connectivity recomputed at
// read time. The stored conectado flag is never surfaced directly.
type stateResponse struct {
	Nombre          string  `json:"nombre"`
	Activo          bool    `json:"activo"`
	GradosActuales  int     `json:"grados_actuales"`
	Repeticiones    int     `json:"repeticiones"`
	UltimoTimestamp float64 `json:"ultimo_timestamp"`
	Conectado       bool    `json:"conectado"`
}

func (h *Handler) stateResponseFor(snap statecache.Snapshot) stateResponse {
	return stateResponse{
		Nombre:          snap.Numero,
		Activo:          snap.Activo,
		GradosActuales:  snap.GradosActuales,
		Repeticiones:    snap.Repeticiones,
		UltimoTimestamp: snap.UltimoTimestamp,
		Conectado:       h.connected(snap),
	}
}

// connected recomputes liveness for a snapshot. A zero timestamp means
// the machine never reported.
func (h *Handler) connected(snap statecache.Snapshot) bool {
	if snap.UltimoTimestamp == 0 {
		return false
	}
	ts := snap.UltimoTimestamp
	return liveness.Connected(&ts, h.now(), h.window)
}

// GetState handles GET /api/device/state?numero=X.
func (h *Handler) GetState(c *gin.Context) {
	numero := c.Query("numero")
	if numero == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "falta parámetro 'numero'"})
		return
	}

	snap, err := h.snapshotFor(c.Request.Context(), numero)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	metrics.ObserveStateRead()
	c.JSON(http.StatusOK, h.stateResponseFor(snap))
}

type postStateRequest struct {
	Numero string `json:"numero"`
	Estado *bool  `json:"estado"`
}

// PostState handles POST /api/device/state: a simple active-flag write.
func (h *Handler) PostState(c *gin.Context) {
	var req postStateRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "JSON inválido"})
		return
	}
	if req.Numero == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "falta parámetro 'numero'"})
		return
	}

	ctx := c.Request.Context()
	snap, err := h.snapshotFor(ctx, req.Numero)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	now := h.now()
	if req.Estado != nil {
		snap.Activo = *req.Estado
		snap.UltimoTimestamp = liveness.UnixSeconds(now)
		h.mirror.Set(snap)

		// Mirror is updated above regardless; the durable write failing
		// must not fail the call.
		if _, err := h.store.SetActive(ctx, req.Numero, *req.Estado, now); err != nil {
			log.Printf("Error persisting state write for machine %q: %v", req.Numero, err)
		}
	}

	metrics.ObserveStateRead()
	c.JSON(http.StatusOK, h.stateResponseFor(snap))
}
