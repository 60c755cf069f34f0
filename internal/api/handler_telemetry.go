package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/metrics"
	"rehab-sync-backend/internal/statecache"
	"rehab-sync-backend/internal/store"
)

// telemetryRequest is a device state report. The timestamp is always
// assigned server-side; a device clock is never trusted.
type telemetryRequest struct {
	Nombre         string `json:"nombre"`
	Activo         bool   `json:"activo"`
	GradosActuales int    `json:"grados_actuales"`
	Repeticiones   int    `json:"repeticiones"`
}

type telemetryResponse struct {
	Status      string              `json:"status"`
	Nombre      string              `json:"nombre"`
	NuevoEstado statecache.Snapshot `json:"nuevo_estado"`
}

// PostTelemetry handles POST /api/device/telemetry. It is the only
// writer of telemetry. Repeated identical reports are idempotent apart
// from the refreshed timestamp.
func (h *Handler) PostTelemetry(c *gin.Context) {
	var req telemetryRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		metrics.ObserveIngest(metrics.ResultBadRequest)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "JSON inválido"})
		return
	}
	if req.Nombre == "" {
		metrics.ObserveIngest(metrics.ResultBadRequest)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "falta 'nombre' del dispositivo"})
		return
	}

	now := h.now()
	snap := statecache.Snapshot{
		Numero:          req.Nombre,
		Activo:          req.Activo,
		GradosActuales:  req.GradosActuales,
		Repeticiones:    req.Repeticiones,
		UltimoTimestamp: liveness.UnixSeconds(now),
	}
	h.mirror.Set(snap)

	// The durable write is best-effort from the device's point of view:
	// the machine retries by design, so a store failure is logged and the
	// call still acknowledges with the mirrored state.
	rep := store.TelemetryReport{
		Numero:         req.Nombre,
		Activo:         req.Activo,
		GradosActuales: req.GradosActuales,
		Repeticiones:   req.Repeticiones,
	}
	if _, err := h.store.RecordTelemetry(c.Request.Context(), rep, now); err != nil {
		log.Printf("Error persisting telemetry for machine %q: %v", req.Nombre, err)
	}

	metrics.ObserveIngest(metrics.ResultSuccess)
	c.JSON(http.StatusOK, telemetryResponse{
		Status:      "ok",
		Nombre:      req.Nombre,
		NuevoEstado: snap,
	})
}
