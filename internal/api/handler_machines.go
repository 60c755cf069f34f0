package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/metrics"
)

type machineStatusEntry struct {
	Numero         string `json:"numero"`
	IP             string `json:"ip"`
	Conectado      bool   `json:"conectado"`
	Activo         bool   `json:"activo"`
	GradosActuales int    `json:"grados_actuales"`
	Repeticiones   int    `json:"repeticiones"`
}

// GetMachines handles GET /api/maquinas for the dashboard: every machine
// with telemetry and recomputed connectivity. The mirror is preferred
// per machine; the durable row is the fallback after a restart.
func (h *Handler) GetMachines(c *gin.Context) {
	statuses, err := h.store.ListStatuses(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	now := h.now()
	entries := make([]machineStatusEntry, 0, len(statuses))
	for _, status := range statuses {
		entry := machineStatusEntry{
			Numero: status.Machine.Numero,
			IP:     status.Machine.IP,
		}

		if snap, ok := h.mirror.Get(status.Machine.Numero); ok {
			entry.Activo = snap.Activo
			entry.GradosActuales = snap.GradosActuales
			entry.Repeticiones = snap.Repeticiones
			if snap.UltimoTimestamp != 0 {
				ts := snap.UltimoTimestamp
				entry.Conectado = liveness.Connected(&ts, now, h.window)
			}
		} else if status.Estado != nil {
			entry.Activo = status.Estado.Activo
			entry.GradosActuales = status.Estado.GradosActuales
			entry.Repeticiones = status.Estado.Repeticiones
			entry.Conectado = liveness.Connected(status.Estado.UltimoTimestamp, now, h.window)
		}

		entries = append(entries, entry)
	}

	metrics.ObserveStateRead()
	c.JSON(http.StatusOK, gin.H{"maquinas": entries})
}

// GetMachineLabels handles GET /api/maquinas/labels: just the machine
// labels, for dashboard dropdowns.
func (h *Handler) GetMachineLabels(c *gin.Context) {
	statuses, err := h.store.ListStatuses(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	labels := make([]gin.H, 0, len(statuses))
	for _, status := range statuses {
		labels = append(labels, gin.H{"numero": status.Machine.Numero})
	}
	c.JSON(http.StatusOK, labels)
}
