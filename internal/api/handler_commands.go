package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rehab-sync-backend/internal/metrics"
	"rehab-sync-backend/internal/model"
	"rehab-sync-backend/internal/mw"
	"rehab-sync-backend/internal/store"
)

// commandResponse is what a polling device receives. Accion is null when
// the queue is empty, which the firmware treats as "keep doing what you
// were doing".
type commandResponse struct {
	Accion       *string `json:"accion"`
	Grados       *int    `json:"grados,omitempty"`
	Repeticiones *int    `json:"repeticiones,omitempty"`
	Modo         string  `json:"modo,omitempty"`
	Mensaje      string  `json:"mensaje,omitempty"`
}

// PollCommand handles GET /api/device/command?numero=X. A machine may
// poll before it ever reported telemetry, so the machine row is created
// lazily here with the poller's address.
func (h *Handler) PollCommand(c *gin.Context) {
	numero := c.Query("numero")
	if numero == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "falta numero"})
		return
	}

	ctx := c.Request.Context()
	now := h.now()

	machine, err := h.store.GetOrCreateMachine(ctx, numero, c.ClientIP())
	if err != nil {
		metrics.ObservePoll(metrics.ResultError)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}
	if err := h.store.MarkContact(ctx, machine.ID, now); err != nil {
		// The claim below still works; connectivity self-heals on the
		// next poll.
		log.Printf("Error marking contact for machine %q: %v", numero, err)
	}
	h.refreshMirrorContact(ctx, numero, now)

	cmd, err := h.store.ClaimNextCommand(ctx, machine.ID, now)
	if err != nil {
		metrics.ObservePoll(metrics.ResultError)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}
	if cmd == nil {
		metrics.ObservePoll(metrics.PollEmpty)
		c.JSON(http.StatusOK, commandResponse{Accion: nil, Mensaje: "no hay comandos"})
		return
	}

	metrics.ObservePoll(metrics.PollDelivered)
	accion := cmd.Accion
	c.JSON(http.StatusOK, commandResponse{
		Accion:       &accion,
		Grados:       cmd.Grados,
		Repeticiones: cmd.Repeticiones,
		Modo:         cmd.Modo,
	})
}

type enqueueCommandRequest struct {
	Maquina      string `json:"maquina"`
	Accion       string `json:"accion"`
	Grados       *int   `json:"grados"`
	Repeticiones *int   `json:"repeticiones"`
	Modo         string `json:"modo"`
}

// EnqueueCommand handles POST /api/comandos from the clinical control
// plane. Commands are never deduplicated; they queue up and are
// delivered oldest-first.
func (h *Handler) EnqueueCommand(c *gin.Context) {
	var req enqueueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "JSON inválido"})
		return
	}
	if req.Maquina == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "falta 'maquina'"})
		return
	}
	if !model.ValidAction(req.Accion) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "accion inválida"})
		return
	}

	var usuarioID *int64
	if v, ok := c.Get(mw.ContextUserID); ok {
		if id, ok := v.(int64); ok {
			usuarioID = &id
		}
	}

	_, err := h.store.EnqueueCommand(c.Request.Context(), req.Maquina, store.CommandRequest{
		Accion:       req.Accion,
		Grados:       req.Grados,
		Repeticiones: req.Repeticiones,
		Modo:         req.Modo,
		UsuarioID:    usuarioID,
	}, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	metrics.ObserveEnqueue(req.Accion)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
