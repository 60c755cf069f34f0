package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"rehab-sync-backend/internal/mw"
)

type startSessionRequest struct {
	Maquina              string `json:"maquina" binding:"required"`
	GradosObjetivo       int    `json:"grados_objetivo"`
	RepeticionesObjetivo int    `json:"repeticiones_objetivo"`
}

// StartSession handles POST /api/sesiones: opens a therapy session for a
// machine on behalf of the authenticated clinician. Telemetry ingest
// advances the session and closes it when the target is reached.
func (h *Handler) StartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "falta 'maquina'"})
		return
	}
	if req.RepeticionesObjetivo <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "repeticiones_objetivo debe ser positivo"})
		return
	}

	var usuarioID int64
	if v, ok := c.Get(mw.ContextUserID); ok {
		usuarioID, _ = v.(int64)
	}

	session, err := h.store.StartSession(c.Request.Context(), req.Maquina, usuarioID,
		req.GradosObjetivo, req.RepeticionesObjetivo, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "sesion_id": session.ID})
}

// CloseSession handles POST /api/sesiones/:id/cerrar: closes a session
// early, before the repetition target is reached.
func (h *Handler) CloseSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id de sesión inválido"})
		return
	}

	session, err := h.store.CloseSession(c.Request.Context(), id, h.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "sesión no encontrada"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error de almacenamiento"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                   "ok",
		"sesion_id":                session.ID,
		"completada":               session.Completada,
		"repeticiones_completadas": session.RepeticionesCompletadas,
	})
}
