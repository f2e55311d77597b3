package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"solar-alerts/internal/service"
)

type Handler struct {
	svc    *service.Service
	logger zerolog.Logger
}

// RunCycle triggers a monitoring sweep. If one is already in flight the call
// still succeeds; the overlapping sweep is simply skipped.
func (h *Handler) RunCycle(c *gin.Context) {
	if err := h.svc.RunCycle(c.Request.Context()); err != nil {
		h.logger.Error().Err(err).Msg("on-demand sweep failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *Handler) ListAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	alerts, err := h.svc.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("alert listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) ListFaults(c *gin.Context) {
	faults, err := h.svc.KnownFaults(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("fault listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"faults": faults, "count": len(faults)})
}

func (h *Handler) DeviceHistory(c *gin.Context) {
	sn := c.Param("sn")

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	entries, err := h.svc.DeviceHistory(c.Request.Context(), sn, since)
	if err != nil {
		h.logger.Error().Err(err).Str("device_sn", sn).Msg("history listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_sn": sn, "entries": entries, "count": len(entries)})
}
