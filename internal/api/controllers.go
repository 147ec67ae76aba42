package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/state"
)

type listEventsQuery struct {
	Type  string `form:"type"`
	Limit int    `form:"limit"`
}

func (q *listEventsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type shutdownRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	active := s.Shutdown != nil && s.Shutdown.Active()
	resp := gin.H{
		"meta":            s.Meta,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"shutdown_active": active,
	}
	if active {
		reason, at := s.Shutdown.Reason()
		resp["shutdown_reason"] = reason
		resp["shutdown_at"] = at
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getState(c *gin.Context) {
	var orders state.Snapshot
	if s.State != nil {
		orders = s.State.Snapshot()
	}
	var book market.Snapshot
	if s.Market != nil {
		book = s.Market.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": s.Meta.Symbol,
		"orders": orders,
		"market": book,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

func (s *Server) getEvents(c *gin.Context) {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_DISABLED", "journal not configured")
		return
	}
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	rows, err := s.DB.ListOrderEvents(c.Request.Context(), q.Type, q.Limit)
	if err != nil {
		s.Logger.Errorw("list_events_failed", "error", err)
		respondError(c, http.StatusInternalServerError, "DB_ERROR", "failed to list events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows, "count": len(rows)})
}

func (s *Server) postShutdown(c *gin.Context) {
	if s.Shutdown == nil {
		respondError(c, http.StatusServiceUnavailable, "SHUTDOWN_UNAVAILABLE", "shutdown not wired")
		return
	}
	var req shutdownRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	reason := "api_request"
	if req.Reason != "" {
		reason = "api_request: " + req.Reason
	}
	first := s.Shutdown.Trigger(reason)
	current, _ := s.Shutdown.Reason()
	c.JSON(http.StatusAccepted, gin.H{"triggered": first, "reason": current})
}
