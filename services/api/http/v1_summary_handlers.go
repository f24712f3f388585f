package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1WeeklySummary returns the per-station weekly view
// GET /api/v1/summary/weekly
func (s *Server) handleV1WeeklySummary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	rows, err := s.store.WeeklySummary(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rows,
		"meta": gin.H{
			"count":        len(rows),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
