package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pramodkumar0813/DI-Skill-Bridge/internal/models"
	"github.com/rs/zerolog/log"
)

// RoomReader reports live room state.
type RoomReader interface {
	RoomStatus(ctx context.Context, roomID string) (models.RoomStatus, error)
}

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GetRoom returns the participant count and raised hands of a room
// (requires authentication)
func GetRoom(rooms RoomReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := strings.TrimSpace(c.Param("roomId"))
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
			return
		}

		status, err := rooms.RoomStatus(c.Request.Context(), roomID)
		if err != nil {
			if errors.Is(err, models.ErrStoreUnavailable) {
				log.Error().Err(err).Str("room", roomID).Msg("room status unavailable")
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": models.Reason(err)})
				return
			}
			log.Error().Err(err).Str("room", roomID).Msg("room status failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
			return
		}

		c.JSON(http.StatusOK, status)
	}
}

// Health reports ok when every named dependency answers a ping.
func Health(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
