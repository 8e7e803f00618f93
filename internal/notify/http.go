package notify

import (
	"context"
	"net/http"

	"github.com/ardabaev/cloudhost/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type reader interface {
	List(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
}

// RegisterRoutes mounts notification endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, repo reader) {
	handler := &httpHandler{repo: repo}
	group.GET("/notifications", handler.list)
	group.POST("/notifications/:notificationID/read", handler.markRead)
}

type httpHandler struct {
	repo reader
}

func (h *httpHandler) list(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	notifications, err := h.repo.List(c.Request.Context(), userID, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *httpHandler) markRead(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	notificationID, err := uuid.Parse(c.Param("notificationID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	if err := h.repo.MarkRead(c.Request.Context(), userID, notificationID); err != nil {
		switch err {
		case ErrNotificationNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
