package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

type NotificationHandler struct {
	svc *service.NotificationService
}

func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	var req models.ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}

	list, err := h.svc.List(c.Request.Context(), uid, req.UnreadOnly, req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.svc.UnreadCount(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread_count": unread})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	notificationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), uid, notificationID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
