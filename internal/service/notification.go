package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

// NotificationService is the read side the notification presentation surface binds to.
type NotificationService struct {
	engine
}

func NewNotificationService(d Deps) *NotificationService {
	return &NotificationService{engine: newEngine(d)}
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, userID, unreadOnly, limit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.UnreadNotificationCount(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, userID, notificationID)
}
