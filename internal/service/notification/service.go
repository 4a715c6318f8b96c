// internal/service/notification/service.go
package notification

import (
	"context"
	"fmt"

	"lingua-billing/internal/domain/notification"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"go.uber.org/zap"
)

// Notifier is what the ledger, tier change and payment services call after
// their transaction commits. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, req *notification.CreateNotificationRequest) error
}

// NotificationService persists notifications and enqueues them for delivery
type NotificationService struct {
	repo   repository.NotificationRepository
	queue  *Queue
	logger *zap.Logger
}

func NewNotificationService(repo repository.NotificationRepository, queue *Queue, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		queue:  queue,
		logger: logger,
	}
}

// Notify implements Notifier
func (s *NotificationService) Notify(ctx context.Context, req *notification.CreateNotificationRequest) error {
	_, err := s.CreateAndEnqueue(ctx, req)
	return err
}

// CreateAndEnqueue creates a notification and queues it for the dispatcher
func (s *NotificationService) CreateAndEnqueue(ctx context.Context, req *notification.CreateNotificationRequest) (*notification.Notification, error) {
	if req.Type == "" {
		req.Type = notification.TypeSubscription
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", xerrors.ErrInvalidInput, req.Type)
	}

	n := &notification.Notification{
		UserID:   req.UserID,
		Title:    req.Title,
		Message:  req.Message,
		Type:     req.Type,
		Metadata: req.Metadata,
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.Push(ctx, n.ID); err != nil {
			// Stored but not queued; the in-app list still shows it
			s.logger.Warn("failed to enqueue notification",
				zap.Int64("notification_id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
		}
	}

	return n, nil
}

// GetUserNotifications retrieves notifications for a user with filters
func (s *NotificationService) GetUserNotifications(ctx context.Context, userID string, filters *notification.NotificationListFilters) (*notification.NotificationListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	notifications, total, err := s.repo.ListByUser(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	totalPages := int(total) / filters.PageSize
	if int(total)%filters.PageSize > 0 {
		totalPages++
	}

	return &notification.NotificationListResponse{
		Notifications: notifications,
		Total:         total,
		Page:          filters.Page,
		PageSize:      filters.PageSize,
		TotalPages:    totalPages,
	}, nil
}

// MarkAsRead marks a notification as read
func (s *NotificationService) MarkAsRead(ctx context.Context, id int64, userID string) error {
	if err := s.repo.MarkAsRead(ctx, id, userID); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}

// MarkAllAsRead marks every unread notification of userID and returns how many changed.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllAsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all as read: %w", err)
	}
	return n, nil
}

// Discard is a Notifier that drops everything; used when notifications are disabled.
type Discard struct{}

func (Discard) Notify(context.Context, *notification.CreateNotificationRequest) error { return nil }
