// internal/repository/memory/notifications.go
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"lingua-billing/internal/domain/notification"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"
)

var _ repository.NotificationRepository = (*NotificationStore)(nil)

type NotificationStore struct {
	mu     sync.Mutex
	nextID int64
	items  []notification.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{}
}

func (s *NotificationStore) Create(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n.ID = s.nextID
	n.CreatedAt = time.Now()
	s.items = append(s.items, *n)
	return nil
}

func (s *NotificationStore) FindByID(_ context.Context, id int64) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			n := s.items[i]
			return &n, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (s *NotificationStore) ListByUser(_ context.Context, userID string, filters *notification.NotificationListFilters) ([]notification.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []notification.Notification
	for i := len(s.items) - 1; i >= 0; i-- {
		n := s.items[i]
		if n.UserID != userID {
			continue
		}
		if filters != nil && filters.IsRead != nil && n.IsRead != *filters.IsRead {
			continue
		}
		if filters != nil && filters.Type != nil && n.Type != *filters.Type {
			continue
		}
		matched = append(matched, n)
	}

	total := int64(len(matched))
	if filters == nil || filters.PageSize <= 0 {
		return matched, total, nil
	}
	offset := (max(filters.Page, 1) - 1) * filters.PageSize
	if offset >= len(matched) {
		return []notification.Notification{}, total, nil
	}
	end := min(offset+filters.PageSize, len(matched))
	return matched[offset:end], total, nil
}

func (s *NotificationStore) MarkAsRead(_ context.Context, id int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].UserID == userID {
			if !s.items[i].IsRead {
				s.items[i].IsRead = true
				s.items[i].ReadAt = sql.NullTime{Time: time.Now(), Valid: true}
			}
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (s *NotificationStore) MarkAllAsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.items {
		if s.items[i].UserID == userID && !s.items[i].IsRead {
			s.items[i].IsRead = true
			s.items[i].ReadAt = sql.NullTime{Time: time.Now(), Valid: true}
			n++
		}
	}
	return n, nil
}

func (s *NotificationStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].SentAt = sql.NullTime{Time: time.Now(), Valid: true}
			return nil
		}
	}
	return xerrors.ErrNotFound
}

// All returns every stored notification in insertion order.
func (s *NotificationStore) All() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.items...)
}
