// internal/domain/notification/entity.go
package notification

import (
	"database/sql"
	"time"
)

type NotificationType string

const (
	TypeCreditThreshold NotificationType = "credit_threshold"
	TypePaymentSuccess  NotificationType = "payment_success"
	TypePaymentFailed   NotificationType = "payment_failed"
	TypePaymentExpired  NotificationType = "payment_expired"
	TypeTrial           NotificationType = "trial"
	TypeSubscription    NotificationType = "subscription"
)

// Valid reports whether t is one of the known types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeCreditThreshold, TypePaymentSuccess, TypePaymentFailed, TypePaymentExpired, TypeTrial, TypeSubscription:
		return true
	}
	return false
}

type Notification struct {
	ID        int64                  `json:"id" db:"id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	Title     string                 `json:"title" db:"title"`
	Message   string                 `json:"message" db:"message"`
	Type      NotificationType       `json:"type" db:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	IsRead    bool                   `json:"is_read" db:"is_read"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	ReadAt    sql.NullTime           `json:"read_at,omitempty" db:"read_at"`
	SentAt    sql.NullTime           `json:"sent_at,omitempty" db:"sent_at"`
}

// DTOs

type CreateNotificationRequest struct {
	UserID   string                 `json:"user_id" binding:"required"`
	Title    string                 `json:"title" binding:"required,max=255"`
	Message  string                 `json:"message" binding:"required"`
	Type     NotificationType       `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type NotificationListFilters struct {
	IsRead   *bool             `form:"is_read"`
	Type     *NotificationType `form:"type"`
	Page     int               `form:"page"`
	PageSize int               `form:"page_size"`
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int64          `json:"total"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
	TotalPages    int            `json:"total_pages"`
}
