// internal/repository/postgres/notification_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"lingua-billing/internal/domain/notification"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

const notificationColumns = `id, user_id, title, message, type, metadata, is_read, created_at, read_at, sent_at`

// NotificationRepository stores the in-app inbox. It runs outside ledger
// transactions: a notification is written after the change it reports.
type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, message, type, metadata)
		VALUES (@user_id, @title, @message, @type, @metadata)
		RETURNING id, created_at
	`, pgx.NamedArgs{
		"user_id":  n.UserID,
		"title":    n.Title,
		"message":  n.Message,
		"type":     string(n.Type),
		"metadata": metadata,
	}).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id int64) (*notification.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	n, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[notification.Notification])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	return n, nil
}

// ListByUser returns one page of the user's inbox, newest first, and the
// total matching the filters.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, filters *notification.NotificationListFilters) ([]notification.Notification, int64, error) {
	if filters == nil {
		filters = &notification.NotificationListFilters{}
	}
	page, size := max(filters.Page, 1), filters.PageSize
	if size < 1 {
		size = 20
	}

	// NULL filters match everything
	where := `user_id = @user_id
		AND (@is_read::boolean IS NULL OR is_read = @is_read)
		AND (@type::text IS NULL OR type = @type)`
	args := pgx.NamedArgs{
		"user_id": userID,
		"is_read": filters.IsRead,
		"type":    (*string)(filters.Type),
		"limit":   size,
		"offset":  (page - 1) * size,
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	if total == 0 {
		return []notification.Notification{}, 0, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT @limit OFFSET @offset
	`, args)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[notification.Notification])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return items, total, nil
}

// MarkAsRead keeps the first read time. A notification owned by someone
// else is reported as missing.
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id int64, userID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSent stamps delivery so a re-queued id is not emailed twice
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET sent_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
