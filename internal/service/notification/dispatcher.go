// internal/service/notification/dispatcher.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"

	"lingua-billing/internal/metrics"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/repository"

	"go.uber.org/zap"
)

// Mailer sends one email.
type Mailer interface {
	Send(to, subject, bodyHTML string) error
}

type DrainResult struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Dispatcher delivers queued notifications by email.
type Dispatcher struct {
	queue  *Queue
	repo   repository.NotificationRepository
	users  repository.UserDirectory
	mailer Mailer
	logger *zap.Logger
}

func NewDispatcher(queue *Queue, repo repository.NotificationRepository, users repository.UserDirectory, mailer Mailer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:  queue,
		repo:   repo,
		users:  users,
		mailer: mailer,
		logger: logger,
	}
}

// Drain delivers up to max queued notifications. Failed sends go back on the
// queue for the next run.
func (d *Dispatcher) Drain(ctx context.Context, max int) (DrainResult, error) {
	var res DrainResult

	for i := 0; i < max; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		id, ok, err := d.queue.Pop(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}

		if err := d.deliver(ctx, id); err != nil {
			if errors.Is(err, errAlreadySent) || errors.Is(err, xerrors.ErrNotFound) {
				res.Skipped++
				continue
			}
			res.Failed++
			metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
			d.logger.Warn("notification delivery failed", zap.Int64("notification_id", id), zap.Error(err))
			if perr := d.queue.Push(ctx, id); perr != nil {
				d.logger.Error("failed to requeue notification", zap.Int64("notification_id", id), zap.Error(perr))
			}
			continue
		}
		res.Sent++
		metrics.NotificationsDelivered.WithLabelValues("sent").Inc()
	}

	return res, nil
}

var errAlreadySent = errors.New("notification already sent")

func (d *Dispatcher) deliver(ctx context.Context, id int64) error {
	n, err := d.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if n.SentAt.Valid {
		return errAlreadySent
	}

	email, err := d.users.LookupEmail(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			// Account deleted since the notification was raised
			return xerrors.ErrNotFound
		}
		return fmt.Errorf("failed to look up email: %w", err)
	}

	body := fmt.Sprintf("<h2>%s</h2><p>%s</p>", html.EscapeString(n.Title), html.EscapeString(n.Message))
	if link, ok := n.Metadata["retry_url"].(string); ok && link != "" {
		body += fmt.Sprintf(`<p><a href="%s">Try again</a></p>`, html.EscapeString(link))
	}

	if err := d.mailer.Send(email, n.Title, body); err != nil {
		return err
	}
	return d.repo.MarkSent(ctx, id)
}
