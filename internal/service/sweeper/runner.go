// internal/service/sweeper/runner.go
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lingua-billing/internal/domain/credit"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pkg/lock"
	"lingua-billing/internal/service/ledger"
	notifysvc "lingua-billing/internal/service/notification"
	"lingua-billing/internal/service/payment"
	"lingua-billing/internal/service/tierchange"

	"go.uber.org/zap"
)

const (
	JobScheduledTiers        = "scheduled-tiers"
	JobExpirePayments        = "expire-payments"
	JobExpireTrials          = "expire-trials"
	JobResetTrialDaily       = "reset-trial-daily"
	JobExpireSubscriptions   = "expire-subscriptions"
	JobDispatchNotifications = "dispatch-notifications"
)

// ErrBusy is returned when another worker is already running the job.
var ErrBusy = errors.New("sweep already running elsewhere")

type jobFunc func(ctx context.Context, now time.Time, limit int) (*credit.SweepResult, error)

// Runner executes the periodic jobs. Each job is safe to run concurrently
// with itself; the lock only avoids wasted work.
type Runner struct {
	jobs    map[string]jobFunc
	lock    *lock.RedisLock
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Runner)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLock guards each job with a Redis lock held for ttl.
func WithLock(l *lock.RedisLock, ttl time.Duration) Option {
	return func(r *Runner) {
		r.lock = l
		r.lockTTL = ttl
	}
}

func NewRunner(
	ledgerSvc *ledger.LedgerService,
	tiers *tierchange.TierChangeService,
	payments *payment.PaymentService,
	dispatcher *notifysvc.Dispatcher,
	logger *zap.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		logger:  logger,
		now:     time.Now,
		lockTTL: 10 * time.Minute,
		jobs: map[string]jobFunc{
			JobScheduledTiers:      tiers.ProcessScheduledTierChanges,
			JobExpirePayments:      payments.ExpireStalePayments,
			JobExpireTrials:        ledgerSvc.ExpireTrials,
			JobResetTrialDaily:     ledgerSvc.ResetTrialDailyUsage,
			JobExpireSubscriptions: ledgerSvc.ExpireLapsedSubscriptions,
		},
	}
	if dispatcher != nil {
		r.jobs[JobDispatchNotifications] = func(ctx context.Context, _ time.Time, limit int) (*credit.SweepResult, error) {
			res, err := dispatcher.Drain(ctx, limit)
			if err != nil {
				return nil, err
			}
			return &credit.SweepResult{
				Job:     JobDispatchNotifications,
				Scanned: res.Sent + res.Skipped + res.Failed,
				Applied: res.Sent,
				Skipped: res.Skipped,
				Failed:  res.Failed,
			}, nil
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runOrder applies scheduled changes before lapsed subscriptions are
// expired, and delivers notifications last.
var runOrder = []string{
	JobScheduledTiers,
	JobExpireSubscriptions,
	JobExpireTrials,
	JobResetTrialDaily,
	JobExpirePayments,
	JobDispatchNotifications,
}

// Jobs lists the registered job names in run order.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, name := range runOrder {
		if _, ok := r.jobs[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Run executes one batch of job.
func (r *Runner) Run(ctx context.Context, job string, limit int) (*credit.SweepResult, error) {
	fn, ok := r.jobs[job]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", xerrors.ErrNotFound, job)
	}

	if r.lock != nil {
		release, err := r.lock.TryAcquire(ctx, job, r.lockTTL)
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrBusy
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				r.logger.Warn("failed to release sweep lock", zap.String("job", job), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	res, err := fn(ctx, r.now(), limit)
	if err != nil {
		r.logger.Error("sweep failed", zap.String("job", job), zap.Error(err))
		return nil, err
	}
	r.logger.Debug("sweep completed", zap.String("job", job), zap.Duration("took", time.Since(start)))
	return res, nil
}

// RunAll executes every job once. A busy or failing job does not stop the rest.
func (r *Runner) RunAll(ctx context.Context, limit int) []*credit.SweepResult {
	var results []*credit.SweepResult
	for _, job := range r.Jobs() {
		res, err := r.Run(ctx, job, limit)
		if err != nil {
			if !errors.Is(err, ErrBusy) {
				results = append(results, &credit.SweepResult{Job: job, Failed: 1})
			}
			continue
		}
		results = append(results, res)
	}
	return results
}
