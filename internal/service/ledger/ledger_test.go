package ledger

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/domain/notification"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository/memory"
	notifysvc "lingua-billing/internal/service/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc   *LedgerService
	store *memory.Store
	notes *memory.NotificationStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		notes: memory.NewNotificationStore(),
		now:   time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
	notifier := notifysvc.NewNotificationService(f.notes, nil, zap.NewNop())
	f.svc = NewLedgerService(f.store, f.store, pricing.DefaultCatalog(), notifier, zap.NewNop(),
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) user(t *testing.T, id, email string) *credit.Subscription {
	t.Helper()
	f.store.SetEmail(id, email)
	sub, err := f.svc.GetOrCreateSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) history(t *testing.T, userID string) []credit.CreditTransaction {
	t.Helper()
	txns, _, err := f.store.ListTransactions(context.Background(), userID, nil)
	require.NoError(t, err)
	return txns
}

func (f *fixture) requireBalanced(t *testing.T, userID string) {
	t.Helper()
	audit, err := f.svc.VerifyLedger(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "ledger sum %d != balance %d", audit.Sum, audit.Expected)
}

func (f *fixture) thresholdNotes(userID string) []int {
	var out []int
	for _, n := range f.notes.All() {
		if n.UserID == userID && n.Type == notification.TypeCreditThreshold {
			out = append(out, n.Metadata["threshold"].(int))
		}
	}
	return out
}

// gpt-4o output is $10 per million tokens, so 10 output tokens cost 1 credit.
func gpt4oUsage(usageType credit.UsageType, credits int64) credit.TokenUsage {
	return credit.TokenUsage{Model: "gpt-4o", UsageType: usageType, OutputTokens: credits * 10}
}

func (f *fixture) deduct(t *testing.T, userID string, credits int64) *credit.DeductResult {
	t.Helper()
	res, err := f.svc.DeductCreditsFromUsage(context.Background(), &credit.DeductRequest{
		UserID: userID,
		Usage:  gpt4oUsage(credit.UsageVoiceStandard, credits),
	})
	require.NoError(t, err)
	require.Equal(t, credits, res.Credits)
	return res
}

func TestFirstCallGrantsTrial(t *testing.T) {
	f := newFixture(t)
	sub := f.user(t, "u1", "new@example.com")

	assert.Equal(t, credit.TierFree, sub.Tier)
	assert.EqualValues(t, 0, sub.TrialCreditsUsed)
	assert.EqualValues(t, 5000, sub.TrialCreditsTotal)
	require.NotNil(t, sub.TrialEndDate)
	assert.Equal(t, f.now.AddDate(0, 0, 7), *sub.TrialEndDate)

	txns := f.history(t, "u1")
	require.Len(t, txns, 1)
	assert.Equal(t, credit.TxTrialGrant, txns[0].Type)
	assert.EqualValues(t, 5000, txns[0].Amount)
	assert.EqualValues(t, 5000, txns[0].Balance)
	assert.Equal(t, "2025.1", txns[0].CatalogVersion)

	// Idempotent
	_, err := f.svc.GetOrCreateSubscription(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, f.history(t, "u1"), 1)
	f.requireBalanced(t, "u1")
}

func TestTrialSingleUseAcrossAccountDeletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.user(t, "u1", "Ana.Smith+lingua@gmail.com")
	require.NoError(t, f.svc.HandleAccountDeleted(ctx, "u1", "Ana.Smith+lingua@gmail.com"))
	f.store.DeleteUser("u1")
	f.requireBalanced(t, "u1")

	old, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, credit.StatusCanceled, old.Status)
	assert.EqualValues(t, 0, old.CombinedBalance())

	// Same inbox, different spelling
	f.store.SetEmail("u3", "anasmith@googlemail.com")
	check, err := f.svc.CheckCredits(ctx, "u3", credit.UsageTextChat, 1)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, ReasonNoTrial, check.Reason)

	sub := f.user(t, "u2", "anasmith@gmail.com")
	assert.Nil(t, sub.TrialEndDate)

	txns := f.history(t, "u2")
	require.Len(t, txns, 1)
	assert.Equal(t, credit.TxAdjustment, txns[0].Type)
	assert.EqualValues(t, 0, txns[0].Amount)

	rec, err := f.store.FindTrialHistory(ctx, "anasmith@gmail.com")
	require.NoError(t, err)
	assert.True(t, rec.HasUsedTrial)
	assert.NotNil(t, rec.TrialEndedAt)
}

func TestCheckCreditsTrialEnded(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "old@example.com")

	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		start := f.now.AddDate(0, 0, -14)
		end := start.AddDate(0, 0, 7)
		s.TrialStartDate, s.TrialEndDate = &start, &end
	}))

	check, err := f.svc.CheckCredits(context.Background(), "u1", credit.UsageTextChat, 1)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, "trial ended", check.Reason)
}

func TestCheckCreditsFreeTierRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*credit.Subscription)
		usage     credit.UsageType
		units     float64
		allowed   bool
		reason    string
		available int64
	}{
		{
			name:      "within limits",
			usage:     credit.UsageTextChat,
			units:     1,
			allowed:   true,
			available: 5000,
		},
		{
			name:      "daily limit",
			usage:     credit.UsageVoiceStandard,
			units:     40, // 1200 credits
			reason:    ReasonDailyLimit,
			available: 5000,
		},
		{
			name: "trial pool exhausted",
			mutate: func(s *credit.Subscription) {
				s.TrialCreditsUsed = 4990
			},
			usage:     credit.UsageTextChat,
			units:     5, // 25 credits
			reason:    ReasonTrialExhausted,
			available: 10,
		},
		{
			name: "no trial",
			mutate: func(s *credit.Subscription) {
				s.TrialStartDate, s.TrialEndDate = nil, nil
			},
			usage:  credit.UsageTextChat,
			units:  1,
			reason: ReasonNoTrial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.user(t, "u1", "a@example.com")
			if tt.mutate != nil {
				require.NoError(t, f.store.Mutate("u1", tt.mutate))
			}

			check, err := f.svc.CheckCredits(context.Background(), "u1", tt.usage, tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, check.Allowed)
			assert.Equal(t, tt.reason, check.Reason)
			assert.Equal(t, tt.available, check.CreditsAvailable)
		})
	}
}

func TestCheckCreditsIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.SetEmail("u1", "fresh@example.com")

	check, err := f.svc.CheckCredits(ctx, "u1", credit.UsageRealtime, 2)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.True(t, check.IsTrialUser)
	assert.EqualValues(t, 300, check.CreditsRequired)
	assert.Equal(t, 7, check.TrialDaysLeft)

	_, err = f.store.FindSubscriptionByUser(ctx, "u1")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
	_, err = f.store.FindTrialHistory(ctx, "fresh@example.com")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestCheckCreditsPaidTier(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "pro@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierPro
		s.CreditsTotal, s.CreditsRemaining = 100, 100
		s.CurrentPeriodEnd = f.now.AddDate(0, 1, 0)
	}))

	ctx := context.Background()
	check, err := f.svc.CheckCredits(ctx, "u1", credit.UsageTextChat, 1000)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.EqualValues(t, 0, check.CreditsRequired)

	// 5000 trial + 100 subscription
	check, err = f.svc.CheckCredits(ctx, "u1", credit.UsageRealtime, 35)
	require.NoError(t, err)
	assert.Equal(t, ReasonInsufficient, check.Reason)
	assert.EqualValues(t, 5100, check.CreditsAvailable)

	f.now = f.now.AddDate(0, 2, 0)
	check, err = f.svc.CheckCredits(ctx, "u1", credit.UsageVoiceStandard, 1)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, ReasonSubscriptionLapsed, check.Reason)
}

func TestDeductionSpendsTrialFirst(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "paid@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierBasic
		s.CreditsTotal, s.CreditsRemaining = 1000, 1000
		s.TrialCreditsUsed = 4800
		s.CurrentPeriodEnd = f.now.AddDate(0, 1, 0)
	}))

	res := f.deduct(t, "u1", 250)

	sub, err := f.store.FindSubscriptionByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, sub.TrialCreditsRemaining())
	assert.EqualValues(t, 950, sub.CreditsRemaining)
	assert.EqualValues(t, 50, sub.CreditsUsed)
	assert.EqualValues(t, -250, res.Transaction.Amount)
	assert.EqualValues(t, 950, res.Transaction.Balance)
	assert.EqualValues(t, 200, res.Transaction.Metadata["trial_credits"])
	assert.EqualValues(t, 50, res.Transaction.Metadata["subscription_credits"])
}

func TestThresholdNotificationsAreEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "t@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierBasic
		s.CreditsTotal, s.CreditsUsed, s.CreditsRemaining = 1000, 780, 220
		s.TrialCreditsTotal, s.TrialCreditsUsed = 5000, 5000
		s.CurrentPeriodEnd = f.now.AddDate(0, 1, 0)
	}))

	f.deduct(t, "u1", 40) // 78% -> 82%
	assert.Equal(t, []int{80}, f.thresholdNotes("u1"))

	f.deduct(t, "u1", 80) // 82% -> 90%
	assert.Equal(t, []int{80}, f.thresholdNotes("u1"))

	f.deduct(t, "u1", 50) // 90% -> 95%
	assert.Equal(t, []int{80, 95}, f.thresholdNotes("u1"))
}

func TestCrossedThresholds(t *testing.T) {
	th := []int{80, 95, 100}
	tests := []struct {
		before, after, total int64
		want                 []int
	}{
		{780, 820, 1000, []int{80}},
		{820, 900, 1000, nil},
		{800, 850, 1000, nil},
		{790, 1000, 1000, []int{80, 95, 100}},
		{0, 10, 0, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CrossedThresholds(tt.before, tt.after, tt.total, th),
			"%d -> %d of %d", tt.before, tt.after, tt.total)
	}
}

func TestTrialUsageDoesNotTriggerThresholds(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "trial@example.com")

	f.deduct(t, "u1", 900)
	assert.Empty(t, f.thresholdNotes("u1"))
}

func TestUnlimitedTextChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "pro@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierPro
		s.TrialCreditsTotal, s.TrialCreditsUsed = 5000, 5000
		s.CreditsTotal, s.CreditsRemaining = 500, 500
		s.CurrentPeriodEnd = f.now.AddDate(0, 1, 0)
	}))

	res, err := f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
		UserID: "u1",
		Usage:  gpt4oUsage(credit.UsageTextChat, 30),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Credits)
	require.NotNil(t, res.Transaction)
	assert.EqualValues(t, 0, res.Transaction.Amount)
	assert.Equal(t, true, res.Transaction.Metadata["unlimited_text_chat"])

	res, err = f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
		UserID:      "u1",
		Usage:       gpt4oUsage(credit.UsageTextChat, 30),
		ForceDeduct: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 30, res.Credits)

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 470, sub.CreditsRemaining)
}

func TestZeroCostUsageWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "z@example.com")

	res, err := f.svc.DeductCreditsFromUsage(context.Background(), &credit.DeductRequest{
		UserID: "u1",
		Usage:  credit.TokenUsage{Model: "gpt-4o-mini", UsageType: credit.UsageTextChat},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Credits)
	assert.Nil(t, res.Transaction)
	assert.Len(t, f.history(t, "u1"), 1)
}

func TestDeductRejectsOverdraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "o@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.TrialCreditsUsed = 4990
	}))

	_, err := f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
		UserID: "u1",
		Usage:  gpt4oUsage(credit.UsageVoiceStandard, 40),
	})
	var insufficient *xerrors.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.EqualValues(t, 40, insufficient.Required)
	assert.EqualValues(t, 10, insufficient.Available)

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, sub.TrialCreditsRemaining())
	assert.Len(t, f.history(t, "u1"), 1)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "c@example.com")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
				UserID: "u1",
				Usage:  gpt4oUsage(credit.UsageVoiceStandard, 300),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fail++
				return
			}
			ok++
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, ok)
	assert.Equal(t, 4, fail)

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 200, sub.TrialCreditsRemaining())
	f.requireBalanced(t, "u1")
}

func TestLedgerConservationAcrossLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "life@example.com")
	f.requireBalanced(t, "u1")

	f.deduct(t, "u1", 120)
	f.deduct(t, "u1", 75)
	f.requireBalanced(t, "u1")

	_, err := f.svc.GrantBonusCredits(ctx, &credit.AdjustCreditsRequest{UserID: "u1", Amount: 500, Reason: "support goodwill"})
	require.NoError(t, err)
	_, err = f.svc.RefundCredits(ctx, &credit.AdjustCreditsRequest{UserID: "u1", Amount: 75, Reason: "failed session", ReferenceID: "sess-9"})
	require.NoError(t, err)
	f.requireBalanced(t, "u1")

	// Trial ends and is forfeited
	f.now = f.now.AddDate(0, 0, 8)
	res, err := f.svc.ExpireTrials(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	f.requireBalanced(t, "u1")

	res, err = f.svc.ExpireTrials(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)

	// Paid period via monthly grant, then lapse
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierBasic
		s.CurrentPeriodEnd = f.now
	}))
	txn, err := f.svc.GrantMonthlyCredits(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 30000, txn.Amount)
	f.deduct(t, "u1", 1000)
	f.requireBalanced(t, "u1")

	f.now = f.now.AddDate(0, 1, 1)
	res, err = f.svc.ExpireLapsedSubscriptions(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	f.requireBalanced(t, "u1")

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, credit.TierFree, sub.Tier)
	assert.Equal(t, credit.StatusExpired, sub.Status)
	assert.EqualValues(t, 0, sub.CombinedBalance())

	for _, tx := range f.history(t, "u1") {
		assert.GreaterOrEqual(t, tx.Balance, int64(0))
	}
}

func TestDailyTrialReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "d@example.com")
	f.deduct(t, "u1", 990)

	check, err := f.svc.CheckCredits(ctx, "u1", credit.UsageTextChat, 3)
	require.NoError(t, err)
	assert.Equal(t, ReasonDailyLimit, check.Reason)

	// Next day: lazily reset before the sweep runs
	f.now = f.now.Add(24 * time.Hour)
	check, err = f.svc.CheckCredits(ctx, "u1", credit.UsageTextChat, 3)
	require.NoError(t, err)
	assert.True(t, check.Allowed)

	res, err := f.svc.ResetTrialDailyUsage(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, sub.TrialDailyUsed)
	assert.EqualValues(t, 990, sub.TrialCreditsUsed)

	res, err = f.svc.ResetTrialDailyUsage(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
}

func TestGetHistoryPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "h@example.com")
	for i := int64(1); i <= 4; i++ {
		f.deduct(t, "u1", i*10)
	}

	usage := credit.TxUsage
	resp, err := f.svc.GetHistory(context.Background(), "u1", &credit.HistoryFilters{Type: &usage, Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Transactions, 3)
	assert.EqualValues(t, -40, resp.Transactions[0].Amount)

	bad := credit.TransactionType("BOGUS")
	_, err = f.svc.GetHistory(context.Background(), "u1", &credit.HistoryFilters{Type: &bad})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestBonusRequiresActivePool(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", "b@example.com")
	f.now = f.now.AddDate(0, 0, 30)

	_, err := f.svc.GrantBonusCredits(context.Background(), &credit.AdjustCreditsRequest{UserID: "u1", Amount: 100, Reason: "promo"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestOversizedUsageIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "big@example.com")

	check, err := f.svc.CheckCredits(ctx, "u1", credit.UsageRealtime, 1e300)
	require.ErrorIs(t, err, xerrors.ErrInvalidInput)
	assert.Nil(t, check)

	for name, seconds := range map[string]float64{
		"huge":     1e300,
		"infinite": math.Inf(1),
		"nan":      math.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
				UserID: "u1",
				Usage:  credit.TokenUsage{Model: "gpt-4o-mini", UsageType: credit.UsageVoiceStandard, AudioDurationSeconds: seconds},
			})
			assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
		})
	}

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 5000, sub.TrialCreditsRemaining())
	assert.Len(t, f.history(t, "u1"), 1)
	f.requireBalanced(t, "u1")
}

func TestLapsedSubscriptionCannotSpend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1", "lapsed@example.com")
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		s.Tier = credit.TierPro
		s.TrialCreditsTotal, s.TrialCreditsUsed = 5000, 5000
		s.CreditsTotal, s.CreditsRemaining = 500, 500
		s.CurrentPeriodEnd = f.now.AddDate(0, 0, -3)
	}))

	for _, usageType := range []credit.UsageType{credit.UsageVoiceStandard, credit.UsageTextChat} {
		check, err := f.svc.CheckCredits(ctx, "u1", usageType, 1)
		require.NoError(t, err)
		assert.False(t, check.Allowed, usageType)
		assert.Equal(t, ReasonSubscriptionLapsed, check.Reason, usageType)

		_, err = f.svc.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
			UserID: "u1",
			Usage:  gpt4oUsage(usageType, 300),
		})
		var insufficient *xerrors.InsufficientCreditsError
		require.ErrorAs(t, err, &insufficient, usageType)
		assert.Equal(t, ReasonSubscriptionLapsed, insufficient.Reason)
	}

	sub, err := f.store.FindSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 500, sub.CreditsRemaining)
	assert.Len(t, f.history(t, "u1"), 1)

	// A scheduled change keeps the period spendable until the sweep applies it
	require.NoError(t, f.store.Mutate("u1", func(s *credit.Subscription) {
		tier := credit.TierBasic
		s.ScheduledTier = &tier
	}))
	f.deduct(t, "u1", 300)
}
