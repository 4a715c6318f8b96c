package tierchange

import (
	"context"
	"testing"
	"time"

	"lingua-billing/internal/domain/credit"
	xerrors "lingua-billing/internal/pkg/errors"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/repository"
	"lingua-billing/internal/repository/memory"
	"lingua-billing/internal/service/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store  *memory.Store
	ledger *ledger.LedgerService
	svc    *TierChangeService
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		now:   time.Date(2025, time.May, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	cat := pricing.DefaultCatalog()
	f.ledger = ledger.NewLedgerService(f.store, f.store, cat, nil, zap.NewNop(), ledger.WithClock(clock))
	f.svc = NewTierChangeService(f.store, f.store, cat, nil, zap.NewNop(), WithClock(clock))
	return f
}

func (f *fixture) user(t *testing.T, id string) {
	t.Helper()
	f.store.SetEmail(id, id+"@example.com")
	_, err := f.ledger.GetOrCreateSubscription(context.Background(), id)
	require.NoError(t, err)
}

func (f *fixture) buy(t *testing.T, userID string, tier credit.Tier, months int) *Outcome {
	t.Helper()
	var out *Outcome
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = f.svc.ApplyPurchase(ctx, tx, Purchase{UserID: userID, Tier: tier, Months: months, ReferenceID: "SUB-test"})
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) sub(t *testing.T, userID string) *credit.Subscription {
	t.Helper()
	sub, err := f.store.FindSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) requireBalanced(t *testing.T, userID string) {
	t.Helper()
	audit, err := f.ledger.VerifyLedger(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "ledger sum %d != balance %d", audit.Sum, audit.Expected)
}

func TestDecide(t *testing.T) {
	cat := pricing.DefaultCatalog()
	now := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)
	free := credit.TierFree

	paid := func(tier credit.Tier, scheduled *credit.Tier) *credit.Subscription {
		return &credit.Subscription{Tier: tier, CurrentPeriodEnd: end, ScheduledTier: scheduled}
	}

	tests := []struct {
		name      string
		sub       *credit.Subscription
		target    credit.Tier
		want      ChangeType
		allowed   bool
		effective time.Time
	}{
		{"no subscription", nil, credit.TierBasic, ChangeNew, true, now},
		{"free to pro", &credit.Subscription{Tier: credit.TierFree}, credit.TierPro, ChangeNew, true, now},
		{"same tier", paid(credit.TierBasic, nil), credit.TierBasic, ChangeSame, false, now},
		{"same tier with pending downgrade", paid(credit.TierPro, &free), credit.TierPro, ChangeSame, true, now},
		{"upgrade", paid(credit.TierBasic, nil), credit.TierPro, ChangeUpgrade, true, now},
		{"downgrade", paid(credit.TierPro, nil), credit.TierBasic, ChangeDowngrade, true, end},
		{"cancel", paid(credit.TierPro, nil), credit.TierFree, ChangeDowngrade, true, end},
		{"cancel on free", &credit.Subscription{Tier: credit.TierFree}, credit.TierFree, ChangeDowngrade, false, now},
		{
			"lapsed paid buys same tier",
			&credit.Subscription{Tier: credit.TierBasic, CurrentPeriodEnd: now.Add(-time.Hour)},
			credit.TierBasic, ChangeNew, true, now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.sub, tt.target, cat, now)
			assert.Equal(t, tt.want, d.Type)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.effective, d.EffectiveAt)
		})
	}
}

func TestNewPurchaseGrantsUpfrontAndKeepsTrial(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")

	out := f.buy(t, "u1", credit.TierBasic, 3)
	assert.Equal(t, ChangeNew, out.Decision.Type)
	require.NotNil(t, out.Transaction)
	assert.EqualValues(t, 90000, out.Transaction.Amount)

	sub := f.sub(t, "u1")
	assert.Equal(t, credit.TierBasic, sub.Tier)
	assert.EqualValues(t, 90000, sub.CreditsRemaining)
	assert.EqualValues(t, 5000, sub.TrialCreditsRemaining())
	assert.Equal(t, f.now.AddDate(0, 3, 0), sub.CurrentPeriodEnd)
	f.requireBalanced(t, "u1")

	rec, err := f.store.FindTrialHistory(context.Background(), "u1@example.com")
	require.NoError(t, err)
	assert.True(t, rec.WasUpgraded)
}

func TestUpgradeCarriesOverUnusedCredits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierBasic, 1)

	// 5000 trial first, then 1000 from BASIC
	_, err := f.ledger.DeductCreditsFromUsage(ctx, &credit.DeductRequest{
		UserID: "u1",
		Usage:  credit.TokenUsage{Model: "gpt-4o", UsageType: credit.UsageRealtime, OutputTokens: 60000},
	})
	require.NoError(t, err)

	out := f.buy(t, "u1", credit.TierPro, 1)
	assert.Equal(t, ChangeUpgrade, out.Decision.Type)

	sub := f.sub(t, "u1")
	assert.Equal(t, credit.TierPro, sub.Tier)
	assert.EqualValues(t, 29000+80000, sub.CreditsRemaining)
	assert.EqualValues(t, 0, sub.CreditsUsed)
	assert.EqualValues(t, 29000, out.Transaction.Metadata["carried_over"])
	f.requireBalanced(t, "u1")
}

func TestDowngradeIsDeferredToPeriodEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierPro, 1)
	periodEnd := f.sub(t, "u1").CurrentPeriodEnd

	out := f.buy(t, "u1", credit.TierBasic, 3)
	assert.Equal(t, ChangeDowngrade, out.Decision.Type)
	assert.Nil(t, out.Transaction)

	sub := f.sub(t, "u1")
	assert.Equal(t, credit.TierPro, sub.Tier)
	assert.EqualValues(t, 80000, sub.CreditsRemaining)
	require.NotNil(t, sub.ScheduledTier)
	assert.Equal(t, credit.TierBasic, *sub.ScheduledTier)
	assert.Equal(t, periodEnd, *sub.ScheduledTierStartAt)

	res, err := f.svc.ProcessScheduledTierChanges(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
	assert.Equal(t, credit.TierPro, f.sub(t, "u1").Tier)

	f.now = periodEnd.Add(time.Minute)
	res, err = f.svc.ProcessScheduledTierChanges(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	sub = f.sub(t, "u1")
	assert.Equal(t, credit.TierBasic, sub.Tier)
	assert.EqualValues(t, 90000, sub.CreditsRemaining)
	assert.Equal(t, periodEnd, sub.CurrentPeriodStart)
	assert.Equal(t, periodEnd.AddDate(0, 3, 0), sub.CurrentPeriodEnd)
	assert.False(t, sub.HasScheduledChange())
	f.requireBalanced(t, "u1")

	// Re-running is a no-op
	res, err = f.svc.ProcessScheduledTierChanges(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
}

func TestCancelAndProcess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierBasic, 1)

	sub, err := f.svc.CancelSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, credit.TierBasic, f.sub(t, "u1").Tier)

	f.now = sub.CurrentPeriodEnd
	res, err := f.svc.ProcessScheduledTierChanges(ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	sub = f.sub(t, "u1")
	assert.Equal(t, credit.TierFree, sub.Tier)
	assert.Equal(t, credit.StatusCanceled, sub.Status)
	assert.EqualValues(t, 0, sub.CreditsTotal)
	assert.Equal(t, credit.FarFuture, sub.CurrentPeriodEnd)
	f.requireBalanced(t, "u1")
}

func TestReactivateClearsPendingCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierPro, 1)

	_, err := f.svc.CancelSubscription(ctx, "u1")
	require.NoError(t, err)

	sub, err := f.svc.ReactivateSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, sub.HasScheduledChange())
	assert.False(t, sub.CancelAtPeriodEnd)

	_, err = f.svc.ReactivateSubscription(ctx, "u1")
	assert.ErrorIs(t, err, xerrors.ErrInvalidTierChange)
}

func TestSamePurchaseCancelsPendingDowngradeAndExtends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierPro, 1)
	end := f.sub(t, "u1").CurrentPeriodEnd

	_, err := f.svc.CancelSubscription(ctx, "u1")
	require.NoError(t, err)

	d, err := f.svc.Validate(ctx, "u1", credit.TierPro)
	require.NoError(t, err)
	assert.Equal(t, ChangeSame, d.Type)
	assert.True(t, d.Allowed)

	f.buy(t, "u1", credit.TierPro, 1)
	sub := f.sub(t, "u1")
	assert.False(t, sub.HasScheduledChange())
	assert.Equal(t, end.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
	assert.EqualValues(t, 160000, sub.CreditsRemaining)
	f.requireBalanced(t, "u1")
}

func TestValidateRejectsDuplicateSameTier(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierBasic, 1)

	d, err := f.svc.Validate(context.Background(), "u1", credit.TierBasic)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAlreadySubscribed, d.Reason)
}

func TestScheduleDowngradeLastWriteWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "u1")
	f.buy(t, "u1", credit.TierPro, 1)

	_, err := f.svc.ScheduleDowngrade(ctx, "u1", credit.TierBasic, 3)
	require.NoError(t, err)

	sub, err := f.svc.CancelSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub.ScheduledTier)
	assert.Equal(t, credit.TierFree, *sub.ScheduledTier)
	assert.Nil(t, sub.ScheduledDurationMonths)

	_, err = f.svc.ScheduleDowngrade(ctx, "u1", credit.TierPro, 1)
	assert.ErrorIs(t, err, xerrors.ErrInvalidTierChange)
}
