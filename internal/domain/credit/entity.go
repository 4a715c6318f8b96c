// internal/domain/credit/entity.go
package credit

import (
	"time"
)

type Tier string

const (
	TierFree  Tier = "FREE"
	TierBasic Tier = "BASIC"
	TierPro   Tier = "PRO"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro:
		return true
	}
	return false
}

// IsPaid reports whether t is a paid tier.
func (t Tier) IsPaid() bool {
	return t == TierBasic || t == TierPro
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusExpired  SubscriptionStatus = "EXPIRED"
	StatusCanceled SubscriptionStatus = "CANCELED"
)

type TransactionType string

const (
	TxGrant      TransactionType = "GRANT"
	TxTrialGrant TransactionType = "TRIAL_GRANT"
	TxUsage      TransactionType = "USAGE"
	TxRefund     TransactionType = "REFUND"
	TxBonus      TransactionType = "BONUS"
	TxAdjustment TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxGrant, TxTrialGrant, TxUsage, TxRefund, TxBonus, TxAdjustment:
		return true
	}
	return false
}

type UsageType string

const (
	UsageVoiceStandard UsageType = "VOICE_STANDARD"
	UsageRealtime      UsageType = "REALTIME"
	UsageTextChat      UsageType = "TEXT_CHAT"
)

// Valid reports whether u is a known usage type.
func (u UsageType) Valid() bool {
	switch u {
	case UsageVoiceStandard, UsageRealtime, UsageTextChat:
		return true
	}
	return false
}

// FarFuture is the period end used for FREE subscriptions, which never expire.
var FarFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Subscription is the per-user credit aggregate. Owned by the ledger service.
type Subscription struct {
	ID     string             `json:"id" db:"id"`
	UserID string             `json:"user_id" db:"user_id"`
	Tier   Tier               `json:"tier" db:"tier"`
	Status SubscriptionStatus `json:"status" db:"status"`

	CurrentPeriodStart time.Time `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" db:"current_period_end"`

	// Subscription credits; CreditsTotal == CreditsUsed + CreditsRemaining
	CreditsTotal     int64 `json:"credits_total" db:"credits_total"`
	CreditsUsed      int64 `json:"credits_used" db:"credits_used"`
	CreditsRemaining int64 `json:"credits_remaining" db:"credits_remaining"`

	// Trial pool
	TrialStartDate    *time.Time `json:"trial_start_date,omitempty" db:"trial_start_date"`
	TrialEndDate      *time.Time `json:"trial_end_date,omitempty" db:"trial_end_date"`
	TrialCreditsTotal int64      `json:"trial_credits_total" db:"trial_credits_total"`
	TrialCreditsUsed  int64      `json:"trial_credits_used" db:"trial_credits_used"`
	TrialDailyUsed    int64      `json:"trial_daily_used" db:"trial_daily_used"`
	TrialDailyReset   *time.Time `json:"trial_daily_reset,omitempty" db:"trial_daily_reset"`

	// Pending tier change
	ScheduledTier           *Tier      `json:"scheduled_tier,omitempty" db:"scheduled_tier"`
	ScheduledTierStartAt    *time.Time `json:"scheduled_tier_start_at,omitempty" db:"scheduled_tier_start_at"`
	ScheduledDurationMonths *int       `json:"scheduled_duration_months,omitempty" db:"scheduled_duration_months"`

	CancelAtPeriodEnd bool `json:"cancel_at_period_end" db:"cancel_at_period_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TrialCreditsRemaining is the unspent trial pool, ignoring expiry.
func (s *Subscription) TrialCreditsRemaining() int64 {
	r := s.TrialCreditsTotal - s.TrialCreditsUsed
	if r < 0 {
		return 0
	}
	return r
}

// TrialActive reports whether the trial window is open at now.
func (s *Subscription) TrialActive(now time.Time) bool {
	return s.TrialEndDate != nil && now.Before(*s.TrialEndDate)
}

// SpendableTrialCredits is the trial remainder usable at now (zero once the trial ends).
func (s *Subscription) SpendableTrialCredits(now time.Time) int64 {
	if !s.TrialActive(now) {
		return 0
	}
	return s.TrialCreditsRemaining()
}

// DailyTrialUsed returns today's trial usage, treating a passed reset as zero.
func (s *Subscription) DailyTrialUsed(now time.Time) int64 {
	if s.TrialDailyReset == nil || !now.Before(*s.TrialDailyReset) {
		return 0
	}
	return s.TrialDailyUsed
}

// CombinedBalance is what the ledger's running sum must equal.
func (s *Subscription) CombinedBalance() int64 {
	return s.CreditsRemaining + s.TrialCreditsRemaining()
}

// HasScheduledChange reports whether a tier change is pending.
func (s *Subscription) HasScheduledChange() bool {
	return s.ScheduledTier != nil
}

// ClearSchedule drops any pending tier change.
func (s *Subscription) ClearSchedule() {
	s.ScheduledTier = nil
	s.ScheduledTierStartAt = nil
	s.ScheduledDurationMonths = nil
	s.CancelAtPeriodEnd = false
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	cp := *s
	cp.TrialStartDate = cloneTime(s.TrialStartDate)
	cp.TrialEndDate = cloneTime(s.TrialEndDate)
	cp.TrialDailyReset = cloneTime(s.TrialDailyReset)
	cp.ScheduledTierStartAt = cloneTime(s.ScheduledTierStartAt)
	if s.ScheduledTier != nil {
		t := *s.ScheduledTier
		cp.ScheduledTier = &t
	}
	if s.ScheduledDurationMonths != nil {
		m := *s.ScheduledDurationMonths
		cp.ScheduledDurationMonths = &m
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreditTransaction is an immutable ledger entry.
type CreditTransaction struct {
	ID             string                 `json:"id" db:"id"`
	UserID         string                 `json:"user_id" db:"user_id"`
	Type           TransactionType        `json:"type" db:"type"`
	Amount         int64                  `json:"amount" db:"amount"`
	Balance        int64                  `json:"balance" db:"balance"`
	UsageType      *UsageType             `json:"usage_type,omitempty" db:"usage_type"`
	ReferenceID    string                 `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType  string                 `json:"reference_type,omitempty" db:"reference_type"`
	Description    string                 `json:"description,omitempty" db:"description"`
	CatalogVersion string                 `json:"catalog_version" db:"catalog_version"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}
