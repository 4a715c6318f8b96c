// internal/service/tierchange/decision.go
package tierchange

import (
	"time"

	"lingua-billing/internal/domain/credit"
	"lingua-billing/internal/pricing"
	"lingua-billing/internal/service/ledger"
)

type ChangeType string

const (
	ChangeNew       ChangeType = "new"
	ChangeSame      ChangeType = "same"
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
)

const ReasonAlreadySubscribed = "already subscribed"

// Decision is the outcome of evaluating a move from the current tier to a target.
type Decision struct {
	Type        ChangeType  `json:"type"`
	Allowed     bool        `json:"allowed"`
	Reason      string      `json:"reason,omitempty"`
	CurrentTier credit.Tier `json:"current_tier"`
	TargetTier  credit.Tier `json:"target_tier"`
	EffectiveAt time.Time   `json:"effective_at"`
}

// Immediate reports whether the change applies at purchase time.
func (d Decision) Immediate() bool {
	return d.Type != ChangeDowngrade
}

// lapsed subscriptions are treated as FREE until the expiry sweep catches up.
func lapsed(sub *credit.Subscription, now time.Time) bool {
	return ledger.Lapsed(sub, now)
}

// Decide evaluates the tier state machine. A nil sub means no subscription yet.
func Decide(sub *credit.Subscription, target credit.Tier, cat *pricing.Catalog, now time.Time) Decision {
	d := Decision{TargetTier: target, CurrentTier: credit.TierFree, EffectiveAt: now}
	if sub != nil {
		d.CurrentTier = sub.Tier
	}

	switch {
	case sub == nil || sub.Tier == credit.TierFree || lapsed(sub, now):
		if !target.IsPaid() {
			d.Type = ChangeDowngrade
			d.Reason = "no paid subscription to cancel"
			return d
		}
		d.Type = ChangeNew
		d.Allowed = true

	case sub.Tier == target:
		d.Type = ChangeSame
		if !sub.HasScheduledChange() {
			d.Reason = ReasonAlreadySubscribed
			return d
		}
		d.Allowed = true

	case cat.Rank(target) > cat.Rank(sub.Tier):
		d.Type = ChangeUpgrade
		d.Allowed = true

	default:
		d.Type = ChangeDowngrade
		d.Allowed = true
		d.EffectiveAt = sub.CurrentPeriodEnd
	}
	return d
}
