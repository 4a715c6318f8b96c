// internal/domain/credit/dto.go
package credit

import "time"

// TokenUsage is the raw usage record reported by AI callers. Callers never
// compute credits themselves.
type TokenUsage struct {
	Model                string    `json:"model" binding:"required"`
	UsageType            UsageType `json:"usage_type" binding:"required"`
	InputTokens          int64     `json:"input_tokens,omitempty"`
	OutputTokens         int64     `json:"output_tokens,omitempty"`
	AudioDurationSeconds float64   `json:"audio_duration_seconds,omitempty"`
	AudioInputTokens     int64     `json:"audio_input_tokens,omitempty"`
	AudioOutputTokens    int64     `json:"audio_output_tokens,omitempty"`
	CharacterCount       int64     `json:"character_count,omitempty"`
}

type CreditCheck struct {
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason,omitempty"`
	CreditsRequired  int64  `json:"credits_required"`
	CreditsAvailable int64  `json:"credits_available"`
	IsTrialUser      bool   `json:"is_trial_user"`
	TrialDaysLeft    int    `json:"trial_days_left,omitempty"`
}

type CheckCreditsRequest struct {
	UsageType      UsageType `json:"usage_type" binding:"required"`
	EstimatedUnits float64   `json:"estimated_units" binding:"required,gt=0"`
}

type DeductRequest struct {
	UserID        string     `json:"user_id" binding:"required"`
	Usage         TokenUsage `json:"usage" binding:"required"`
	ReferenceID   string     `json:"reference_id,omitempty"`
	ReferenceType string     `json:"reference_type,omitempty"`
	Description   string     `json:"description,omitempty"`
	ForceDeduct   bool       `json:"force_deduct,omitempty"`
}

type DeductResult struct {
	Credits     int64              `json:"credits"`
	USDCost     float64            `json:"usd_cost"`
	Transaction *CreditTransaction `json:"transaction,omitempty"`
}

type CreditBalance struct {
	Tier                  Tier               `json:"tier"`
	Status                SubscriptionStatus `json:"status"`
	CreditsTotal          int64              `json:"credits_total"`
	CreditsUsed           int64              `json:"credits_used"`
	CreditsRemaining      int64              `json:"credits_remaining"`
	TrialCreditsRemaining int64              `json:"trial_credits_remaining"`
	TrialActive           bool               `json:"trial_active"`
	TrialEndDate          *time.Time         `json:"trial_end_date,omitempty"`
	TotalAvailable        int64              `json:"total_available"`
	CurrentPeriodEnd      time.Time          `json:"current_period_end"`
	ScheduledTier         *Tier              `json:"scheduled_tier,omitempty"`
	ScheduledTierStartAt  *time.Time         `json:"scheduled_tier_start_at,omitempty"`
}

type HistoryFilters struct {
	Type     *TransactionType `form:"type"`
	From     *time.Time       `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To       *time.Time       `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page     int              `form:"page"`
	PageSize int              `form:"page_size"`
}

type HistoryResponse struct {
	Transactions []CreditTransaction `json:"transactions"`
	Total        int64               `json:"total"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	TotalPages   int                 `json:"total_pages"`
}

// LedgerAudit compares the ledger's running sum with the aggregate counters.
type LedgerAudit struct {
	UserID     string `json:"user_id"`
	Sum        int64  `json:"sum"`
	Expected   int64  `json:"expected"`
	Consistent bool   `json:"consistent"`
}

type AdjustCreditsRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Reason      string `json:"reason" binding:"required"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// SweepResult summarises one batch job run.
type SweepResult struct {
	Job       string   `json:"job"`
	Scanned   int      `json:"scanned"`
	Applied   int      `json:"applied"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Fail records a per-row failure without aborting the run.
func (r *SweepResult) Fail(id string) {
	r.Failed++
	r.FailedIDs = append(r.FailedIDs, id)
}
