// internal/domain/trial/entity.go
package trial

import (
	"strings"
	"time"
)

// HistoryRecord tracks trial use per normalized email. It outlives the user account.
type HistoryRecord struct {
	Email          string     `json:"email" db:"email"`
	HasUsedTrial   bool       `json:"has_used_trial" db:"has_used_trial"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty" db:"trial_started_at"`
	TrialEndedAt   *time.Time `json:"trial_ended_at,omitempty" db:"trial_ended_at"`
	WasUpgraded    bool       `json:"was_upgraded" db:"was_upgraded"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail folds addresses that deliver to the same inbox.
// Gmail ignores dots and +tags in the local part.
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return email
	}

	local, domain := email[:at], email[at+1:]
	if domain == "gmail.com" || domain == "googlemail.com" {
		if plus := strings.Index(local, "+"); plus >= 0 {
			local = local[:plus]
		}
		local = strings.ReplaceAll(local, ".", "")
		domain = "gmail.com"
	}
	return local + "@" + domain
}
