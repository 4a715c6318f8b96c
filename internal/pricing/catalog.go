// internal/pricing/catalog.go
package pricing

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"lingua-billing/internal/domain/credit"
	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/BurntSushi/toml"
)

// TierPlan is the catalog entry for one subscription tier.
type TierPlan struct {
	Tier              credit.Tier `toml:"tier" json:"tier"`
	Name              string      `toml:"name" json:"name"`
	Rank              int         `toml:"rank" json:"rank"`
	MonthlyPrice      int64       `toml:"monthly_price" json:"monthly_price"`
	MonthlyCredits    int64       `toml:"monthly_credits" json:"monthly_credits"`
	UnlimitedTextChat bool        `toml:"unlimited_text_chat" json:"unlimited_text_chat"`
	Features          []string    `toml:"features" json:"features"`
}

type TrialParams struct {
	Days         int   `toml:"days" json:"days"`
	TotalCredits int64 `toml:"total_credits" json:"total_credits"`
	DailyLimit   int64 `toml:"daily_limit" json:"daily_limit"`
}

type DurationDiscount struct {
	Months  int `toml:"months" json:"months"`
	Percent int `toml:"percent" json:"percent"`
}

// ModelPricing is USD per million tokens.
type ModelPricing struct {
	TextInputPerMillion   float64 `toml:"text_input_per_million" json:"text_input_per_million"`
	TextOutputPerMillion  float64 `toml:"text_output_per_million" json:"text_output_per_million"`
	AudioInputPerMillion  float64 `toml:"audio_input_per_million" json:"audio_input_per_million"`
	AudioOutputPerMillion float64 `toml:"audio_output_per_million" json:"audio_output_per_million"`
}

// Catalog is the versioned pricing configuration injected into every service.
type Catalog struct {
	Version       string  `toml:"version" json:"version"`
	Currency      string  `toml:"currency" json:"currency"`
	CreditsPerUSD float64 `toml:"credits_per_usd" json:"credits_per_usd"`

	Trial             TrialParams        `toml:"trial" json:"trial"`
	Tiers             []TierPlan         `toml:"tiers" json:"tiers"`
	DurationDiscounts []DurationDiscount `toml:"duration_discounts" json:"duration_discounts"`

	// Credits per estimated unit, keyed by usage type (minutes for voice, messages for text).
	UsageEstimates map[string]float64 `toml:"usage_estimates" json:"usage_estimates"`

	DefaultModel               string                  `toml:"default_model" json:"default_model"`
	Models                     map[string]ModelPricing `toml:"models" json:"models"`
	TranscriptionPerMinute     float64                 `toml:"transcription_per_minute" json:"transcription_per_minute"`
	SpeechPerMillionCharacters float64                 `toml:"speech_per_million_characters" json:"speech_per_million_characters"`
	ThresholdPercents          []int                   `toml:"threshold_percents" json:"threshold_percents"`
	PaymentExpiryHours         int                     `toml:"payment_expiry_hours" json:"payment_expiry_hours"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Version:       "2025.1",
		Currency:      "IDR",
		CreditsPerUSD: 10000,
		Trial: TrialParams{
			Days:         7,
			TotalCredits: 5000,
			DailyLimit:   1000,
		},
		Tiers: []TierPlan{
			{
				Tier: credit.TierFree, Name: "Free", Rank: 0,
				Features: []string{"7-day trial", "Text chat", "Voice practice"},
			},
			{
				Tier: credit.TierBasic, Name: "Basic", Rank: 1,
				MonthlyPrice: 59000, MonthlyCredits: 30000,
				Features: []string{"30,000 credits / month", "Voice practice", "Flashcards"},
			},
			{
				Tier: credit.TierPro, Name: "Pro", Rank: 2,
				MonthlyPrice: 99000, MonthlyCredits: 80000, UnlimitedTextChat: true,
				Features: []string{"80,000 credits / month", "Unlimited text chat", "Realtime conversation"},
			},
		},
		DurationDiscounts: []DurationDiscount{
			{Months: 1, Percent: 0},
			{Months: 3, Percent: 10},
			{Months: 6, Percent: 15},
			{Months: 12, Percent: 25},
		},
		UsageEstimates: map[string]float64{
			string(credit.UsageVoiceStandard): 30,
			string(credit.UsageRealtime):      150,
			string(credit.UsageTextChat):      5,
		},
		DefaultModel: "gpt-4o-mini",
		Models: map[string]ModelPricing{
			"gpt-4o-mini": {TextInputPerMillion: 0.15, TextOutputPerMillion: 0.60},
			"gpt-4o":      {TextInputPerMillion: 2.50, TextOutputPerMillion: 10.00},
			"gpt-4o-realtime-preview": {
				TextInputPerMillion: 5.00, TextOutputPerMillion: 20.00,
				AudioInputPerMillion: 40.00, AudioOutputPerMillion: 80.00,
			},
			"gpt-4o-mini-realtime-preview": {
				TextInputPerMillion: 0.60, TextOutputPerMillion: 2.40,
				AudioInputPerMillion: 10.00, AudioOutputPerMillion: 20.00,
			},
		},
		TranscriptionPerMinute:     0.006,
		SpeechPerMillionCharacters: 15.00,
		ThresholdPercents:          []int{80, 95, 100},
		PaymentExpiryHours:         24,
	}
}

// LoadCatalog reads a TOML catalog file. Fields missing from the file keep
// their built-in defaults.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(string(b))
}

// ParseCatalog decodes a TOML catalog document.
func ParseCatalog(doc string) (*Catalog, error) {
	cat := DefaultCatalog()
	// Replace list-valued defaults wholesale when the document sets them
	var probe struct {
		Tiers             []TierPlan         `toml:"tiers"`
		DurationDiscounts []DurationDiscount `toml:"duration_discounts"`
		ThresholdPercents []int              `toml:"threshold_percents"`
	}
	if _, err := toml.Decode(doc, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(probe.Tiers) > 0 {
		cat.Tiers = nil
	}
	if len(probe.DurationDiscounts) > 0 {
		cat.DurationDiscounts = nil
	}
	if len(probe.ThresholdPercents) > 0 {
		cat.ThresholdPercents = nil
	}

	if _, err := toml.Decode(doc, cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate rejects catalogs the services cannot price against.
func (c *Catalog) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: catalog version is required", xerrors.ErrInvalidInput)
	}
	if c.CreditsPerUSD <= 0 {
		return fmt.Errorf("%w: credits_per_usd must be positive", xerrors.ErrInvalidInput)
	}
	if c.Trial.TotalCredits <= 0 || c.Trial.Days <= 0 {
		return fmt.Errorf("%w: trial credits and days must be positive", xerrors.ErrInvalidInput)
	}
	if c.Trial.DailyLimit <= 0 {
		return fmt.Errorf("%w: trial daily limit must be positive", xerrors.ErrInvalidInput)
	}

	seen := make(map[credit.Tier]bool, len(c.Tiers))
	for _, p := range c.Tiers {
		if !p.Tier.Valid() {
			return fmt.Errorf("%w: unknown tier %q", xerrors.ErrInvalidInput, p.Tier)
		}
		if p.MonthlyPrice < 0 || p.MonthlyCredits < 0 {
			return fmt.Errorf("%w: tier %s has negative price or credits", xerrors.ErrInvalidInput, p.Tier)
		}
		if p.Tier.IsPaid() && p.MonthlyPrice == 0 {
			return fmt.Errorf("%w: paid tier %s has no price", xerrors.ErrInvalidInput, p.Tier)
		}
		seen[p.Tier] = true
	}
	for _, t := range []credit.Tier{credit.TierFree, credit.TierBasic, credit.TierPro} {
		if !seen[t] {
			return fmt.Errorf("%w: catalog is missing tier %s", xerrors.ErrInvalidInput, t)
		}
	}

	hasMonthly := false
	for _, d := range c.DurationDiscounts {
		if d.Months <= 0 || d.Percent < 0 || d.Percent >= 100 {
			return fmt.Errorf("%w: invalid duration discount %+v", xerrors.ErrInvalidInput, d)
		}
		if d.Months == 1 {
			hasMonthly = true
		}
	}
	if !hasMonthly {
		return fmt.Errorf("%w: catalog must offer a 1-month duration", xerrors.ErrInvalidInput)
	}

	if _, ok := c.Models[c.DefaultModel]; !ok {
		return fmt.Errorf("%w: default model %q has no pricing", xerrors.ErrInvalidInput, c.DefaultModel)
	}
	return nil
}

// Current lets a fixed *Catalog serve as a Source.
func (c *Catalog) Current() *Catalog {
	return c
}

// Plan returns the entry for tier.
func (c *Catalog) Plan(tier credit.Tier) (TierPlan, bool) {
	for _, p := range c.Tiers {
		if p.Tier == tier {
			return p, true
		}
	}
	return TierPlan{}, false
}

// MustPlan returns the entry for tier or a zero FREE-like plan.
func (c *Catalog) MustPlan(tier credit.Tier) TierPlan {
	p, _ := c.Plan(tier)
	return p
}

// Rank orders tiers for upgrade/downgrade decisions.
func (c *Catalog) Rank(tier credit.Tier) int {
	return c.MustPlan(tier).Rank
}

// DurationDiscountPercent returns the discount for a purchase length.
func (c *Catalog) DurationDiscountPercent(months int) (int, bool) {
	for _, d := range c.DurationDiscounts {
		if d.Months == months {
			return d.Percent, true
		}
	}
	return 0, false
}

// Durations lists the purchasable lengths in ascending order.
func (c *Catalog) Durations() []int {
	out := make([]int, 0, len(c.DurationDiscounts))
	for _, d := range c.DurationDiscounts {
		out = append(out, d.Months)
	}
	sort.Ints(out)
	return out
}

// Quote prices a tier purchase before vouchers.
func (c *Catalog) Quote(tier credit.Tier, months int) (base int64, discount int64, err error) {
	plan, ok := c.Plan(tier)
	if !ok || !tier.IsPaid() {
		return 0, 0, fmt.Errorf("%w: tier %s cannot be purchased", xerrors.ErrInvalidInput, tier)
	}
	percent, ok := c.DurationDiscountPercent(months)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unsupported duration %d months", xerrors.ErrInvalidInput, months)
	}
	base = plan.MonthlyPrice * int64(months)
	discount = base * int64(percent) / 100
	return base, discount, nil
}

// Thresholds returns the usage percentages that trigger notifications.
func (c *Catalog) Thresholds() []int {
	if len(c.ThresholdPercents) == 0 {
		return []int{80, 95, 100}
	}
	out := append([]int(nil), c.ThresholdPercents...)
	sort.Ints(out)
	return out
}

// Source yields the catalog in effect.
type Source interface {
	Current() *Catalog
}

// Reloader swaps the catalog at runtime so price changes need no redeploy.
type Reloader struct {
	path    string
	current atomic.Pointer[Catalog]
}

func NewReloader(path string, initial *Catalog) *Reloader {
	r := &Reloader{path: path}
	r.current.Store(initial)
	return r
}

func (r *Reloader) Current() *Catalog {
	return r.current.Load()
}

// Reload re-reads the file. The previous catalog stays in effect on error.
func (r *Reloader) Reload() (*Catalog, error) {
	if r.path == "" {
		return r.Current(), nil
	}
	cat, err := LoadCatalog(r.path)
	if err != nil {
		return nil, err
	}
	r.current.Store(cat)
	return cat, nil
}
