// internal/pricing/calculator.go
package pricing

import (
	"fmt"
	"math"

	"lingua-billing/internal/domain/credit"
	xerrors "lingua-billing/internal/pkg/errors"
)

// Cost is the priced result of one usage record.
type Cost struct {
	Credits   int64              `json:"credits"`
	USD       float64            `json:"usd"`
	Model     string             `json:"model"`
	Breakdown map[string]float64 `json:"breakdown"`
}

// Calculator converts usage into credits against a catalog. It holds no state.
type Calculator struct {
	catalog *Catalog
}

func NewCalculator(catalog *Catalog) Calculator {
	return Calculator{catalog: catalog}
}

// MaxCredits bounds any single priced request. Larger results are rejected
// rather than converted, so the ledger never sees a wrapped amount.
const MaxCredits int64 = 1_000_000_000_000_000

// CostOf prices actual usage. Unknown models use the default model's rates.
func (c Calculator) CostOf(usage credit.TokenUsage) (Cost, error) {
	model := usage.Model
	prices, ok := c.catalog.Models[model]
	if !ok {
		model = c.catalog.DefaultModel
		prices = c.catalog.Models[model]
	}

	components := []struct {
		key string
		usd float64
	}{
		{"text_input", float64(usage.InputTokens) * prices.TextInputPerMillion / 1e6},
		{"text_output", float64(usage.OutputTokens) * prices.TextOutputPerMillion / 1e6},
		{"audio_input", float64(usage.AudioInputTokens) * prices.AudioInputPerMillion / 1e6},
		{"audio_output", float64(usage.AudioOutputTokens) * prices.AudioOutputPerMillion / 1e6},
		{"transcription", usage.AudioDurationSeconds / 60 * c.catalog.TranscriptionPerMinute},
		{"speech", float64(usage.CharacterCount) * c.catalog.SpeechPerMillionCharacters / 1e6},
	}

	// Summed in a fixed order so equal usage always yields equal totals
	var usd float64
	breakdown := map[string]float64{}
	for _, comp := range components {
		if comp.usd > 0 {
			usd += comp.usd
			breakdown[comp.key] = comp.usd
		}
	}

	credits, err := c.Credits(usd)
	if err != nil {
		return Cost{}, err
	}
	return Cost{
		Credits:   credits,
		USD:       usd,
		Model:     model,
		Breakdown: breakdown,
	}, nil
}

// Credits converts USD to credits, rounding up so any usage costs at least one credit.
func (c Calculator) Credits(usd float64) (int64, error) {
	if usd <= 0 {
		return 0, nil
	}
	return ceilStable(usd * c.catalog.CreditsPerUSD)
}

// Estimate prices an estimated amount of usage for a pre-flight check.
func (c Calculator) Estimate(usageType credit.UsageType, units float64) (int64, error) {
	if units <= 0 {
		return 0, nil
	}
	rate := c.catalog.UsageEstimates[string(usageType)]
	return ceilStable(rate * units)
}

// ceilStable drops float noise below a millionth before rounding up.
func ceilStable(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v > float64(MaxCredits) {
		return 0, fmt.Errorf("%w: usage prices above %d credits", xerrors.ErrInvalidInput, MaxCredits)
	}
	if v <= 0 {
		return 0, nil
	}
	// Above 1e9 the sub-millionth scaling itself would lose precision
	if v >= 1e9 {
		return int64(math.Ceil(v)), nil
	}
	return int64(math.Ceil(math.Round(v*1e6) / 1e6)), nil
}
