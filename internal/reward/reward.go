package reward

import (
	"math"
	"time"

	"workchain/internal/config"
)

// Breakdown records every factor of a reward so the amount can be audited
// later. It is persisted as reward_json on the submission and inside the
// REWARD_CALCULATED proof event.
type Breakdown struct {
	BasePoints           int     `json:"base_points"`
	DifficultyMultiplier float64 `json:"difficulty_multiplier"`
	QualityMultiplier    float64 `json:"quality_multiplier"`
	TimelinessBonus      float64 `json:"timeliness_bonus"`
	FinalPoints          int     `json:"final_points"`
	Reason               string  `json:"reason,omitempty"`
}

type Calculator struct {
	Config *config.Config
}

func New(cfg *config.Config) *Calculator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Calculator{Config: cfg}
}

// Compute multiplies the configured base points by the difficulty, quality
// and timeliness factors, rounding half away from zero. The same inputs
// always produce the same breakdown.
func (c *Calculator) Compute(difficulty, quality, timeliness float64) Breakdown {
	base := c.Config.Rewards.BasePoints
	final := int(math.Round(float64(base) * difficulty * quality * timeliness))
	return Breakdown{
		BasePoints:           base,
		DifficultyMultiplier: difficulty,
		QualityMultiplier:    quality,
		TimelinessBonus:      timeliness,
		FinalPoints:          final,
	}
}

// TimelinessBonus returns the configured bonus when the template deadline
// was more than the configured margin away from the submission time, and a
// neutral 1.0 otherwise. Missing or unparseable timestamps never earn the
// bonus.
func (c *Calculator) TimelinessBonus(deadline *string, submittedAt string) float64 {
	if deadline == nil || *deadline == "" {
		return 1.0
	}
	d, err := time.Parse(time.RFC3339, *deadline)
	if err != nil {
		return 1.0
	}
	s, err := time.Parse(time.RFC3339, submittedAt)
	if err != nil {
		return 1.0
	}
	margin := time.Duration(c.Config.Rewards.TimelinessMarginHours * float64(time.Hour))
	if d.Sub(s) > margin {
		return c.Config.Rewards.TimelinessBonus
	}
	return 1.0
}

// Consolation returns the flat rejection award. Multipliers are zeroed so
// the breakdown cannot be mistaken for a computed reward.
func (c *Calculator) Consolation() Breakdown {
	return Breakdown{
		BasePoints:           0,
		DifficultyMultiplier: 0,
		QualityMultiplier:    0,
		TimelinessBonus:      0,
		FinalPoints:          c.Config.Rewards.ConsolationPoints,
		Reason:               "consolation",
	}
}
