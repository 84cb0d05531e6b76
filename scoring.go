package modelrouter

import "fmt"

// TierScores maps the three ordinal tiers of a rating onto a 0-100 scale.
type TierScores struct {
	Low  float64 `yaml:"low" toml:"low"`
	Mid  float64 `yaml:"mid" toml:"mid"`
	High float64 `yaml:"high" toml:"high"`
}

func (t TierScores) zero() bool { return t == TierScores{} }

// Weights blends the component scores of the balanced policy.
type Weights struct {
	Quality float64 `yaml:"quality" toml:"quality"`
	Speed   float64 `yaml:"speed" toml:"speed"`
	Budget  float64 `yaml:"budget" toml:"budget"`
	Cost    float64 `yaml:"cost" toml:"cost"`
}

// Scoring holds the tuning constants of the balanced policy.
// Zero-valued fields are replaced by DefaultScoring values.
type Scoring struct {
	QualityScores     TierScores           `yaml:"quality_scores" toml:"quality_scores"`
	SpeedScores       TierScores           `yaml:"speed_scores" toml:"speed_scores"`
	Weights           map[Priority]Weights `yaml:"weights" toml:"weights"`
	CostBaselinePer1K float64              `yaml:"cost_baseline_per_1k" toml:"cost_baseline_per_1k"`
}

// DefaultScoring returns the stock tuning constants.
func DefaultScoring() Scoring {
	return Scoring{
		QualityScores: TierScores{Low: 60, Mid: 80, High: 100},
		SpeedScores:   TierScores{Low: 40, Mid: 70, High: 100},
		Weights: map[Priority]Weights{
			PriorityCritical: {Quality: 0.6, Speed: 0.3, Budget: 0.1},
			PriorityHigh:     {Quality: 0.4, Speed: 0.3, Budget: 0.3},
			PriorityMedium:   {Cost: 0.4, Quality: 0.3, Budget: 0.3},
			PriorityLow:      {Cost: 0.4, Quality: 0.3, Budget: 0.3},
		},
		CostBaselinePer1K: 0.01,
	}
}

func (s Scoring) withDefaults() Scoring {
	def := DefaultScoring()
	if s.QualityScores.zero() {
		s.QualityScores = def.QualityScores
	}
	if s.SpeedScores.zero() {
		s.SpeedScores = def.SpeedScores
	}
	if s.CostBaselinePer1K == 0 {
		s.CostBaselinePer1K = def.CostBaselinePer1K
	}
	weights := make(map[Priority]Weights, len(def.Weights))
	for p, w := range def.Weights {
		weights[p] = w
	}
	for p, w := range s.Weights {
		weights[p] = w
	}
	s.Weights = weights
	return s
}

func (s Scoring) validate() error {
	for p, w := range s.Weights {
		if !p.valid() {
			return fmt.Errorf("modelrouter: config: scoring: unknown priority %q", p)
		}
		if w.Quality < 0 || w.Speed < 0 || w.Budget < 0 || w.Cost < 0 {
			return fmt.Errorf("modelrouter: config: scoring: negative weight for %q", p)
		}
	}
	if s.CostBaselinePer1K < 0 {
		return fmt.Errorf("modelrouter: config: scoring: cost_baseline_per_1k must not be negative")
	}
	return nil
}

func (s Scoring) quality(q QualityTier) float64 {
	switch q {
	case QualityGood:
		return s.QualityScores.Low
	case QualityExcellent:
		return s.QualityScores.Mid
	case QualityExceptional:
		return s.QualityScores.High
	}
	return 0
}

func (s Scoring) speed(v SpeedTier) float64 {
	switch v {
	case SpeedSlow:
		return s.SpeedScores.Low
	case SpeedMedium:
		return s.SpeedScores.Mid
	case SpeedFast:
		return s.SpeedScores.High
	}
	return 0
}

// budgetScore is 100 for free calls and falls linearly to 0 as the call
// would consume the whole available budget.
func budgetScore(cost, available Micros) float64 {
	if cost == 0 {
		return 100
	}
	if available <= 0 {
		return 0
	}
	return clamp(100 * (1 - float64(cost)/float64(available)))
}

func (s Scoring) costEfficiency(d ModelDescriptor) float64 {
	if s.CostBaselinePer1K <= 0 {
		if d.Free() {
			return 100
		}
		return 0
	}
	return clamp(100 * (1 - d.CostPer1K/s.CostBaselinePer1K))
}

// Score computes the balanced-policy score of c for a request of priority p.
func (s Scoring) Score(p Priority, c Candidate) float64 {
	w, ok := s.Weights[p]
	if !ok {
		w = s.Weights[PriorityMedium]
	}
	return w.Quality*s.quality(c.Model.Quality) +
		w.Speed*s.speed(c.Model.Speed) +
		w.Budget*budgetScore(c.EstimatedCost, c.Available) +
		w.Cost*s.costEfficiency(c.Model)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
