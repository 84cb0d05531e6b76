package modelrouter

import (
	"fmt"
	"math"
)

// TaskType is a capability tag describing what a request needs a model to do.
type TaskType string

const (
	TaskQuickAnalysis   TaskType = "quick-analysis"
	TaskCodeGeneration  TaskType = "code-generation"
	TaskArchitecture    TaskType = "architecture"
	TaskCreativeWriting TaskType = "creative-writing"
	TaskMultimodal      TaskType = "multimodal"

	// TaskGeneral marks a descriptor as general-purpose. It is not a valid request task type.
	TaskGeneral TaskType = "general"
)

var taskTypes = map[TaskType]bool{
	TaskQuickAnalysis:   true,
	TaskCodeGeneration:  true,
	TaskArchitecture:    true,
	TaskCreativeWriting: true,
	TaskMultimodal:      true,
}

// Valid reports whether t is a task type a request may ask for.
func (t TaskType) Valid() bool { return taskTypes[t] }

// Priority controls the balanced scoring weights.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// CostPreference selects the selection policy.
type CostPreference string

const (
	CostOptimized CostPreference = "cost-optimized"
	Balanced      CostPreference = "balanced"
	QualityFirst  CostPreference = "quality-first"
)

func (c CostPreference) valid() bool {
	switch c {
	case CostOptimized, Balanced, QualityFirst:
		return true
	}
	return false
}

// QualityTier is an ordinal quality rating.
type QualityTier int

const (
	QualityGood QualityTier = iota + 1
	QualityExcellent
	QualityExceptional
)

func (q QualityTier) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	case QualityExceptional:
		return "exceptional"
	default:
		return fmt.Sprintf("QualityTier(%d)", int(q))
	}
}

func (q QualityTier) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *QualityTier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "good":
		*q = QualityGood
	case "excellent":
		*q = QualityExcellent
	case "exceptional":
		*q = QualityExceptional
	default:
		return fmt.Errorf("modelrouter: unknown quality tier %q", string(b))
	}
	return nil
}

// SpeedTier is an ordinal latency rating.
type SpeedTier int

const (
	SpeedSlow SpeedTier = iota + 1
	SpeedMedium
	SpeedFast
)

func (s SpeedTier) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedMedium:
		return "medium"
	case SpeedFast:
		return "fast"
	default:
		return fmt.Sprintf("SpeedTier(%d)", int(s))
	}
}

func (s SpeedTier) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SpeedTier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "slow":
		*s = SpeedSlow
	case "medium":
		*s = SpeedMedium
	case "fast":
		*s = SpeedFast
	default:
		return fmt.Errorf("modelrouter: unknown speed tier %q", string(b))
	}
	return nil
}

// Micros is an amount of money in millionths of a US dollar.
// Ledger arithmetic is done in Micros so sums stay exact.
type Micros int64

// Dollars converts a dollar amount to Micros, rounding to the nearest micro.
func Dollars(d float64) Micros { return Micros(math.Round(d * 1e6)) }

// Dollars returns m as a dollar amount.
func (m Micros) Dollars() float64 { return float64(m) / 1e6 }

func (m Micros) String() string { return fmt.Sprintf("$%.6f", m.Dollars()) }

// TaskRequest is a single routing request.
type TaskRequest struct {
	TaskType       TaskType
	Prompt         string
	MaxTokens      int // 0 means Config.DefaultMaxTokens
	Priority       Priority
	CostPreference CostPreference
}

// Usage represents token usage reported by a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is the outcome of a successful RouteTask call.
type Result struct {
	ID              string
	Response        string
	Model           string
	Provider        string
	Cost            Micros
	BudgetRemaining Micros
	Attempts        int
	Free            bool
	Usage           Usage
}
