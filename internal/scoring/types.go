package scoring

import "context"

// Result is the scoring service's analysis of one piece of script text.
// Scores are 0-100.
type Result struct {
	OverallScore     float64           `json:"overall_score"`
	HookScore        float64           `json:"hook_score"`
	StructureScore   float64           `json:"structure_score"`
	EmotionalScore   float64           `json:"emotional_score"`
	CTAScore         float64           `json:"cta_score"`
	Strengths        []string          `json:"strengths,omitempty"`
	Weaknesses       []string          `json:"weaknesses,omitempty"`
	Verdict          string            `json:"verdict,omitempty"`
	PredictedMetrics *PredictedMetrics `json:"predicted_metrics,omitempty"`
}

// PredictedMetrics are the service's engagement predictions for the scored
// text, expressed as rates in [0, 1].
type PredictedMetrics struct {
	RetentionRate  float64 `json:"retention_rate"`
	EngagementRate float64 `json:"engagement_rate"`
	ShareRate      float64 `json:"share_rate"`
}

// Scorer is the external whole-script/per-scene scoring function. It is an
// opaque, occasionally failing remote call; implementations retry transient
// failures internally.
type Scorer interface {
	Score(ctx context.Context, text, formatHint string) (*Result, error)
}
