package quality

// Config holds the evaluator's tunables. The blend weights and length
// limits are hand-tuned; keep them configurable.
type Config struct {
	// Blend weights for the three levels.
	WeightCompleteness float64 `yaml:"weight_completeness"`
	WeightSemantic     float64 `yaml:"weight_semantic"`
	WeightIntent       float64 `yaml:"weight_intent"`

	RequiredFields []string `yaml:"required_fields"`
	DesiredFields  []string `yaml:"desired_fields"`

	MinTitleLength      int     `yaml:"min_title_length"`
	MaxTitleLength      int     `yaml:"max_title_length"`
	MinContentLength    int     `yaml:"min_content_length"`
	MaxBoilerplateRatio float64 `yaml:"max_boilerplate_ratio"`

	// RelevantThreshold is the per-record score counted as relevant in metrics.
	RelevantThreshold float64 `yaml:"relevant_threshold"`
}

// DefaultConfig returns the standard evaluator settings.
func DefaultConfig() Config {
	return Config{
		WeightCompleteness:  0.3,
		WeightSemantic:      0.4,
		WeightIntent:        0.3,
		RequiredFields:      []string{"title", "content", "url"},
		DesiredFields:       []string{"author", "date", "tags", "category"},
		MinTitleLength:      5,
		MaxTitleLength:      200,
		MinContentLength:    100,
		MaxBoilerplateRatio: 0.9,
		RelevantThreshold:   0.6,
	}
}
