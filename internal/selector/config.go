package selector

// Config tunes selector scoring.
type Config struct {
	// ConfidenceThreshold below which alternative selectors are requested.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// IdealMin and IdealMax bound the "good" match count range.
	IdealMin int `yaml:"ideal_min"`
	IdealMax int `yaml:"ideal_max"`

	// OvermatchLimit is the count above which a selector is too broad.
	OvermatchLimit int `yaml:"overmatch_limit"`

	IdealBonus       float64 `yaml:"ideal_bonus"`
	OvermatchPenalty float64 `yaml:"overmatch_penalty"`

	MaxSamples int `yaml:"max_samples"`
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		IdealMin:            3,
		IdealMax:            50,
		OvermatchLimit:      100,
		IdealBonus:          0.2,
		OvermatchPenalty:    0.1,
		MaxSamples:          3,
	}
}
