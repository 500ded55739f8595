package soal

// Mode selects how the repair loop decides what to do next.
type Mode string

const (
	// ModeSimplified tries a fixed list of remedies in order.
	ModeSimplified Mode = "simplified"
	// ModeComplete runs the generator-driven sense/orient/act/verify/learn cycle.
	ModeComplete Mode = "complete"
)

// UtilityWeights weight the components of an action's utility score.
// Risk is subtracted.
type UtilityWeights struct {
	Coverage float64 `yaml:"coverage"`
	Quality  float64 `yaml:"quality"`
	Cost     float64 `yaml:"cost"`
	Risk     float64 `yaml:"risk"`
	Urgency  float64 `yaml:"urgency"`
}

// Config configures the repair loop.
type Config struct {
	Mode                    Mode           `yaml:"mode"`
	MaxIterationsSimplified int            `yaml:"max_iterations_simplified"`
	MaxIterationsComplete   int            `yaml:"max_iterations_complete"`
	Weights                 UtilityWeights `yaml:"weights"`

	// ScoreAlpha is the EMA factor for strategy scores.
	ScoreAlpha float64 `yaml:"score_alpha"`
}

// DefaultConfig returns simplified mode with the standard weights.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeSimplified,
		MaxIterationsSimplified: 2,
		MaxIterationsComplete:   6,
		Weights: UtilityWeights{
			Coverage: 0.30,
			Quality:  0.25,
			Cost:     0.20,
			Risk:     0.15,
			Urgency:  0.10,
		},
		ScoreAlpha: 0.3,
	}
}

// MaxIterations returns the iteration cap for the configured mode.
func (c Config) MaxIterations() int {
	if c.Mode == ModeComplete {
		return c.MaxIterationsComplete
	}
	return c.MaxIterationsSimplified
}
