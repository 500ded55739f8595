package llm

import "time"

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config configures the code generator client.
type Config struct {
	Provider    string  `yaml:"provider"` // gemini, openai
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	MaxRetries  int     `yaml:"max_retries"`
	CacheSize   int     `yaml:"cache_size"`
}

// DefaultConfig returns Gemini defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderGemini,
		Model:       "gemini-2.5-flash",
		BaseURL:     "https://api.openai.com/v1",
		Timeout:     "120s",
		Temperature: 0.3,
		TopP:        0.7,
		MaxRetries:  2,
		CacheSize:   64,
	}
}

// GetTimeout parses Timeout, falling back to two minutes.
func (c Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
