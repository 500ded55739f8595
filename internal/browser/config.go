package browser

import "time"

// Config configures page observation.
type Config struct {
	// UseHeadless enables the rod observer. When false only plain HTTP is used.
	UseHeadless       bool   `yaml:"use_headless"`
	Headless          bool   `yaml:"headless"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	UserAgent         string `yaml:"user_agent"`
	Screenshot        bool   `yaml:"screenshot"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes"`
}

// DefaultUserAgent is sent by the HTTP observer.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns observation defaults.
func DefaultConfig() Config {
	return Config{
		UseHeadless:       true,
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: "30s",
		UserAgent:         DefaultUserAgent,
		Screenshot:        false,
		MaxBodyBytes:      8 * 1024 * 1024,
	}
}

// GetNavigationTimeout parses NavigationTimeout with a 30s fallback.
func (c Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.NavigationTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
