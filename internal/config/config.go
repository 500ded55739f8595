package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"reconagent/internal/browser"
	"reconagent/internal/llm"
	"reconagent/internal/quality"
	"reconagent/internal/selector"
	"reconagent/internal/soal"
	"reconagent/internal/tactile"
)

// Config holds all recon agent configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Code generator
	LLM llm.Config `yaml:"llm"`

	// Script execution
	Sandbox tactile.SandboxConfig `yaml:"sandbox"`

	// Page observation
	Browser browser.Config `yaml:"browser"`

	// Stage thresholds and timeouts
	Pipeline PipelineConfig `yaml:"pipeline"`

	Quality  quality.Config  `yaml:"quality"`
	Selector selector.Config `yaml:"selector"`
	SOAL     soal.Config     `yaml:"soal"`

	// Reflection memory
	Memory MemoryConfig `yaml:"memory"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	// QualityThreshold is the minimum score for a task to count as successful.
	QualityThreshold float64 `yaml:"quality_threshold"`

	// PlanVerification toggles the pre-execution checks. When off, any
	// non-empty code proceeds straight to execution.
	PlanVerification bool `yaml:"plan_verification"`

	ActTimeout      string `yaml:"act_timeout"`
	InteractTimeout string `yaml:"interact_timeout"`
	DryRunTimeout   string `yaml:"dry_run_timeout"`

	// BatchConcurrency bounds parallel tasks in batch mode.
	BatchConcurrency int `yaml:"batch_concurrency"`

	// Workspace is the root for logs and relative memory paths.
	Workspace string `yaml:"workspace"`
}

// MemoryConfig configures reflection memory persistence.
type MemoryConfig struct {
	Path string `yaml:"path"`

	// Watch reloads the store when the file changes on disk.
	Watch bool `yaml:"watch"`

	// RecentFailures is how many past failures are fed into prompts.
	RecentFailures int `yaml:"recent_failures"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "recon",
		Version:  "0.4.0",
		LLM:      llm.DefaultConfig(),
		Sandbox:  tactile.DefaultSandboxConfig(),
		Browser:  browser.DefaultConfig(),
		Quality:  quality.DefaultConfig(),
		Selector: selector.DefaultConfig(),
		SOAL:     soal.DefaultConfig(),

		Pipeline: PipelineConfig{
			QualityThreshold: 0.6,
			PlanVerification: true,
			ActTimeout:       "300s",
			InteractTimeout:  "120s",
			DryRunTimeout:    "30s",
			BatchConcurrency: 2,
			Workspace:        ".",
		},

		Memory: MemoryConfig{
			Path:           ".recon/reflections.json",
			Watch:          false,
			RecentFailures: 3,
		},

		Logging: DefaultLoggingConfig(),
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; existing variables are never overwritten.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys; Gemini wins when both are present.
	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey != "" {
		c.LLM.APIKey = openAIKey
		c.LLM.Provider = llm.ProviderOpenAI
	}
	if key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = llm.ProviderGemini
	}
	if p := os.Getenv("RECON_LLM_PROVIDER"); p != "" {
		c.LLM.Provider = strings.ToLower(p)
		if c.LLM.Provider == llm.ProviderOpenAI && openAIKey != "" {
			c.LLM.APIKey = openAIKey
		}
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("RECON_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if mode := os.Getenv("RECON_SOAL_MODE"); mode != "" {
		c.SOAL.Mode = soal.Mode(strings.ToLower(mode))
	}
	if mode := os.Getenv("RECON_SANDBOX_MODE"); mode != "" {
		c.Sandbox.Mode = tactile.SandboxMode(strings.ToLower(mode))
	}
	if path := os.Getenv("RECON_MEMORY_PATH"); path != "" {
		c.Memory.Path = path
	}
	if v := os.Getenv("RECON_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}

	if v := os.Getenv("VERIFICATION_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Selector.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("RECON_QUALITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pipeline.QualityThreshold = f
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// GetLLMTimeout returns the generator call timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return c.LLM.GetTimeout()
}

// GetActTimeout returns the extraction script timeout.
func (c *Config) GetActTimeout() time.Duration {
	return parseDuration(c.Pipeline.ActTimeout, 300*time.Second)
}

// GetInteractTimeout returns the interaction script timeout.
func (c *Config) GetInteractTimeout() time.Duration {
	return parseDuration(c.Pipeline.InteractTimeout, 120*time.Second)
}

// GetDryRunTimeout returns the plan dry-run timeout.
func (c *Config) GetDryRunTimeout() time.Duration {
	return parseDuration(c.Pipeline.DryRunTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// MemoryPath resolves the memory file against the workspace.
func (c *Config) MemoryPath() string {
	if filepath.IsAbs(c.Memory.Path) || c.Pipeline.Workspace == "" {
		return c.Memory.Path
	}
	return filepath.Join(c.Pipeline.Workspace, c.Memory.Path)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{llm.ProviderGemini, llm.ProviderOpenAI}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	switch c.Sandbox.Mode {
	case tactile.SandboxNone, tactile.SandboxDocker:
	default:
		return fmt.Errorf("invalid sandbox mode: %s", c.Sandbox.Mode)
	}

	switch c.SOAL.Mode {
	case soal.ModeSimplified, soal.ModeComplete:
	default:
		return fmt.Errorf("invalid soal mode: %s", c.SOAL.Mode)
	}
	if c.SOAL.MaxIterations() <= 0 {
		return fmt.Errorf("soal max iterations must be positive")
	}

	if err := checkUnit("pipeline.quality_threshold", c.Pipeline.QualityThreshold); err != nil {
		return err
	}
	if err := checkUnit("selector.confidence_threshold", c.Selector.ConfidenceThreshold); err != nil {
		return err
	}

	q := c.Quality
	if q.WeightCompleteness < 0 || q.WeightSemantic < 0 || q.WeightIntent < 0 ||
		q.WeightCompleteness+q.WeightSemantic+q.WeightIntent <= 0 {
		return fmt.Errorf("quality weights must be non-negative with a positive sum")
	}
	if len(q.RequiredFields) == 0 {
		return fmt.Errorf("quality.required_fields must not be empty")
	}
	if c.Selector.IdealMin > c.Selector.IdealMax {
		return fmt.Errorf("selector ideal range is inverted: [%d,%d]", c.Selector.IdealMin, c.Selector.IdealMax)
	}

	return nil
}

// ValidateLLM checks that a code generator can be built.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, GOOGLE_API_KEY, or OPENAI_API_KEY)")
	}
	return nil
}

func checkUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %g", name, v)
	}
	return nil
}
