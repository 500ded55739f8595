package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reconagent/internal/config"
	"reconagent/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	apiKey     string
	timeout    time.Duration

	// Logger
	logger *zap.Logger

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "recon - website reconnaissance agent",
	Long: `recon observes a website, generates a Python extraction script for a goal,
verifies and runs it in a sandbox, scores the records and repairs the script
until the data is good enough or the retry budget is spent.

Every run ends in a report: JSON on stdout, Markdown with --markdown.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.OutputPaths = []string{"stderr"}
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := workspaceDir()
		config.LoadDotEnv(".env", filepath.Join(ws, ".env"))

		path := configPath
		if path == "" {
			path = filepath.Join(ws, ".recon", "config.yaml")
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		cfg.Pipeline.Workspace = ws
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}

		if err := logging.Initialize(ws, cfg.Logging.Settings()); err != nil {
			return fmt.Errorf("failed to initialize file logging: %w", err)
		}
		if cfg.Logging.DebugMode {
			if err := logging.InitAudit(); err != nil {
				logger.Warn("audit trail disabled", zap.Error(err))
			}
		}
		logger.Debug("configuration loaded",
			zap.String("path", path),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("soal_mode", string(cfg.SOAL.Mode)),
			zap.String("sandbox", string(cfg.Sandbox.Mode)))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		d := config.DefaultConfig()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.Name, d.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.recon/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Code generator API key (or GEMINI_API_KEY / OPENAI_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func workspaceDir() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
