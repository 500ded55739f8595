package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"reconagent/internal/llm"
	"reconagent/internal/recon"
	"reconagent/internal/reflection"
)

var (
	markdownOut bool
	outputPath  string
	concurrency int
)

// runCmd runs one reconnaissance task
var runCmd = &cobra.Command{
	Use:   "run [url] [goal...]",
	Short: "Run one reconnaissance task",
	Long: `Runs the full pipeline against one site:
  1. Sense: observe the page, detect anti-bot measures, classify the site
  2. Validate: test candidate CSS selectors against the live DOM
  3. Plan / VerifyPlan: generate a script and check it before running
  4. Act / Verify: run it in the sandbox and score the records
  5. SOAL / Reflect: diagnose failures, repair or replan within the budget
  6. Report

Example:
  recon run https://news.ycombinator.com "collect story titles and links"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTask,
}

// batchCmd runs tasks from a file
var batchCmd = &cobra.Command{
	Use:   "batch [tasks.yaml]",
	Short: "Run many tasks from a YAML or JSON file",
	Long: `Runs a list of tasks with bounded concurrency. The file holds a list of
{url, goal} objects (JSON is valid YAML). Tasks share the reflection memory,
so later tasks benefit from earlier diagnoses.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().BoolVar(&markdownOut, "markdown", false, "Print the Markdown report instead of JSON")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Also write the JSON report to this file")

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Tasks in flight (default: pipeline.batch_concurrency)")
	batchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Also write the JSON reports to this file")
}

// signalContext is cancelled on SIGINT/SIGTERM or when the timeout passes.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return sctx, func() {
		stop()
		cancel()
	}
}

// newOrchestrator wires the configured generator and file-backed memory.
// The returned close function releases both.
func newOrchestrator(ctx context.Context) (*recon.Orchestrator, func(), error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, nil, err
	}
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("code generator: %w", err)
	}

	memPath := cfg.MemoryPath()
	mem, err := reflection.NewMemory(reflection.NewFileStorage(memPath))
	if err != nil {
		_ = gen.Close()
		return nil, nil, fmt.Errorf("reflection memory: %w", err)
	}
	logger.Debug("reflection memory loaded", zap.String("path", memPath), zap.Int("reflections", mem.Summary().TotalReflections))

	watchCtx, stopWatch := context.WithCancel(ctx)
	if cfg.Memory.Watch {
		go func() {
			if err := mem.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
				logger.Warn("memory watch stopped", zap.Error(err))
			}
		}()
	}

	o, err := recon.New(recon.Options{Config: cfg, Generator: gen, Memory: mem})
	if err != nil {
		stopWatch()
		_ = gen.Close()
		return nil, nil, err
	}
	return o, func() {
		stopWatch()
		if err := o.Close(); err != nil {
			logger.Debug("observer close", zap.Error(err))
		}
		_ = gen.Close()
	}, nil
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	task := recon.Task{URL: args[0], Goal: strings.Join(args[1:], " ")}
	logger.Info("Running task", zap.String("url", task.URL), zap.String("goal", task.Goal))

	o, closeFn, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report := o.Run(ctx, task)
	logger.Info("Task finished",
		zap.String("status", string(report.CompletionStatus)),
		zap.String("reason", string(report.FailureReason)),
		zap.Float64("quality", report.QualityScore),
		zap.Int("records", report.SampleCount),
		zap.Duration("duration", report.Duration))

	if outputPath != "" {
		if err := writeJSON(outputPath, report); err != nil {
			return err
		}
	}
	if markdownOut {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), report.Markdown)
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runBatch(cmd *cobra.Command, args []string) error {
	tasks, err := loadTasks(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	o, closeFn, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("Running batch", zap.Int("tasks", len(tasks)), zap.Int("concurrency", concurrency))
	reports := o.RunBatch(ctx, tasks, concurrency)

	if outputPath != "" {
		if err := writeJSON(outputPath, reports); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), reports)
}

// loadTasks reads a task list. Tasks without a URL are rejected.
func loadTasks(path string) ([]recon.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	var tasks []recon.Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks in %s", path)
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.URL) == "" {
			return nil, fmt.Errorf("task %d has no url", i+1)
		}
	}
	return tasks, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return printJSON(f, v)
}
