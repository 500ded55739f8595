package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reconagent/internal/browser"
	"reconagent/internal/recon"
	"reconagent/internal/selector"
)

var (
	inspectGoal string
	selectors   []string
)

// classifyCmd runs the Sense stage only
var classifyCmd = &cobra.Command{
	Use:   "classify [url]",
	Short: "Observe a page and classify it",
	Long: `Observes the page and prints its website type, anti-bot level and page
features, without generating or running any script.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

// validateCmd tests selectors against a live page
var validateCmd = &cobra.Command{
	Use:   "validate [url]",
	Short: "Test CSS selectors against a live page",
	Long: `Observes the page and tests selectors against its DOM. Without --selector
the built-in suggestions for the goal and site type are tested.

Example:
  recon validate https://example.com --selector "h2 a" --selector ".price"`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	classifyCmd.Flags().StringVarP(&inspectGoal, "goal", "g", "", "Goal, used to decide whether interaction is needed")
	validateCmd.Flags().StringVarP(&inspectGoal, "goal", "g", "", "Goal, used to pick suggested selectors")
	validateCmd.Flags().StringSliceVarP(&selectors, "selector", "s", nil, "Selector to test (repeatable)")
}

// ClassifyResult is the output of the classify command.
type ClassifyResult struct {
	URL                 string               `json:"url"`
	FinalURL            string               `json:"final_url"`
	Status              int                  `json:"status"`
	Title               string               `json:"title"`
	ObservedBy          string               `json:"observed_by"`
	Classification      recon.Classification `json:"classification"`
	AntiBot             recon.AntiBotResult  `json:"anti_bot"`
	Stealth             recon.StealthProfile `json:"stealth_profile"`
	Features            []string             `json:"features"`
	RequiresInteraction bool                 `json:"requires_interaction"`
	Structure           selector.Structure   `json:"structure"`
	ContentLinks        []string             `json:"content_link_patterns,omitempty"`
	Honeypots           int                  `json:"honeypot_links"`
}

func observe(ctx context.Context, url string) (*browser.Observation, error) {
	obs := browser.New(cfg.Browser)
	defer obs.Close()

	logger.Debug("Observing page", zap.String("url", url), zap.String("observer", obs.Name()))
	o, err := obs.Observe(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("observe %s: %w", url, err)
	}
	return o, nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := observe(ctx, args[0])
	if err != nil {
		return err
	}
	res := classifyObservation(o, inspectGoal)
	return printJSON(cmd.OutOrStdout(), res)
}

func classifyObservation(o *browser.Observation, goal string) ClassifyResult {
	target := o.FinalURL
	if target == "" {
		target = o.URL
	}
	ab := recon.DetectAntiBot(o.HTML, o.Headers)
	res := ClassifyResult{
		URL:                 o.URL,
		FinalURL:            target,
		Status:              o.Status,
		Title:               o.Title,
		ObservedBy:          o.Source,
		Classification:      recon.Classify(target, o.HTML),
		AntiBot:             ab,
		Stealth:             recon.ProfileFor(ab.Level),
		Features:            recon.ExtractFeatures(o.HTML, target),
		RequiresInteraction: goal != "" && recon.RequiresInteraction(goal, o.HTML),
	}
	if snap, err := selector.NewSnapshot(o.HTML); err == nil {
		res.Structure = snap.AnalyzeStructure()
	}
	if links, err := browser.AnalyzeLinks(o.HTML, target); err == nil {
		res.ContentLinks = links.Patterns(5)
		res.Honeypots = links.Honeypots
	}
	return res
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	o, err := observe(ctx, args[0])
	if err != nil {
		return err
	}
	report, err := validatePage(ctx, o, inspectGoal, selectors)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func validatePage(ctx context.Context, o *browser.Observation, goal string, sels []string) (*selector.Report, error) {
	snap, err := selector.NewSnapshot(o.HTML)
	if err != nil {
		return nil, err
	}
	if len(sels) == 0 {
		siteType := recon.Classify(o.URL, o.HTML).Type
		sels = selector.Suggest(goal, siteType, o.URL)
	}
	return selector.NewValidator(cfg.Selector).Validate(ctx, snap, sels)
}
