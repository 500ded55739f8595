package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reconagent/internal/reflection"
)

var recentLimit int

// memoryCmd groups the reflection memory queries
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect the reflection memory",
}

var memorySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print totals, failure types and known domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := openMemory()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), mem.Summary())
	},
}

var memoryRecommendCmd = &cobra.Command{
	Use:   "recommend [website_type] [anti_bot_level]",
	Short: "Print the strategies recommended for a site profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := openMemory()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"website_type":   args[0],
			"anti_bot_level": args[1],
			"strategies":     mem.Recommend(args[0], args[1]),
			"insights":       mem.WebsiteTypeInsights(args[0]),
		})
	},
}

var memoryInsightCmd = &cobra.Command{
	Use:   "insight [domain]",
	Short: "Print what is known about one domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, err := openMemory()
		if err != nil {
			return err
		}
		insight, ok := mem.DomainInsight(args[0])
		if !ok {
			return fmt.Errorf("no reflections for %s", args[0])
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"insight": insight,
			"recent":  mem.RecentReflections(args[0], recentLimit),
		})
	},
}

func init() {
	memoryInsightCmd.Flags().IntVar(&recentLimit, "recent", 5, "Recent reflections to include")

	memoryCmd.AddCommand(memorySummaryCmd)
	memoryCmd.AddCommand(memoryRecommendCmd)
	memoryCmd.AddCommand(memoryInsightCmd)
}

func openMemory() (*reflection.Memory, error) {
	mem, err := reflection.NewMemory(reflection.NewFileStorage(cfg.MemoryPath()))
	if err != nil {
		return nil, fmt.Errorf("failed to load reflection memory: %w", err)
	}
	return mem, nil
}
