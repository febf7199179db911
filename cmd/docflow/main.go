// Command docflow runs the document-analysis workflow orchestrator.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/docflow/pkg/docflow/config"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
)

var (
	configPath string
	settings   config.Settings
	logger     = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "LLM-assisted document analysis workflow orchestrator",
	Long: "Runs experiments through Analyze, Recommend, human Review, Execute and Synthesize, " +
		"persisting every transition and recording provenance for each activity.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings = s
		logger = observability.NewLogger(cmd.ErrOrStderr(), s.LogFormat, s.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
