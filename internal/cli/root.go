package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/fade/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "fade",
	Short: "Decaying-relevance memory for conversational agents",
	Long: "fade stores memories with a weighted access score that grows on retrieval " +
		"and periodically trims the ones that have gone stale.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trimCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(addCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(nil, configFile)
}
