// Command dexter runs the research assistant agent, either interactively
// in the terminal or as an HTTP/SSE server.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/dexterhq/dexter/config"
)

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:           "dexter",
	Short:         "Research assistant agent",
	Long:          "Dexter answers research queries with a multi-step tool-using agent,\nstreaming its activity as it works.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logs")
	rootCmd.AddCommand(chatCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(logContext(), err)
		os.Exit(1)
	}
}

// logContext returns the root context with the logger attached.
func logContext() context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if debugFlag {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

// loadConfig loads the .env file when present, then the configuration.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load(configPath)
}
