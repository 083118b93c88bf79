package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	serviceName    = "chunkscribe"
	serviceVersion = "1.0.0"
)

// globalOptions are the persistent flags shared by all commands
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Chunked long-audio transcription with cross-chunk speaker unification",
		Version:       serviceVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Env file with endpoints and credentials")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newTranscribeCmd(opts))
	rootCmd.AddCommand(newSpeakersCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
