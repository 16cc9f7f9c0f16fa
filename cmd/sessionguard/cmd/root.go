package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionguard/config"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	cfg        config.Config
	backendURL string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sessionguard",
	Short: "Session Guard keeps an authenticated session alive and safe",
	Long: `Session Guard signs in against an authentication backend, refreshes tokens
before they expire, throttles repeated failed sign-ins, and ends idle sessions.
Settings are read from SESSIONGUARD_* environment variables and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("backend") {
			loaded.BackendURL = backendURL
		}
		if cmd.Flags().Changed("data-dir") {
			loaded.DataDir = dataDir
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command and wipes guarded memory before exiting.
func Execute() {
	err := rootCmd.Execute()
	memguard.Purge()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Authentication backend base URL (overrides SESSIONGUARD_BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for persistent data (overrides SESSIONGUARD_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug detail to stderr")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
