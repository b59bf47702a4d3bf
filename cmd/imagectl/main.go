package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "imagectl",
		Short: "Image service command line",
		Long: `imagectl runs the image service in-process, configured from the same
environment variables as the server.

With the default memory database and storage nothing outlives the command;
point DATABASE_TYPE and STORAGE_BACKEND at real backends to manage a
deployment.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewIngestCommand())
	rootCmd.AddCommand(NewGetCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewURLCommand())
	rootCmd.AddCommand(NewSearchCommand())
	rootCmd.AddCommand(NewStatsCommand())
	rootCmd.AddCommand(NewDeleteCommand())
	rootCmd.AddCommand(NewVersionsCommand())
	rootCmd.AddCommand(NewRestoreCommand())
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}

// withRuntime builds the service for one command and closes it afterwards,
// waiting for asynchronous ingestions.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *config.Runtime) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := cfg.BuildService(ctx, logger, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	runErr := fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shut down: %w", err)
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
