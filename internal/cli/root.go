// Package cli provides the operator command line for opportunity-scout.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/app"
	"github.com/david/opportunity-scout/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "Opportunity Scout operator tools",
	Long: `Run discovery scans, inspect the scan ledger, review staged drafts
and import single pages without going through the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RootCmd returns the root command for tests and embedding.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(draftsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(statsCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openApp wires the full dependency graph against DATABASE_URL.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, config.Load())
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}
