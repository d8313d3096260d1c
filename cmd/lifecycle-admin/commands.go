// Package main is the entry point of the lifecycle admin CLI.
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/config"
)

var flagConfPath string

var rootCmd = &cobra.Command{
	Use:   "lifecycle-admin",
	Short: "Administer content versions, approvals and scheduled publishes",
	Long: `lifecycle-admin talks to the lifecycle database directly.

Configuration is read from the environment (and a .env file in the current
directory), or from --config. Run "lifecycle-admin env" for the variables.`,
	SilenceUsage: true,
}

// Run executes CLI.
func Run() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}

	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfPath, "config", "c", "", "Config path")
}

// loadRuntime builds a service for one command. Events are delivered
// synchronously and the scheduler stays off.
func loadRuntime(ctx context.Context) (*config.Runtime, error) {
	_ = godotenv.Load()

	opt := config.WithEnv()
	if flagConfPath != "" {
		opt = config.WithConfigFile(flagConfPath)
	}
	cfg, err := config.Load(opt, config.WithEventQueue(0))
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.Enabled = false
	cfg.EventLogging = false
	return cfg.Build(ctx)
}

// parseSubject reads the [kind] [id] positional arguments
func parseSubject(rt *config.Runtime, args []string) (lifecycle.Subject, error) {
	kind := lifecycle.Kind(args[0])
	if !rt.Kinds.Has(kind) {
		return lifecycle.Subject{}, fmt.Errorf("%w: %s", lifecycle.ErrUnknownKind, kind)
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return lifecycle.Subject{}, fmt.Errorf("invalid id %q: %w", args[1], err)
	}
	return lifecycle.Subject{Kind: kind, ID: id}, nil
}

func parseActor(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid actor %q: %w", s, err)
	}
	return id, nil
}

func parseNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version number %q", s)
	}
	return n, nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateFooter = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Options.SeparateRows = false
	return tw
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the supported environment variables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			config.Usage(cmd.OutOrStdout())
		},
	}
}

func init() {
	rootCmd.AddCommand(newEnvCmd())
}
