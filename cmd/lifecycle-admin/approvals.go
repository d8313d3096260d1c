package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	repopg "github.com/tendant/simple-lifecycle/pkg/lifecycle/repo/postgres"
)

var databaseURL string

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending [site id]",
		Short: "List a site's content awaiting approval or a scheduled publish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			siteID, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			pending, err := rt.Service.GetPendingApprovals(ctx, siteID)
			if err != nil {
				return err
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"KIND", "ID", "REQUEST", "REQUESTED BY", "PUBLISH AT"})
			for _, kind := range rt.Service.Kinds() {
				for _, p := range pending[kind] {
					meta := p.Item.Meta()
					request, requestedBy, publishAt := "-", "-", "-"
					if p.Request != nil {
						request = p.Request.ID.String()
						requestedBy = p.Request.RequestedBy.String()
					} else if meta.PublishedAt != nil {
						publishAt = meta.PublishedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{kind, meta.ID, request, requestedBy, publishAt})
				}
			}
			cmd.Printf("%s\n", tw.Render())
			return nil
		},
	}
}

func newPublishDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-due",
		Short: "Publish every scheduled item whose publish time has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			published, err := rt.Service.PublishDue(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			cmd.Printf("published %d items\n", published)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the lifecycle schema to a Postgres database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("--database-url is required")
			}
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repopg.Migrate(ctx, pool); err != nil {
				return err
			}
			cmd.Println("lifecycle schema applied")
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newPendingCmd())
	rootCmd.AddCommand(newPublishDueCmd())

	migrate := newMigrateCmd()
	migrate.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	rootCmd.AddCommand(migrate)
}
