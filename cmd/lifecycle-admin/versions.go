package main

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

var (
	keepLast    int
	rollbackBy  string
	compareJSON bool
	fromArchive bool
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [kind] [id]",
		Short: "Show the version history of a content item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			subject, err := parseSubject(rt, args)
			if err != nil {
				return err
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"VERSION", "CREATED AT", "CREATED BY", "SUMMARY"})

			if fromArchive {
				if rt.Archiver == nil {
					return errors.New("no archive configured")
				}
				numbers, err := rt.Archiver.List(ctx, subject)
				if err != nil {
					return err
				}
				for _, n := range numbers {
					v, err := rt.Archiver.Load(ctx, subject, n)
					if err != nil {
						return err
					}
					tw.AppendRow(versionRow(v))
				}
				cmd.Printf("%s\n", tw.Render())
				return nil
			}

			versions, err := rt.Service.History(ctx, subject)
			if err != nil {
				return err
			}
			for _, v := range versions {
				tw.AppendRow(versionRow(v))
			}
			cmd.Printf("%s\n", tw.Render())
			return nil
		},
	}
}

func versionRow(v *lifecycle.Version) table.Row {
	return table.Row{v.VersionNumber, v.CreatedAt.Format(time.RFC3339), v.CreatedBy, v.ChangeSummary}
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare [kind] [id] [a] [b]",
		Short: "Show the fields that differ between two versions",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			subject, err := parseSubject(rt, args)
			if err != nil {
				return err
			}
			a, err := parseNumber(args[2])
			if err != nil {
				return err
			}
			b, err := parseNumber(args[3])
			if err != nil {
				return err
			}

			changes, err := rt.Service.CompareVersions(ctx, subject, a, b)
			if err != nil {
				return err
			}
			if compareJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(changes)
			}

			fields := make([]string, 0, len(changes))
			for f := range changes {
				fields = append(fields, f)
			}
			sort.Strings(fields)

			tw := newTable()
			tw.AppendHeader(table.Row{"FIELD", args[2], args[3]})
			for _, f := range fields {
				tw.AppendRow(table.Row{f, changes[f].A, changes[f].B})
			}
			cmd.Printf("%s\n", tw.Render())
			return nil
		},
	}
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [kind] [id] [version]",
		Short: "Restore a content item from an earlier version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			subject, err := parseSubject(rt, args)
			if err != nil {
				return err
			}
			number, err := parseNumber(args[2])
			if err != nil {
				return err
			}
			actor, err := parseActor(rollbackBy)
			if err != nil {
				return err
			}

			item, err := rt.Service.GetItem(ctx, subject.Kind, subject.ID)
			if err != nil {
				return err
			}
			version, err := rt.Service.Rollback(ctx, item, number, actor)
			if err != nil {
				return err
			}
			cmd.Printf("%s %s rolled back to version %d (new version %d)\n",
				subject.Kind, subject.ID, number, version.VersionNumber)
			return nil
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune [kind] [id]",
		Short: "Delete all but the most recent versions of a content item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			subject, err := parseSubject(rt, args)
			if err != nil {
				return err
			}
			deleted, err := rt.Service.PruneVersions(ctx, subject, keepLast)
			if err != nil {
				return err
			}
			cmd.Printf("pruned %d versions of %s %s\n", deleted, subject.Kind, subject.ID)
			return nil
		},
	}
}

func init() {
	history := newHistoryCmd()
	history.Flags().BoolVar(&fromArchive, "archived", false, "List archived versions instead of live ones")
	rootCmd.AddCommand(history)

	compare := newCompareCmd()
	compare.Flags().BoolVar(&compareJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(compare)

	rollback := newRollbackCmd()
	rollback.Flags().StringVar(&rollbackBy, "actor", "", "Actor id recorded on the new version (default: system)")
	rootCmd.AddCommand(rollback)

	prune := newPruneCmd()
	prune.Flags().IntVar(&keepLast, "keep", lifecycle.DefaultKeepVersions, "Number of recent versions to keep")
	rootCmd.AddCommand(prune)
}
