package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BashkirovN/MiniStateAffairs/internal/config"
	"github.com/BashkirovN/MiniStateAffairs/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				if err := st.RunMigrations(ctx); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func newResetRetriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-retries <item-id>",
		Short: "Zero the retry count of a work item so it becomes claimable again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				return st.ResetRetryCount(ctx, args[0])
			})
		},
	}
}

func newMarkFailedCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "mark-failed <item-id>",
		Short: "Move a work item to permanent_failure so the pipeline skips it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				return st.MarkPermanentFailure(ctx, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "marked failed by operator", "Reason recorded on the item")
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	cfg := config.Load()
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}
