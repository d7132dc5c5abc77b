package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bank_turns/backend/internal/config"
	"github.com/bank_turns/backend/internal/db"
)

type migrateCommand struct {
	cfg    config.Config
	logger zerolog.Logger
}

func (m migrateCommand) Command(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create the turn archive tables",
		RunE: func(_ *cobra.Command, _ []string) error {
			return m.run(ctx)
		},
	}
}

func (m migrateCommand) run(ctx context.Context) error {
	if m.cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	store, err := db.New(ctx, m.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	m.logger.Info().Msg("migrations applied")
	return nil
}
