package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bank_turns/backend/internal/bank"
	"github.com/bank_turns/backend/internal/config"
	"github.com/bank_turns/backend/internal/db"
	"github.com/bank_turns/backend/internal/events"
	httpapi "github.com/bank_turns/backend/internal/http"
	"github.com/bank_turns/backend/internal/http/handlers"
	"github.com/bank_turns/backend/internal/service"
)

type serveCommand struct {
	cfg    config.Config
	logger zerolog.Logger
}

func (s serveCommand) Command(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and the teller/advisor pool",
		RunE: func(_ *cobra.Command, _ []string) error {
			return s.run(ctx)
		},
	}
}

func (s serveCommand) run(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger

	var store *db.Store
	if cfg.DatabaseURL != "" {
		var err error
		store, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
	} else {
		logger.Warn().Msg("DATABASE_URL not set, turns are kept in memory only")
	}

	alloc := service.NewAllocator()
	if store != nil {
		seqs, err := store.MaxSequences(ctx)
		if err != nil {
			return fmt.Errorf("load sequences: %w", err)
		}
		alloc = service.NewAllocatorFrom(seqs)
	}

	turns := service.NewTurnService(alloc, service.NewTurnQueue(), logger)
	turns.MaxOperations = cfg.MaxOperationsPerTurn
	if store != nil {
		turns.Archiver = store
	}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer pub.Close()
		turns.Publisher = pub
		logger.Info().Str("subject", events.TurnsTopic+".>").Msg("publishing turn events")
	}

	if store != nil {
		pending, err := store.LoadPending(ctx)
		if err != nil {
			return fmt.Errorf("load pending turns: %w", err)
		}
		restored, err := turns.Replay(ctx, pending)
		if err != nil {
			logger.Error().Err(err).Int("restored", restored).Int("saved", len(pending)).Msg("some pending turns were not replayed")
		} else if restored > 0 {
			logger.Info().Int("restored", restored).Msg("pending turns replayed")
		}
	}

	guard := service.NewGuard(cfg.LockTimeout)
	ledger := bank.NewLedger(logger)
	ledger.Delay = cfg.OperationDelay

	dispatcher := service.NewDispatcher(turns, guard, ledger, service.DispatcherConfig{
		Tellers:          cfg.Tellers,
		Advisors:         cfg.Advisors,
		PollInterval:     cfg.PollInterval,
		MaxServiceTime:   cfg.MaxServiceTime,
		WatchdogInterval: cfg.WatchdogInterval,
	}, logger)

	var archive handlers.Archive
	if store != nil {
		archive = store
	}
	router := httpapi.Router(cfg, turns, dispatcher, guard, ledger, archive, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// the pool is stopped explicitly below, not by gctx
		dispatcher.Start(context.WithoutCancel(gctx))
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
		dispatcher.Stop(shutdownCtx)
		logger.Info().Msg("server stopped")
		return nil
	})
	return g.Wait()
}
