package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mwhitfield/lockstep/internal/config"
	"github.com/mwhitfield/lockstep/internal/data/repository"
	"github.com/mwhitfield/lockstep/internal/data/repository/postgres"
	"github.com/mwhitfield/lockstep/internal/data/repository/sqlite"
	"github.com/mwhitfield/lockstep/internal/rest"
	"github.com/mwhitfield/lockstep/internal/rest/handlers"
	"github.com/mwhitfield/lockstep/internal/runner"
	"github.com/mwhitfield/lockstep/internal/source"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "lockstep",
		Short:         "Lockstep applies versioned SQL migrations in order, once each",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runUp,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE:  runStatus,
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the migration status API",
			RunE:  runServe,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setup() (config.Config, *runner.Runner, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	store, err := openStore(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	src := source.NewDir(cfg.MigrationsDir)
	r := runner.New(store, src, log.Logger)

	return cfg, r, store.Close, nil
}

func openStore(cfg config.Config) (repository.MigrationStore, error) {
	connString, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewMigrationStore(connString, cfg.Table)
	default:
		return postgres.NewMigrationStore(context.Background(), connString, cfg.Table)
	}
}

func runUp(cmd *cobra.Command, args []string) error {
	_, r, closeStore, err := setup()
	if err != nil {
		return err
	}
	defer closeStore()

	summary, err := r.Run(cmd.Context())
	if err != nil {
		var applyErr *runner.ApplyError
		if errors.As(err, &applyErr) {
			fmt.Fprintf(os.Stderr, "migration %s failed: %v\n", applyErr.Filename, applyErr.Err)
		}
		return err
	}

	log.Info().
		Str("runId", summary.RunID).
		Int("totalCandidates", summary.TotalCandidates).
		Int("alreadyApplied", summary.AlreadyApplied).
		Int("newlyApplied", summary.NewlyApplied).
		Msg("migrations complete")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, r, closeStore, err := setup()
	if err != nil {
		return err
	}
	defer closeStore()

	status, err := r.Status(cmd.Context())
	if err != nil {
		return err
	}

	for _, record := range status.Applied {
		fmt.Printf("applied  %s  %s\n", record.Filename, record.AppliedAt.Format(time.RFC3339))
	}
	for _, name := range status.Pending {
		fmt.Printf("pending  %s\n", name)
	}
	fmt.Printf("%d applied, %d pending\n", status.AppliedCount(), status.PendingCount())

	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, r, closeStore, err := setup()
	if err != nil {
		return err
	}
	defer closeStore()

	router := chi.NewRouter()
	rest.SetupRoutes(router, handlers.NewMigrationHandler(r))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("starting status server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
