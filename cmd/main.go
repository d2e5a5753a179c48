package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/quickentry-backend/internal/app"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "quickentry",
	Short: "quickentry classifies, extracts and indexes free-form health log entries",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			_ = godotenv.Load()
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the stale entry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, log)
		if err != nil {
			log.Error("Failed to init app", "error", err)
			log.Sync()
			return err
		}
		a.Start()

		errCh := make(chan error, 1)
		go func() { errCh <- a.Run() }()

		select {
		case <-ctx.Done():
			log.Info("Shutting down")
		case err = <-errCh:
			if err != nil {
				log.Error("Server failed", "error", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		defer log.Sync()
		return app.Migrate(log)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail one batch of entries stuck past the pipeline ceiling",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		defer log.Sync()
		n, err := app.SweepOnce(cmd.Context(), log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d entries\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
