package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"classtrack/internal/config"
	"classtrack/internal/ledger"
	"classtrack/internal/store/memory"
	"classtrack/internal/store/postgres"
	"classtrack/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the central attendance ledger",
	Long: `Start the ClassTrack ledger server.
The server ingests identity events from room agents, reconciles them into
one attendance record per student per day, and serves the review, status
and export API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("in-memory", false, "Use a volatile in-memory store instead of PostgreSQL (development only)")
}

// buildStore opens the backing store. PostgreSQL is the production store;
// the in-memory one keeps nothing across restarts and exists for local
// development against a fake roster.
func buildStore(cfg *config.Config, inMemory bool) (ledger.Store, func(), error) {
	if inMemory {
		fmt.Println("Using volatile in-memory store")
		return memory.New(), func() {}, nil
	}

	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	fmt.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return postgres.NewStore(pool), func() { pool.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	cfg.Server.Port = mustGetInt(cmd, "port")
	cfg.Server.Host = mustGetString(cmd, "host")
	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &cfg.Server.Port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		cfg.Server.Host = envHost
	}

	store, closeStore, err := buildStore(cfg, mustGetBool(cmd, "in-memory"))
	if err != nil {
		return err
	}
	defer closeStore()

	server := web.NewServer(cfg, ledger.NewService(store), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting ClassTrack ledger on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
