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

	"classtrack/internal/agent"
	"classtrack/internal/config"
	"classtrack/internal/outbox"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the room-side attendance agent",
	Long: `Run the agent for one classroom.
The agent polls the camera detector sidecar for face embeddings, matches
them against the room roster, debounces repeat sightings and delivers
identity events to the central ledger through a durable local outbox.
The ledger being unreachable never loses events; they queue on disk and
drain when it comes back.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().String("room-file", "", "Path to a per-room YAML config overriding the environment")
	agentCmd.Flags().String("room", "", "Room id (overrides ROOM_ID)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if path := mustGetString(cmd, "room-file"); path != "" {
		if err := cfg.LoadRoomFile(path); err != nil {
			return err
		}
	}
	if room := mustGetString(cmd, "room"); room != "" {
		cfg.Agent.RoomID = room
	}
	if cfg.Agent.RoomID == "" {
		return errors.New("room id is required (ROOM_ID, --room or room file)")
	}

	client, err := agent.NewClient(cfg.Agent.LedgerURL, cfg.Server.APIToken)
	if err != nil {
		return err
	}
	source, err := agent.NewHTTPSource(cfg.Agent.DetectorURL, time.Second)
	if err != nil {
		return err
	}

	store, err := outbox.Open(cfg.Agent.OutboxPath)
	if err != nil {
		return fmt.Errorf("open outbox %s: %w", cfg.Agent.OutboxPath, err)
	}
	defer store.Close()

	sender := outbox.NewSender(store, client,
		outbox.WithBackoff(cfg.Delivery.BaseDelay, cfg.Delivery.MaxDelay))

	a, err := agent.New(agent.Params{
		RoomID:            cfg.Agent.RoomID,
		Source:            source,
		Roster:            client,
		Outbox:            store,
		Sender:            sender,
		MatchThreshold:    cfg.Matcher.Threshold,
		Cooldown:          cfg.Debounce.Cooldown,
		ClusterSimilarity: cfg.Debounce.ClusterSimilarity,
		MinConfidence:     cfg.Agent.MinDetectionScore,
		RosterRefresh:     cfg.Agent.RosterRefresh,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Printf("Starting agent for room %s (ledger %s, outbox %s)\n",
		cfg.Agent.RoomID, cfg.Agent.LedgerURL, store.Path())
	fmt.Println("Press Ctrl+C to stop")

	return a.Run(ctx)
}
