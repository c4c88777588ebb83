package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuttlehq/shuttle/pkg/api"
	"github.com/shuttlehq/shuttle/pkg/blob"
	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/events"
	"github.com/shuttlehq/shuttle/pkg/indexer"
	"github.com/shuttlehq/shuttle/pkg/ledger"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/manager"
	"github.com/shuttlehq/shuttle/pkg/metrics"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/scheduler"
	"github.com/shuttlehq/shuttle/pkg/security"
	"github.com/shuttlehq/shuttle/pkg/storage"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the Shuttle coordinator",
	Long: `Run the coordinator process: the scheduler, sync manager, durable
queues, content store, indexer, and the operator and SDK APIs.`,
	RunE: runCoordinator,
}

func init() {
	coordinatorCmd.Flags().String("config", "", "Path to YAML config file")
	coordinatorCmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	coordinatorCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	eventQueue, err := queue.NewEventQueue(store.DB(), broker)
	if err != nil {
		return fmt.Errorf("failed to open event queue: %w", err)
	}
	embedQueue, err := queue.NewEmbeddingQueue(store.DB(), broker, store)
	if err != nil {
		return fmt.Errorf("failed to open embedding queue: %w", err)
	}

	blobs, err := buildBlobStore(cfg, store)
	if err != nil {
		return err
	}

	sealer, err := security.NewSealerFromPassphrase(cfg.SealPassphrase)
	if err != nil {
		return fmt.Errorf("failed to initialize credential sealer: %w", err)
	}

	ldg := ledger.New(store, broker)
	mgr := manager.NewSyncManager(store, ldg, sealer, cfg)

	// Nothing survives a coordinator restart; fail whatever was left running.
	if err := mgr.RecoverAll(); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	ix, err := indexer.New(store.DB(), eventQueue, embedQueue, broker)
	if err != nil {
		return fmt.Errorf("failed to initialize indexer: %w", err)
	}
	ix.Start()
	defer ix.Stop()

	sched := scheduler.New(store, mgr, eventQueue, embedQueue, cfg)
	sched.Start()
	defer sched.Stop()

	collector := metrics.NewCollector(store, eventQueue, embedQueue)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(api.Deps{
		Store:   store,
		Ledger:  ldg,
		Manager: mgr,
		Queue:   eventQueue,
		Embed:   embedQueue,
		Blobs:   blobs,
		Broker:  broker,
		Sealer:  sealer,
		Config:  cfg,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithComponent("main").Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// buildBlobStore selects the content backend from config.
func buildBlobStore(cfg *config.Config, store *storage.BoltStore) (blob.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendObjectStore:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:   cfg.ObjectStore.Bucket,
			Region:   cfg.ObjectStore.Region,
			Endpoint: cfg.ObjectStore.Endpoint,
			Prefix:   cfg.ObjectStore.Prefix,
		})
	default:
		return blob.NewBoltStore(store.DB())
	}
}
