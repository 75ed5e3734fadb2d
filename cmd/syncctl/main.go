// Command syncctl is an operator CLI over the sync engine: it wires up the
// persistence adapter, document store, conflict manager, and background
// scheduler exactly as a host application would, and exposes their
// operations (sync a document, inspect scheduler state, list and resolve
// conflicts) from the shell.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fieldsync/offline-core/internal/conflict"
	"github.com/fieldsync/offline-core/internal/config"
	"github.com/fieldsync/offline-core/internal/docstore"
	"github.com/fieldsync/offline-core/internal/scheduler"
	"github.com/fieldsync/offline-core/internal/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "syncctl",
	Short:   "Operate a document sync engine from the command line",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("syncctl version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "path to a config file (optional)")
	rootCmd.PersistentFlags().String("endpoint", "http://127.0.0.1:8080", "sync endpoint (spec §6.2 backend)")
	rootCmd.PersistentFlags().String("replica-id", "syncctl", "replica id used for local document transactions")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(deleteCmd)
}

// engine bundles the five components a command needs, wired together the
// way a host application would at startup.
type engine struct {
	cfg       *config.Config
	adapter   storage.Adapter
	store     *docstore.Store
	conflicts *conflict.Manager
	scheduler *scheduler.Manager
	presence  *storage.RedisPubSub // optional, may be nil
	log       zerolog.Logger
}

// newEngine loads configuration, connects persistence, and constructs the
// document store, conflict manager, and scheduler against it. The caller
// must call Start/Close as appropriate.
func newEngine(cmd *cobra.Command) (*engine, error) {
	configPath, _ := cmd.Flags().GetString("config")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	replicaID, _ := cmd.Flags().GetString("replica-id")

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var adapter storage.Adapter
	if cfg.DatabaseURL != "" {
		pgCfg := storage.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		pg := storage.NewPostgresAdapter(pgCfg)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		adapter = pg
	} else {
		adapter = storage.NewMemoryAdapter()
	}

	store := docstore.New(adapter, replicaID, log)

	transport := scheduler.TransportFunc(func(ctx context.Context, docID string, updateBlob []byte) ([]byte, error) {
		return httpSync(ctx, endpoint, docID, updateBlob)
	})

	sched := scheduler.New(cfg.Scheduler, store, adapter, transport, log)

	var presence *storage.RedisPubSub
	if cfg.DatabaseURL != "" && cfg.RedisURL != "" {
		pubsub, err := storage.NewRedisPubSub(&storage.RedisPubSubConfig{
			URL:           cfg.RedisURL,
			ChannelPrefix: cfg.RedisChannelPrefix,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to configure redis presence, continuing without it")
		} else if err := pubsub.Connect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to connect to redis presence, continuing without it")
		} else {
			presence = pubsub
			sched.SetPresence(pubsub)
		}
	}

	return &engine{
		cfg:       cfg,
		adapter:   adapter,
		store:     store,
		conflicts: conflict.New(store, log),
		scheduler: sched,
		presence:  presence,
		log:       log,
	}, nil
}

func (e *engine) Close(ctx context.Context) error {
	e.scheduler.Stop()
	if e.presence != nil {
		e.presence.Disconnect(ctx)
	}
	return e.adapter.Disconnect(ctx)
}

// deleteDocument removes docID from the store and cancels any queued or
// in-flight sync for it, so the scheduler doesn't retry a document that no
// longer exists.
func (e *engine) deleteDocument(ctx context.Context, docID string) error {
	if err := e.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	e.scheduler.CancelDocument(ctx, docID)
	return nil
}

// httpSync implements scheduler.Transport against spec §6.2's wire contract:
// POST the update blob to {endpoint}/sync/{docId} and return the response
// body as the remote update to apply locally.
func httpSync(ctx context.Context, endpoint, docID string, updateBlob []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/sync/"+docID, bytes.NewReader(updateBlob))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Document-ID", docID)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync endpoint returned %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
