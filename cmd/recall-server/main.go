// Command recall-server runs the capture surface: the HTTP endpoints, the
// background task workers, and the vault watcher, all against the shared
// stores.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/internal/contentstore/postgres"
	"github.com/scrypster/recall/internal/contentstore/sqlite"
	"github.com/scrypster/recall/internal/costledger"
	"github.com/scrypster/recall/internal/enrich"
	"github.com/scrypster/recall/internal/graph"
	"github.com/scrypster/recall/internal/kv"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/pipeline"
	"github.com/scrypster/recall/internal/review"
	"github.com/scrypster/recall/internal/server"
	"github.com/scrypster/recall/internal/tasks"
	"github.com/scrypster/recall/internal/taxonomy"
	"github.com/scrypster/recall/internal/vault"
	"github.com/scrypster/recall/pkg/types"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// The local SQLite file always exists: the cost ledger and review store
	// live there even when content records go to Postgres.
	db, err := sqlite.Open(cfg.Storage.DataPath + "/recall.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	store, err := openContentStore(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize content store: %v", err)
	}
	defer store.Close()

	ledger, err := costledger.New(db)
	if err != nil {
		log.Fatalf("Failed to initialize cost ledger: %v", err)
	}

	reviewStore, err := review.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize review store: %v", err)
	}

	vaultMgr := vault.NewManager(cfg.Vault.Path)
	if err := vaultMgr.EnsureStructure(); err != nil {
		log.Fatalf("Failed to prepare vault at %s: %v", cfg.Vault.Path, err)
	}

	if cfg.KV.Addr == "" {
		log.Fatal("recall-server requires Redis; set RECALL_REDIS_ADDR")
	}
	rdb, err := kv.NewClient(cfg.KV)
	if err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.KV.Addr, err)
	}
	defer rdb.Close()
	queues := tasks.NewQueues(rdb)

	// Graph store is optional; without it enrichment skips graph writes and
	// connection discovery.
	var graphStore *graph.Store
	var enrichGraph enrich.Graph
	if cfg.Graph.URI != "" {
		client, err := graph.NewClient(cfg.Graph)
		if err != nil {
			log.Fatalf("Failed to connect to Neo4j at %s: %v", cfg.Graph.URI, err)
		}
		defer client.Close(context.Background())
		graphStore = graph.NewStore(client)
		enrichGraph = graphStore
	} else {
		log.Println("main: graph store disabled (RECALL_NEO4J_URI not set)")
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM)
	tax := taxonomy.NewLoader(cfg.Vault.TaxonomyPath, cfg.Vault.TaxonomyTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ingestion pipelines. Registration order matters for overlapping types.
	deps := pipeline.Deps{
		Store:            store,
		LLM:              llmClient,
		Ledger:           ledger,
		MaxFileSizeBytes: cfg.Limits.MaxFileSizeBytes,
	}
	ocr := pipeline.NewVisionOCR(llmClient)
	web := pipeline.NewWebArticle(deps, cfg.Limits.HTTPTimeout)
	registry := pipeline.NewRegistry(
		pipeline.NewBookBatch(deps, ocr, cfg.Limits.BookConcurrency),
		pipeline.NewVoiceMemo(deps, llmClient),
		pipeline.NewSourceRepo(deps, pipeline.NewGitHub(cfg.Sync.GitHubToken, cfg.Limits.HTTPTimeout), cfg.Limits.RepoFileCap),
		web,
		pipeline.NewDocument(deps, ocr),
		pipeline.NewTextIdea(deps),
	)

	// Enrichment orchestrator plus card generation.
	orch := enrich.NewOrchestrator(store, vaultMgr, enrichGraph, llmClient, tax, ledger, cfg.Processing)
	orch.Cards = review.NewGenerator(reviewStore, llmClient, ledger)
	orch.CardCleaner = reviewStore

	srv := server.New(cfg, registry, queues, ledger)
	orch.Events = &runEvents{
		hub:    srv.Hub(),
		notify: tasks.NewSimpleQueue(rdb, "recall:queue:notifications"),
	}
	if graphStore != nil {
		srv.Deduper = graphStore
	}

	// Task workers.
	runner := tasks.NewRunner(queues, cfg.Processing.Workers)
	processContent := func(ctx context.Context, job *tasks.Job) error {
		var p tasks.ContentPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return err
		}
		return orch.Process(ctx, p.ContentUUID)
	}
	runner.Handle(tasks.TaskProcessContent, processContent)
	runner.Handle(tasks.TaskProcessVoice, processContent)
	runner.Handle(tasks.TaskProcessBook, processContent)

	syncState := kv.NewSyncState(rdb)
	if cfg.Sync.RaindropToken != "" {
		raindrop := pipeline.NewRaindrop(cfg.Sync.RaindropToken, cfg.Limits.HTTPTimeout)
		bookmarks := pipeline.NewBookmarkSync(raindrop, web)
		runner.Handle(tasks.TaskSyncBookmarks, func(ctx context.Context, job *tasks.Job) error {
			since, _, err := syncState.LastSyncTime(ctx)
			if err != nil {
				return err
			}
			stats, err := bookmarks.Sync(ctx, since)
			if err != nil {
				return err
			}
			log.Printf("main: bookmark sync: %d fetched, %d new, %d deduped",
				stats.Fetched, stats.Captured, stats.Deduped)
			for _, id := range stats.CapturedUUIDs {
				if _, err := queues.Enqueue(ctx, tasks.TaskProcessContent, tasks.ContentPayload{ContentUUID: id}); err != nil {
					log.Printf("main: failed to enqueue bookmark %s: %v", id, err)
				}
			}
			return syncState.SetLastSyncTime(ctx, time.Now().UTC())
		})
	}
	repoCache := kv.NewCache(rdb, "recall:repo")
	runner.Handle(tasks.TaskSyncRepo, func(ctx context.Context, job *tasks.Job) error {
		var p tasks.RepoPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return err
		}
		var syncedAt string
		if hit, err := repoCache.Get(ctx, p.URL, &syncedAt); err == nil && hit {
			log.Printf("main: repo %s synced at %s, skipping", p.URL, syncedAt)
			return nil
		}
		result, err := registry.Process(ctx, pipeline.Input{Type: pipeline.InputCode, URL: p.URL})
		if err != nil {
			return err
		}
		if err := repoCache.Set(ctx, p.URL, time.Now().UTC().Format(time.RFC3339), 24*time.Hour); err != nil {
			log.Printf("main: failed to record repo sync for %s: %v", p.URL, err)
		}
		if result.Saved.Deduped {
			return nil
		}
		_, err = queues.Enqueue(ctx, tasks.TaskProcessContent, tasks.ContentPayload{ContentUUID: result.Saved.UUID})
		return err
	})
	go func() {
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("main: task runner stopped: %v", err)
		}
	}()

	if cfg.Sync.RaindropToken != "" && cfg.Sync.BookmarkInterval > 0 {
		go bookmarkTimer(ctx, queues, cfg.Sync.BookmarkInterval)
	}

	// Vault watcher and reconciler need the graph store.
	if graphStore != nil {
		reconciler := vault.NewReconciler(vaultMgr, graphStore, syncState)
		watcher := vault.NewWatcher(vaultMgr, reconciler, 2*time.Second)
		if err := watcher.Start(ctx); err != nil {
			log.Printf("main: vault watcher failed to start: %v", err)
		} else {
			defer watcher.Stop()
		}
		go func() {
			if _, err := reconciler.Reconcile(ctx); err != nil && !alreadyRunning(err) {
				log.Printf("main: startup reconciliation failed: %v", err)
			}
		}()
	}

	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start capture server: %v", err)
	}
	log.Printf("Recall capture server listening on http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second)
}

// openContentStore selects the relational backend. The SQLite handle is
// reused for the sqlite engine so all local tables share one connection.
func openContentStore(cfg *config.Config, db *sql.DB) (contentstore.Store, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		pdb, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return postgres.NewStore(pdb), nil
	default:
		return sqlite.NewStore(db), nil
	}
}

func bookmarkTimer(ctx context.Context, queues *tasks.Queues, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := queues.Enqueue(ctx, tasks.TaskSyncBookmarks, nil); err != nil {
				log.Printf("main: failed to enqueue bookmark sync: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func alreadyRunning(err error) bool {
	return errors.Is(err, vault.ErrSyncInProgress)
}

// runEvents fans a finished run out to the websocket hub and to the
// fire-and-forget notification list that external consumers drain.
type runEvents struct {
	hub    *server.Hub
	notify *tasks.SimpleQueue
}

func (e *runEvents) RunFinished(contentUUID, title string, run *types.ProcessingRun) {
	e.hub.RunFinished(contentUUID, title, run)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.notify.Push(ctx, map[string]any{
		"content_uuid": contentUUID,
		"title":        title,
		"status":       run.Status,
		"cost_usd":     run.CostUSD,
	})
	if err != nil {
		log.Printf("main: failed to push run notification: %v", err)
	}
}
