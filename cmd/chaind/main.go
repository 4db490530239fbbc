package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/api"
	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/market"
	"github.com/openledger/chain-engine/internal/metrics"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/store"
)

// maintInterval is the operational stand-in for the chain's maintenance
// period: the logical clock and rule set are re-resolved on this cadence.
const maintInterval = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	snapshotEvery := 10 * time.Minute
	if v := os.Getenv("SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid SNAPSHOT_INTERVAL", "err", err)
			os.Exit(1)
		}
		snapshotEvery = d
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if _, err := pool.Exec(context.Background(), store.Schema); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger arena: restore latest snapshot or bootstrap genesis ---
	now := time.Now().UTC()
	db := ledger.NewDatabase(now, now.Truncate(maintInterval).Add(maintInterval))
	replayFrom := time.Time{}

	snap, err := st.LatestSnapshot(context.Background())
	switch {
	case err == nil:
		if err := db.ImportState(snap.State); err != nil {
			slog.Error("snapshot restore failed", "err", err)
			os.Exit(1)
		}
		db.AdvanceTime(now, now.Truncate(maintInterval).Add(maintInterval))
		replayFrom = snap.HeadBlockTime
		slog.Info("state restored from snapshot", "snapshot", snap.ID.String(),
			"head_block_time", snap.HeadBlockTime)
	case errors.Is(err, store.ErrNotFound):
		if err := bootstrapGenesis(db); err != nil {
			slog.Error("genesis bootstrap failed", "err", err)
			os.Exit(1)
		}
		slog.Info("genesis state bootstrapped")
	default:
		slog.Error("snapshot load failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket event hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Operation processor ---
	var mu sync.RWMutex
	proc := market.NewProcessor(db, hub)

	// Replay journaled operations newer than the restored snapshot.
	if records, err := st.OperationsSince(context.Background(), replayFrom); err == nil {
		replayed := 0
		for _, rec := range records {
			if rec.Outcome != "applied" {
				continue
			}
			op, err := model.DecodeOperation(rec.Name, rec.Payload)
			if err != nil {
				slog.Warn("journal record skipped", "id", rec.ID.String(), "err", err)
				continue
			}
			mu.Lock()
			_, err = proc.ApplyOperation(op, false)
			mu.Unlock()
			if err == nil {
				replayed++
			}
		}
		if replayed > 0 {
			slog.Info("journal replayed", "operations", replayed)
		}
	}

	// Journal from here on; replayed operations must not be re-appended.
	proc.SetJournal(st)

	svc := api.NewService(&mu, db, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"chain-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for fill and settlement events.
		r.Get("/ws", hub.HandleWS)

		// State inspection.
		r.Get("/objects", svc.ListObjects)
		r.Get("/objects/{objectID}", svc.GetObject)
		r.Get("/assets/{assetID}", svc.GetAsset)
		r.Get("/accounts/{accountID}/balances", svc.GetBalances)
		r.Get("/book/{sellAssetID}/{receiveAssetID}", svc.GetOrderBook)
		r.Get("/calls/{assetID}", svc.GetCallOrders)

		// Operation journal.
		r.Get("/journal", svc.RecentOperations)
		r.Get("/journal/{accountID}", svc.OperationsByPayer)
	})

	// --- Background housekeeping ---
	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				now := time.Now().UTC()
				mu.Lock()
				db.AdvanceTime(now, now.Truncate(maintInterval).Add(maintInterval))
				if err := proc.Matching().SweepExpiredOrders(); err != nil {
					slog.Error("expired order sweep failed", "err", err)
				}
				mu.Unlock()
			}
		}
	}()
	go func() {
		tick := time.NewTicker(snapshotEvery)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if err := saveSnapshot(context.Background(), &mu, db, st); err != nil {
					slog.Error("snapshot save failed", "err", err)
				}
			}
		}
	}()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chain-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down chain-engine...")
	if err := saveSnapshot(ctx, &mu, db, st); err != nil {
		slog.Error("final snapshot failed", "err", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("chain-engine stopped")
}

// bootstrapGenesis creates the minimal state a fresh node needs: the core
// asset and, when GENESIS_SYMBOL is set, one collateralized asset backed by
// it ready to receive feeds.
func bootstrapGenesis(db *ledger.Database) error {
	coreDyn := &model.AssetDynamicData{ID: db.NewID(model.TypeAssetDynamicData)}
	if err := db.Insert(coreDyn); err != nil {
		return err
	}
	core := &model.AssetObject{
		ID:     db.NewID(model.TypeAsset),
		Symbol: "CORE",
		Options: model.AssetOptions{
			MaxSupply: decimal.New(1, 15),
		},
		DynamicDataID: coreDyn.ID,
	}
	if core.ID != model.CoreAssetID {
		return fmt.Errorf("core asset allocated id %s", core.ID)
	}
	if err := db.Insert(core); err != nil {
		return err
	}

	symbol := os.Getenv("GENESIS_SYMBOL")
	if symbol == "" {
		return nil
	}
	if err := model.ValidateSymbol(symbol); err != nil {
		return fmt.Errorf("GENESIS_SYMBOL: %w", err)
	}

	dyn := &model.AssetDynamicData{ID: db.NewID(model.TypeAssetDynamicData)}
	if err := db.Insert(dyn); err != nil {
		return err
	}
	assetID := db.NewID(model.TypeAsset)
	bita := &model.BitassetData{
		ID:      db.NewID(model.TypeBitassetData),
		AssetID: assetID,
		Options: model.BitassetOptions{
			ShortBackingAsset: core.ID,
			FeedLifetime:      24 * time.Hour,
			MinimumFeeds:      1,
		},
	}
	if err := db.Insert(bita); err != nil {
		return err
	}
	asset := &model.AssetObject{
		ID:     assetID,
		Symbol: symbol,
		Options: model.AssetOptions{
			MaxSupply:        decimal.New(1, 15),
			CoreExchangeRate: model.Price{Base: model.NewAsset(1, assetID), Quote: model.NewAsset(1, core.ID)},
		},
		DynamicDataID:  dyn.ID,
		BitassetDataID: &bita.ID,
	}
	return db.Insert(asset)
}

// saveSnapshot exports the arena under the read lock and persists it.
func saveSnapshot(ctx context.Context, mu *sync.RWMutex, db *ledger.Database, st store.Store) error {
	mu.RLock()
	state, err := db.ExportState()
	head := db.HeadBlockTime()
	mu.RUnlock()
	if err != nil {
		return err
	}
	snap := &store.Snapshot{
		ID:            uuid.New(),
		HeadBlockTime: head,
		CreatedAt:     time.Now().UTC(),
		State:         state,
	}
	if err := st.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	slog.Info("snapshot saved", "snapshot", snap.ID.String(), "bytes", len(state))
	return nil
}
