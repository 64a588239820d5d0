package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"itemgen.ai/internal/observability/log"
	"itemgen.ai/internal/persistence/indexdb"
	persistlog "itemgen.ai/internal/persistence/log"
	"itemgen.ai/internal/persistence/store"
	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/tuning"
	"itemgen.ai/internal/sim/world"
	"itemgen.ai/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", envString("ITEMGEN_ADDR", ":8080"), "http listen address")
		configDir   = flag.String("configs", envString("ITEMGEN_CONFIGS", "./configs"), "config directory")
		dataDir     = flag.String("data", envString("ITEMGEN_DATA", "./data"), "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		genPath     = flag.String("generators", "", "path to generators.yaml (default: <configs>/generators.yaml)")
		matPath     = flag.String("materials", "", "path to materials.json (default: <configs>/materials.json, built-in list if absent)")
		playersPath = flag.String("players", "", "path to players.yaml (default: <configs>/players.yaml)")
		disableDB   = flag.Bool("disable_db", envBool("ITEMGEN_DISABLE_DB", false), "disable the sqlite event index")
		logLevel    = flag.String("log_level", envString("ITEMGEN_LOG_LEVEL", "info"), "log level")
		logDev      = flag.Bool("log_dev", envBool("ITEMGEN_LOG_DEV", false), "human readable development logging")
		invSlots    = flag.Int("inventory_slots", envInt("ITEMGEN_INVENTORY_SLOTS", 36), "host player inventory size")
	)
	flag.Parse()

	logger, err := log.New(log.Config{Level: *logLevel, Development: *logDev})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	orDefault := func(v, name string) string {
		if v != "" {
			return v
		}
		return filepath.Join(*configDir, name)
	}
	loader := &fileLoader{
		tuningPath:     orDefault(*tuningPath, "tuning.yaml"),
		materialsPath:  orDefault(*matPath, "materials.json"),
		generatorsPath: orDefault(*genPath, "generators.yaml"),
		log:            logger,
	}
	tune, cat, err := loader.Load()
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	w := world.New(world.Config{
		RegionSize:     tune.Scheduler.RegionSize,
		InventorySlots: *invSlots,
	}, logger.Named("world"))
	if n, err := w.LoadPlayers(orDefault(*playersPath, "players.yaml")); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatal("load players", zap.Error(err))
		}
		logger.Warn("no players.yaml; only the console can run commands")
	} else {
		logger.Info("players loaded", zap.Int("count", n))
	}

	mirror, err := buildBackupMirror(logger.Named("mirror"))
	if err != nil {
		logger.Fatal("backup mirror", zap.Error(err))
	}
	st, err := store.New(store.Options{
		Dir:         *dataDir,
		KeepBackups: tune.General.KeepBackups,
		Logger:      logger.Named("store"),
		OnBackup:    mirror.Enqueue,
	})
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	journal := persistlog.NewEventJournal(filepath.Join(*dataDir, "events"), logger.Named("journal"))
	defer journal.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "events.sqlite"))
		if err != nil {
			logger.Fatal("open index", zap.Error(err))
		}
		defer idx.Close()
		if err := idx.UpsertCatalog(cat); err != nil {
			logger.Warn("index catalog", zap.Error(err))
		}
	}

	loader.OnLoad(func(t tuning.Tuning, c *catalogs.Catalog) {
		st.SetKeepBackups(t.General.KeepBackups)
		if idx != nil {
			if err := idx.UpsertCatalog(c); err != nil {
				logger.Warn("index catalog", zap.Error(err))
			}
		}
	})

	var handle *generators.Handle
	hub := ws.NewHub(ws.Options{
		Retain:       envInt("ITEMGEN_STREAM_RETAIN", 1024),
		LoopbackOnly: !envBool("ITEMGEN_STREAM_PUBLIC", false),
		Welcome: func() protocol.WelcomeMsg {
			e := handle.Engine
			return protocol.WelcomeMsg{Generators: e.Registry().Len(), Types: e.Catalog().Names()}
		},
	}, logger.Named("stream"))

	sinks := generators.Sinks{journal, hub}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	handle, err = generators.Start(generators.Config{
		Tuning:  tune,
		Catalog: cat,
	}, generators.Deps{
		Logger:      logger.Named("generators"),
		World:       w,
		Permissions: w,
		Inventory:   w,
		Executor:    w,
		Store:       hostStore{Store: st, world: w, catalog: loader.Catalog},
		Loader:      loader,
		Sink:        sinks,
	})
	if err != nil {
		logger.Fatal("start generators", zap.Error(err))
	}

	a := &app{
		log:         logger.Named("http"),
		world:       w,
		engine:      handle.Engine,
		hub:         hub,
		index:       idx,
		mirror:      mirror,
		enableAdmin: envBool("ITEMGEN_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		enableHost:  envBool("ITEMGEN_ENABLE_HOST_HTTP", true),
	}
	mux := a.routes()
	if envBool("ITEMGEN_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worldCtx, stopWorld := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Loop(worldCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("world: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		final := handle.Stop()
		logger.Info("generators stopped", zap.Int("saved", len(final.Generators)))
		stopWorld()
		mirror.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
