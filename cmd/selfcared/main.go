package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"selfcare/internal/apiclient"
	"selfcare/internal/baseurl"
	"selfcare/internal/billing"
	"selfcare/internal/config"
	"selfcare/internal/core"
	"selfcare/internal/kvstore"
	"selfcare/internal/logging"
	"selfcare/internal/notify"
	"selfcare/internal/platform"
	"selfcare/internal/server"
)

type daemonController struct {
	mu           sync.Mutex
	addr         string
	storeBackend string
	storePath    string
	schedule     string
	startedAt    time.Time
	httpServers  []*http.Server
	shuttingDown bool
}

func newDaemonController(cfg config.Config, servers ...*http.Server) *daemonController {
	ctrl := &daemonController{
		addr:         cfg.Daemon.Addr,
		storeBackend: cfg.Store.Backend,
		schedule:     cfg.Daemon.RefreshSchedule,
		startedAt:    time.Now().UTC(),
		httpServers:  servers,
	}
	if usesStoreFile(cfg.Store.Backend) {
		ctrl.storePath = cfg.Store.Path
	}
	return ctrl
}

func (d *daemonController) Info() server.DaemonInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return server.DaemonInfo{
		PID:          os.Getpid(),
		Addr:         d.addr,
		StoreBackend: d.storeBackend,
		StorePath:    d.storePath,
		Schedule:     d.schedule,
		StartedAt:    d.startedAt,
	}
}

func (d *daemonController) Shutdown() error {
	d.mu.Lock()
	if d.shuttingDown {
		d.mu.Unlock()
		return nil
	}
	d.shuttingDown = true
	servers := append([]*http.Server(nil), d.httpServers...)
	d.mu.Unlock()

	go func() {
		// Let the shutdown response reach the caller first.
		time.Sleep(150 * time.Millisecond)
		for _, srv := range servers {
			if srv == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(ctx)
			cancel()
		}
	}()
	return nil
}

func usesStoreFile(backend string) bool {
	switch backend {
	case "", kvstore.BackendFile, kvstore.BackendSecure:
		return true
	default:
		return false
	}
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: $"+config.EnvConfigPath+")")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env file %s: %v", *envFile, err)
	}
	cfg := config.MustLoad(*configPath)
	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx := context.Background()

	if usesStoreFile(cfg.Store.Backend) {
		if err := platform.EnsureDir(cfg.Store.Path); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("create store directory")
		}
	}
	store, err := kvstore.Open(ctx, kvstore.Options{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: kvstore.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("open store")
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	client := apiclient.New(ctx, apiclient.Config{
		Resolver:      baseurl.NewResolver(baseurl.ModeForEnv(cfg.Env), cfg.Platform),
		Store:         store,
		Logger:        logger,
		Timeout:       cfg.API.Timeout,
		ClientVersion: cfg.API.ClientVersion,
	})
	if cfg.API.BaseURL != "" {
		if err := client.SetBaseURL(ctx, cfg.API.BaseURL, false); err != nil {
			logger.Fatal().Err(err).Msg("apply configured base URL")
		}
	}

	api := billing.New(client, store)
	orch := core.New(api, store, core.Options{
		PromiseMin:           cfg.Promise.Min,
		PromiseMax:           cfg.Promise.Max,
		PromiseInitialAmount: cfg.Promise.InitialAmount,
		Logger:               logger,
	})
	registrar := notify.NewRegistrar(store, logger)

	resumeCtx, cancelResume := context.WithTimeout(ctx, 2*cfg.API.Timeout)
	if err := orch.Resume(resumeCtx); err != nil {
		logger.Warn().Err(err).Msg("resume session")
	}
	cancelResume()

	scheduler, err := orch.StartAutoRefresh(cfg.Daemon.RefreshSchedule, 2*cfg.API.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Daemon.RefreshSchedule).Msg("invalid refresh schedule")
	}

	httpServer := &http.Server{
		Addr:              cfg.Daemon.Addr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	daemonCtl := newDaemonController(cfg, httpServer)
	apiServer := server.New(orch, api, registrar, daemonCtl, server.Options{
		RefreshRate:    cfg.Daemon.RefreshRate,
		RefreshBurst:   cfg.Daemon.RefreshBurst,
		DisableMetrics: cfg.Daemon.DisableMetrics,
		Logger:         logger,
	})
	httpServer.Handler = apiServer.Handler()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info().Msg("signal received, shutting down")
		_ = daemonCtl.Shutdown()
	}()

	fmt.Printf("selfcared listening on http://%s\n", cfg.Daemon.Addr)
	logger.Info().
		Str("env", cfg.Env).
		Str("base_url", client.BaseURL()).
		Str("store", cfg.Store.Backend).
		Msg("daemon started")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("http server stopped")
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	logger.Info().Msg("daemon stopped")
}
