package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"chat_offline_gateway/internal/admin"
	"chat_offline_gateway/internal/cache"
	"chat_offline_gateway/internal/config"
	"chat_offline_gateway/internal/connectivity"
	"chat_offline_gateway/internal/event"
	"chat_offline_gateway/internal/gateway"
	"chat_offline_gateway/internal/lifecycle"
	"chat_offline_gateway/internal/obs"
	"chat_offline_gateway/internal/queue"
	"chat_offline_gateway/internal/router"
	"chat_offline_gateway/internal/server"
	"chat_offline_gateway/internal/syncer"
	"chat_offline_gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to the gateway config file")
	flag.Parse()
	if *configPath == "" {
		log.Fatalf("usage: %s -config <gateway.yaml>", os.Args[0])
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	metrics := obs.NewMetrics()
	obs.SetDefaultMetrics(metrics)
	hub := event.NewHub(event.DefaultBuffer)

	client, err := upstream.New(cfg.UpstreamURL, cfg.FetchTimeout())
	if err != nil {
		log.Fatalf("upstream: %v", err)
	}

	cacheStore, err := cache.OpenLevelStore(filepath.Join(cfg.DataDir, "cache"), cfg.MaxObjectBytes)
	if err != nil {
		log.Fatalf("open cache store: %v", err)
	}
	outbox, err := queue.OpenLevelQueue(filepath.Join(cfg.DataDir, "queue"))
	if err != nil {
		log.Fatalf("open outbox: %v", err)
	}
	if depth, err := outbox.Depth(); err == nil {
		metrics.SetQueueDepth(depth)
	}

	manager := lifecycle.NewManager(lifecycle.Config{
		Store:         cacheStore,
		Upstream:      client,
		Hub:           hub,
		Metrics:       metrics,
		Routing:       cfg.Routing(),
		PinnedVersion: cfg.Version,
	})

	coordinator := syncer.New(syncer.Config{
		Queue:       outbox,
		Upstream:    client,
		Hub:         hub,
		Metrics:     metrics,
		ReplayRate:  rate.Limit(cfg.ReplayPerSecond),
		ReplayBurst: cfg.ReplayBurst,
	})

	probe := connectivity.NewProbe(connectivity.Config{
		Upstream:         client,
		Hub:              hub,
		Metrics:          metrics,
		Path:             cfg.Probe.Path,
		Interval:         cfg.ProbeInterval(),
		SuccessThreshold: cfg.Probe.SuccessThreshold,
		FailureThreshold: cfg.Probe.FailureThreshold,
		OnOnline: func() {
			coordinator.TriggerAsync("reconnect")
		},
	})

	handler := gateway.New(router.New(cfg.Routing()), cacheStore, outbox, client, manager)
	handler.Metrics = metrics

	var auth *admin.Authenticator
	if cfg.AdminToken != "" {
		auth, err = admin.NewAuthenticator(cfg.AdminToken)
		if err != nil {
			log.Fatalf("admin auth: %v", err)
		}
	}
	adminHandler := admin.NewHandler(admin.HandlerConfig{
		Lifecycle:   manager,
		Syncer:      coordinator,
		Probe:       probe,
		Queue:       outbox,
		Cache:       cacheStore,
		Metrics:     metrics.Handler(),
		Auth:        auth,
		RateLimiter: admin.NewRateLimiter(admin.RateLimitConfig{}),
	})

	// The first generation installs before the listeners open so the
	// widget never races an empty static cache; a failed install still
	// starts the process, which serves by forwarding until a later
	// install succeeds.
	installCtx, installCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := manager.Upgrade(installCtx); err != nil {
		obs.LogError("main", "initial_install_failed", err)
	}
	installCancel()

	probe.Start()

	reloader := lifecycle.NewReloader(manager, handler)
	watcher := startConfigWatcher(*configPath, reloader)

	srv, err := server.StartServers(handler, adminHandler, cfg.ListenAddr, cfg.AdminListenAddr, server.Options{
		ShutdownGrace: cfg.ShutdownGrace(),
		Stoppers: []server.Stopper{
			server.StopFunc(func(context.Context) error {
				probe.Stop()
				return nil
			}),
			server.StopFunc(func(context.Context) error {
				if watcher != nil {
					return watcher.Close()
				}
				return nil
			}),
			server.StopFunc(func(context.Context) error {
				hub.Close()
				return nil
			}),
		},
		Closers: []io.Closer{outbox, cacheStore},
	})
	if err != nil {
		log.Fatalf("start servers: %v", err)
	}
	log.Printf("gateway listening on http://%s (admin http://%s)", srv.GatewayAddr, srv.AdminAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("shutting down")
	if err := srv.Shutdown(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// startConfigWatcher re-reads the config on change and applies it
// through the reloader in the background. A broken edit is logged and
// ignored; the running generation keeps serving with its old tables.
func startConfigWatcher(path string, reloader *lifecycle.Reloader) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		obs.LogError("main", "watcher_unavailable", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		obs.LogError("main", "watch_config_failed", err)
		_ = watcher.Close()
		return nil
	}

	go func() {
		var debounce <-chan time.Time
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				debounce = time.After(250 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				obs.LogError("main", "watch_error", err)
			case <-debounce:
				debounce = nil
				next, err := config.Load(path)
				if err != nil {
					obs.LogError("main", "config_reload_failed", err)
					continue
				}
				obs.Log(obs.LogEntry{Component: "main", Event: "config_reload", Version: next.Version})
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if err := reloader.Apply(ctx, next.Routing(), next.Version); err != nil {
					obs.LogError("main", "generation_upgrade_failed", err)
				}
				cancel()
			}
		}
	}()
	return watcher
}
