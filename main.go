package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iptv-relay/work/buffer"
	"iptv-relay/work/cache"
	"iptv-relay/work/client"
	"iptv-relay/work/config"
	"iptv-relay/work/fetch"
	"iptv-relay/work/guard"
	"iptv-relay/work/handlers"
	"iptv-relay/work/logger"
	"iptv-relay/work/middleware"
	"iptv-relay/work/ratelimit"
	"iptv-relay/work/relay"
	"iptv-relay/work/session"
	"iptv-relay/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	if cfg.Debug {
		logger.SetLogLevel("debug")
	}
	lg := logger.New(os.Getenv("LOG_LEVEL"))

	// worker pool for background jobs (bucket sweeps)
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// rate bucket store
	limits, err := ratelimit.Open(cfg.RateDBPath, map[ratelimit.Bucket]ratelimit.Limits{
		ratelimit.BucketPlaylist: {Capacity: cfg.PlaylistBurst, RefillPerSec: cfg.PlaylistRefillPerSec},
		ratelimit.BucketStream:   {Capacity: cfg.StreamBurst, RefillPerSec: cfg.StreamRefillPerSec},
	}, cfg.BucketSweepAfter, workerPool, lg)
	if err != nil {
		log.Fatalf("Failed to open rate bucket store: %v", err)
	}
	defer limits.Close()

	// playlist cache
	playlistCache := cache.New(cfg.CacheTTL, cfg.MaxCacheBytes, 1024)

	// SSRF guard and the outbound client built around it
	g := guard.New()
	outbound := client.New(cfg, g)

	// streaming buffer pool
	bufferPool := buffer.NewPool(0)

	// fetch/cache engine
	engine := fetch.NewEngine(cfg, outbound, playlistCache, bufferPool, lg)

	// session gate
	sessions := session.New(cfg.SessionPasswordHash, cfg.SessionTTL, lg)

	// relay handler
	relayHandler := relay.New(cfg, engine, g, limits, sessions, lg)

	// setup HTTP routes
	router := mux.NewRouter()

	// the relay itself
	router.HandleFunc("/proxy", handlers.HandleProxy(relayHandler)).Methods("GET", "OPTIONS")

	// channel listing (parsed playlist as JSON)
	router.HandleFunc("/channels", middleware.Gzip(handlers.HandleChannels(relayHandler))).Methods("GET")

	// session login/logout
	router.HandleFunc("/session", handlers.HandleSession(sessions)).Methods("POST", "DELETE")

	// health + metrics
	router.HandleFunc("/health", handlers.HandleHealth(Version)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// show info
	lg.Info("Starting IPTV Relay %s", Version)
	lg.Info("Server configuration:")
	lg.Info("  - Listen Addr: %s", cfg.ListenAddr)
	lg.Info("  - Base URL: %s", cfg.BaseURL)
	lg.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	lg.Info("  - Cache TTL: %s", cfg.CacheTTL)
	lg.Info("  - Max. Playlist Size: %s", utils.FormatBytes(cfg.MaxCacheBytes))
	lg.Info("  - Max. Stream Size: %s", utils.FormatBytes(cfg.MaxStreamBytes))
	lg.Info("  - Playlist Bucket: %.0f burst / %.2f per sec", cfg.PlaylistBurst, cfg.PlaylistRefillPerSec)
	lg.Info("  - Stream Bucket: %.0f burst / %.2f per sec", cfg.StreamBurst, cfg.StreamRefillPerSec)
	lg.Info("  - Rate DB: %s", cfg.RateDBPath)
	lg.Info("  - Require TLS: %v", cfg.RequireTLS)
	lg.Info("  - Token Auth: %v", cfg.ProxyToken != "")
	lg.Info("  - Session Auth: %v", cfg.SessionPasswordHash != "")
	lg.Info("  - Debug Enabled: %v", cfg.Debug)
	lg.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// shut down cleanly on SIGINT/SIGTERM so in-flight streams can drain
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		lg.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			lg.Error("Shutdown: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
