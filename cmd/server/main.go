// Listenbridge - ListenBrainz Scrobbling Bridge for Media Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/listenbridge

/*
main.go - Listenbridge Entry Point

Wires the bridge together and runs it under a supervision tree:

 1. Load and validate configuration (file + environment).
 2. Initialize structured logging.
 3. Open the durable listen cache and restore pending listens.
 4. Build the submission path: retrying transport -> ListenBrainz client
    -> circuit breaker -> playback tracker.
 5. Build the Jellyfin side: REST client, session monitor, and the
    optional WebSocket notification feed.
 6. Build the resubmission scheduler and the HTTP API.
 7. Hand everything to suture and wait for SIGINT/SIGTERM.

On shutdown the monitor flushes observed playbacks as stops and the
cache is saved one final time, so eligible listens survive restarts.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/listenbridge/internal/api"
	"github.com/tomtom215/listenbridge/internal/config"
	"github.com/tomtom215/listenbridge/internal/jellyfin"
	"github.com/tomtom215/listenbridge/internal/listenbrainz"
	"github.com/tomtom215/listenbridge/internal/listencache"
	"github.com/tomtom215/listenbridge/internal/logging"
	"github.com/tomtom215/listenbridge/internal/musicbrainz"
	"github.com/tomtom215/listenbridge/internal/scheduler"
	"github.com/tomtom215/listenbridge/internal/supervisor"
	"github.com/tomtom215/listenbridge/internal/supervisor/services"
	"github.com/tomtom215/listenbridge/internal/tracker"
	"github.com/tomtom215/listenbridge/internal/transport"
)

const version = "1.0.0"

func main() {
	// Configuration first; logging defaults apply until Init below.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Int("accounts", len(cfg.Accounts)).
		Str("jellyfin_url", cfg.Jellyfin.URL).
		Msg("Listenbridge starting")

	// Durable listen cache. A corrupt file is fatal: silently starting
	// with an empty queue would drop listens the user believes are safe.
	cache := listencache.New(cfg.Cache.Path)
	if err := cache.Restore(); err != nil {
		var corrupt *listencache.CorruptionError
		if errors.As(err, &corrupt) {
			logging.Fatal().Err(err).Str("path", cfg.Cache.Path).
				Msg("Listen cache is corrupt; refusing to start. Move the file aside to reset the queue")
		}
		logging.Warn().Err(err).Str("path", cfg.Cache.Path).
			Msg("Could not restore listen cache, starting with an empty queue")
	} else if n := cache.TotalLen(); n > 0 {
		logging.Info().Int("pending", n).Msg("Restored pending listens from cache")
	}

	// Submission path: retrying transport, ListenBrainz client, breaker.
	sender := transport.New(nil, transport.DefaultConfig())
	gateway := listenbrainz.NewCircuitBreakerClient(
		listenbrainz.NewClient(cfg.ListenBrainz.BaseURL, sender),
	)

	var resolver tracker.RecordingResolver
	if cfg.MusicBrainz.Enabled {
		resolver = musicbrainz.NewClient(cfg.MusicBrainz.BaseURL)
		logging.Info().Msg("MusicBrainz recording lookup enabled")
	}

	trk := tracker.New(gateway, cache, resolver)

	// Jellyfin side.
	jfClient := jellyfin.NewClient(cfg.Jellyfin.URL, cfg.Jellyfin.APIKey)
	accounts := cfg.AccountPointers()
	monitor := jellyfin.NewMonitor(jfClient, trk, accounts, jellyfin.MonitorConfig{
		Interval: cfg.Jellyfin.PollInterval,
	})

	sched := scheduler.New(cache, gateway, accounts, scheduler.Config{
		Interval:  cfg.Scheduler.Interval,
		MaxJitter: cfg.Scheduler.MaxJitter,
	})

	// HTTP API.
	handler := api.NewHandler(trk, gateway, jfClient, cache, accounts)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Supervision tree. sutureslog wants an slog.Logger, so bridge it
	// to zerolog.
	treeCfg := supervisor.DefaultTreeConfig()
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build supervision tree")
	}

	tree.AddPipelineService(services.NewMonitorService(monitor))
	tree.AddPipelineService(services.NewSchedulerService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, treeCfg.ShutdownTimeout))

	if cfg.Jellyfin.RealtimeEnabled {
		wsURL, err := jfClient.GetWebSocketURL()
		if err != nil {
			logging.Warn().Err(err).Msg("Real-time notifications disabled: bad WebSocket URL")
		} else {
			socket := jellyfin.NewWebSocketClient(wsURL)
			socket.SetOnSessions(func(sessions []jellyfin.Session) {
				monitor.HandleSessions(context.Background(), sessions)
			})
			tree.AddPipelineService(services.NewWebSocketService(socket))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	logging.Info().
		Str("addr", server.Addr).
		Bool("realtime", cfg.Jellyfin.RealtimeEnabled).
		Msg("Listenbridge started")

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervision tree error")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil {
		for _, entry := range report {
			logging.Warn().
				Str("service", entry.Name).
				Msg("Service did not stop within the shutdown window")
		}
	}

	// Final save: the monitor's shutdown flush may have queued listens
	// after the last submission attempt.
	if err := cache.Save(); err != nil {
		logging.Error().Err(err).Msg("Failed to save listen cache on shutdown")
	}

	logging.Info().Msg("Listenbridge stopped gracefully")
}
