// Command macagent is the companion agent's composition root: it loads
// configuration, wires every component described by spec.md onto a single
// event loop, and runs until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"macagent/internal/autokick"
	"macagent/internal/config"
	"macagent/internal/console"
	"macagent/internal/demo"
	"macagent/internal/demoarchive"
	"macagent/internal/demowatch"
	"macagent/internal/eventloop"
	"macagent/internal/httpapi"
	"macagent/internal/logging"
	"macagent/internal/match"
	"macagent/internal/rcon"
	"macagent/internal/settingsstore"
	"macagent/internal/steamapi"
	"macagent/internal/tail"
)

// demoSpoolCleanInterval is how often the spool directory is swept for
// artefacts past the configured retention policy.
const demoSpoolCleanInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	playerlist, err := settingsstore.LoadPlayerlist(cfg.PlayerlistPath)
	if err != nil {
		logger.Fatal("failed to load playerlist", logging.String("path", cfg.PlayerlistPath), logging.Error(err))
	}
	prefs, err := settingsstore.LoadPreferences(cfg.ConfigPath)
	if err != nil {
		logger.Fatal("failed to load preferences", logging.String("path", cfg.ConfigPath), logging.Error(err))
	}

	state := match.NewState(cfg)
	state.Players.Records = playerlist.Records

	loop := eventloop.New(state, logger)

	rconManager := rcon.NewManager(cfg.RCONPort, cfg.RCONPassword, logger)
	loop.AddSource(rcon.NewRefreshSource())
	loop.AddHandler(&rcon.Handler[match.State]{Manager: rconManager})
	loop.AddHandler(console.NewBridgeHandler())
	loop.AddHandler(autokick.NewHandler())
	loop.AddSource(match.NewNewPlayersSource(state))

	consoleTailer := tail.New(consoleLogPath(cfg.TF2Directory), logger)
	loop.AddSource(consoleTailer)

	var steamClient *steamapi.Client
	if cfg.SteamAPIKey != "" {
		steamClient, err = steamapi.New(cfg.SteamAPIKey)
		if err != nil {
			logger.Error("failed to construct steam API client, enrichment disabled", logging.Error(err))
			steamClient = nil
		}
	}
	profilesHandler := steamapi.NewProfilesHandler(steamClient)
	loop.AddSource(profilesHandler.Source())
	loop.AddHandler(profilesHandler)
	loop.AddHandler(steamapi.NewFriendsHandler(steamClient))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var demoManager *demo.Manager
	if !cfg.DontParseDemos {
		spoolDir := demoSpoolDir(cfg.TF2Directory)
		recoverSpooledDemos(logger, spoolDir)

		recorder, err := demoarchive.NewRecorder(spoolDir, nil)
		if err != nil {
			logger.Fatal("failed to initialize demo spool recorder", logging.Error(err))
		}
		watcher, err := demowatch.New(demoDir(cfg.TF2Directory), logger)
		if err != nil {
			logger.Fatal("failed to initialize demo watcher", logging.Error(err))
		}
		loop.AddSource(watcher)
		go watcher.Run(ctx)

		cleaner := demoarchive.NewCleaner(spoolDir, demoarchive.RetentionPolicy{
			MaxMatches: cfg.DemoSpoolMaxMatches,
			MaxAge:     time.Duration(cfg.DemoSpoolMaxAgeDays) * 24 * time.Hour,
		}, logger)
		go cleaner.Run(ctx, demoSpoolCleanInterval)

		httpClient := &http.Client{Timeout: 30 * time.Second}
		demoManager = demo.NewManager(logger, recorder, httpClient, spoolDir)
		loop.AddHandler(demoManager)
	}

	server := httpapi.NewServer(httpapi.Options{
		Log:         logger,
		Playerlist:  playerlist,
		Prefs:       prefs,
		RCONManager: rconManager,
		WebDir:      cfg.WebDir,
	})
	loop.AddSource(server.Source())
	loop.AddHandler(server.Handler())

	go loop.Run(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebPort),
		Handler: server.Mux(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if demoManager != nil {
			demoManager.Close()
		}
	}()

	logger.Info("macagent listening",
		logging.Int("web_port", cfg.WebPort),
		logging.Int("rcon_port", cfg.RCONPort),
	)

	if cfg.UseHTTPS {
		logger.Warn("MACAGENT_USE_HTTPS requested but no certificate is configured; serving plain HTTP")
	}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("web server terminated", logging.Error(err))
	}
}

func consoleLogPath(tf2Dir string) string {
	if tf2Dir == "" {
		return "console.log"
	}
	return tf2Dir + "/tf/console.log"
}

func demoDir(tf2Dir string) string {
	if tf2Dir == "" {
		return "."
	}
	return tf2Dir + "/tf"
}

func demoSpoolDir(tf2Dir string) string {
	if tf2Dir == "" {
		return "demo_spool"
	}
	return tf2Dir + "/macagent_demo_spool"
}

// recoverSpooledDemos scans the spool directory on startup for Recorder
// artefacts left behind by a previous run that never made it to Masterbase,
// logging what would be available to replay. It is a diagnostic pass, not
// automatic resubmission: a future run may still be using a different
// upload session, so chunks are reported, not forwarded.
func recoverSpooledDemos(logger *logging.Logger, spoolDir string) {
	matches, err := filepath.Glob(filepath.Join(spoolDir, "*.json.gz"))
	if err != nil || len(matches) == 0 {
		return
	}
	for _, path := range matches {
		loader, err := demoarchive.Load(path)
		if err != nil {
			logger.Warn("failed to load leftover demo spool artefact", logging.String("path", path), logging.Error(err))
			continue
		}
		chunks := loader.Chunks()
		var bytes int
		for _, c := range chunks {
			bytes += len(c.Payload)
		}
		logger.Info("recovered leftover demo spool artefact",
			logging.String("path", path),
			logging.Int("chunks", len(chunks)),
			logging.Int("bytes", bytes),
		)
	}
}
