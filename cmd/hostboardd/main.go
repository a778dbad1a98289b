// Command hostboardd is the hostboard server daemon.
// It loads the YAML config, discovers installed plugins, and serves the
// dashboard API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/hostboard/audit"
	"github.com/GoCodeAlone/hostboard/command"
	"github.com/GoCodeAlone/hostboard/config"
	"github.com/GoCodeAlone/hostboard/containers"
	"github.com/GoCodeAlone/hostboard/internal/version"
	"github.com/GoCodeAlone/hostboard/market"
	"github.com/GoCodeAlone/hostboard/plugin"
	"github.com/GoCodeAlone/hostboard/server"
)

var configPath = flag.String("config", "hostboard.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting hostboardd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.Plugins.Dir, 0o755); err != nil {
		log.Fatalf("Failed to create plugin dir %s: %v", cfg.Plugins.Dir, err)
	}

	auditStore, err := audit.NewStore(cfg.AuditDBPath(), logger)
	if err != nil {
		log.Fatalf("Failed to open audit store: %v", err)
	}

	registry := command.NewRegistry(command.HostDefinitions())
	engine := command.NewEngine(registry, cfg.Exec.DefaultTimeout, logger,
		command.WithRecorder(auditStore))

	store := plugin.NewStore(cfg.Plugins.RegistryPath)
	srv := server.New(*cfg, version.Version, logger)

	manager := plugin.NewManager(cfg.Plugins.Dir, store, engine, logger,
		plugin.WithLifecycleRecorder(auditStore),
		plugin.WithEvents(srv.BroadcastEvent))
	installer := market.NewInstaller(manager, store, cfg.Exec.InstallTimeout, logger)
	docker := containers.NewProvider()

	srv.SetManager(manager)
	srv.SetInstaller(installer)
	srv.SetEngine(engine)
	srv.SetAudit(auditStore)
	srv.SetContainers(docker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Discover(ctx); err != nil {
		log.Fatalf("Failed to discover plugins: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("hostboard server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigCh:
		fmt.Printf("Received %s, shutting down...\n", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Shutdown(shutdownCtx)
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	if err := docker.Close(); err != nil {
		logger.Error("docker close error", "error", err)
	}
	if err := auditStore.Close(); err != nil {
		logger.Error("audit close error", "error", err)
	}
	fmt.Println("Shutdown complete")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !flagProvided("config") {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func flagProvided(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
