// Lumen Core - Streetlight Fleet Automation
//
// This is the main entry point for the Lumen Core daemon. Lumen Core
// keeps a fleet of networked streetlights consistent: it ingests
// ambient light telemetry, decides lamp state against a configurable
// threshold, records every transition, and exposes a REST API for
// operators.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lumengrid/lumen-core/migrations"

	"github.com/lumengrid/lumen-core/internal/api"
	"github.com/lumengrid/lumen-core/internal/audit"
	"github.com/lumengrid/lumen-core/internal/auth"
	"github.com/lumengrid/lumen-core/internal/automation"
	"github.com/lumengrid/lumen-core/internal/control"
	"github.com/lumengrid/lumen-core/internal/device"
	"github.com/lumengrid/lumen-core/internal/infrastructure/config"
	"github.com/lumengrid/lumen-core/internal/infrastructure/database"
	"github.com/lumengrid/lumen-core/internal/infrastructure/influxdb"
	"github.com/lumengrid/lumen-core/internal/infrastructure/logging"
	"github.com/lumengrid/lumen-core/internal/infrastructure/mqtt"
	"github.com/lumengrid/lumen-core/internal/settings"
	"github.com/lumengrid/lumen-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Lumen Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	settingsRepo := settings.NewSQLiteRepository(db.DB)
	readingRepo := telemetry.NewSQLiteRepository(db.DB)
	userRepo := auth.NewUserRepository(db.DB)

	// Device registry
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if cfg.Automation.DefaultMode != "" {
		if modeErr := registry.SetDefaultMode(device.Mode(cfg.Automation.DefaultMode)); modeErr != nil {
			return fmt.Errorf("configuring default mode: %w", modeErr)
		}
	}
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	if seedErr := seedThreshold(ctx, settingsRepo, cfg.Automation.DefaultThreshold); seedErr != nil {
		return fmt.Errorf("seeding threshold: %w", seedErr)
	}

	// Seed an admin account on first boot so the API is reachable
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin user: %w", seedErr)
	}

	// Connect to MQTT broker (optional: HTTP ingest still works without it)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, telemetry available over HTTP only")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Decision engine and services. A typed nil *mqtt.Client must not
	// leak into the interface parameters, hence the explicit checks.
	var enginePublisher automation.CommandPublisher
	if mqttClient != nil {
		enginePublisher = mqttClient
	}
	engine := automation.NewEngine(db.DB, deviceRepo, auditRepo, settingsRepo, registry, enginePublisher, log)
	if influxClient != nil {
		engine.SetArchiver(influxClient)
	}

	var telemetryArchiver telemetry.Archiver
	if influxClient != nil {
		telemetryArchiver = influxClient
	}
	telemetrySvc := telemetry.NewService(registry, readingRepo, engine, telemetryArchiver, log)

	var commandPublisher control.CommandPublisher
	if mqttClient != nil {
		commandPublisher = mqttClient
	}
	var statusArchiver control.StatusArchiver
	if influxClient != nil {
		statusArchiver = influxClient
	}
	controlSvc := control.NewService(db.DB, deviceRepo, registry, auditRepo, commandPublisher, statusArchiver, log)

	authSvc := auth.NewService(userRepo, cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL)

	// Reading retention sweep
	if cfg.Automation.RetentionDays > 0 {
		keep := time.Duration(cfg.Automation.RetentionDays) * 24 * time.Hour
		go telemetrySvc.RunRetention(ctx, keep)
		log.Info("reading retention enabled", "days", cfg.Automation.RetentionDays)
	}

	// Subscribe to telemetry and heartbeat topics
	if mqttClient != nil {
		subscriber := telemetry.NewSubscriber(telemetrySvc, log)
		if subErr := subscriber.Start(ctx, mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to telemetry: %w", subErr)
		}
		log.Info("telemetry subscriber started")
	}

	// REST API
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		Security:    cfg.Security,
		Automation:  cfg.Automation,
		Logger:      log,
		Registry:    registry,
		Telemetry:   telemetrySvc,
		Control:     controlSvc,
		Auth:        authSvc,
		Transitions: auditRepo,
		Settings:    settingsRepo,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Lumen Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LUMEN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LUMEN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedThreshold writes the configured default light threshold when no
// value exists yet. An existing value is operator state and is never
// overwritten on restart.
func seedThreshold(ctx context.Context, repo settings.Repository, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	_, err := repo.Get(ctx, settings.KeyLightThreshold)
	if err == nil {
		return nil
	}
	if !errors.Is(err, settings.ErrSettingNotFound) {
		return err
	}
	return repo.Set(ctx, settings.KeyLightThreshold, fmt.Sprintf("%g", threshold))
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
