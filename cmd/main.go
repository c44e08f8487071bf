package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tejusbharadwaj/pulsegate/internal/api"
	"github.com/tejusbharadwaj/pulsegate/internal/config"
	"github.com/tejusbharadwaj/pulsegate/internal/database"
	server "github.com/tejusbharadwaj/pulsegate/internal/grpc"
	"github.com/tejusbharadwaj/pulsegate/internal/health"
	"github.com/tejusbharadwaj/pulsegate/internal/metrics"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/plc"
	"github.com/tejusbharadwaj/pulsegate/internal/poller"
	"github.com/tejusbharadwaj/pulsegate/internal/publisher"
	"github.com/tejusbharadwaj/pulsegate/internal/scheduler"
	"github.com/tejusbharadwaj/pulsegate/internal/state"
)

// Command pulsegate polls pulse counters from a PLC and turns them into daily and
// monthly consumption records.
//
// The service:
//   - polls the PLC over Modbus TCP and tracks connection health
//   - keeps crash-safe start-of-day baselines per meter
//   - rolls up daily and monthly consumption into SQLite or PostgreSQL
//   - publishes daily, monthly and live events over MQTT
//   - serves status, readings and counter resets over gRPC
//   - exports Prometheus metrics
//
// Usage:
//
//	pulsegate [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
func main() {
	// Parse command line flags
	flags := parseFlags()

	// Load configuration
	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(appConfig.Logging)
	logger.WithFields(logrus.Fields{
		"plc":       appConfig.PLC.Address,
		"driver":    appConfig.Database.Driver,
		"grpc_port": appConfig.Server.GRPCPort,
	}).Info("Starting gateway")

	// Create a context that will be canceled on shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, appConfig, logger); err != nil {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Info("Gateway stopped")
}

type Flags struct {
	ConfigPath string
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Path to config file")

	flag.Parse()

	return flags
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func run(ctx context.Context, appConfig *config.Config, logger *logrus.Logger) error {
	location, err := appConfig.Schedule.Location()
	if err != nil {
		return err
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Store
	repo, err := createRepository(appConfig.Database)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	store, err := database.NewCachedStore(repo, appConfig.Database.CacheSize)
	if err != nil {
		return fmt.Errorf("create snapshot cache: %w", err)
	}
	if err := seedMeters(ctx, store, appConfig.Meters, logger); err != nil {
		return err
	}

	// Publisher
	pub, err := createPublisher(appConfig.MQTT, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	// Polling engine
	tracker := health.NewTracker(appConfig.PLC.FailureThreshold)
	healthChecker := server.NewHealthChecker(logger)
	tracker.Subscribe(healthChecker.ObserveGateway)

	transport := plc.NewTCPTransport(plc.TCPConfig{
		Address:           appConfig.PLC.Address,
		SlaveID:           byte(appConfig.PLC.SlaveID),
		Timeout:           appConfig.PLC.Timeout,
		PingBeforeConnect: appConfig.PLC.PingBeforeConnect,
	}, logger)
	resetter := plc.NewResetter(appConfig.PLC.ResetRegister, appConfig.PLC.ResetHold, logger)

	engine := poller.NewPoller(
		poller.Config{
			Interval:     appConfig.PLC.PollInterval,
			MeterRefresh: appConfig.PLC.MeterRefresh,
			Location:     location,
		},
		transport,
		resetter,
		tracker,
		state.NewRuntimeStore(appConfig.State.Path),
		store,
		m,
		logger,
	)
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("initialize poller: %w", err)
	}

	// Scheduler
	sched := scheduler.NewScheduler(ctx, appConfig.Schedule.Jobs, location, engine, store, pub, m, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("scheduler error: %w", err)
	}

	// Create and setup gRPC server
	gateway := api.NewGateway(engine, appConfig.Server.PollRate, appConfig.Server.PollBurst, logger)
	srv, err := server.SetupServer(gateway, healthChecker, server.ServerConfig{
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
	}, m, logger)
	if err != nil {
		return fmt.Errorf("setup server: %w", err)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.MetricsPort),
		Handler:           metricsHandler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return healthChecker.WatchStore(gctx, store, appConfig.Database.HealthInterval)
	})
	g.Go(func() error {
		logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", metricsServer.Addr).Info("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		handleShutdown(gctx, srv, metricsServer, sched, logger)
		return nil
	})

	return g.Wait()
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}

// Handle graceful shutdown
func handleShutdown(ctx context.Context, srv *grpc.Server, metricsServer *http.Server, sched *scheduler.Scheduler, logger *logrus.Logger) {
	<-ctx.Done()
	logger.Info("Initiating shutdown")

	logger.Info("Gracefully stopping server...")
	srv.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Metrics server shutdown: %v", err)
	}

	sched.Stop()
	logger.Info("Server stopped")
}

func createRepository(cfg config.DatabaseConfig) (*database.SQLRepo, error) {
	switch cfg.Driver {
	case "postgres":
		return database.NewPostgresRepo(cfg.PostgresDSN(), cfg.MaxConnections)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return database.NewSQLiteRepo(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func createPublisher(cfg config.MQTTConfig, logger *logrus.Logger) (publisher.Publisher, error) {
	if cfg.Broker == "" {
		logger.Warn("No MQTT broker configured, events will be dropped")
		return publisher.NewNoopPublisher(logger), nil
	}
	pub, err := publisher.NewMQTTPublisher(publisher.MQTTConfig{
		Broker:        cfg.Broker,
		ClientID:      cfg.ClientID,
		TopicPrefix:   cfg.TopicPrefix,
		QoS:           byte(cfg.QoS),
		Timeout:       cfg.Timeout,
		RetryInterval: cfg.RetryInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	return pub, nil
}

// seedMeters upserts the meters listed in the config file into the store.
func seedMeters(ctx context.Context, store database.Store, meters []models.MeterConfig, logger *logrus.Logger) error {
	for _, m := range meters {
		if err := store.SaveMeter(ctx, m); err != nil {
			return fmt.Errorf("seed meter %s: %w", m.MeterID, err)
		}
	}
	if len(meters) > 0 {
		logger.WithField("meters", len(meters)).Info("Seeded meters from config")
	}
	return nil
}
