package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acsm-bridge/internal/api"
	"acsm-bridge/internal/cache"
	"acsm-bridge/internal/config"
	"acsm-bridge/internal/credstore"
	"acsm-bridge/internal/history"
	"acsm-bridge/internal/identity"
	"acsm-bridge/internal/logging"
	"acsm-bridge/internal/orchestrator"
	"acsm-bridge/internal/runner"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "acsm-bridge",
	Short: "ACSM Conversion Bridge - Convert fulfillment tokens into documents",
	Long: `A service that converts DRM fulfillment tokens (ACSM files) into usable
PDF/EPUB documents by driving the external activation and conversion tools,
while keeping the device identity alive and consistent in a shared
credential store across invocations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runServe runs the API server until interrupted.
func runServe() error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge, err := buildBridge(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer bridge.Close()

	// A nil *history.Store must not become a non-nil interface value.
	var historyReader api.HistoryReader
	if bridge.History != nil {
		historyReader = bridge.History
	}

	server, err := api.NewServer(cfg, logger, bridge.Orchestrator, historyReader, bridge.Events, version)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	return server.Start(ctx)
}

// loadConfigAndLogger loads configuration and sets up logging.
func loadConfigAndLogger() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	logger := logging.Initialize(level)
	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		return nil, nil, fmt.Errorf("failed to set up file logging: %w", err)
	}

	return cfg, logger, nil
}

// bridge bundles the wired components and their cleanup.
type bridge struct {
	Orchestrator *orchestrator.Orchestrator
	Identity     *identity.Manager
	History      *history.Store
	Events       *api.EventHub

	cache *cache.ResultCache
}

// Close releases the optional backends.
func (b *bridge) Close() {
	if b.History != nil {
		b.History.Close()
	}
	if b.cache != nil {
		b.cache.Close()
	}
}

// buildBridge wires stores, runners, identity manager, and orchestrator
// from configuration. withEvents controls whether the websocket event hub
// is attached; one-shot commands do not need it.
func buildBridge(ctx context.Context, cfg *config.Config, logger *logrus.Logger, withEvents bool) (*bridge, error) {
	credStore, err := credstore.NewStore(ctx, cfg.CredentialsBucket, cfg.CredentialsPrefix, cfg.AWSRegion,
		logging.NewServiceLogger(logger, "credstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	outputStore, err := credstore.NewOutputStore(ctx, cfg.OutputBucket, cfg.OutputPrefix, cfg.AWSRegion,
		cfg.PresignExpiryDuration(), logging.NewServiceLogger(logger, "outputs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create output store: %w", err)
	}

	activationRunner := runner.NewActivationRunner(runner.ActivationConfig{
		Binary:      cfg.ActivateBinary,
		LibraryPath: cfg.LibraryPath,
		Timeout:     cfg.ActivationTimeoutDuration(),
	}, logging.NewServiceLogger(logger, "activation"))

	conversionRunner := runner.NewConversionRunner(runner.ConversionConfig{
		Binary:      cfg.ConvertBinary,
		LibraryPath: cfg.LibraryPath,
		Timeout:     cfg.ConversionTimeoutDuration(),
	}, logging.NewServiceLogger(logger, "conversion"))

	identityManager, err := identity.NewManager(credStore, activationRunner, cfg.IdentityDir,
		logging.NewServiceLogger(logger, "identity"))
	if err != nil {
		return nil, fmt.Errorf("failed to create identity manager: %w", err)
	}

	b := &bridge{Identity: identityManager}
	opts := orchestrator.Options{}

	if cfg.History.Enabled {
		historyStore, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		b.History = historyStore
		opts.Recorder = historyStore
	}

	if cfg.Cache.Enabled {
		resultCache, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			Database: cfg.Cache.Database,
			TTL:      time.Duration(cfg.Cache.TTL) * time.Second,
		}, logging.NewServiceLogger(logger, "cache"))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect result cache: %w", err)
		}
		b.cache = resultCache
		opts.Cache = resultCache
		opts.CacheKey = cache.Digest
	}

	if withEvents {
		b.Events = api.NewEventHub(logging.NewServiceLogger(logger, "events"))
		opts.Events = b.Events
	}

	orch, err := orchestrator.New(identityManager, conversionRunner, outputStore, logger, opts)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	b.Orchestrator = orch

	return b, nil
}
