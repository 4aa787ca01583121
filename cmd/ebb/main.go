package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/config"
	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/manager"
	"github.com/ebb-cloud/ebb/pkg/metrics"
	"github.com/ebb-cloud/ebb/pkg/notify"
	"github.com/ebb-cloud/ebb/pkg/poller"
	"github.com/ebb-cloud/ebb/pkg/snapshot"
	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/sweeper"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ebb",
	Short: "Ebb - lifecycle manager for ephemeral cloud resources",
	Long: `Ebb leases short-lived droplets and Kubernetes clusters to a team,
warns owners before a lease runs out, and reclaims what expired,
snapshotting instances first. Every lifecycle event lands in chat.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ebb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	Long: `Open the configured Postgres database, apply any pending schema
changes, and exit. The run command migrates on startup too; this exists for
deploy pipelines that migrate before rolling the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		store, err := storage.Open(cfg.DSN())
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		defer store.Close()

		logger := log.WithComponent("migrate")
		logger.Info().
			Str("database", cfg.Postgres.Database).
			Msg("Schema is up to date")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the lifecycle manager",
	Long: `Run the lifecycle manager: the expiry sweeper, the cluster
provisioning poller, the notification dispatcher, and the metrics endpoint.

Configuration comes from the environment (a .env file is honored):
DIGITALOCEAN_TOKEN is required; POSTGRES_*, TELEGRAM_BOT_TOKEN and the
timing knobs are optional.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		logger := log.WithComponent("main")
		metrics.SetVersion(Version)

		store, err := storage.Open(cfg.DSN())
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		metrics.RegisterComponent("database", true, "")

		api := compute.NewClient(cfg.Provider.Token, cfg.Provider.Region)
		metrics.RegisterComponent("provider", true, "")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		var messenger notify.Messenger
		if cfg.Telegram.BotToken != "" {
			messenger, err = notify.NewTelegramMessenger(cfg.Telegram.BotToken)
			if err != nil {
				return fmt.Errorf("failed to connect telegram bot: %w", err)
			}
		} else {
			logger.Warn().Msg("No bot token configured, notifications go to the log")
			messenger = notify.LogMessenger{}
		}
		metrics.RegisterComponent("notifier", true, messenger.Name())

		dispatcher := notify.NewDispatcher(broker, messenger, cfg.Telegram.BroadcastChatID)
		dispatcher.Start()
		defer dispatcher.Stop()

		mgr := manager.New(store, api, broker)

		snapshots := snapshot.New(api, snapshot.Config{
			PollInterval: cfg.Sweep.ActionPoll,
			WaitCeiling:  cfg.Sweep.SnapshotCeiling,
		})

		watch := poller.New(store, api, broker, cfg.Sweep.ClusterPoll)
		watch.Start()
		defer watch.Stop()

		sweep := sweeper.New(store, mgr, snapshots, broker, sweeper.Config{
			Interval:      cfg.Sweep.Interval,
			WarningWindow: cfg.Sweep.WarningWindow,
		})
		sweep.DelegateProvisioning(watch)
		sweep.Start()
		defer sweep.Stop()

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		httpServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer httpServer.Close()

		logger.Info().
			Str("region", cfg.Provider.Region).
			Str("metrics_addr", cfg.MetricsAddr).
			Dur("sweep_interval", cfg.Sweep.Interval).
			Msg("Lifecycle manager running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		return nil
	},
}
