package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/flarewatch/internal/api"
	"github.com/good-yellow-bee/flarewatch/internal/config"
	"github.com/good-yellow-bee/flarewatch/internal/correlator"
	"github.com/good-yellow-bee/flarewatch/internal/detector"
	"github.com/good-yellow-bee/flarewatch/internal/manager"
	"github.com/good-yellow-bee/flarewatch/internal/metrics"
	"github.com/good-yellow-bee/flarewatch/internal/models"
	"github.com/good-yellow-bee/flarewatch/internal/notifier"
	"github.com/good-yellow-bee/flarewatch/internal/responder"
	"github.com/good-yellow-bee/flarewatch/internal/storage"
	pkgconfig "github.com/good-yellow-bee/flarewatch/pkg/config"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the incident response engine",
	Long: `Run the full engine: event ingestion, periodic detection,
incident workflow, REST API, and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg *config.Config

	if configFile != "" {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	cfg.Verbose = IsVerbose()

	// Rules: file if configured, built-ins otherwise.
	rules := detector.BuiltinRules()
	if cfg.Detector.RulesFile != "" {
		loaded, err := detector.LoadRulesFromFile(cfg.Detector.RulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		rules = loaded
	}

	corr := correlator.New(correlator.Config{
		ProximityWindow: cfg.Correlator.ProximityWindow,
		RootCauseGrace:  cfg.Correlator.RootCauseGrace,
	})

	det := detector.New(rules, corr, &detector.Options{
		Retention: cfg.Detector.Retention,
	})

	resp := responder.New(responder.Config{
		ApprovalTimeout: cfg.Responder.ApprovalTimeout,
		ActionTimeout:   cfg.Responder.ActionTimeout,
	})

	notif := notifier.New(&notifier.Options{
		Routes:        parseRoutes(cfg.Notifier.Routes),
		SendTimeout:   cfg.Notifier.SendTimeout,
		RatePerSecond: cfg.Notifier.RatePerSecond,
		Burst:         cfg.Notifier.Burst,
	})
	registerChannels(notif)
	defer notif.Close()

	// Storage: SQLite when a path is configured, in-memory otherwise.
	var store storage.Store
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		sqliteStore := storage.NewSQLiteStore(cfg.Storage.Path)
		if err := sqliteStore.Open(); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		log.Printf("database initialized at %s", cfg.Storage.Path)
		store = sqliteStore
	} else {
		store = storage.NewMemoryStore()
		log.Printf("using in-memory incident storage")
	}
	defer store.Close()

	mgr := manager.New(det, corr, resp, notif, store, manager.Options{
		Interval:        cfg.Detector.Interval,
		ProcessOnDetect: true,
	})

	apiServer, err := api.New(&api.Config{
		Address: cfg.Server.APIAddress,
		Verbose: cfg.Verbose,
	}, mgr)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress)
	metrics.SetBuildInfo(pkgconfig.Version, pkgconfig.Commit, pkgconfig.BuildTime)

	// Signal handling
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting %s", pkgconfig.VersionString())

	g, gctx := errgroup.WithContext(ctx)

	mgr.Start(gctx)
	defer mgr.Stop()

	g.Go(apiServer.Start)
	g.Go(metricsServer.Start)

	if cfg.Detector.WatchRules {
		watcher, err := config.NewRulesWatcher(cfg.Detector.RulesFile, func(path string) error {
			loaded, err := detector.LoadRulesFromFile(path)
			if err != nil {
				return err
			}
			return det.ReloadRules(loaded)
		})
		if err != nil {
			return fmt.Errorf("watch rules: %w", err)
		}
		defer watcher.Close()
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		apiServer.Shutdown(shutdownCtx)
		metricsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Printf("server stopped")
	return nil
}

// parseRoutes converts config severity keys to the model type.
func parseRoutes(routes map[string][]string) map[models.Severity][]string {
	if len(routes) == 0 {
		return nil
	}
	out := make(map[models.Severity][]string, len(routes))
	for severity, channels := range routes {
		out[models.ParseSeverity(severity)] = channels
	}
	return out
}

// registerChannels wires the shipped channels. The log channel is real;
// chat, pager, and email are log-backed placeholders until a deployment
// registers concrete senders, so severity routing stays observable.
func registerChannels(notif *notifier.Notifier) {
	notif.Register(notifier.LogChannel{})
	for _, name := range []string{notifier.ChannelChat, notifier.ChannelPager, notifier.ChannelEmail} {
		name := name
		notif.Register(notifier.ChannelFunc{
			ChannelName: name,
			SendFunc: func(_ context.Context, p notifier.Payload) error {
				log.Printf("notify[%s] [%s] %s: %s", name, p.Severity, p.Title, p.Summary)
				return nil
			},
		})
	}
}
