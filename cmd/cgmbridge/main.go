package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/cgmbridge/pkg/api"
	"github.com/fako1024/cgmbridge/pkg/appgroup"
	"github.com/fako1024/cgmbridge/pkg/bridge"
	"github.com/fako1024/cgmbridge/pkg/config"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
	"github.com/fako1024/cgmbridge/pkg/publish"
	"github.com/fako1024/cgmbridge/pkg/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "cgmbridge",
	Short: "Bridge CGM readings from a companion app to the host",
	Long: `Bridge CGM readings written by a CGM companion app into a shared store to the host.

Polls the shared store for new readings, forwards each reading exactly once and keeps a
BLE connection to the CGM transmitter whose notifications act as heartbeat for polling.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cmd.Flags().Changed("config"))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, explicitConfig bool) (err error) {

	cfg, err := loadConfig(configPath, explicitConfig)
	if err != nil {
		return err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	logger, err := glucose.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The shared store is owned by the companion app and never written to
	shared, err := kvstore.Open(cfg.SharedStore.Driver, cfg.SharedStore.Path, true)
	if err != nil {
		return fmt.Errorf("failed to open shared store: %w", err)
	}
	defer func() {
		if cerr := shared.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	local, err := kvstore.Open(cfg.LocalStore.Driver, cfg.LocalStore.Path, false)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer func() {
		if cerr := local.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	reader := appgroup.New(shared,
		appgroup.WithSource(cfg.Source),
		appgroup.WithLogger(logger.Named("appgroup")),
	)

	delegates := bridge.Delegates{bridge.LogDelegate{Logger: logger.Named("host")}}
	var publisher *publish.Publisher
	if cfg.MQTT.Broker != "" {
		publisher = publish.New(cfg.MQTT.Broker, cfg.MQTT.ClientID,
			publish.WithTopic(cfg.MQTT.Topic),
			publish.WithLogger(logger.Named("mqtt")),
		)
		defer publisher.Close()
		delegates = append(delegates, publisher)
	}

	platforms := newPlatformProvider(cfg.Heartbeat, logger.Named("ble"))
	defer func() {
		if cerr := platforms.Close(); cerr != nil {
			log.Warnf("failed to close BLE platform: %s", cerr)
		}
	}()

	// Heartbeats of any transmitter built by the watcher feed into the bridge
	var b *bridge.Bridge
	txLogger := logger.Named("heartbeat")
	factory := func(id heartbeat.Identity, options ...func(*heartbeat.Transmitter)) (*heartbeat.Transmitter, error) {
		platform, err := platforms.get(id)
		if err != nil {
			return nil, err
		}
		return heartbeat.New(platform, id, append([]func(*heartbeat.Transmitter){
			heartbeat.WithHeartbeatHandler(func() {
				b.Notify(bridge.TriggerHeartbeat)
			}),
			heartbeat.WithLogger(txLogger),
		}, options...)...)
	}

	w, err := watcher.New(reader, local, factory,
		watcher.WithDefaultEnabled(cfg.Heartbeat.Enabled),
		watcher.WithStatusChangeHandler(func(status heartbeat.Status) {
			log.Infof("heartbeat status: %s", status)
			if publisher != nil && publisher.IsConnected() {
				if err := publisher.PublishStatus(status); err != nil {
					log.Warnf("failed to publish heartbeat status: %s", err)
				}
			}
		}),
		watcher.WithLogger(logger.Named("watcher")),
	)
	if err != nil {
		return fmt.Errorf("failed to set up transmitter watcher: %w", err)
	}
	defer w.Close()
	if publisher != nil {
		go func() {
			if err := publisher.Connect(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, publish.ErrStopped) {
					log.Errorf("failed to connect to MQTT broker: %s", err)
				}
				return
			}
			if err := publisher.PublishStatus(w.Status()); err != nil {
				log.Warnf("failed to publish heartbeat status: %s", err)
			}
		}()
	}
	w.SetIdentityChangeHandler(func(previous, current heartbeat.Identity) {
		log.Infof("transmitter changed: %s -> %s", previous, current)
	})

	b, err = bridge.New(reader, delegates,
		bridge.WithIdentityChecker(w),
		bridge.WithMinInterval(cfg.Poll.MinInterval),
		bridge.WithBackfill(cfg.Poll.Backfill),
		bridge.WithLogger(logger.Named("bridge")),
	)
	if err != nil {
		return fmt.Errorf("failed to set up bridge: %w", err)
	}
	defer func() {
		w.Close()
		b.Wait()
	}()

	if cfg.API.Listen != "" {
		srv := api.New(b, w, api.WithLogger(logger.Named("api")))
		srv.Listen(cfg.API.Listen)
		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Warnf("failed to shut down API: %s", err)
			}
		}()
		log.Infof("serving API on %s", cfg.API.Listen)
	}

	// Startup counts as the host coming to the foreground
	b.FetchNewDataIfNeeded(bridge.TriggerForeground)

	go watchIdentity(ctx, w, cfg.Poll.IdentityCheck)
	b.Run(ctx, cfg.Poll.Interval)

	log.Info("got signal, shutting down")
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// loadConfig reads the config file, falling back to the defaults if the default config
// file does not exist
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			log.Infof("no config file found at %s, using defaults", path)
			return config.Default(), nil
		}
		return nil, err
	}

	return cfg, nil
}

// watchIdentity picks up transmitter changes in between polls
func watchIdentity(ctx context.Context, w *watcher.Watcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Check(); err != nil && !errors.Is(err, heartbeat.ErrIncompleteIdentity) {
				log.Warnf("failed to check transmitter identity: %s", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
