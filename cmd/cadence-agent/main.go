package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/auth"
	"github.com/MarcoPoloResearchLab/cadence/internal/config"
	"github.com/MarcoPoloResearchLab/cadence/internal/logging"
	"github.com/MarcoPoloResearchLab/cadence/internal/server"
	"github.com/MarcoPoloResearchLab/cadence/internal/store"
	"github.com/MarcoPoloResearchLab/cadence/internal/sync"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence-agent",
		Short: "Cadence cross-device workout sync agent",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("device-id", "", "Stable identifier for this device")
	cmd.PersistentFlags().String("device-role", "", "Device role (primary or companion)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("peer-url", "", "Base URL of the paired device's agent")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("fallback-path", defaults.GetString("database.fallback_path"), "Key-value fallback store path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Duration("probe-interval", defaults.GetDuration("link.probe_interval"), "Peer reachability probe interval")
	cmd.PersistentFlags().Duration("send-timeout", defaults.GetDuration("link.send_timeout"), "Immediate send timeout")
	cmd.PersistentFlags().String("pairing-secret", "", "Shared pairing secret (overrides env)")

	bindFlag(cmd, "device.id", "device-id")
	bindFlag(cmd, "device.role", "device-role")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "link.peer_url", "peer-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.fallback_path", "fallback-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "link.probe_interval", "probe-interval")
	bindFlag(cmd, "link.send_timeout", "send-timeout")
	bindFlag(cmd, "pairing.secret", "pairing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runAgent(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.DeviceID)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	recordStore, err := store.Open(store.Config{
		DatabasePath: appConfig.DatabasePath,
		FallbackPath: appConfig.FallbackPath,
	}, logger)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	transport, err := sync.NewHTTPTransport(sync.HTTPTransportConfig{
		PeerURL:       appConfig.PeerURL,
		DeviceID:      appConfig.DeviceID,
		PairingSecret: appConfig.PairingSecret,
		SendTimeout:   appConfig.SendTimeout,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	engine, err := sync.NewEngine(sync.EngineConfig{
		Role:      sync.Role(appConfig.Role),
		Store:     recordStore,
		Transport: transport,
		IDs:       sync.NewUUIDProvider(),
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	pairingIssuer, err := auth.NewPairingIssuer(auth.PairingIssuerConfig{
		PairingSecret: []byte(appConfig.PairingSecret),
		TokenTTL:      appConfig.PairingTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Pairing: pairingIssuer,
		Engine:  engine,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.Run(signalCtx)
	go activateWithRetry(signalCtx, transport, appConfig.ProbeInterval, logger)

	monitor := sync.NewReachabilityMonitor(sync.ReachabilityMonitorConfig{
		Probe:       transport.Probe,
		Interval:    appConfig.ProbeInterval,
		OnReachable: engine.OnReachable,
		Logger:      logger,
	})
	go monitor.Run(signalCtx)

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("role", string(appConfig.Role)))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// activateWithRetry keeps trying to pair with the peer until it succeeds or
// the agent shuts down. The peer may simply not be up yet.
func activateWithRetry(ctx context.Context, transport *sync.HTTPTransport, interval time.Duration, logger *zap.Logger) {
	for {
		err := transport.Activate(ctx)
		if err == nil {
			logger.Info("transport session activated")
			return
		}
		logger.Warn("transport activation failed, will retry",
			zap.Duration("retry_in", interval),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
