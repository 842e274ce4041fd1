package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/entity"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/hass"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/metrics"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/monitor"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/schema"
	"github.com/JHOFER-Cloud/sonnenbatterie-hass/internal/sonnen"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "sonnenbatterie-hass",
		Short:        "Publish sonnenBatterie readings to Home Assistant and Prometheus",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logger.Error("exiting", zap.Error(err))
				return err
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default sonnenbatterie.yaml in ., $HOME/.config or /etc)")
	flags.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json or console)")
	flags.Bool("debug", false, "log one full dump of the device data")
	flags.Float64("interval", 0, "poll interval in seconds, at least 1 (default 10)")
	bindFlag(v, "log.level", flags.Lookup("log-level"))
	bindFlag(v, "log.format", flags.Lookup("log-format"))
	bindFlag(v, "debug", flags.Lookup("debug"))
	bindFlag(v, "interval", flags.Lookup("interval"))

	cmd.AddCommand(newSchemaCmd(v, &cfgFile))
	return cmd
}

func newSchemaCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the sensor ids produced by the active schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfigFile(v, *cfgFile); err != nil {
				return err
			}
			s, err := loadSchema(v.GetString("schema"))
			if err != nil {
				return err
			}
			for _, id := range s.SensorIDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

func newLogger(cfg logConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default()
	}
	return schema.LoadFile(path)
}

func run(ctx context.Context, cfg *config, logger *zap.Logger) error {
	s, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	client := sonnen.NewClient(cfg.Battery)
	dev, err := monitor.Handshake(ctx, client)
	if err != nil {
		return err
	}
	logger.Info("connected to battery",
		zap.String("host", client.Host()),
		zap.String("serial", dev.Serial),
		zap.String("model", dev.Model()),
	)

	collector := metrics.NewCollector(client.Host())
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	presenters := entity.MultiPresenter{collector}
	if cfg.MQTT.Broker != "" {
		presenter, mqttClient := connectMQTT(cfg.MQTT, dev, logger)
		defer func() {
			if err := presenter.SetAvailability(false); err != nil {
				logger.Warn("publishing offline state failed", zap.Error(err))
			}
			mqttClient.Disconnect(250)
		}()
		presenters = append(presenters, presenter)
	} else {
		logger.Info("no mqtt broker configured, serving metrics only")
	}

	mon := monitor.New(dev, sonnen.NewFetcher(client), s, entity.NewRegistry(presenters), monitor.Options{
		Interval: cfg.Interval,
		Debug:    cfg.Debug,
		Logger:   logger.Named("monitor"),
		Recorder: collector,
	})
	mon.Setup()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(promRegistry, client.Host(), dev, collector),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		mon.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("monitor stopped", zap.Stringer("state", mon.State()))
	return err
}

func connectMQTT(cfg mqttConfig, dev *monitor.Device, logger *zap.Logger) (*hass.Presenter, mqtt.Client) {
	logger = logger.Named("mqtt")

	var presenter *hass.Presenter
	client := hass.NewClient(hass.BrokerConfig{
		Broker:    cfg.Broker,
		ClientID:  cfg.ClientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		WillTopic: hass.AvailabilityTopic(cfg.BaseTopic),
	}, logger, func() {
		if err := presenter.SetAvailability(true); err != nil {
			logger.Warn("publishing online state failed", zap.Error(err))
		}
	})
	presenter = hass.NewPresenter(client, hass.Config{
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		BaseTopic:       cfg.BaseTopic,
		Model:           dev.Model(),
	}, dev.Serial)

	if err := hass.Connect(client, cfg.Broker); err != nil {
		// publishes fail until the broker shows up; entities are announced again on the next change
		logger.Warn("mqtt broker not reachable yet", zap.String("broker", cfg.Broker), zap.Error(err))
	}
	return presenter, client
}

func newMux(gatherer prometheus.Gatherer, host string, dev *monitor.Device, collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	// Expose metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Root endpoint with info
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		page := `<!DOCTYPE html>
<html>
<head><title>SonnenBatterie</title></head>
<body>
<h1>SonnenBatterie Home Assistant Bridge</h1>
<p>Battery %s at %s</p>
<p>Publishing %d sensor values</p>
<p><a href="/metrics">Metrics</a></p>
</body>
</html>`
		fmt.Fprintf(w, page, html.EscapeString(dev.Serial), html.EscapeString(host), collector.Sensors())
	})

	return mux
}
