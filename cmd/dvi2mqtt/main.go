package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/lrp/dvi2mqtt/internal/adapter/actor"
	"github.com/lrp/dvi2mqtt/internal/config"
	"github.com/lrp/dvi2mqtt/internal/core/actor"
	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/internal/core/events"
	"github.com/lrp/dvi2mqtt/internal/core/service"
	"github.com/lrp/dvi2mqtt/internal/history"
	"github.com/lrp/dvi2mqtt/internal/metrics"
	"github.com/lrp/dvi2mqtt/internal/server"
	"github.com/lrp/dvi2mqtt/internal/util/actorutil"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(ctx context.Context, apiServer *http.Server, done chan bool) {
	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the usb adapter may show up after us
	reconnect := cfg.Serial.Reconnect
	startup := service.NewBackoff(reconnect.Initial(), reconnect.Max(), reconnect.Multiplier, cfg.Serial.StartupAttempts)
	if err := dvi_modbus.WaitForDevice(ctx, cfg.Serial.Device, startup.Next); err != nil {
		logger.Error("serial device not available", zap.String("device", cfg.Serial.Device), zap.Error(err))
		os.Exit(1)
	}

	validator := &service.DefaultCommandValidator{Limits: commandLimits(cfg), Logger: logger}
	descriptor := events.Descriptor(cfg.MQTT.BaseTopic, validator)

	// metrics and history listen on the bridge eventstream
	eventStream := &eventstream.EventStream{}
	registry := metrics.NewRegistry()
	bridgeMetrics := metrics.NewMetrics(registry)
	bridgeMetrics.Subscribe(eventStream)
	if cfg.Influx.Enable {
		sink, err := history.Connect(ctx, cfg.Influx, descriptor.Device.Id, logger)
		if err != nil {
			logger.Warn("history disabled", zap.Error(err))
		} else {
			history.Subscribe(eventStream, sink)
			defer sink.Close(context.Background())
		}
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	root := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewBridgeActor(cfg, validator, descriptor, eventStream,
			deviceActorProvider(cfg, bridgeMetrics, logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := root.SpawnNamed(props, domain.ACTOR_ID_BRIDGE)
	if err != nil {
		logger.Error("could not start bridge", zap.Error(err))
		os.Exit(1)
	}

	server := server.NewServer(*cfg, root, pid, metrics.Handler(registry))
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(ctx, server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done

	if _, err := root.RequestFuture(pid, domain.ShutdownRequest{}, 5*time.Second).Result(); err != nil {
		logger.Warn("bridge did not confirm shutdown", zap.Error(err))
	}
	if err := root.StopFuture(pid).Wait(); err != nil {
		logger.Warn("bridge stop", zap.Error(err))
	}
	as.Shutdown()
	log.Println("Graceful shutdown complete.")
}

func initConfig() (*config.Config, error) {

	// alias PORT => DVI2MQTT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("DVI2MQTT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("dvi2mqtt")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, errors.Join(config.ErrConfiguration, err)
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func commandLimits(cfg *config.Config) map[string]service.Limit {
	limits := make(map[string]service.Limit, len(cfg.Limits))
	for field, l := range cfg.Limits {
		limits[field] = service.Limit{Min: l.Min, Max: l.Max}
	}
	return limits
}

func deviceActorProvider(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) actor.DeviceActorProvider {
	return func() *adactor.DeviceActor {
		transport := dvi_modbus.NewSerialTransport(dvi_modbus.SerialConfig{
			Device:   cfg.Serial.Device,
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			StopBits: cfg.Serial.StopBits,
			Parity:   cfg.Serial.Parity,
			Timeout:  cfg.Serial.Timeout(),
		})
		device := dvi_modbus.NewDVIDevice(transport, byte(cfg.Serial.SlaveId), cfg.Serial.MaxTimeouts, m.Instrument())
		reconnect := cfg.Serial.Reconnect
		backoff := service.NewBackoff(reconnect.Initial(), reconnect.Max(), reconnect.Multiplier, reconnect.MaxAttempts)
		// a settings poll is the longest task
		return adactor.NewDeviceActor(device, backoff, 20*cfg.Serial.Timeout(), logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, adactor.DefaultMQTTClientProvider, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("serial.device", "/dev/ttyACM0")
	viper.SetDefault("serial.baud_rate", 9600)
	viper.SetDefault("serial.data_bits", 8)
	viper.SetDefault("serial.stop_bits", 1)
	viper.SetDefault("serial.parity", "N")
	viper.SetDefault("serial.slave_id", dvi_modbus.DefaultSlaveId)
	viper.SetDefault("serial.timeout_millis", 2000)
	viper.SetDefault("serial.max_timeouts", 3)
	viper.SetDefault("serial.startup_attempts", 10)
	viper.SetDefault("serial.reconnect.initial_millis", 1000)
	viper.SetDefault("serial.reconnect.max_millis", 60000)
	viper.SetDefault("serial.reconnect.multiplier", 2.0)
	viper.SetDefault("serial.reconnect.max_attempts", 0)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.client_id", "")
	viper.SetDefault("mqtt.base_topic", "dvi")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("mqtt.reconnect.initial_millis", 1000)
	viper.SetDefault("mqtt.reconnect.max_millis", 60000)
	viper.SetDefault("mqtt.reconnect.multiplier", 2.0)
	viper.SetDefault("mqtt.reconnect.max_attempts", 0)
	viper.SetDefault("poll.coils_interval_millis", 13000)
	viper.SetDefault("poll.inputs_interval_millis", 17000)
	viper.SetDefault("poll.settings_interval_millis", 60000)
	viper.SetDefault("influx.enable", false)
	viper.SetDefault("influx.url", "")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "")
	viper.SetDefault("influx.bucket", "")
	viper.SetDefault("influx.batch_size", 50)
	viper.SetDefault("influx.flush_interval_millis", 10000)
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Influx.Token = "*redacted*"
	slog.Info("Using", "config", cfg)
}
