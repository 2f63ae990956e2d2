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
	"syscall"
	"time"

	adactor "gridwarden/internal/adapter/actor"
	"gridwarden/internal/config"
	"gridwarden/internal/core/actor"
	"gridwarden/internal/server"
	"gridwarden/internal/util/actorutil"
	"gridwarden/pkg/gridlink"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	driver, err := buildDriver(cfg, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewGridActor(*cfg, driver, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "grid")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => GRIDWARDEN_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("GRIDWARDEN_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("gridwarden")
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
		return nil, err
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

	// check driver kind
	kind, err := config.CheckDriverKind(cfg.Driver.Kind)
	if err != nil {
		return nil, err
	}
	cfg.Driver.Kind = kind
	if kind == "modbus" && cfg.Driver.Host == "" {
		return nil, errors.New("config param driver.host is required for the modbus driver")
	}

	if cfg.MQTT.Enable {
		// check and fix base topic
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic
	}

	// check bounds
	if cfg.Control.BoundsSweepIntervalSeconds > 0 && cfg.Control.BoundsSweepIntervalSeconds < 1 {
		return nil, errors.New("config param control.bounds_sweep_interval_seconds should be >= 1")
	}
	if cfg.Control.DefaultPowerLifetimeSeconds > 0 &&
		(cfg.Control.DefaultPowerLifetimeSeconds < 10 || cfg.Control.DefaultPowerLifetimeSeconds > 900) {
		return nil, errors.New("config param control.default_power_lifetime_seconds should be within [10, 900]")
	}

	return &cfg, nil
}

func buildDriver(cfg *config.Config, logger *zap.Logger) (gridlink.Driver, error) {
	switch cfg.Driver.Kind {
	case "sim":
		return gridlink.NewSimFleet(), nil
	default:
		timeout := time.Duration(cfg.Driver.TimeoutMillis) * time.Millisecond
		if timeout == 0 {
			timeout = 1 * time.Second
		}
		return gridlink.CreateModbusDriver(cfg.Driver.Host, cfg.Driver.Port, uint8(cfg.Driver.UnitId), timeout, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	if !cfg.MQTT.Enable {
		return nil
	}
	return func(eventStream *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, eventStream, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("driver.kind", "modbus")
	viper.SetDefault("driver.port", 502)
	viper.SetDefault("driver.unit_id", 1)
	viper.SetDefault("driver.timeout_millis", 1000)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.base_topic", "gridwarden")
	viper.SetDefault("control.default_power_lifetime_seconds", 60)
	viper.SetDefault("control.bounds_sweep_interval_seconds", 5)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
