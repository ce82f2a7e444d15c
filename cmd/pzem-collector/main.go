// Command pzem-collector is the headless multi-bus daemon: it opens every
// serial bus named in its config, attaches the meters configured on each,
// republishes every reading to MQTT, and serves a small HTTP+WebSocket
// status API, all until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vortigont/pzem-edl/internal/collector"
	"github.com/vortigont/pzem-edl/internal/config"
	appLog "github.com/vortigont/pzem-edl/internal/log"
	"github.com/vortigont/pzem-edl/pkg/pool"
	"github.com/vortigont/pzem-edl/pkg/pzem"
	"github.com/vortigont/pzem-edl/pkg/transport"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := appLog.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pool.New(logger)
	defer p.Stop()

	ports, err := wireBuses(ctx, p, cfg.Buses, logger)
	if err != nil {
		logger.Fatal("wiring buses", zap.Error(err))
	}
	defer func() {
		for _, port := range ports {
			port.Stop()
		}
	}()

	var mqttPub *collector.MQTTPublisher
	if cfg.MQTT.Enable {
		mqttPub, err = collector.NewMQTTPublisher(cfg.MQTT, logger)
		if err != nil {
			logger.Fatal("mqtt connect", zap.Error(err))
		}
		defer mqttPub.Close()
		p.Subscribe(mqttPub.OnUpdate)
	}

	var httpServer *http.Server
	if cfg.Server.Enable {
		srv := collector.New(p, true, logger)
		p.Subscribe(srv.Broadcast)
		httpServer = srv.HTTPServer(cfg.Server.Port)
		go func() {
			logger.Info("status API listening", zap.Uint("port", cfg.Server.Port))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status API exited", zap.Error(err))
			}
		}()
	}

	for _, bus := range cfg.Buses {
		if bus.PollRate == 0 {
			continue
		}
		if err := p.SetPollPeriod(time.Duration(bus.PollRate) * time.Millisecond); err != nil {
			logger.Warn("set poll period failed", zap.Error(err))
		}
		break // the pool-wide scheduler runs one period for the whole pool
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if httpServer != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutCtx)
	}
}

// wireBuses opens every configured serial device, registers it with the
// pool, and attaches its meters, returning the opened ports so main can
// close them on shutdown.
func wireBuses(ctx context.Context, p *pool.Pool, buses []config.BusConfig, logger *zap.Logger) ([]*transport.Port, error) {
	ports := make([]*transport.Port, 0, len(buses))
	for _, bus := range buses {
		line, err := transport.OpenSerial(transport.DefaultSerialConfig(bus.Device))
		if err != nil {
			return ports, fmt.Errorf("bus %q: open %q: %w", bus.ID, bus.Device, err)
		}
		port := transport.New(line, logger)
		if err := p.AddPort(ctx, bus.ID, port); err != nil {
			return ports, fmt.Errorf("bus %q: %w", bus.ID, err)
		}
		ports = append(ports, port)

		for _, mc := range bus.Meters {
			meter := newMeter(mc, logger)
			if err := p.AddMeter(ctx, mc.ID, bus.ID, meter); err != nil {
				return ports, fmt.Errorf("meter %q: %w", mc.ID, err)
			}
		}
	}
	return ports, nil
}

func newMeter(mc config.MeterConfig, logger *zap.Logger) *pzem.Meter {
	if mc.Family == "dc" {
		return pzem.NewDCMeter(mc.Address, logger)
	}
	return pzem.NewACMeter(mc.Address, logger)
}

// loadConfig mirrors the teacher's cmd/api viper setup: environment
// variables under the PZEM prefix, optionally overlaid with a YAML file
// named by CONFIG_FILE.
func loadConfig() (*config.Config, error) {
	viper.SetEnvPrefix("pzem")
	viper.AutomaticEnv()

	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch viper.GetString("log_level") {
	case "debug", "trace":
		cfg.LogLevel = zap.DebugLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.MQTT.Enable {
		baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return nil, errors.New("invalid mqtt.base_topic: can only contain letters, numbers and underscores")
		}
		cfg.MQTT.BaseTopic = baseTopic
	}

	if len(cfg.Buses) == 0 {
		return nil, errors.New("config: no buses configured")
	}

	return &cfg, nil
}
