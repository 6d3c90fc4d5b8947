package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/juju/clock"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coregov/coregov/internal/hotplug"
	"github.com/coregov/coregov/internal/monitoring"
	"github.com/coregov/coregov/internal/telemetry"
	"github.com/coregov/coregov/internal/tunables"
)

func main() {
	var configPath string
	var metricsAddr string
	var debug bool
	flag.StringVar(&configPath, "config", "", "Path to the tunables config file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":10001", "The address the metric endpoint binds to.")
	flag.BoolVar(&debug, "debug", false, "Enable verbose logging.")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-5))
	}
	zapLog, err := zapCfg.Build()
	if err != nil {
		os.Exit(1)
	}
	log := zapr.NewLogger(zapLog)
	setupLog := log.WithName("setup")

	source, err := telemetry.NewProcfsSource()
	if err != nil {
		setupLog.Error(err, "unable to read cpu topology")
		os.Exit(1)
	}

	gov := hotplug.NewGovernor(hotplug.Config{
		Source:   source,
		Actuator: telemetry.NewSysfsActuator(source),
		Clock:    clock.WallClock,
		Log:      log,
	})
	defer gov.Close()

	store := tunables.NewStore(gov, log)
	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			setupLog.Error(err, "unable to read config", "path", configPath)
			os.Exit(1)
		}
		if err := store.Load(v); err != nil {
			setupLog.Error(err, "unable to apply config", "path", configPath)
			os.Exit(1)
		}
		store.Watch(v)
	} else {
		// no config file means run with defaults, enabled
		if err := store.Set(tunables.KeyEnable, "true"); err != nil {
			setupLog.Error(err, "unable to enable governor")
			os.Exit(1)
		}
	}

	registry := prom.NewRegistry()
	if err := monitoring.RegisterAll(registry, gov, log); err != nil {
		setupLog.Error(err, "unable to register collectors")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "metrics endpoint failed")
		}
	}()

	setupLog.Info("started", "units", gov.NumUnits(), "metricsAddr", metricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	setupLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "metrics endpoint shutdown failed")
	}
}
