// pylvid polls the LVI cloud for heater state and exposes it as
// Prometheus metrics, optionally bridging it to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hwaastad/pylvi/internal/config"
	mqttbridge "github.com/hwaastad/pylvi/internal/mqtt"
	"github.com/hwaastad/pylvi/internal/rate"
	"github.com/hwaastad/pylvi/internal/server"
	"github.com/hwaastad/pylvi/lvi"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "pylvi.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts := []lvi.Option{
		lvi.WithTimeout(cfg.Timeout),
		lvi.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lvi.WithBaseURL(cfg.BaseURL))
	}
	client, err := lvi.New(cfg.Email, cfg.Password, opts...)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(lvi.NewMetricsCollector(client))
	for _, collector := range rate.MetricsCollectors() {
		registry.MustRegister(collector)
	}
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pylvi_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpServer := server.New(cfg.HTTPAddr, registry)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	if cfg.MQTT.Enabled {
		bridge, err := mqttbridge.New(client, mqttbridge.Config{
			BrokerURL:       cfg.MQTT.BrokerURL,
			ClientID:        cfg.MQTT.ClientID,
			BaseTopic:       cfg.MQTT.BaseTopic,
			QoS:             cfg.MQTT.QoS,
			Retain:          cfg.MQTT.Retain,
			PublishInterval: cfg.MQTT.PublishInterval,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
		}, logger)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("mqtt bridge exited: %v", err)
			}
		}()
	}

	log.Printf("pylvid listening on %s, polling every %s", cfg.HTTPAddr, cfg.PollInterval)
	runPollLoop(ctx, client, cfg.PollInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func runPollLoop(ctx context.Context, client *lvi.Client, interval time.Duration) {
	guard := rate.New("lvi", rate.MinUpdateInterval)

	poll := func() {
		if decision := guard.Allow(time.Now()); !decision.Allowed {
			log.Print(rate.RetryLimitError("lvi", decision))
			return
		}
		err := client.UpdateHeaters(ctx)
		guard.Record(err)
		if err != nil {
			log.Printf("update heaters: %v", err)
		}
	}

	poll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
