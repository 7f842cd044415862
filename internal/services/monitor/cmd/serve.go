package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/flow-monitor/internal/config"
	"github.com/LeonardoBeccarini/flow-monitor/internal/observability"
	"github.com/LeonardoBeccarini/flow-monitor/internal/services/monitor"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/meter"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/ngrok"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/ntfy"
	"github.com/LeonardoBeccarini/flow-monitor/pkg/rabbitmq"
)

func serveCmd(cfgPath *string) *cobra.Command {
	var leakTest bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive zone-run webhooks and run the nightly leak check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, leakTest)
		},
	}
	cmd.Flags().BoolVar(&leakTest, "leak-test", false, "run the leak check and webhook self-test once at startup")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, leakTest bool) error {
	logger := log.Default()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// === Controller ===
	rc, err := newRachio(cfg)
	if err != nil {
		return err
	}
	device, err := findDevice(ctx, rc, cfg.RachioDevice)
	if err != nil {
		return err
	}
	zones := device.ZoneInfos()
	for _, z := range zones {
		logger.Printf("flow-monitor: zone %d %s", z.Number, z.Name)
	}

	// === Public URL + webhook ===
	publicBase, port := cfg.PublicURL, cfg.HTTPPort
	if publicBase == "" {
		t, err := ngrok.Discover(ctx, cfg.NgrokHost)
		if err != nil {
			return err
		}
		publicBase = t.PublicURL
		if t.LocalPort > 0 {
			port = t.LocalPort
		}
		logger.Printf("flow-monitor: ngrok tunnel %s -> %s", t.PublicURL, t.LocalAddr)
	}
	webhookURL := strings.TrimRight(publicBase, "/") + cfg.WebhookPath
	if err := rc.EnsureZoneRunWebhook(ctx, device.ID, webhookURL); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	meterClient := meter.NewClient(meter.Config{Host: cfg.MeterHost, Timeout: cfg.MeterTimeout})

	var (
		sinks    []monitor.NamedSink
		alerters monitor.FanoutAlerter
		deps     = monitor.Deps{Meter: meterClient, MinErrorAge: 30 * time.Second}
		runs     monitor.RunSource
	)

	// === InfluxDB ===
	if cfg.Influx.Enabled() {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		runsAPI := influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket)
		dailyAPI := runsAPI
		if b := cfg.Influx.DailyBucketOrDefault(); b != cfg.Influx.Bucket {
			dailyAPI = influx.WriteAPI(cfg.Influx.Org, b)
		}
		writer := monitor.NewWriter(runsAPI, dailyAPI, logger)
		defer writer.Flush()
		sinks = append(sinks, monitor.NamedSink{Name: "influx", RecordSink: writer})
		deps.Writer = writer
		runs = monitor.NewInfluxRuns(influx.QueryAPI(cfg.Influx.Org), cfg.Influx.Bucket)
	} else {
		logger.Printf("flow-monitor: INFLUX_TOKEN not set, run records are only logged")
	}

	// === MQTT ===
	// outlives ctx so that events drained at shutdown still reach the broker
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	if cfg.MQTT.Enabled() {
		client, err := rabbitmq.NewRabbitMQConn(&cfg.MQTT, busCtx)
		if err != nil {
			logger.Printf("flow-monitor: mqtt disabled: %v", err)
		} else {
			pub := rabbitmq.NewPublisher(client)
			bus := monitor.NewBusSink(pub)
			sinks = append(sinks, monitor.NamedSink{Name: "mqtt", RecordSink: bus})
			alerters = append(alerters, bus)
			deps.Bus = pub
		}
	}

	// === ntfy ===
	if n := ntfy.New(cfg.Ntfy.URL, cfg.Ntfy.Topic, 10*time.Second); n != nil {
		alerters = append(alerters, n)
	} else {
		logger.Printf("flow-monitor: NTFY_TOPIC not set, alerts are only logged")
	}

	sink := monitor.FanoutSink{Sinks: sinks, Metrics: metrics}
	queue := monitor.NewQueue(cfg.QueueSize)
	latch := monitor.NewLatch()

	sm, err := monitor.NewStateMachine(monitor.Config{
		Queue:      queue,
		Meter:      meterClient,
		Sink:       sink,
		Alerts:     alerters,
		Sampler:    monitor.NewSampler(queue, cfg.FlowSettleDelay, logger),
		SelfTest:   latch,
		Zones:      zones,
		FlowLimits: cfg.FlowLimits,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	wd, err := monitor.NewWatchdog(monitor.WatchdogConfig{
		Meter:         meterClient,
		Sink:          sink,
		Alerts:        alerters,
		Poster:        monitor.NewHTTPSelfTest(webhookURL, 10*time.Second),
		SelfTest:      latch,
		Hour:          cfg.LeakCheckHour,
		Location:      loc,
		LeakThreshold: cfg.LeakThreshold,
		AckTimeout:    cfg.SelfTestWait,
		TestMode:      leakTest,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	deps.Watchdog = wd

	// === HTTP ===
	hs := &http.Server{
		Addr: ":" + strconv.Itoa(port),
		Handler: monitor.NewRouter(monitor.RouterConfig{
			Receiver:  monitor.NewReceiver(cfg.WebhookPath, queue, logger, metrics),
			Queue:     queue,
			Runs:      runs,
			Deps:      deps,
			Metrics:   metrics,
			AccessLog: os.Stdout,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	smCtx, smCancel := context.WithCancel(context.Background())
	smDone := make(chan struct{})
	go func() {
		sm.Run(smCtx, cfg.ShutdownGrace)
		close(smDone)
	}()
	go func() {
		if err := wd.Run(ctx); err != nil {
			logger.Printf("watchdog: %v", err)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		logger.Printf("flow-monitor: listening on :%d, webhook %s", port, webhookURL)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	logger.Printf("flow-monitor: shutting down...")

	// no new webhooks, then drain what is queued
	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	smCancel()
	<-smDone
	return serveErr
}
