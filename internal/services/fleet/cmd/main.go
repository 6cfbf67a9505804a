package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/industruino/fleet-sim/internal/metrics"
	sensor "github.com/industruino/fleet-sim/internal/sensor-simulator"
	"github.com/industruino/fleet-sim/internal/services/dispatcher"
	"github.com/industruino/fleet-sim/internal/services/health"
	"github.com/industruino/fleet-sim/internal/services/history"
	"github.com/industruino/fleet-sim/pkg/dedup"
	"github.com/industruino/fleet-sim/pkg/logging"
	"github.com/industruino/fleet-sim/pkg/mqttlink"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) error {
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})
	slog.SetDefault(log)

	if err := serve(ctx, cfg, log); err != nil {
		log.Error("fleet-sim stopped", "error", err)
		return err
	}
	log.Info("fleet-sim shut down")
	return nil
}

func serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	specs, err := cfg.SensorSpecs()
	if err != nil {
		return err
	}

	clientID := cfg.Name
	if clientID == "" {
		clientID = "fleet-sim-" + uuid.NewString()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// === MQTT ===
	client, err := mqttlink.NewConn(ctx, &mqttlink.Config{
		Host:     cfg.Hostname,
		Port:     cfg.Port,
		ClientID: clientID,
		Token:    cfg.SecretToken,
	}, log)
	if err != nil {
		return fmt.Errorf("mqtt connection: %w", err)
	}
	defer mqttlink.Close(client, log)

	transport := mqttlink.NewTransport(client,
		mqttlink.WithQoS(byte(cfg.QoS)),
		mqttlink.WithLogger(log),
	)

	dispatcherOpts := []dispatcher.Option{
		dispatcher.WithTopics(cfg.Topics()),
		dispatcher.WithOutboundCapacity(max(cfg.OutboundCapacity, 16*len(specs))),
		dispatcher.WithDeduper(dedup.New(2*time.Minute, 10000)),
		dispatcher.WithMetrics(m),
		dispatcher.WithLogger(log),
	}

	// === InfluxDB (optional) ===
	var historyAge health.ErrorAger
	if cfg.Influx.URL != "" {
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token,
			influxdb2.DefaultOptions().SetBatchSize(50).SetFlushInterval(1000))
		defer influx.Close()

		writer := history.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket), log)
		historyAge = writer
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithTelemetrySink(writer))
		log.Info("telemetry history enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	d := dispatcher.New(transport, dispatcherOpts...)
	sensors, err := sensor.BuildFleet(d, specs, cfg.InboundCapacity,
		sensor.WithInterval(cfg.Interval),
		sensor.WithLogger(log),
		sensor.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// === HTTP ===
	if cfg.HTTPPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/healthz", health.NewHealthHandler(transport, historyAge))
		mux.Handle("/readyz", health.NewReadyHandler(transport))

		hs := &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("HTTP listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shCtx)
		})
	}

	// === gRPC health ===
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer := grpc.NewServer()
		healthServer := grpchealth.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)

		g.Go(func() error {
			log.Info("gRPC health listening", "addr", lis.Addr().String())
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			health.WatchLink(gctx, healthServer, transport, 5*time.Second)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	// === Fleet ===
	for _, s := range sensors {
		s.Start(gctx)
		g.Go(s.Wait)
	}
	g.Go(func() error { return d.Run(gctx) })

	log.Info("fleet-sim running", "client_id", clientID, "sensors", d.Labels(), "interval", cfg.Interval)
	return g.Wait()
}
