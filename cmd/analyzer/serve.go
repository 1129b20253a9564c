package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/consumer"
	"github.com/gosight/gosight/analyzer/internal/digest"
	"github.com/gosight/gosight/analyzer/internal/handler"
	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/metrics"
	"github.com/gosight/gosight/analyzer/internal/notify"
	"github.com/gosight/gosight/analyzer/internal/processor"
	"github.com/gosight/gosight/analyzer/internal/producer"
	"github.com/gosight/gosight/analyzer/internal/telemetry"
	"github.com/gosight/gosight/analyzer/internal/warehouse"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, change stream and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.HTTPPort = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides server.http_port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("store_driver", cfg.Store.Driver).
		Str("ingest_mode", cfg.Ingest.Mode).
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("redis_addr", cfg.Redis.Addr).
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Msg("Configuration loaded")

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	tel := telemetry.New()
	notifier := notify.New(cfg.Notifier.BufferSize)
	trackDropped(notifier, tel)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		bridge := notify.NewRedisBridge(rdb, cfg.Notifier.RedisChannel, notifier)
		bridge.OnDrop(func() { tel.NotificationsDropped(1) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Redis notification bridge failed")
			}
		}()
	}

	procOpts := processor.Options{Metrics: tel, MaxEvents: cfg.Ingest.MaxEvents}
	if cfg.ClickHouse.Addr != "" {
		ch, err := warehouse.NewClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("connect to ClickHouse: %w", err)
		}
		defer ch.Close()
		log.Info().Msg("Connected to ClickHouse")

		exporter := warehouse.NewExporter(ch, cfg.Batch)
		exporter.OnError(tel.ExportFailed)
		defer exporter.Stop()
		procOpts.Exporter = exporter
	}
	eventProcessor := processor.NewEventProcessor(s, notifier, procOpts)

	var ingester handler.Ingester = eventProcessor
	if cfg.Ingest.Mode == "kafka" {
		kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("create Kafka producer: %w", err)
		}
		defer kafkaProducer.Close()
		ingester = handler.IngestFunc(kafkaProducer.ProduceBatch)
		log.Info().Str("topic", cfg.Kafka.Topics["events"]).Msg("Forwarding ingested batches to Kafka")
	}

	if cfg.Ingest.Mode == "kafka" || cfg.Ingest.Consume {
		kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.Kafka, eventProcessor)
		if err != nil {
			return fmt.Errorf("create Kafka consumer: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			kafkaConsumer.Start(ctx)
			if err := kafkaConsumer.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka consumer")
			}
		}()
	}

	aggregator := metrics.NewAggregator(s, metrics.Options{
		TopElements:  cfg.Metrics.TopElements,
		RecentWindow: cfg.Metrics.RecentWindow,
		RecentLimit:  cfg.Metrics.RecentLimit,
	})
	engine := insights.NewEngine(s, insights.NewRuleSet(cfg.Rules))

	scheduler := digest.New(engine, aggregator, tel)
	if err := scheduler.Start(cfg.Digest.Schedule); err != nil {
		return fmt.Errorf("start digest scheduler: %w", err)
	}
	defer scheduler.Stop()

	h := handler.NewHTTPHandler(ingester, aggregator, engine, notifier, handler.Options{
		MaxEvents: cfg.Ingest.MaxEvents,
		MaxBodyKB: cfg.Ingest.MaxBodyKB,
		RateLimit: rate.Limit(cfg.RateLimit.RequestsPerSecond),
		Burst:     cfg.RateLimit.Burst,
		Telemetry: tel,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler.NewRouter(h, cfg.Server.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve HTTP: %w", err)
		}
	case <-ctx.Done():
	}
	cancel()

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server stopped")
	return nil
}

// trackDropped mirrors the notifier's drop counter into Prometheus.
func trackDropped(n *notify.Notifier, tel *telemetry.Metrics) {
	var seen atomic.Uint64
	n.OnPublish(func(notify.Message) {
		cur := n.Dropped()
		if prev := seen.Swap(cur); cur > prev {
			tel.NotificationsDropped(cur - prev)
		}
	})
}
