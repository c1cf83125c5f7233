package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"MarketLens/internal/chart"
	"MarketLens/internal/domain/models"
	"MarketLens/internal/domain/repository"
	"MarketLens/internal/gateway"
	"MarketLens/internal/handler/api"
	mid "MarketLens/internal/middleware"
	internalrepo "MarketLens/internal/repository"
	"MarketLens/internal/service/upstream"
	"MarketLens/internal/stream"
	"MarketLens/pkg/cache"
	pkgch "MarketLens/pkg/clickhouse"
	"MarketLens/pkg/config"
	xhttp "MarketLens/pkg/http"
	pkgkafka "MarketLens/pkg/kafka"
	applogger "MarketLens/pkg/logger"
	"MarketLens/pkg/metrics"
	"MarketLens/pkg/server"
)

const tickArchiveTable = "market_ticks"

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	if lc.Format == "" {
		lc.Format = "console"
	}
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	return applogger.New(lc)
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideFetcher creates the upstream market data client.
func ProvideFetcher(cfg *config.Config, log *applogger.Logger) repository.MarketFetcher {
	timeout := cfg.Upstream.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return upstream.NewClient(cfg.Upstream.BaseURL, timeout, log,
		upstream.WithRetries(cfg.Upstream.MaxRetries))
}

// ProvideGateway creates the TTL-cached market data gateway.
func ProvideGateway(cfg *config.Config, fetcher repository.MarketFetcher, m repository.Metrics, log *applogger.Logger) *gateway.Gateway {
	ttl := gateway.TTLConfig{
		Quote:   cfg.TTL.Quote,
		History: cfg.TTL.History,
		Info:    cfg.TTL.Info,
		Search:  cfg.TTL.Search,
	}
	return gateway.New(fetcher, ttl, m, log)
}

// ProvideCache creates the response cache, or nil when disabled.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	switch cfg.Cache.Backend {
	case "":
		return nil, nil
	case "memory":
		return cache.NewMemoryCache(), nil
	case "redis":
		return newRedisCache(cfg)
	case "layered":
		rc, err := newRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		return cache.NewLayeredCache(rc), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func newRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	host, portStr, err := net.SplitHostPort(cfg.Cache.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("cache.redis.addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("cache.redis.addr port: %w", err)
	}
	return cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
	)
}

// ProvideClickHouseClient creates a ClickHouse client when the clickhouse
// archive backend is enabled; nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !archiveEnabled(cfg, "clickhouse") {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.TickArchiveSchema(cfg.ClickHouse.Database, tickArchiveTable)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when the kafka archive
// backend is enabled; nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !archiveEnabled(cfg, "kafka") {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideTickPipeline builds the archive pipeline over the enabled sinks;
// nil when no archive backend is configured.
func ProvideTickPipeline(
	cfg *config.Config,
	m repository.Metrics,
	log *applogger.Logger,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
) *mid.TickPipeline {
	var sinks []repository.TickSink
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.Topic))
	}
	if chClient != nil {
		table := cfg.ClickHouse.Database + "." + tickArchiveTable
		sinks = append(sinks, internalrepo.NewClickHouseTickArchive(chClient.DB(), table))
	}
	if len(sinks) == 0 {
		return nil
	}
	return mid.NewTickPipeline(sinks, m, log,
		mid.WithMaxRPS(50),
		mid.WithBufferSize(2000),
	)
}

// ProvideStreamFactory builds the live stream factory. Every new client also
// feeds the archive pipeline when one is configured.
func ProvideStreamFactory(
	cfg *config.Config,
	m repository.Metrics,
	log *applogger.Logger,
	pipeline *mid.TickPipeline,
) chart.StreamFactory {
	if !cfg.Stream.Enabled {
		return nil
	}
	opts := []stream.Option{}
	if cfg.Stream.ReconnectAttempts > 0 || cfg.Stream.ReconnectDelay > 0 {
		opts = append(opts, stream.WithReconnect(cfg.Stream.ReconnectAttempts, cfg.Stream.ReconnectDelay))
	}
	if cfg.Stream.PingInterval > 0 {
		opts = append(opts, stream.WithKeepAlive(cfg.Stream.PingInterval))
	}
	return func(symbol string) *stream.Client {
		c := stream.NewClient(cfg.Stream.URL, m, log, opts...)
		if pipeline != nil {
			c.OnTick(func(t models.LiveTick) {
				if err := pipeline.Process(context.Background(), &t); err != nil {
					log.Debug("tick archive rejected", applogger.Error(err))
				}
			})
		}
		return c
	}
}

// ProvideChartManager creates the per-symbol chart controller registry.
func ProvideChartManager(cfg *config.Config, gw *gateway.Gateway, streams chart.StreamFactory, log *applogger.Logger) *chart.Manager {
	return chart.NewManager(gw, streams, cfg.Chart.MAPeriod, log)
}

// ProvideHandler creates the HTTP handler.
func ProvideHandler(gw *gateway.Gateway, charts *chart.Manager, c cache.Service, log *applogger.Logger) xhttp.Handler {
	h := api.NewMarketHandler(gw, charts, log)
	if c != nil {
		h.SetCache(c)
	}
	return h
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	handler xhttp.Handler,
	charts *chart.Manager,
	pipeline *mid.TickPipeline,
	chClient *pkgch.Client,
	c cache.Service,
) *server.App {
	app := server.New(cfg, log, handler, charts, pipeline, chClient)
	if closer, ok := c.(interface{ Close() error }); ok && c != nil {
		app.AddCloser(closerFunc(closer.Close))
	}
	return app
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func archiveEnabled(cfg *config.Config, backend string) bool {
	for _, b := range cfg.Archive.Backends {
		if b == backend {
			return true
		}
	}
	return false
}
