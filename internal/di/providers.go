package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"SessionScan/internal/domain/models"
	"SessionScan/internal/domain/repository"
	"SessionScan/internal/handler/api"
	"SessionScan/internal/repository/chsink"
	"SessionScan/internal/repository/events"
	"SessionScan/internal/repository/filesource"
	"SessionScan/internal/repository/memstore"
	"SessionScan/internal/repository/redisstore"
	"SessionScan/internal/repository/sheets"
	"SessionScan/internal/repository/sqlitestore"
	"SessionScan/internal/scheduler"
	"SessionScan/internal/service/fetcher"
	"SessionScan/internal/service/ratelimit"
	"SessionScan/internal/service/session"
	"SessionScan/internal/service/stats"
	"SessionScan/internal/service/yahoo"
	"SessionScan/internal/usecase"
	"SessionScan/pkg/cache"
	pkgch "SessionScan/pkg/clickhouse"
	"SessionScan/pkg/config"
	xhttp "SessionScan/pkg/http"
	pkgkafka "SessionScan/pkg/kafka"
	applogger "SessionScan/pkg/logger"
	"SessionScan/pkg/metrics"
	"SessionScan/pkg/queue"
	"SessionScan/pkg/server"
)

const initTimeout = 15 * time.Second

// ProvideLogger creates the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With("env", cfg.Environment), nil
}

// ProvideRegistry creates the Prometheus registry served at the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideRedisClient connects to Redis when a backend needs it, otherwise it returns nil.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	needed := cfg.Cache.Backend != "memory" || cfg.Store.Backend == "redis" || cfg.Scheduler.Backend == "redis"
	if !needed {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port)),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideCache creates the series cache. The same cache holds the step lease.
func ProvideCache(cfg *config.Config, client *redis.Client) (cache.Service, func(), error) {
	var c cache.Service
	switch cfg.Cache.Backend {
	case "redis":
		c = cache.NewRedisCacheWithClient(client, cfg.Store.RedisPrefix+":cache")
	case "layered":
		rc := cache.NewRedisCacheWithClient(client, cfg.Store.RedisPrefix+":cache")
		c = cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(cfg.Cache.MaxSize))
	default:
		c = cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Cache.MaxSize),
			cache.WithMemoryCleanup(cfg.Cache.Cleanup),
		)
	}
	// The Redis client is closed by its own cleanup.
	if cfg.Cache.Backend == "memory" {
		return c, func() { _ = c.Close() }, nil
	}
	return c, func() {}, nil
}

// ProvideStore opens the durable run store.
func ProvideStore(cfg *config.Config, client *redis.Client) (repository.Store, func(), error) {
	var (
		st  repository.Store
		err error
	)
	switch cfg.Store.Backend {
	case "redis":
		st = redisstore.New(client, cfg.Store.RedisPrefix, cfg.Analysis.LogLimit)
	case "memory":
		st = memstore.New(cfg.Analysis.LogLimit)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
		defer cancel()
		st, err = sqlitestore.Open(ctx, cfg.Store.SQLitePath, cfg.Analysis.LogLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
	}
	return st, func() { _ = st.Close() }, nil
}

// ProvideSheets creates the Google Sheets client when the source or sink uses it.
func ProvideSheets(cfg *config.Config, l *applogger.Logger) (*sheets.Client, error) {
	if !cfg.UsesSheets() {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	c, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		CredentialsFile: cfg.Sheets.CredentialsFile,
		CredentialsJSON: cfg.Sheets.CredentialsJSON,
		WriteDelay:      cfg.Sink.WriteDelay,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return c, nil
}

// ProvideSymbolSource selects where symbol lists are read from.
func ProvideSymbolSource(cfg *config.Config, sh *sheets.Client) repository.SymbolSource {
	if cfg.Source.Type == "file" {
		return filesource.New(cfg.Source.File)
	}
	return sh
}

// ProvideClickHouseClient connects to ClickHouse when it is the sink and
// creates the rows table.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Sink.Type != "clickhouse" {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, chsink.Schema(cfg.Sink.Table)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideResultSink selects where result rows are written.
func ProvideResultSink(cfg *config.Config, sh *sheets.Client, ch *pkgch.Client, l *applogger.Logger) repository.ResultSink {
	if cfg.Sink.Type == "clickhouse" {
		return chsink.New(ch.DB(), cfg.Sink.Table, l)
	}
	return sh
}

// ProvideEventPublisher publishes run events to Kafka when enabled.
func ProvideEventPublisher(cfg *config.Config, reg *prometheus.Registry) (repository.EventPublisher, func(), error) {
	if !cfg.Kafka.Enabled {
		return events.Nop{}, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithHashByKey(cfg.Kafka.HashByKey),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	pub := events.NewKafkaPublisher(producer)
	return pub, func() { _ = pub.Close() }, nil
}

// ProvideScheduler creates the invocation scheduler for the serve command.
func ProvideScheduler(cfg *config.Config, client *redis.Client, l *applogger.Logger) scheduler.Scheduler {
	if cfg.Scheduler.Backend != "redis" {
		return scheduler.NewLocal(l)
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:      cfg.Scheduler.Workers,
		RetryLimit:   0,
		RetryDelay:   cfg.Scheduler.ChainDelay,
		PollInterval: time.Second,
	}, client, queue.WithKeyPrefix(cfg.Store.RedisPrefix+":queue"))
	return scheduler.NewRedis(q, l)
}

// ProvideManualScheduler is the scheduler of the one-shot run command, which
// drives steps itself.
func ProvideManualScheduler() scheduler.Scheduler {
	return scheduler.NewManual()
}

// ProvideFetcher builds the cached Yahoo series fetcher.
func ProvideFetcher(cfg *config.Config, c cache.Service, m repository.Metrics, l *applogger.Logger) *fetcher.Fetcher {
	limiter := ratelimit.New()
	provider := yahoo.New(yahoo.Config{
		ChartURL:     cfg.Provider.ChartURL,
		OptionsURL:   cfg.Provider.OptionsURL,
		UserAgent:    cfg.Provider.UserAgent,
		Timeout:      cfg.Provider.Timeout,
		MaxRetries:   cfg.Provider.MaxRetries,
		RetryInitial: cfg.Provider.RetryInitial,
		RateCapacity: cfg.Provider.RateLimit.Capacity,
		RateRefill:   cfg.Provider.RateLimit.RefillPerSec,
	}, limiter, l)
	return fetcher.New(provider, c, m, fetcher.Config{
		SeriesTTL:      cfg.Cache.SeriesTTL,
		OptionsTTL:     cfg.Cache.OptionsTTL,
		FineInterval:   cfg.Analysis.Intraday.FineInterval,
		FineDays:       cfg.Analysis.Intraday.FineDays,
		CoarseInterval: cfg.Analysis.Intraday.CoarseInterval,
		OptionsCheck:   cfg.Analysis.OptionsCheck,
	}, l)
}

// ProvideItemProcessor wires classification and aggregation in the exchange timezone.
func ProvideItemProcessor(cfg *config.Config, f *fetcher.Fetcher) *usecase.ItemProcessor {
	loc := cfg.Location()
	agg := stats.New(stats.Config{
		QuietOpenPercent: cfg.Analysis.QuietOpenPercent,
		NextDayRecovery:  cfg.Analysis.NextDayRecovery,
	}, loc)
	thresholds := make(map[models.Mode]float64, len(models.AllModes))
	for _, m := range models.AllModes {
		thresholds[m] = cfg.Mode(string(m)).Threshold
	}
	return usecase.NewItemProcessor(f, session.New(loc, cfg.Analysis.GapTolerance), agg, thresholds)
}

// ProvideOrchestrator creates the orchestrator and binds its step to sched.
func ProvideOrchestrator(
	cfg *config.Config,
	store repository.Store,
	source repository.SymbolSource,
	sink repository.ResultSink,
	sched scheduler.Scheduler,
	lease cache.Service,
	pub repository.EventPublisher,
	m repository.Metrics,
	proc *usecase.ItemProcessor,
	l *applogger.Logger,
) (*usecase.Orchestrator, error) {
	var end models.Date
	if cfg.Analysis.EndDate != "" {
		d, err := models.ParseDate(cfg.Analysis.EndDate)
		if err != nil {
			return nil, err
		}
		end = d
	}

	modes := make(map[models.Mode]usecase.ModeSettings, len(models.AllModes))
	for _, m := range models.AllModes {
		mc := cfg.Mode(string(m))
		modes[m] = usecase.ModeSettings{SourceRange: mc.SourceRange, Destination: mc.Destination, Threshold: mc.Threshold}
	}

	o := usecase.NewOrchestrator(usecase.Config{
		BatchSize:       cfg.Analysis.BatchSize,
		ChainDelay:      cfg.Scheduler.ChainDelay,
		LeaseTTL:        cfg.Scheduler.LeaseTTL,
		EndDate:         end,
		Modes:           modes,
		NextDayRecovery: cfg.Analysis.NextDayRecovery,
	}, usecase.Deps{
		Store:     store,
		Source:    source,
		Sink:      sink,
		Scheduler: sched,
		Lease:     lease,
		Events:    pub,
		Metrics:   m,
		Processor: proc,
		Location:  cfg.Location(),
		Logger:    l,
	})
	sched.Bind(o.Step)
	return o, nil
}

// ProvideWatchdog re-requests a step on a cron schedule while a run is active.
func ProvideWatchdog(cfg *config.Config, o *usecase.Orchestrator, l *applogger.Logger) (*scheduler.Watchdog, error) {
	w := scheduler.NewWatchdog(l)
	if cfg.Scheduler.Watchdog == "" {
		return w, nil
	}
	if err := w.AddJob(cfg.Scheduler.Watchdog, scheduler.NewStepJob("run-watchdog", o.Tick, time.Minute)); err != nil {
		return nil, fmt.Errorf("watchdog schedule: %w", err)
	}
	return w, nil
}

// ProvideHTTPServer creates the Echo server with the run API and metrics endpoint.
func ProvideHTTPServer(cfg *config.Config, o *usecase.Orchestrator, reg *prometheus.Registry, l *applogger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithCORS(cfg.Server.CORS),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, cfg.Metrics.Path))
	}
	h := api.NewRunHandler(l, o, cfg.Server.StatusPushInterval)
	return xhttp.NewServer([]xhttp.Handler{h}, opts...)
}

// ProvideApp assembles the long-running service.
func ProvideApp(
	cfg *config.Config,
	o *usecase.Orchestrator,
	sched scheduler.Scheduler,
	w *scheduler.Watchdog,
	srv *xhttp.Server,
	l *applogger.Logger,
) *server.App {
	return server.New(o, l,
		server.WithScheduler(sched),
		server.WithWatchdog(w),
		server.WithHTTPServer(srv),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
}

// ProvideRunner assembles the one-shot runner without HTTP or background scheduling.
func ProvideRunner(o *usecase.Orchestrator, l *applogger.Logger) *server.App {
	return server.New(o, l)
}
