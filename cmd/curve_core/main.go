package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"curve_core/internal/alert"
	"curve_core/internal/api"
	"curve_core/internal/bootstrap"
	"curve_core/internal/config"
	"curve_core/internal/infrastructure/health"
	"curve_core/internal/infrastructure/metrics"
	"curve_core/internal/loan"
	"curve_core/internal/pricesapi"
	"curve_core/internal/quote"
	httpx "curve_core/pkg/http"
	"curve_core/pkg/liquidation"
	"curve_core/pkg/logging"
	"curve_core/pkg/retry"
	"curve_core/pkg/scheduler"
	"curve_core/pkg/telemetry"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

// backlog above which the scheduler reports unhealthy
const maxSchedulerBacklog = 1000

func main() {
	configPath := flag.String("config", "configs/curve_core.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("curve_core version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// existing environment variables win over the file
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tel, err := telemetry.Setup(cfg.System.ServiceName, telemetry.Options{StdoutTraces: cfg.Telemetry.StdoutTraces})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.System.LogLevel,
		File:       cfg.System.LogFile,
		MaxSizeMB:  cfg.System.LogMaxSizeMB,
		MaxBackups: cfg.System.LogMaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting curve_core",
		"version", version,
		"prices_api", cfg.PricesAPI.BaseURL,
		"scheduler_capacity", cfg.Scheduler.Capacity,
		"port", cfg.Server.Port,
	)

	sched := scheduler.New(scheduler.Config{Name: cfg.Scheduler.Name, Capacity: cfg.Scheduler.Capacity}, logger)

	httpOpts := httpx.DefaultOptions()
	httpOpts.Timeout = cfg.PricesAPI.Timeout()
	prices := pricesapi.NewClient(cfg.PricesAPI.BaseURL, httpOpts, logger)

	var quoteCache quote.Cache
	var redisCache *quote.RedisCache
	if cfg.Cache.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err = quote.NewRedisCache(ctx, quote.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.QuoteTTL(),
		})
		cancel()
		if err != nil {
			logger.Warn("Quote cache disabled", "error", err)
		} else {
			quoteCache = redisCache
		}
	}

	quotes := quote.NewService(prices, sched, quote.Config{
		Retry: retry.Policy{
			MaxAttempts:    cfg.Quotes.RetryAttempts,
			InitialBackoff: time.Duration(cfg.Quotes.RetryBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Quotes.RetryMaxBackoffMs) * time.Millisecond,
		},
		RateLimit: rate.Limit(cfg.Quotes.RateLimitPerSec),
		RateBurst: cfg.Quotes.RateLimitBurst,
		Cache:     quoteCache,
	}, logger)

	loans := loan.NewService(prices, sched, liquidation.Formatter{
		PriceDecimals:   cfg.Display.PriceDecimals,
		PercentDecimals: cfg.Display.PercentDecimals,
		AmountDecimals:  cfg.Display.AmountDecimals,
		LossEpsilon:     cfg.Display.LossEpsilonDecimal(),
		WarnHealth:      cfg.Display.WarnHealthDecimal(),
	}, logger)

	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhookURL != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL))
	}
	loans.SetAlerter(alerts)

	hm := health.NewHealthManager(logger)
	hm.Register("scheduler", health.SchedulerCheck(sched, maxSchedulerBacklog))
	hm.Register("prices_api", prices.Check)
	if redisCache != nil {
		hm.Register("quote_cache", redisCache.Check)
	}

	server := api.NewServer(api.Options{
		Port:            cfg.Server.Port,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutMs) * time.Millisecond,
	}, quotes, loans, hm, sched, logger)

	runners := []bootstrap.Runner{server}
	if cfg.Telemetry.EnableMetrics {
		runners = append(runners, metrics.NewServer(cfg.Telemetry.MetricsPort, logger))
	}

	app := bootstrap.NewApp(logger)
	app.OnShutdown(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	})
	if redisCache != nil {
		app.OnShutdown(redisCache.Close)
	}
	app.OnShutdown(alerts.Close)
	app.OnShutdown(func() error {
		sched.Close()
		return nil
	})

	runErr := app.Run(runners...)
	_ = logger.Sync()
	_ = logger.Close()
	if runErr != nil {
		os.Exit(1)
	}
}
