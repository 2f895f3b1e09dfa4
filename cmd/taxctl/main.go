// Command taxctl applies migrations, imports order files and quotes sales tax
// for drone deliveries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/drone-tax/internal/config"
	"github.com/noah-isme/drone-tax/internal/importer"
	"github.com/noah-isme/drone-tax/internal/obs"
	"github.com/noah-isme/drone-tax/internal/store/postgres"
)

const usage = `usage: taxctl <command> [flags]

commands:
  migrate              apply database migrations
  import <file.csv>    import an order file
  quote                compute tax for a single point
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := obs.NewLoggerTo(os.Stderr, cfg.Obs.LogFormat, cfg.Obs.LogLevel).
		With().Str("env", cfg.AppEnv).Str("component", "taxctl").Logger()
	obs.MustRegisterImportMetrics(cfg.Obs.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Obs.EnableTracing {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "drone-tax",
			Exporter:      cfg.Obs.TracingExporter,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	switch cmd, args := argv[0], argv[1:]; cmd {
	case "migrate":
		return runMigrate(cfg, logger)
	case "import":
		return runImport(ctx, cfg, logger, args)
	case "quote":
		return runQuote(ctx, cfg, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runMigrate(cfg *config.Config, logger zerolog.Logger) int {
	if err := cfg.RequireDatabase(); err != nil {
		logger.Error().Err(err).Msg("migrate")
		return 1
	}
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		logger.Error().Err(err).Msg("migrate")
		return 1
	}
	logger.Info().Msg("migrations applied")
	return 0
}

func runImport(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	chunkSize := fs.Int("chunk-size", cfg.Import.ChunkSize, "rows per transaction")
	workers := fs.Int("workers", cfg.Import.Workers, "concurrent chunk workers")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Error().Err(err).Msg("import")
		return 1
	}
	path := fs.Arg(0)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, cfg.DBMaxOpenConns, "taxctl")
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("connect database")
		return 1
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}
	stopOps := startOps(cfg, logger, opsChecker{store: store, redis: redisClient})
	defer stopOps()

	f, err := os.Open(path)
	if err != nil {
		logger.Error().Err(err).Msg("open input")
		return 1
	}
	defer f.Close()

	opts := importer.Options{
		ChunkSize:         *chunkSize,
		Workers:           *workers,
		MaxReportedErrors: cfg.Import.MaxReportedErrors,
		Region:            cfg.Import.ServiceRegion,
		Location:          cfg.Import.TimeZone,
		LockTTL:           cfg.Import.LockTTL,
	}
	if redisClient != nil {
		opts.Locker = newLocker(redisClient)
	}
	summary, err := importer.New(store, opts, logger).Run(ctx, path, f)
	if printErr := printJSON(os.Stdout, newReport(summary)); printErr != nil {
		logger.Error().Err(printErr).Msg("write summary")
	}
	switch {
	case errors.Is(err, importer.ErrDuplicateRun):
		logger.Warn().Str("file", path).Msg("file was already imported")
		return 3
	case err != nil:
		logger.Error().Err(err).Msg("import failed")
		return 1
	}
	return 0
}

func initRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error().Err(err).Msg("parse redis url; import lock disabled")
		return nil
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error().Err(err).Msg("ping redis; import lock disabled")
		_ = redisClient.Close()
		return nil
	}
	return redisClient
}
