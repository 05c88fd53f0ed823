package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/baguette88/polymarket-trading-bot/internal/api"
	"github.com/baguette88/polymarket-trading-bot/internal/bot"
	"github.com/baguette88/polymarket-trading-bot/internal/config"
	"github.com/baguette88/polymarket-trading-bot/internal/executor"
	"github.com/baguette88/polymarket-trading-bot/internal/lock"
	"github.com/baguette88/polymarket-trading-bot/internal/marketdata"
	"github.com/baguette88/polymarket-trading-bot/internal/risk"
	tradesignal "github.com/baguette88/polymarket-trading-bot/internal/signal"
	"github.com/baguette88/polymarket-trading-bot/internal/store"
	"github.com/baguette88/polymarket-trading-bot/internal/venue"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitHardStop = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	paper := flag.Bool("paper", false, "paper trading mode, no real orders")
	cfgPath := flag.String("config", config.DefaultPath, "config file path")
	interval := flag.Int("interval", 0, "override cycle interval in seconds")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		return exitError
	}
	if *interval > 0 {
		cfg.IntervalSeconds = *interval
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		return exitError
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		slog.Error("log setup failed", "err", err)
		return exitError
	}
	defer closeLog()

	pid, err := lock.Acquire(cfg.PIDFile)
	if err != nil {
		slog.Error("bot already running", "err", err)
		return exitError
	}
	defer pid.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	backend, cleanup, err := openBackend(ctx, cfg)
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()
	if err != nil {
		slog.Error("state backend init failed", "err", err)
		return exitError
	}

	st, err := store.Open(ctx, backend)
	if err != nil {
		slog.Error("ledger load failed", "err", err)
		return exitError
	}
	if st.Totals().TotalTrades > 0 {
		if err := st.Backup(ctx, "startup"); err != nil {
			slog.Warn("startup backup failed", "err", err)
		}
	}

	// --- Signal engine ---
	strategy, err := tradesignal.New(cfg.Strategy, tradesignal.Params{
		Oversold:   cfg.RSIOversold,
		Overbought: cfg.RSIOverbought,
	})
	if err != nil {
		slog.Error("strategy init failed", "err", err)
		return exitError
	}
	engine := tradesignal.NewGate(strategy, tradesignal.Signal(st.LastSignal()))

	// --- Venue and executor ---
	client := venue.NewClient(cfg.Venue.URL, cfg.Venue.MarketURL, cfg.Venue.APIKey)
	var orders executor.Venue = client
	logOnly := false
	if *paper {
		if cfg.PaperFills {
			orders = venue.NewPaperVenue(client)
			slog.Info("paper trading mode, orders fill against the paper venue")
		} else {
			logOnly = true
			slog.Info("paper trading mode, no orders will be placed")
		}
	}

	target := bot.Target{
		ConditionID: cfg.Market.ConditionID,
		Slug:        cfg.Market.Slug,
		YesTokenID:  cfg.Market.YesTokenID,
		NoTokenID:   cfg.Market.NoTokenID,
	}
	deps := bot.Deps{
		Store:    st,
		Risk:     risk.NewManager(cfg.Risk(), st),
		Engine:   engine,
		Candles:  marketdata.NewBinance(cfg.BinanceURL),
		Markets:  bot.StaticMarket(target),
		Books:    orders,
		Buyer:    executor.New(orders, cfg.Executor()),
		Resolver: client,
	}

	// --- Viewer HTTP server ---
	var srv *http.Server
	if cfg.HTTPAddr != "" {
		hub := api.NewWSHub()
		go hub.Run(ctx)
		deps.Events = hub

		srv = &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      api.NewRouter(api.NewService(st), hub),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			slog.Info("viewer listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("server error", "err", err)
			}
		}()
	}

	b := bot.New(bot.Config{
		Symbol:         cfg.Symbol,
		CandleInterval: cfg.CandleInterval,
		CandleLimit:    cfg.CandleLimit,
		Interval:       cfg.Interval(),
		Strategy:       strategy.Name(),
		Bankroll:       cfg.Bankroll,
		MaxEntryPrice:  cfg.MaxEntryPrice,
		LogOnly:        logOnly,
		HeartbeatPath:  cfg.HeartbeatPath,
	}, deps)

	slog.Info("bot initialized", "paper", *paper, "strategy", strategy.Name(), "backend", cfg.State.Backend)

	if *once {
		err = b.RunOnce(ctx)
	} else {
		err = b.Run(ctx)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			slog.Error("shutdown error", "err", serr)
		}
	}

	switch {
	case errors.Is(err, bot.ErrHardStop):
		slog.Error("trading halted, operator intervention required", "err", err)
		return exitHardStop
	case err != nil:
		slog.Error("cycle failed", "err", err)
		return exitError
	}
	slog.Info("bot stopped")
	return exitOK
}

// setupLogging installs the JSON logger at the configured level, teeing to
// log_file when set.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}

// openBackend builds the configured ledger backend, wrapped in the Redis
// snapshot cache when REDIS_URL is set. Cleanup functions are returned even
// on error.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, []func(), error) {
	var backend store.Backend
	var cleanup []func()

	switch cfg.State.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresBackend(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, cleanup, err
		}
		backend = pg
		slog.Info("connected to PostgreSQL")
	case "memory":
		slog.Warn("using in-memory ledger (data will not persist)")
		backend = store.NewMemoryBackend()
	default:
		backend = store.NewFileBackend(cfg.State.Path, cfg.State.BackupDir)
		slog.Info("using file ledger", "path", cfg.State.Path)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		backend = store.NewCachedBackend(backend, rdb, cfg.State.RedisKey, cfg.RedisTTL())
		slog.Info("Redis snapshot cache enabled", "key", cfg.State.RedisKey)
	}

	return backend, cleanup, nil
}
