package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"criptoguia-rates/internal/alerting"
	"criptoguia-rates/internal/chat"
	"criptoguia-rates/internal/config"
	"criptoguia-rates/internal/fetcher"
	"criptoguia-rates/internal/history"
	"criptoguia-rates/internal/ratecache"
	"criptoguia-rates/internal/scheduler"
	"criptoguia-rates/internal/server"
	"criptoguia-rates/internal/service"
	"criptoguia-rates/internal/storage"
	"criptoguia-rates/internal/trend"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetchers() (fetcher.P2PMarketFetcher, fetcher.OfficialRateFetcher, fetcher.OfficialRateFetcher) {
	p2p := fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL:   a.Config.Binance.BaseURL,
		Asset:     a.Config.Binance.Asset,
		Fiat:      a.Config.Binance.Fiat,
		TradeType: a.Config.Binance.TradeType,
		Rows:      a.Config.Binance.Rows,
		PayTypes:  a.Config.Binance.PayTypes,
		Timeout:   a.Config.Binance.RequestTimeout,
		UserAgent: a.Config.Binance.UserAgent,
	}, a.Logger)

	usd := fetcher.NewBCV(fetcher.BCVOptions{
		BaseURL:     a.Config.BCV.BaseURL,
		Currency:    "USD",
		Selector:    a.Config.BCV.USD.Selector,
		Timeout:     a.Config.BCV.USD.RequestTimeout,
		InsecureTLS: a.Config.BCV.USD.InsecureTLS,
	}, a.Logger)

	eur := fetcher.NewBCV(fetcher.BCVOptions{
		BaseURL:     a.Config.BCV.BaseURL,
		Currency:    "EUR",
		Selector:    a.Config.BCV.EUR.Selector,
		Timeout:     a.Config.BCV.EUR.RequestTimeout,
		InsecureTLS: a.Config.BCV.EUR.InsecureTLS,
	}, a.Logger)

	return p2p, usd, eur
}

// newCache registers one slot per source over the configured freshness windows.
func (a *App) newCache() *ratecache.Cache {
	p2p, usd, eur := a.newFetchers()

	cache := ratecache.New(a.Logger, time.Now)

	cache.Register(ratecache.SourceP2PMarket, a.Config.Cache.P2PWindow, func(ctx context.Context) (ratecache.Reading, error) {
		snapshot, err := p2p.FetchP2P(ctx)
		if err != nil {
			return ratecache.Reading{}, err
		}
		return ratecache.Reading{
			Source:     ratecache.SourceP2PMarket,
			Rate:       snapshot.AveragePrice,
			ObservedAt: snapshot.ObservedAt,
			P2P:        &snapshot,
		}, nil
	})

	registerOfficial := func(source ratecache.Source, f fetcher.OfficialRateFetcher) {
		cache.Register(source, a.Config.Cache.OfficialWindow, func(ctx context.Context) (ratecache.Reading, error) {
			rate, err := f.FetchOfficial(ctx)
			if err != nil {
				return ratecache.Reading{}, err
			}
			return ratecache.Reading{
				Source:     source,
				Rate:       rate.Value,
				Currency:   rate.Currency,
				ObservedAt: rate.ObservedAt,
			}, nil
		})
	}
	registerOfficial(ratecache.SourceOfficialUSD, usd)
	registerOfficial(ratecache.SourceOfficialEUR, eur)

	return cache
}

func (a *App) newLedger() (*history.Ledger, func(), error) {
	cfg := a.Config.History

	var store history.Store
	closer := func() {}

	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		store = history.NewRedisStore(client)
		closer = func() { _ = client.Close() }
	case "", "file":
		store = history.NewFileStore(cfg.FilePath)
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}

	ledger := history.NewLedger(store, history.Options{
		Key:        cfg.StorageKey,
		MaxEntries: cfg.MaxEntries,
	}, a.Logger)
	return ledger, closer, nil
}

func (a *App) newAnalyzer(ledger *history.Ledger) *trend.Analyzer {
	thresholds := trend.Thresholds{
		SignificantDayPct: decimal.NewFromFloat(a.Config.Trend.SignificantDayPct),
		PairwiseStepPct:   decimal.NewFromFloat(a.Config.Trend.PairwiseStepPct),
		OverridePct:       decimal.NewFromFloat(a.Config.Trend.OverridePct),
		UrgentPct:         decimal.NewFromFloat(a.Config.Trend.UrgentPct),
		LookbackDays:      a.Config.Trend.LookbackDays,
	}
	return trend.NewAnalyzer(ledger, thresholds, a.Logger)
}

func (a *App) newChatClient() *chat.Client {
	if !a.Config.Chat.Enabled {
		return nil
	}
	return chat.NewClient(chat.Options{
		APIKey:      a.Config.Chat.APIKey,
		BaseURL:     a.Config.Chat.BaseURL,
		Model:       a.Config.Chat.Model,
		Temperature: a.Config.Chat.Temperature,
		MaxTokens:   a.Config.Chat.MaxTokens,
		Timeout:     a.Config.Chat.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run starts the HTTP API and the sampling loop, blocking until shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; observation archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledger, closeLedger, err := a.newLedger()
	if err != nil {
		return err
	}
	defer closeLedger()

	cache := a.newCache()
	analyzer := a.newAnalyzer(ledger)
	notifier := a.newNotifier()

	var obsStore storage.ObservationStore
	var alertStore storage.TrendAlertStore
	if store != nil {
		obsStore = store
		alertStore = store
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		RunImmediately: true,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, cache, analyzer, obsStore, alertStore, notifier, a.Logger)
	srv := server.New(a.Config.Server, a.Config.Cache, cache, a.newChatClient(), a.Logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		errCh <- svc.Run(ctx)
	}()

	a.Logger.Info().Msg("rate monitor started")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	if runErr != nil {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}
	a.Logger.Info().Msg("rate monitor stopped")
	return nil
}

// ExportOptions hold parameters for exporting archived observations.
type ExportOptions struct {
	Source    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Source string
	Limit  int
}
