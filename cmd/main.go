package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/config"
	"github.com/amirphl/breakout-trader/internal/control"
	"github.com/amirphl/breakout-trader/internal/exchange"
	"github.com/amirphl/breakout-trader/internal/journal"
	"github.com/amirphl/breakout-trader/internal/livetrading"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/position"
	"github.com/amirphl/breakout-trader/internal/secretstore"
	"github.com/amirphl/breakout-trader/internal/server"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/strategy"
	"github.com/amirphl/breakout-trader/internal/utils"
)

const commandQueueLimit = 64

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envPath := flag.String("env", ".env", "path to a .env file loaded before the config")
	dryRun := flag.Bool("dry-run", false, "trade against the paper exchange")
	venue := flag.String("venue", "", "override the venue (binance or wallex)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *envPath, config.Overrides{DryRun: *dryRun, Venue: *venue}); err != nil {
		utils.GetLogger().WithError(err).Fatal("breakout trader exited")
	}
}

func loadConfig(configPath, envPath string, o config.Overrides) (config.Config, *secretstore.Store, error) {
	if err := config.LoadDotEnv(envPath); err != nil {
		return config.Config{}, nil, err
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Apply(o)

	var store *secretstore.Store
	if cfg.Secrets.Path != "" {
		key, err := secretstore.ParseKey(cfg.Secrets.Key)
		if err != nil {
			return config.Config{}, nil, errors.Wrap(err, "secret key")
		}
		store, err = secretstore.Open(secretstore.OpenOptions{Path: cfg.Secrets.Path, EncryptionKey: key, ReadOnly: true})
		if err != nil {
			return config.Config{}, nil, err
		}
		if err := cfg.FillSecrets(store); err != nil {
			store.Close()
			return config.Config{}, nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		store.Close()
		return config.Config{}, nil, err
	}
	return cfg, store, nil
}

func buildGateway(cfg config.Config) (exchange.Gateway, []livetrading.Background) {
	var (
		gw    exchange.Gateway
		tasks []livetrading.Background
	)
	switch cfg.Venue {
	case config.VenueWallex:
		stream := exchange.NewTradeStream(cfg.Symbols, 0)
		gw = exchange.NewWallexExchange(cfg.Wallex.APIKey, cfg.Symbols, cfg.QuoteAsset).WithStream(stream)
		tasks = append(tasks, stream)
	default:
		gw = exchange.NewBinanceFutures(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet)
	}
	if cfg.DryRun {
		gw = exchange.NewPaperExchange(gw, cfg.QuoteAsset, cfg.PaperBalance)
	}
	return exchange.Instrument(gw, cfg.GatewayTimeout), tasks
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (journal.Ledger, error) {
	var ledgers journal.Multi
	if cfg.CSVPath != "" {
		l, err := journal.OpenCSV(cfg.CSVPath)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	if cfg.SQLDriver != "" {
		l, err := journal.OpenSQL(ctx, cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			ledgers.Close()
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, nil
}

func run(ctx context.Context, configPath, envPath string, o config.Overrides) error {
	cfg, store, err := loadConfig(configPath, envPath, o)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := utils.InitLogger(cfg.Log); err != nil {
		return errors.Wrap(err, "init logger")
	}
	log := utils.Component("main")

	sched, err := cfg.Schedule()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	gw, tasks := buildGateway(cfg)

	var (
		n        notifier.Notifier = notifier.LogNotifier{}
		telegram *notifier.Telegram
	)
	if cfg.Telegram.Token != "" {
		telegram = notifier.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.PollTimeout)
		n = telegram
	}

	ledger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.WithError(err).Warn("ledger close")
		}
	}()

	st := state.New(cfg.Symbols)
	calc := strategy.NewCalculator(gw, st, n, cfg.Timeframe, cfg.K, cfg.QuoteAsset)
	rec := position.NewReconciler(gw, st, cfg.DustEpsilon)
	entry := livetrading.NewEntryEngine(gw, rec, st, ledger, n, livetrading.EntryConfig{
		Leverage:      cfg.Leverage,
		MinOrderValue: cfg.MinOrderValue,
		BalanceBuffer: cfg.BalanceBuffer,
		AllowShort:    cfg.ShortsEnabled(),
		Quote:         cfg.QuoteAsset,
	})
	exit := livetrading.NewExitExecutor(gw, rec, st, ledger, n)
	reporter := control.NewReporter(gw, st, cfg.QuoteAsset)

	var (
		src             control.CommandSource
		allowed         = cfg.Telegram.ChatID
		webhook, direct *control.Queue
	)
	switch {
	case telegram != nil && cfg.Telegram.Mode == config.TelegramWebhook:
		webhook = control.NewQueue(commandQueueLimit)
		src = webhook
	case telegram != nil:
		src = telegram
	case cfg.HTTP.Addr != "" && cfg.HTTP.CommandToken != "":
		// the bearer token is the only authentication in direct mode
		direct = control.NewQueue(commandQueueLimit)
		src = direct
		allowed = ""
	default:
		log.Warn("no command channel configured, control commands disabled")
	}
	if src != nil {
		tasks = append(tasks, control.NewHandler(src, st, exit, reporter, n, allowed, cfg.Telegram.PollInterval))
	}

	if cfg.HTTP.Addr != "" {
		tasks = append(tasks, server.New(server.Config{
			Addr:  cfg.HTTP.Addr,
			Token: cfg.HTTP.CommandToken,
		}, st, webhook, direct))
	}

	log.WithFields(logrus.Fields{
		"venue":     gw.Name(),
		"symbols":   cfg.Symbols,
		"timeframe": cfg.Timeframe,
		"k":         cfg.K,
		"leverage":  cfg.Leverage,
		"dry_run":   cfg.DryRun,
		"shorts":    cfg.ShortsEnabled(),
	}).Info("starting breakout trader")

	runner := livetrading.NewRunner(livetrading.Config{
		Leverage:     cfg.Leverage,
		Quote:        cfg.QuoteAsset,
		TickInterval: cfg.TickInterval,
		LockoutIdle:  cfg.LockoutIdleInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		Location:     loc,
	}, gw, st, sched, calc, rec, entry, exit, n, tasks...)

	return runner.Run(ctx)
}
