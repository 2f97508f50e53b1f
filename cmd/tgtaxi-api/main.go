// README: Entry point; loads config, wires services, starts HTTP server, bot listener and background workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tgtaxi/internal/bot"
	"tgtaxi/internal/config"
	httptransport "tgtaxi/internal/http"
	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/infra"
	"tgtaxi/internal/metrics"
	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/chat"
	"tgtaxi/internal/modules/housekeeping"
	"tgtaxi/internal/modules/matching"
	"tgtaxi/internal/modules/notify"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/pricing"
	"tgtaxi/internal/modules/ratelimit"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := infra.NewLogger(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("tgtaxi-api", zap.Error(err))
	}
}

type stores struct {
	users   user.Store
	codes   accesscode.Store
	orders  order.Store
	ratings rating.Store
	chat    chat.Store
	tariffs pricing.RateSource
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, *pgxpool.Pool, error) {
	if cfg.DB.DSN == "" {
		log.Warn("TGTAXI_DB_DSN is empty; using in-memory stores")
		return stores{
			users:   user.NewMemoryStore(),
			codes:   accesscode.NewMemoryStore(),
			orders:  order.NewMemoryStore(),
			ratings: rating.NewMemoryStore(),
			chat:    chat.NewMemoryStore(),
		}, nil, nil
	}
	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return stores{}, nil, err
	}
	if err := infra.Migrate(db, cfg.DB.MigrationsPath); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		users:   user.NewPGStore(db),
		codes:   accesscode.NewPGStore(db),
		orders:  order.NewPGStore(db),
		ratings: rating.NewPGStore(db),
		chat:    chat.NewPGStore(db),
		tariffs: pricing.NewStore(db),
	}, db, nil
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, db, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr); err != nil {
			return err
		}
		defer rdb.Close()
	}

	var sink notify.Sink = notify.NewLogSink(log)
	var botAPI bot.Updater
	if cfg.Telegram.BotToken != "" {
		api, err := infra.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			return err
		}
		sink = notify.NewTelegramSink(api, cfg.Telegram.WebAppURL)
		botAPI = api
	}
	dispatcher := notify.NewDispatcher(sink, notify.Options{
		QueueSize:  cfg.Notify.QueueSize,
		Workers:    cfg.Notify.Workers,
		RetryDelay: cfg.Notify.RetryDelay,
	}, log.Named("notify"))

	pricingSvc := pricing.NewService(cfg.Tariffs, cfg.Order.Currency, st.tariffs)
	if err := pricingSvc.Reload(ctx); err != nil {
		log.Warn("load stored tariffs", zap.Error(err))
	}

	userSvc := user.NewService(st.users, cfg.Telegram.AdminIDs)
	codeSvc := accesscode.NewService(st.codes, userSvc, log.Named("accesscode"))
	orderSvc := order.NewService(st.orders, pricingSvc, userSvc, order.Options{
		Policy:             order.Policy(cfg.Order.Policy),
		BidMin:             cfg.Order.BidMin,
		BidMax:             cfg.Order.BidMax,
		Currency:           cfg.Order.Currency,
		MaxActivePerClient: cfg.Order.MaxActivePerClient,
	}, log.Named("order"))

	var statsCache rating.Cache = rating.NewMemoryCache()
	var limiter ratelimit.Limiter
	var matchStore matching.Store = matching.NewMemoryStore()
	memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Window, cfg.RateLimit.Limit)
	limiter = memLimiter
	if rdb != nil {
		statsCache = rating.NewRedisCache(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Window, cfg.RateLimit.Limit)
		matchStore = matching.NewRedisStore(rdb, cfg.Matching.AnnounceTTL)
	}
	ratingSvc := rating.NewService(st.ratings, orderSvc, userSvc, statsCache, cfg.Stats.CacheTTL, log.Named("rating"))
	chatSvc := chat.NewService(st.chat, orderSvc, dispatcher, log.Named("chat"))
	matchingSvc := matching.NewService(matchStore, orderSvc, userSvc, dispatcher, cfg.Matching, log.Named("matching"))
	guard := ratelimit.NewGuard(limiter, log.Named("ratelimit"))

	orderSvc.Observe(notify.NewOrderNotifier(dispatcher), matchingSvc, metrics.OrderObserver{})
	if cfg.Order.PurgeChatOnComplete {
		orderSvc.Observe(chat.NewPurger(st.chat, log.Named("chat")))
	}

	var broker *infra.Broker
	var events *notify.EventPublisher
	if cfg.AMQP.URL != "" {
		if broker, err = infra.NewBroker(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange, log.Named("amqp")); err != nil {
			return err
		}
		defer broker.Close()
		events = notify.NewEventPublisher(broker, cfg.AMQP.Exchange, 0, log.Named("events"))
		orderSvc.Observe(events)
	}

	issuer, err := infra.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	throttle := middleware.NewThrottle(cfg.HTTP.ThrottleRPS, cfg.HTTP.ThrottleBurst)

	sched := housekeeping.NewScheduler(log.Named("housekeeping"))
	if rdb == nil {
		if err := sched.PruneLimiter(memLimiter); err != nil {
			return err
		}
	}
	if err := sched.PruneLimiter(throttle); err != nil {
		return err
	}
	if cfg.Order.PurgeChatOnComplete {
		if err := sched.PurgeChats(chatSvc, 24*time.Hour); err != nil {
			return err
		}
	}
	if cfg.Stats.CacheTTL > 0 {
		if err := sched.WarmStats(ratingSvc, cfg.Stats.CacheTTL); err != nil {
			return err
		}
	}

	srv := httptransport.NewServer(httptransport.ServerDeps{
		Users:          userSvc,
		Codes:          codeSvc,
		Orders:         orderSvc,
		Ratings:        ratingSvc,
		Chat:           chatSvc,
		Guard:          guard,
		Broadcaster:    dispatcher,
		Verifier:       issuer,
		Issuer:         issuer,
		Throttle:       throttle,
		BotToken:       cfg.Telegram.BotToken,
		InitDataMaxAge: cfg.Auth.InitDataMaxAge,
		InternalToken:  cfg.HTTP.InternalToken,
		Log:            log.Named("http"),
	})
	server := srv.NewHTTPServer(cfg.HTTP.Addr)

	dispatcher.Start(ctx)
	go matchingSvc.RunScheduler(ctx)
	if events != nil {
		go events.Run(ctx)
	}
	sched.Start()
	if botAPI != nil && cfg.Telegram.Polling {
		handler := bot.NewHandler(userSvc, codeSvc, ratingSvc, log.Named("bot"))
		go bot.NewListener(botAPI, handler, cfg.Telegram.WebAppURL, log.Named("bot")).Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	dispatcher.Stop()
	return nil
}
