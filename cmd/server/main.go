package main // kiosk session server: REST API, kiosk channel and background workers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/kiosk-session-server/internal/audit"
	"github.com/iliyamo/kiosk-session-server/internal/cache"
	"github.com/iliyamo/kiosk-session-server/internal/config"
	"github.com/iliyamo/kiosk-session-server/internal/database"
	"github.com/iliyamo/kiosk-session-server/internal/gateway"
	"github.com/iliyamo/kiosk-session-server/internal/handler"
	"github.com/iliyamo/kiosk-session-server/internal/metrics"
	"github.com/iliyamo/kiosk-session-server/internal/payment"
	"github.com/iliyamo/kiosk-session-server/internal/queue"
	"github.com/iliyamo/kiosk-session-server/internal/repository"
	"github.com/iliyamo/kiosk-session-server/internal/router"
	"github.com/iliyamo/kiosk-session-server/internal/service"
	"github.com/iliyamo/kiosk-session-server/internal/session"
	"github.com/iliyamo/kiosk-session-server/internal/ticket"
	"github.com/iliyamo/kiosk-session-server/internal/video"
)

func main() {
	cfg := config.Load()
	rl := config.LoadRateLimitConfig()
	cc := config.LoadCacheConfig()

	logger := log.New("kiosk")
	if cfg.Env == "dev" {
		logger.SetLevel(log.DEBUG)
	} else {
		logger.SetLevel(log.INFO)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional collaborators: every one of them has an in-process fallback.
	var db *sql.DB
	if cfg.DB.Enabled() {
		var err error
		if db, err = database.Open(ctx, cfg.DB); err != nil {
			logger.Fatalf("mysql: %v", err)
		}
		defer db.Close()
	}
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		logger.Warn("redis unreachable, rate limiting and caches disabled")
	} else {
		defer rdb.Close()
	}

	var (
		kiosks      handler.KioskRegistry
		tokens      *repository.TokenRepo
		animals     cache.AnimalSource = cache.DefaultAnimals
		ticketStore ticket.Store       = ticket.NewMemoryStore()
		archive     service.Archive
	)
	if db != nil {
		kiosks = repository.NewKioskRepo(db)
		tokens = repository.NewTokenRepo(db)
		animals = repository.NewAnimalRepo(db)
		ticketStore = repository.NewTicketRepo(db)
		archive = repository.NewSessionArchiveRepo(db)
	} else {
		mem, err := repository.NewMemoryKioskRepo(cfg.SandboxKiosks, 0)
		if err != nil {
			logger.Fatalf("sandbox kiosks: %v", err)
		}
		kiosks = mem
		logger.Warnf("no database configured, %d sandbox kiosks registered", len(cfg.SandboxKiosks))
	}
	catalog := cache.NewCatalog(animals, rdb, cc.CatalogTTL, logger)
	issuer := ticket.NewIssuer(ticketStore, cfg.PublicBaseURL, logger)

	var provider payment.Provider = payment.Sandbox{BaseURL: cfg.PublicBaseURL}
	if cfg.Payment.Provider == "http" {
		provider = payment.NewHTTPProvider(cfg.Payment.GatewayURL, cfg.Payment.APIKey)
	}

	var sink audit.Sink = audit.Nop{}
	var kafkaSink *audit.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logger)
		sink = kafkaSink
	}

	disp := gateway.NewDispatcher(logger)
	svc := service.New(service.Options{
		Session: session.Options{
			IdleTimeout:    cfg.Session.IdleTimeout,
			StateTimeouts:  cfg.Session.StateTimeouts,
			ReconnectGrace: cfg.Session.ReconnectGrace,
			SweepInterval:  cfg.Session.SweepInterval,
			Retention:      cfg.Session.Retention,
		},
		Payment: payment.Options{
			Timeout: cfg.Payment.Timeout,
			Prices:  cfg.Payment.Prices,
		},
		Video: video.Options{
			MaxAttempts:  cfg.Video.MaxAttempts,
			RetryBackoff: cfg.Video.RetryBackoff,
		},
	}, service.Deps{
		Dispatcher: disp,
		Catalog:    catalog,
		Provider:   provider,
		Tickets:    issuer,
		Audit:      sink,
		Archive:    archive,
	}, logger)

	var publisher *queue.Publisher
	if cfg.RabbitURL != "" {
		publisher = queue.NewPublisher(cfg.RabbitURL, logger)
		defer publisher.Close()
		svc.Video().Use(publisher)
	} else {
		logger.Warn("RABBITMQ_URL not set, using the simulated renderer")
		svc.Video().Use(&video.Simulated{Sink: svc.Video(), BaseURL: cfg.PublicBaseURL, Step: time.Second})
	}

	gw := gateway.New(svc, disp, gateway.Options{AllowClientConfirm: cfg.Payment.AllowClientConfirm}, logger)

	e := echo.New()
	e.HideBanner = true
	e.Logger = logger
	router.RegisterRoutes(e)
	h := router.Handlers{
		Kiosks:   handler.NewKioskHandler(kiosks, tokenLog(tokens), disp, cfg.JWTSecret, cfg.KioskTokenTTL),
		Animals:  handler.NewAnimalHandler(catalog),
		Channel:  handler.NewChannelHandler(cfg.JWTSecret, kiosks, tokenChecker(tokens), gw),
		Tickets:  handler.NewTicketHandler(issuer),
		Webhooks: handler.NewWebhookHandler(svc.Payments(), cfg.Payment.WebhookSecret),
		Sessions: handler.NewSessionHandler(svc),
	}
	router.RegisterKiosk(e, h, rdb, rl, cc)
	router.RegisterAdmin(e, h, cfg.JWTSecret)
	if cfg.Payment.Provider == "sandbox" {
		router.RegisterSandbox(e, h)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return svc.Run(gctx) })
	if kafkaSink != nil {
		g.Go(func() error { return kafkaSink.Run(gctx) })
	}
	if cfg.RabbitURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitURL, svc.Video(), logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown(shutdownCtx)
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
}

// tokenLog and tokenChecker keep a nil repository from becoming a non-nil
// interface holding a nil pointer.
func tokenLog(r *repository.TokenRepo) handler.TokenLog {
	if r == nil {
		return nil
	}
	return r
}

func tokenChecker(r *repository.TokenRepo) handler.TokenChecker {
	if r == nil {
		return nil
	}
	return r
}
