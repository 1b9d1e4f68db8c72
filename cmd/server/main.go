// Command server runs the ideabot Telegram bot together with its HTTP API.
//
// @title                      ideabot API
// @version                    1.0
// @description                Feature-request intake, voting and priority ledger behind the ideabot Telegram bot.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/config"
	"github.com/tbourn/ideabot/internal/dialog"
	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/extract"
	httpapi "github.com/tbourn/ideabot/internal/http"
	"github.com/tbourn/ideabot/internal/http/handlers"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/observability"
	"github.com/tbourn/ideabot/internal/ratelimit"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/search"
	"github.com/tbourn/ideabot/internal/services"
	"github.com/tbourn/ideabot/internal/session"
	"github.com/tbourn/ideabot/internal/sysutil"
	"github.com/tbourn/ideabot/internal/telegram"
)

// version is set with -ldflags "-X main.version=...".
var version string

const (
	warmIndexSize = 1000
	purgeInterval = time.Hour
)

// stopwords are ignored when matching similar requests.
var stopwords = []string{
	"a", "an", "the", "and", "or", "to", "for", "of", "in", "on", "with",
	"is", "it", "be", "i", "we", "please", "add", "would", "like", "feature",
}

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.LogPretty)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("ideabot stopped")
	}
	log.Info().Msg("ideabot stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.Telegram.Token == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.Telegram.ChannelID == 0 {
		return errors.New("TELEGRAM_CHANNEL_ID is required")
	}

	ver := sysutil.BuildVersion(version)
	log.Info().
		Str("version", ver).
		Str("mode", cfg.Telegram.Mode).
		Str("db", cfg.DB.Driver).
		Str("dialog", sysutil.FirstNonEmpty(cfg.Dialog.Provider, dialog.ProviderNone)).
		Msg("starting ideabot")

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{
		Version:      ver,
		NodeID:       cfg.NodeID,
		Environment:  cfg.GinMode,
		TelegramMode: cfg.Telegram.Mode,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	ids, err := repo.NewIDGen(cfg.NodeID)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	dlg, err := dialog.New(cfg.Dialog, nil)
	if err != nil {
		return err
	}

	// The bot needs its default handler up front; the handler gets the
	// bot's API once the client exists.
	h := &telegram.Handler{
		Extractor:   extract.New(cfg.MaxImageMB, cfg.MaxDocMB),
		Fetcher:     &extract.Fetcher{HTTP: &http.Client{Timeout: cfg.Telegram.APITimeout * 3}},
		Limiter:     ratelimit.New(cfg.Telegram.RelayRPS, cfg.Telegram.RelayBurst),
		Telegram:    cfg.Telegram,
		Priority:    cfg.Priority,
		WorkTimeout: cfg.Telegram.APITimeout + cfg.Dialog.Timeout,
	}
	b, err := telegram.NewBot(cfg.Telegram, h)
	if err != nil {
		return err
	}
	channel := &telegram.Channel{
		API:           b,
		ChatID:        cfg.Telegram.ChannelID,
		PriorityStars: cfg.Priority.Stars,
		Timeout:       cfg.Telegram.APITimeout,
	}

	index := search.New(search.WithStopwords(stopwords), search.WithMaxDocs(5*warmIndexSize))
	publisher := &services.PublishService{DB: db, IDs: ids, Channel: channel, Index: index}
	ledger := &services.LedgerService{DB: db, Boosts: map[string]int{domain.KindPriority: cfg.Priority.Boost}}
	renderer := &services.TallyRenderer{DB: db, Channel: channel}
	top := &services.TopIdeasService{DB: db, Board: channel, Limit: cfg.TopIdeasLimit}

	h.API = b
	h.Ledger = ledger
	h.Renderer = renderer
	h.Publisher = publisher
	h.Top = top
	h.Relay = &services.RelayService{
		Dialog:   dlg,
		Sessions: sessions,
		DB:       db,
		Provider: cfg.Dialog.Provider,
		MaxText:  cfg.Dialog.MaxText,
		Timeout:  cfg.Dialog.Timeout,
	}

	if n, err := publisher.WarmIndex(ctx, warmIndexSize); err != nil {
		log.Warn().Err(err).Msg("similarity index warm-up failed")
	} else {
		log.Info().Int("requests", n).Msg("similarity index warmed")
	}

	if cfg.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty; ledger admin routes are disabled")
	}

	var webhook http.Handler
	if cfg.Telegram.Mode == "webhook" {
		webhook = b.WebhookHandler()
	}
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB: db,
		API: handlers.Deps{
			Publisher: publisher,
			Requests:  &services.RequestService{DB: db},
			Ledger:    ledger,
			Renderer:  renderer,
			Board:     top,
		},
		Webhook: webhook,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		runner := &telegram.Runner{Bot: b, Config: cfg.Telegram}
		if err := runner.Run(botCtx); err != nil {
			errc <- err
		}
	}()

	go purgeIdempotency(botCtx, db)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errc:
		log.Error().Err(runErr).Msg("component failed; shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stopBot()
	<-botDone
	h.Wait()
	return runErr
}

// openSessions returns the Redis store when REDIS_URL is set, otherwise the
// in-process one.
func openSessions(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.RedisURL == "" {
		return session.NewMemoryStore(cfg.SessionTTL), func() {}, nil
	}
	client, err := session.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return session.NewRedisStore(client, cfg.SessionTTL), func() { _ = client.Close() }, nil
}

func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}
