// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting, and mounts the
// Telegram webhook next to the public API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/ideabot/docs"
	"github.com/tbourn/ideabot/internal/config"
	"github.com/tbourn/ideabot/internal/http/handlers"
	"github.com/tbourn/ideabot/internal/http/middleware"
	"github.com/tbourn/ideabot/internal/ratelimit"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/telegram"
)

// submitScope is the idempotency scope shared by every submit route, so a
// key used on /vf/submit also replays on {base}/submit.
const submitScope = "submit"

// Deps are the dependencies of RegisterRoutes.
type Deps struct {
	// DB backs the idempotency store.
	DB *gorm.DB
	// API are the services behind the handlers. Idem is filled in from DB
	// when nil.
	API handlers.Deps
	// Webhook receives Telegram updates; nil in polling mode.
	Webhook http.Handler
}

// idemStore adapts the idempotency repository to the middleware lookup and
// the handler recorder.
type idemStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idemStore) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (middleware.Replay, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return middleware.Replay{}, false, nil
	case err != nil:
		return middleware.Replay{}, false, err
	}
	return middleware.Replay{RequestID: rec.RequestID, Status: rec.Status}, true, nil
}

func (s idemStore) Record(ctx context.Context, userID, scope, key string, requestID int64, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, requestID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent retry with the same key won the insert.
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: X-User-ID for idempotency scoping and rate-limit keys
//  4. Logger or RedactingLogger (LOG_REDACT)
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
//
// Gin binds middleware at route registration, so the webhook, mounted
// between 7 and 8, is traced, logged and measured but never rate limited:
// dropping a Telegram update loses it.
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	} else {
		r.Use(middleware.Logger())
	}
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if d.Webhook != nil {
		hook := gin.WrapH(telegram.VerifySecret(cfg.Telegram.WebhookSecret, d.Webhook))
		r.POST("/telegram/webhook", hook)
		r.POST("/webhook", hook)
	}

	idem := idemStore{db: d.DB, ttl: cfg.IdempotencyTTL}
	var lookup middleware.IdempotencyLookup
	if d.DB != nil {
		lookup = idem.Lookup
	}
	base := cfg.APIBasePath
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			Scope: func(c *gin.Context) string {
				switch c.FullPath() {
				case "/vf/submit", joinPath(base, "/submit"):
					return submitScope
				}
				return c.FullPath()
			},
		},
		lookup,
	))

	r.Use(middleware.RateLimit(ratelimit.New(cfg.RateRPS, cfg.RateBurst), middleware.KeyByUserOrIP()))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := d.API
	if api.Idem == nil && d.DB != nil {
		api.Idem = idem
	}
	h := handlers.New(api)

	r.POST("/vf/submit", h.Submit)

	g := groupWithPrefix(r, base)
	{
		g.POST("/submit", h.Submit)
		g.GET("/requests", h.ListRequests)
		g.GET("/requests/:id", h.GetRequest)

		admin := g.Group("", middleware.AdminAuth(cfg.AdminToken))
		admin.POST("/requests/:id/votes", h.CastVote)
		admin.DELETE("/requests/:id/votes/:voter_id", h.RemoveVote)
		admin.POST("/payments", h.ApplyPayment)
		admin.POST("/top/refresh", h.RefreshTop)
	}
}

// corsMiddleware returns the CORS chain: allow-all when no origins are
// configured, otherwise an allowlist whose matches are echoed back.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header, for health checks.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader;
// downstream reads past the cap fail. maxBytes <= 0 disables the cap.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
