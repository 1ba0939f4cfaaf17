package server

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	"mailroom/internal/classify"
	"mailroom/internal/config"
	"mailroom/internal/database"
	"mailroom/internal/events"
	"mailroom/internal/handlers"
	"mailroom/internal/ingest"
	"mailroom/internal/knowledge"
	"mailroom/internal/mailer"
	"mailroom/internal/provider"
	"mailroom/internal/threads"
	"mailroom/internal/webhook"
)

// Server represents the application server
type Server struct {
	echo     *echo.Echo
	db       *sqlx.DB
	store    *database.Store
	config   *config.Config
	logger   zerolog.Logger
	hub      *events.Hub
	pipeline *ingest.Pipeline
	verifier *webhook.Verifier
	sender   *mailer.Mailer

	heartbeatCancel context.CancelFunc
}

// New creates a new server instance and wires the ingestion pipeline.
func New(cfg *config.Config, db *sqlx.DB, logger zerolog.Logger) (*Server, error) {
	verifier, err := webhook.NewVerifier(cfg.WebhookSigningSecret,
		time.Duration(cfg.WebhookToleranceSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	store := database.NewStore(db)
	hub := events.NewHub(cfg.SSEClientBuffer, logger)
	resolver := threads.NewResolver(store, logger)

	openAITimeout := time.Duration(cfg.OpenAITimeout) * time.Second
	var classifier ingest.Labeler
	var extractor ingest.FactExtractor
	if cfg.OpenAIKey != "" {
		classifier = classify.NewClassifier(cfg.OpenAIKey, openAITimeout, logger)
		extractor = knowledge.NewExtractor(cfg.OpenAIKey, openAITimeout, logger)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, classification and enrichment disabled")
	}

	var fetcher ingest.ContentFetcher
	if cfg.ProviderAPIKey != "" {
		fetcher = provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	}

	pipeline := ingest.New(store, resolver, fetcher, classifier, extractor, hub,
		cfg.KnowledgeAutoApplyMinScore, cfg.EnableClassification, logger)

	return &Server{
		config:   cfg,
		db:       db,
		store:    store,
		logger:   logger,
		hub:      hub,
		pipeline: pipeline,
		verifier: verifier,
		sender:   mailer.New(cfg.SendGridAPIKey, cfg.OutboundFromEmail),
	}, nil
}

// zerologMiddleware creates a zerolog-based logging middleware for Echo
func (s *Server) zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			s.logger.Info().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Int("status", res.Status).
				Int64("latency_ms", time.Since(start).Milliseconds()).
				Str("user_agent", req.UserAgent()).
				Msg("HTTP request")

			return err
		}
	}
}

// Initialize sets up the Echo framework with middleware and routes
func (s *Server) Initialize() {
	s.echo = echo.New()

	// Middleware
	s.echo.Use(s.zerologMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	// Hide Echo banner
	s.echo.HideBanner = true

	// Setup routes
	s.setupRoutes()

	// Keepalive pings on every connected stream
	ctx, cancel := context.WithCancel(context.Background())
	s.heartbeatCancel = cancel
	go s.hub.RunHeartbeat(ctx, time.Duration(s.config.SSEHeartbeatSeconds)*time.Second)
}

// setupRoutes configures all the application routes
func (s *Server) setupRoutes() {
	// API group with /api prefix
	api := s.echo.Group("/api")

	// Swagger documentation
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)

	// Health endpoints (keep at root level for monitoring)
	s.echo.GET("/healthz", handlers.HealthHandler(s.config.Version))
	s.echo.GET("/healthz/db", handlers.DBHealthHandler(s.db))

	// API endpoints under /api prefix
	api.GET("/", handlers.RootHandler(s.config.Version))

	api.POST("/webhooks/inbound", handlers.InboundWebhookHandler(s.verifier, s.pipeline, s.logger))
	api.GET("/events", handlers.EventStreamHandler(s.hub, s.logger))

	api.GET("/threads", handlers.ListThreadsHandler(s.store))
	api.GET("/threads/:id", handlers.GetThreadHandler(s.store))
	api.PATCH("/threads/:id/flags", handlers.UpdateThreadFlagsHandler(s.store, s.hub))
	api.POST("/threads/:id/reply", handlers.ReplyHandler(s.store, s.pipeline, s.sender, s.config.OutboundFromEmail, s.logger))
	api.POST("/threads/:id/labels", handlers.ApplyLabelHandler(s.store, s.hub))
	api.DELETE("/threads/:id/labels/:labelId", handlers.RemoveLabelHandler(s.store, s.hub))

	api.GET("/knowledge/pending", handlers.PendingKnowledgeHandler(s.store))
	api.POST("/knowledge/:id/approve", handlers.ApproveKnowledgeHandler(s.store))
	api.POST("/knowledge/:id/reject", handlers.RejectKnowledgeHandler(s.store))

	api.GET("/contacts", handlers.ListContactsHandler(s.store))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("port", s.config.Port).Msg("Server starting")
	return s.echo.Start(":" + s.config.Port)
}

// Shutdown stops the heartbeat and drains in-flight enrichment tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
	}
	s.pipeline.Wait()
	return s.echo.Shutdown(ctx)
}
