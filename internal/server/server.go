package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/recipebook/apiserver/config"
	"github.com/recipebook/apiserver/internal/db"
	"github.com/recipebook/apiserver/internal/handlers"
	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/mq"
	"github.com/recipebook/apiserver/internal/ratelimit"
	"github.com/recipebook/apiserver/internal/services"
	"github.com/recipebook/apiserver/internal/storage"
	"github.com/recipebook/apiserver/internal/store"
	"github.com/recipebook/apiserver/types"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	queue      *mq.MQ
	limiter    *ratelimit.KeyedRateLimiter
	log        *logger.Logger
}

// New connects the server's backing services and builds the router.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	images, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// A nil *mq.MQ must not reach the services as a non-nil Publisher.
	var publisher services.Publisher
	queue, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		log.Info().Msg("message queue disabled; recipe events will not be published")
	case err != nil:
		_ = dbConn.Close()
		return nil, fmt.Errorf("open mq: %w", err)
	default:
		publisher = queue
	}

	userRepo := store.NewUserRepository(dbConn)
	recipeRepo := store.NewRecipeRepository(dbConn)
	attributeRepo := store.NewAttributeRepository(dbConn)

	events := services.NewEventPublisher(publisher, cfg.MQ.Channel, log)
	userService := services.NewUserService(userRepo)
	recipeService := services.NewRecipeService(recipeRepo, images, events, log)
	attributeService := services.NewAttributeService(attributeRepo)

	authHandler := handlers.NewAuthHandler(userService, jwtSecret, cfg.Auth.TokenTTL)
	recipeHandler := handlers.NewRecipeHandler(recipeService)
	limiter := ratelimit.New(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.WithLogger(log),
		handlers.LogRequests,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		handlers.RateLimit(limiter),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authHandler)
		})
		r.Route("/recipes", func(r chi.Router) {
			r.Use(authHandler.RequireAuth)
			for _, kind := range types.AttributeKinds {
				r.Route("/"+kind.Plural(), func(r chi.Router) {
					handlers.AttributeRouter(r, handlers.NewAttributeHandler(kind, attributeService))
				})
			}
			handlers.RecipeRouter(r, recipeHandler)
		})
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		queue:      queue,
		limiter:    limiter,
		log:        log,
	}, nil
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database, the
// message queue and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.limiter.Stop()
	if s.queue != nil {
		if qerr := s.queue.Close(); qerr != nil {
			s.log.Warn().Err(qerr).Msg("failed to close message queue")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
