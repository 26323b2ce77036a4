// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// Think of it as the control centre that decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads a config.Config and calls New, which creates:
//
//	sqlstore.DB ─┬→ UserService ─┬→ AuthService → UserHandler
//	             │               └→ AdminHandler
//	             ├→ AttributeService (tags, ingredients) → AttributeHandler ×2
//	             └→ RecipeService (+ ImageStore)         → RecipeHandler
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/config"
	"github.com/sakif/recipe-api/internal/handler"
	"github.com/sakif/recipe-api/internal/middleware"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository/sqlstore"
	"github.com/sakif/recipe-api/internal/service"
	"github.com/sakif/recipe-api/internal/storage"
	"github.com/sakif/recipe-api/web"
)

// shutdownTimeout is how long in-flight requests get to finish on SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it after the HTTP
// server has drained, so no request ever sees a closed pool.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	db     *sqlstore.DB
}

// deps are the collaborators New builds from configuration. Tests assemble
// their own (in-memory database, cheap bcrypt, fake GitHub).
type deps struct {
	db        *sqlstore.DB
	images    storage.ImageStore
	media     http.Handler // serves local images; nil for S3
	signer    *auth.TokenSigner
	passwords *auth.PasswordService
	github    handler.GitHubExchanger // nil when not configured
}

// New opens the database, builds the image store, and wires every route.
// cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := deps{db: db, passwords: auth.NewPasswordService()}

	if d.signer, err = auth.NewTokenSigner(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL); err != nil {
		db.Close()
		return nil, err
	}

	switch strings.ToLower(cfg.Media.Backend) {
	case "s3":
		s3cfg := cfg.Media.S3
		d.images, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			PublicURL:       s3cfg.PublicURL,
			UsePathStyle:    s3cfg.UsePathStyle,
		})
	default:
		var local *storage.LocalStore
		if local, err = storage.NewLocalStore(cfg.Media.Dir, cfg.Media.URL); err == nil {
			d.images, d.media = local, local.Handler()
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating image store: %w", err)
	}

	if cfg.GitHubEnabled() {
		d.github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	s, err := newServer(cfg, d, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB opens (and migrates) the configured database. For a SQLite file the
// parent directory is created first.
func OpenDB(ctx context.Context, cfg *config.Config) (*sqlstore.DB, error) {
	dialect, err := sqlstore.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	if dialect == sqlstore.SQLite && cfg.Database.DSN != ":memory:" && !strings.HasPrefix(cfg.Database.DSN, "file:") {
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlstore.New(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newServer(cfg *config.Config, d deps, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     d.db,
	}
	if err := s.setupRoutes(d); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /user/create                     → register
// POST   /user/token                      → issue token
// DELETE /user/token                      → revoke token              [token]
// GET    /user/me, PATCH /user/me         → profile                   [token]
// GET    /user/github/login, /callback    → GitHub sign-in (when configured)
// GET    /recipe/tags, POST /recipe/tags  → tags                      [token]
// GET    /recipe/ingredients, POST ...    → ingredients               [token]
// GET    /recipe/recipes, POST ...        → recipes                   [token]
// GET|PUT|PATCH|DELETE /recipe/recipes/{id}                          [token]
// POST   /recipe/recipes/{id}/upload-image                           [token]
// GET    /media/*                         → local images
// GET    /admin/...                       → admin UI                  [basic auth, staff]
// GET    /healthz                         → liveness + database ping
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request with timing info and the request ID
// 4. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(d deps) error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// Unknown paths and verbs answer in the API's JSON error format.
	s.router.NotFound(handler.NotFound)
	s.router.MethodNotAllowed(handler.MethodNotAllowed)

	// === Services ===
	// Notice: the handlers never touch the database directly.
	// The services never touch HTTP. Clean separation!
	userService := service.NewUserService(d.db.Users(), d.passwords, s.logger)
	authService := service.NewAuthService(userService, d.db.Users(), d.db.Tokens(), d.signer, s.logger)
	tagService := service.NewAttributeService(d.db.Attributes(), model.KindTag, s.logger)
	ingredientService := service.NewAttributeService(d.db.Attributes(), model.KindIngredient, s.logger)
	recipeService := service.NewRecipeService(d.db.Recipes(), d.db.Attributes(), d.images, s.logger)

	// === Handlers ===
	userHandler := handler.NewUserHandler(userService, authService, d.github, s.logger)
	tagHandler := handler.NewAttributeHandler(tagService, s.logger)
	ingredientHandler := handler.NewAttributeHandler(ingredientService, s.logger)
	recipeHandler := handler.NewRecipeHandler(recipeService, s.logger)
	adminHandler, err := handler.NewAdminHandler(userService, web.FS, s.logger)
	if err != nil {
		return fmt.Errorf("creating admin handler: %w", err)
	}

	requireToken := auth.RequireToken(authService)

	// === Health ===
	s.router.Get("/healthz", s.handleHealth)

	// === User Routes ===
	s.router.Route("/user", func(r chi.Router) {
		r.Post("/create", userHandler.HandleCreate)
		r.Post("/token", userHandler.HandleToken)

		if d.github != nil {
			r.Get("/github/login", userHandler.HandleGitHubLogin)
			r.Get("/github/callback", userHandler.HandleGitHubCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(requireToken)
			r.Delete("/token", userHandler.HandleLogout)
			r.Get("/me", userHandler.HandleMe)
			r.Patch("/me", userHandler.HandleUpdateMe)
		})
	})

	// === Recipe Routes ===
	// Everything under /recipe needs a token.
	s.router.Route("/recipe", func(r chi.Router) {
		r.Use(requireToken)

		r.Get("/tags", tagHandler.HandleList)
		r.Post("/tags", tagHandler.HandleCreate)

		r.Get("/ingredients", ingredientHandler.HandleList)
		r.Post("/ingredients", ingredientHandler.HandleCreate)

		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", recipeHandler.HandleList)
			r.Post("/", recipeHandler.HandleCreate)
			r.Get("/{id}", recipeHandler.HandleGet)
			r.Put("/{id}", recipeHandler.HandleUpdate)
			r.Patch("/{id}", recipeHandler.HandleUpdate)
			r.Delete("/{id}", recipeHandler.HandleDelete)
			r.Post("/{id}/upload-image", recipeHandler.HandleUploadImage)
		})
	})

	// === Media ===
	// http.StripPrefix removes the media prefix before the file lookup, so
	// GET /media/uploads/recipe/x.jpg → {MediaDir}/uploads/recipe/x.jpg
	if d.media != nil {
		prefix := strings.TrimRight(s.config.Media.URL, "/")
		s.router.Handle(prefix+"/*", http.StripPrefix(prefix+"/", d.media))
	}

	// === Admin UI ===
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireStaff(userService))

		r.Handle("/static/*", http.StripPrefix("/admin/", http.FileServerFS(web.FS)))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/admin/users", http.StatusFound)
		})
		r.Get("/users", adminHandler.HandleList)
		r.Get("/users/new", adminHandler.HandleNew)
		r.Post("/users/new", adminHandler.HandleCreate)
		r.Get("/users/{id}", adminHandler.HandleEdit)
		r.Post("/users/{id}", adminHandler.HandleUpdate)
	})

	return nil
}

// handleHealth answers 200 when the database is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.Any("error", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database connection (flushes WAL, releases file lock)
//
// The `defer s.db.Close()` ensures step 3 happens even if something panics.
func (s *Server) Start() error {
	// Ensure the database is closed when the server stops.
	defer s.db.Close()

	// Create the HTTP server with sensible timeouts. The write timeout
	// leaves room for a 10 MiB image upload on a slow link.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.Database.Driver),
			slog.String("media", s.config.Media.Backend),
			slog.Bool("github", s.config.GitHubEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
