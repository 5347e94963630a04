package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/config"
	"github.com/MediSynth-io/messagely/internal/gate"
	"github.com/MediSynth-io/messagely/internal/metrics"
	"github.com/MediSynth-io/messagely/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

// Store is the persistence the handlers read and write.
type Store interface {
	FindUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.UserSummary, error)
	CreateMessage(ctx context.Context, from, to, body string) (*models.Message, error)
	FindMessage(ctx context.Context, id string) (*models.Message, error)
	MarkMessageRead(ctx context.Context, id string) (*models.Message, error)
	MessagesFrom(ctx context.Context, username string) ([]models.Message, error)
	MessagesTo(ctx context.Context, username string) ([]models.Message, error)
}

// Deps are the collaborators wired into the API by main.
type Deps struct {
	Store    Store
	Auth     *auth.Service
	Gate     *gate.Gate
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

type Api struct {
	Config config.Config
	Router *chi.Mux

	store    Store
	auth     *auth.Service
	gate     *gate.Gate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	validate *validator.Validate
}

func NewApi(cfg config.Config, deps Deps) (*Api, error) {
	if cfg.APIPort == 0 {
		return nil, errors.New("must have at least a port to start API")
	}
	if deps.Store == nil || deps.Auth == nil || deps.Gate == nil {
		return nil, errors.New("api requires a store, an auth service and a gate")
	}

	api := &Api{
		Config:   cfg,
		Router:   chi.NewRouter(),
		store:    deps.Store,
		auth:     deps.Auth,
		gate:     deps.Gate,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		validate: newValidator(),
	}
	if api.logger == nil {
		api.logger = slog.Default()
	}
	if api.gatherer == nil {
		api.gatherer = prometheus.DefaultGatherer
	}

	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.requestLogger)
	r.Use(api.instrument)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/heartbeat", api.Heartbeat)
	r.Handle("/metrics", promhttp.HandlerFor(api.gatherer, promhttp.HandlerOpts{}))

	// Public routes
	r.Post("/auth/register", api.RegisterHandler)
	r.Post("/auth/login", api.LoginHandler)

	// Everything else needs a session token
	r.Group(func(r chi.Router) {
		r.Use(api.gate.Require(api.writeError))

		r.Get("/users", api.ListUsersHandler)
		r.Get("/users/{username}", api.GetUserHandler)
		r.Get("/users/{username}/to", api.ListReceivedHandler)
		r.Get("/users/{username}/from", api.ListSentHandler)

		r.Post("/messages", api.CreateMessageHandler)
		r.Get("/messages/{id}", api.GetMessageHandler)
		r.Post("/messages/{id}/read", api.MarkReadHandler)
	})
}

// Serve listens on the configured port until ctx is cancelled, then shuts the
// server down gracefully.
func (api *Api) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", api.Config.APIPort),
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.logger.Info("starting API server", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		api.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (api *Api) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
