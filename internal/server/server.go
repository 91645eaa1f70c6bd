package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/loveaihub/loveaihub/internal/auth"
	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/models"
	"github.com/loveaihub/loveaihub/internal/provider"
	"github.com/loveaihub/loveaihub/internal/repository"
	"github.com/loveaihub/loveaihub/internal/service"
)

type Server struct {
	cfg         config.Config
	log         *slog.Logger
	verifier    *auth.Verifier
	users       *service.UserService
	generations *service.GenerationService
	analytics   *service.AnalyticsService
	payments    *service.PaymentService
	router      *chi.Mux
}

func New(cfg config.Config, log *slog.Logger, verifier *auth.Verifier, users *service.UserService, generations *service.GenerationService, analytics *service.AnalyticsService, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))
	if cfg.SentryDSN != "" {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}

	s := &Server{
		cfg:         cfg,
		log:         log,
		verifier:    verifier,
		users:       users,
		generations: generations,
		analytics:   analytics,
		payments:    payments,
		router:      r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/stripe", s.handleStripeWebhook)

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.requireUser)
		api.Get("/me", s.handleMe)
		api.Post("/auth/logout", s.handleLogout)
		api.Post("/generations", s.handleGenerate)
		api.Get("/generations", s.handleListGenerations)
		api.Get("/generations/{id}", s.handleGetGeneration)
		api.Delete("/generations/{id}", s.handleDeleteGeneration)
		api.Get("/analytics", s.handleAnalytics)
		api.Post("/billing/checkout", s.handleCheckout)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware())
		admin.Get("/users", s.handleAdminListUsers)
		admin.Put("/users/{id}/subscription", s.handleAdminSetSubscription)
		admin.Post("/users/{id}/reset-usage", s.handleAdminResetUsage)
		admin.Post("/reconcile", s.handleAdminReconcile)
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.HTTPListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // generation calls can be slow
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.cfg.HTTPListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requireUser authenticates the bearer credential and loads (or lazily
// creates) the account row into the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		identity, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, models.ErrUnauthenticated)
			return
		}
		user, err := s.users.EnsureFromIdentity(r.Context(), identity)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	stats, err := s.analytics.UsageStats(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, meResponse{
		ID:      user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		Usage:   stats,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.verifier.Invalidate(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req service.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid json", models.ErrValidation))
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	gen, err := s.generations.Generate(r.Context(), user, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, gen)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	q := r.URL.Query()

	filter := repository.Filter{
		Kind:   models.GenerationKind(q.Get("kind")),
		Status: models.GenerationStatus(q.Get("status")),
		Search: q.Get("q"),
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		s.writeError(w, fmt.Errorf("%w: unknown kind %q", models.ErrValidation, filter.Kind))
		return
	}

	gens, err := s.generations.ListHistory(r.Context(), user.ID, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if q.Get("group") == "day" {
		s.writeJSON(w, http.StatusOK, map[string]any{"days": service.GroupByDay(gens)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": gens})
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	gen, err := s.generations.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gen)
}

func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if err := s.generations.Delete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	overview, err := s.analytics.Overview(r.Context(), user.ID, intParam(r.URL.Query().Get("days"), 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	url, err := s.payments.CreateCheckout(r.Context(), user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.payments.HandleWebhook(r.Context(), payload); err != nil {
		s.log.Error("stripe webhook", "err", err)
		http.Error(w, "webhook error", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.users.List(r.Context(), intParam(q.Get("limit"), 50), intParam(q.Get("offset"), 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminSetSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.users.SetSubscription(r.Context(), chi.URLParam(r, "id"), models.SubscriptionType(req.SubscriptionType)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := s.users.ResetUsage(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	count, err := s.generations.ReconcileStale(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"reconciled": count})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.AdminUsername || pass != s.cfg.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="loveaihub"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var provErr *provider.Error
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Message: "sign in required"})
	case errors.Is(err, models.ErrQuotaExceeded):
		s.writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "quota_exceeded", Message: "generation limit reached, upgrade to premium"})
	case errors.Is(err, models.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation", Message: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "resource not found"})
	case errors.As(err, &provErr):
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:          "provider_error",
			Message:        provErr.Message,
			ProviderStatus: provErr.Status,
		})
	default:
		s.log.Error("handler error", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func intParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		return fallback
	}
	return i
}

type errorResponse struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	ProviderStatus int    `json:"provider_status,omitempty"`
}

type meResponse struct {
	ID      string              `json:"id"`
	Email   string              `json:"email"`
	IsAdmin bool                `json:"is_admin"`
	Usage   *service.UsageStats `json:"usage"`
}

type subscriptionRequest struct {
	SubscriptionType string `json:"subscription_type"`
}
