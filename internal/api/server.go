// Package api — HTTP API ядра стейкинга (chi). Пользователь приходит через
// API-шлюз: шлюз предъявляет общий токен X-Gateway-Token и подставляет
// аутентифицированный X-User-ID. Админские маршруты закрыты X-Admin-Key.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/staking/internal/features/accounts"
	"serotonyl.ru/staking/internal/features/admin"
	"serotonyl.ru/staking/internal/features/referrals"
	"serotonyl.ru/staking/internal/features/stakes"
	"serotonyl.ru/staking/internal/jobs"
	"serotonyl.ru/staking/internal/middleware"
)

// Заголовки шлюза.
const (
	HeaderGatewayToken = "X-Gateway-Token"
	HeaderUserID       = "X-User-ID"
)

type contextKey string

const userIDContextKey contextKey = "userID"

// Pinger проверяет доступность хранилища для /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services — зависимости обработчиков.
type Services struct {
	Accounts  *accounts.Service
	Stakes    *stakes.Service
	Referrals *referrals.Service
	Runner    *jobs.Runner
	Admin     *admin.Handler
	Health    Pinger
}

// Options — параметры сервера.
type Options struct {
	GatewayToken   string
	RateLimiter    *middleware.RateLimiter // nil — без лимита
	RequestTimeout time.Duration
}

// Server — HTTP API.
type Server struct {
	opts Options
	svc  Services
	mux  *chi.Mux
}

// New собирает маршруты.
func New(opts Options, svc Services) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{opts: opts, svc: svc, mux: chi.NewRouter()}
	s.routes()
	return s
}

// Handler возвращает корневой http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.gatewayMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.opts.RequestTimeout))
			r.Post("/accounts", s.handleRegister)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)
			r.Use(s.rateLimitMiddleware)
			r.Use(chimw.Timeout(s.opts.RequestTimeout))

			r.Get("/accounts/me", s.handleMe)
			r.Post("/accounts/me/telegram", s.handleLinkTelegram)

			r.Get("/stakes", s.handleStakesList)
			r.Post("/stakes", s.handleStakeCreate)
			r.Get("/stakes/archive", s.handleStakesArchive)
			r.Get("/stakes/{id}", s.handleStakeGet)
			r.Post("/stakes/{id}/withdraw", s.handleStakeWithdraw)
			r.Post("/stakes/{id}/relock", s.handleStakeRelock)
			r.Post("/stakes/{id}/auto-relock", s.handleStakeAutoRelock)

			r.Get("/referrals", s.handleReferrals)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.svc.Admin.RequireKey)
			r.Post("/deposits", s.handleAdminDeposit)
			r.Get("/stakes", s.handleAdminStakes)
			r.Post("/sweeps/{name}", s.handleAdminSweep)
			r.Post("/accounts/{id}/reconcile", s.handleAdminReconcile)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Health.Ping(ctx); err != nil {
			log.WithError(err).Warn("Хранилище недоступно")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) gatewayMiddleware(next http.Handler) http.Handler {
	expected := []byte(s.opts.GatewayToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get(HeaderGatewayToken))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "нет токена шлюза")
			return
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			log.WithField("path", r.URL.Path).Warn("Неверный токен шлюза")
			writeError(w, http.StatusUnauthorized, "неверный токен шлюза")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "нет идентификатора пользователя")
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.RateLimiter != nil && r.Method != http.MethodGet {
			uid, _ := userFromContext(r.Context())
			if !s.opts.RateLimiter.Allow(strconv.FormatInt(uid, 10)) {
				writeError(w, http.StatusTooManyRequests, "слишком много запросов")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (int64, error) {
	id, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || id <= 0 {
		return 0, errors.New("нет контекста пользователя")
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("некорректный идентификатор")
	}
	return id, nil
}
