package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	limitmem "github.com/ulule/limiter/v3/drivers/store/memory"

	"homemart/backend/internal/domain"
	"homemart/backend/internal/service"
	"homemart/backend/internal/store"
)

type Options struct {
	AllowedOrigin  string
	LoginRateLimit string
	APIRateLimit   string
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *limiter.Limiter
	apiLimiter    *limiter.Limiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) (*API, error) {
	loginLimiter, err := newLimiter(opts.LoginRateLimit, "5-M")
	if err != nil {
		return nil, fmt.Errorf("login rate limit: %w", err)
	}
	apiLimiter, err := newLimiter(opts.APIRateLimit, "600-M")
	if err != nil {
		return nil, fmt.Errorf("api rate limit: %w", err)
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  loginLimiter,
		apiLimiter:    apiLimiter,
	}, nil
}

// newLimiter builds an in-process limiter from a "<count>-<S|M|H|D>" rate.
func newLimiter(formatted, fallback string) (*limiter.Limiter, error) {
	if strings.TrimSpace(formatted) == "" {
		formatted = fallback
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return limiter.New(limitmem.NewStore(), rate), nil
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(a.securityHeaders)
	r.Use(limitJSONBody)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.rateLimit)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/open", a.requireAuth(a.handleOpenSession, domain.RoleAdmin, domain.RoleSeller))
				r.Get("/active", a.requireAuth(a.handleActiveSession, domain.RoleAdmin, domain.RoleSeller))
				r.Post("/close", a.requireAuth(a.handleCloseSession, domain.RoleAdmin, domain.RoleSeller))
				r.Get("/{id}", a.requireAuth(a.handleGetSession, domain.RoleAdmin, domain.RoleSeller))
				r.Get("/{id}/sales", a.requireAuth(a.handleSessionSales, domain.RoleAdmin, domain.RoleSeller))
			})

			r.Post("/sales", a.requireAuth(a.handleProcessSale, domain.RoleAdmin, domain.RoleSeller))
			r.Get("/sales/{id}", a.requireAuth(a.handleGetSale, domain.RoleAdmin, domain.RoleSeller))

			r.Route("/skus", func(r chi.Router) {
				r.Get("/", a.requireAuth(a.handleSkus))
				r.Get("/{id}", a.requireAuth(a.handleGetSku))
				r.Put("/{id}/stock", a.requireAuth(a.handleAdjustStock, domain.RoleAdmin, domain.RoleWarehouse))
			})
		})
	})

	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	limit, err := a.loginLimiter.Get(r.Context(), "login:"+clientKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if limit.Reached {
		w.Header().Set("Retry-After", strconv.FormatInt(max(limit.Reset-time.Now().Unix(), 1), 10))
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) || errors.Is(err, errInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotSessionOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSkuNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionAlreadyOpen),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransactionConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// statusForCode is statusFor for results that only carry the stable code.
func statusForCode(code string) int {
	switch code {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_session_owner":
		return http.StatusForbidden
	case "session_not_found", "sku_not_found":
		return http.StatusNotFound
	case "session_already_open", "session_closed", "insufficient_stock":
		return http.StatusConflict
	case "transaction_conflict":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the message of 5xx responses; 4xx messages are meant for
// the cashier and are returned as-is.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		log.Warn().Err(err).Msg("request gave up on contention")
		msg = domain.ErrTransactionConflict.Error()
	case status >= 500:
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
