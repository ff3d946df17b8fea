package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/ratelimit"
)

// AuthService is the authentication core exposed over HTTP.
type AuthService interface {
	Login(ctx context.Context, usernameOrEmail, password string) (string, error)
	Register(ctx context.Context, in auth.Registration) (auth.PrincipalView, error)
	VerifyAccount(ctx context.Context, token string) error
	RequestReset(ctx context.Context, usernameOrEmail string) error
	ConsumeReset(ctx context.Context, resetToken, newPassword string) error
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReadyProbe runs every check; the first failure marks the service not ready.
type ReadyProbe struct {
	Checks []Check
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, c := range rp.Checks {
		if c.Fn == nil {
			continue
		}
		if err := c.Fn(ctx); err != nil {
			return errors.New(c.Name + ": unavailable")
		}
	}
	return nil
}

// Config tunes the HTTP surface.
type Config struct {
	Version      string
	RedirectURL  string
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   int
	// Limiter throttles login and reset requests per client IP. Nil disables it.
	Limiter *ratelimit.Limiter
}

// API is the HTTP layer.
type API struct {
	svc        AuthService
	tokens     TokenVerifier
	readyProbe ReadyProbe
	cfg        Config
	router     chi.Router
}

func New(svc AuthService, tokens TokenVerifier, rp ReadyProbe, cfg Config) *API {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "/"
	}
	a := &API{svc: svc, tokens: tokens, readyProbe: rp, cfg: cfg}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(LimitByIP(a.cfg.Limiter))
			r.Post("/login", a.handleLogin)
			r.Post("/reset-password", a.handleRequestReset)
		})
		r.Post("/register", a.handleRegister)
		r.Get("/verified-account/{token}", a.handleVerifyAccount)
		r.Post("/reset-password/{token}", a.handleConsumeReset)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(a.tokens))
			r.With(Authorize([]string{auth.RoleAdmin, auth.RoleUser}, nil)).Get("/me", a.handleMe)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSec)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error":   code,
		"message": msg,
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
