package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"fixedlend/observability"
	"fixedlend/observability/logging"
)

type contextKey string

const (
	requestIDKey contextKey = "lendingd.request_id"
	roleKey      contextKey = "lendingd.role"

	requestIDHeader = "X-Request-ID"
	tokenHeader     = "X-API-Token"
)

type role int

const (
	roleNone role = iota
	roleUser
	roleAdmin
)

// RequestID returns the identifier assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	tracer := otel.Tracer(moduleName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request.id", RequestID(r.Context())),
		))
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
		duration := time.Since(start)
		observability.ModuleMetrics().Observe(moduleName, r.Method+" "+route, status, duration)
		s.logger.Debug("request served",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", duration,
		)
	})
}

type authenticator struct {
	logger *slog.Logger
	tokens map[[sha256.Size]byte]role
}

func newAuthenticator(apiTokens, adminTokens []string, logger *slog.Logger) (*authenticator, error) {
	a := &authenticator{logger: logger, tokens: make(map[[sha256.Size]byte]role)}
	for _, token := range apiTokens {
		if token = strings.TrimSpace(token); token != "" {
			a.tokens[sha256.Sum256([]byte(token))] = roleUser
		}
	}
	for _, token := range adminTokens {
		if token = strings.TrimSpace(token); token != "" {
			a.tokens[sha256.Sum256([]byte(token))] = roleAdmin
		}
	}
	if len(a.tokens) == 0 {
		return nil, errors.New("at least one api or admin token required")
	}
	return a, nil
}

func extractToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(tokenHeader))
}

func (a *authenticator) known(token string) bool {
	return a.lookup(token) != roleNone
}

// lookup compares token digests in constant time.
func (a *authenticator) lookup(token string) role {
	digest := sha256.Sum256([]byte(token))
	found := roleNone
	for candidate, granted := range a.tokens {
		if subtle.ConstantTimeCompare(candidate[:], digest[:]) == 1 {
			found = granted
		}
	}
	return found
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, errors.New("missing api token"))
			return
		}
		granted := a.lookup(token)
		if granted == roleNone {
			a.logger.Warn("rejected api token",
				"request_id", RequestID(r.Context()),
				logging.MaskField("token", token),
			)
			writeJSONError(w, http.StatusUnauthorized, errors.New("invalid api token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, granted)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if granted, _ := r.Context().Value(roleKey).(role); granted != roleAdmin {
			writeJSONError(w, http.StatusForbidden, errors.New("admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	limit    RateLimit
	now      func() time.Time
	known    func(token string) bool
	mu       sync.Mutex
	visitors map[string]*visitor
	swept    time.Time
}

func newRateLimiter(limit RateLimit, now func() time.Time, known func(token string) bool) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{limit: limit, now: now, known: known, visitors: make(map[string]*visitor)}
}

func (rl *rateLimiter) allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.swept) > visitorTTL {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(rl.visitors, key)
			}
		}
		rl.swept = now
	}
	v, ok := rl.visitors[id]
	if !ok {
		burst := rl.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.limit.RequestsPerMinute/60.0), burst)}
		rl.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !rl.allow(rl.clientID(r)) {
			observability.ModuleMetrics().RecordThrottle(moduleName, "rate_limit")
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, errors.New(http.StatusText(http.StatusTooManyRequests)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID keys the limiter by token digest for known tokens and by
// remote address otherwise, so rotating unknown tokens shares one budget.
func (rl *rateLimiter) clientID(r *http.Request) string {
	if token := extractToken(r); token != "" && rl.known != nil && rl.known(token) {
		digest := sha256.Sum256([]byte(token))
		return "token:" + string(digest[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
