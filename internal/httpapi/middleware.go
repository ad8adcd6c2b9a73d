package httpapi

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/audit"
	"github.com/tardis-create/revenueforge-sub000/internal/auth"
	"github.com/tardis-create/revenueforge-sub000/internal/obs"
)

// Middleware wraps a handler with one pipeline stage.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in the order given: the first one listed is
// the outermost, seeing the request first and the response last.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover converts panics from any inner stage or handler into a generic
// JSON 500. Deliberate 401/403/429 responses are ordinary writes, not
// panics, so they pass through untouched.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				obs.Warn("panic recovered", map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  rec,
				})
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders attaches the fixed hardening header set to every
// response, identical in shape regardless of downstream outcome.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains; preload")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimit attributes the request to an identifier and enforces the named
// tier. Every response that passes through carries the standard
// X-RateLimit-* headers; rejections add Retry-After and a retry_after body
// field and short-circuit the rest of the chain.
func (a *API) rateLimit(tier string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := a.limiter.Check(r.Context(), rateLimitIdentifier(r), tier)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				obs.RateLimitRejected(tier)
				retryAfter := int64(res.RetryAfter / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate_limit_exceeded",
					"message":     "too many requests, slow down",
					"retry_after": retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate verifies a bearer token and attaches the resulting identity
// to the request context. It never rejects by itself: a missing, malformed
// or invalid token leaves the request anonymous and lets route-level
// authorization decide.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		if token, err := extractBearerToken(r.Header.Get("Authorization")); err == nil {
			if claims, err := a.verifier.Verify(token); err == nil {
				if identity, ok := auth.IdentityFromClaims(claims); ok {
					r = r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authorize checks the caller's role against the permission matrix for the
// given pair. Anonymous callers are checked as viewer; a denial maps to
// 401 for anonymous callers and 403 for authenticated ones.
func (a *API) authorize(resource, action string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, authenticated := auth.IdentityFromContext(r.Context())
			role := auth.RoleViewer
			if authenticated {
				role = identity.Role
			}
			if !a.matrix.Allows(role, resource, action) {
				if !authenticated {
					writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
					return
				}
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role for this action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// auditTrail records one entry after the wrapped stages complete, using
// the actual response status. It sits outside the authorizer so that
// configured routes record denials too, with the actor present whenever a
// valid token was sent. The write is fire-and-forget.
func (a *API) auditTrail(action audit.Action, resourceType string, idFromPath bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, code: 200}
			next.ServeHTTP(sw, r)

			entry := audit.Entry{
				Action:       action,
				ResourceType: resourceType,
				Details: map[string]string{
					"method": r.Method,
					"path":   r.URL.Path,
					"status": strconv.Itoa(sw.code),
				},
				SourceIP:  clientIP(r),
				UserAgent: r.UserAgent(),
			}
			if idFromPath {
				entry.ResourceID = lastPathSegment(r.URL.Path)
			}
			audit.ActorFromContext(r.Context(), &entry)
			a.recorder.Record(r.Context(), entry)
		})
	}
}

// stackOptions declares which optional stages a route gets. Omitting a
// stage never changes the behaviour of the stages that are configured.
type stackOptions struct {
	tier          string
	resource      string
	action        string
	auditAction   audit.Action
	auditResource string
	idFromPath    bool
}

// stack assembles the standard chain in its fixed order: recover, security
// headers, rate limiter, authenticator, audit, authorizer, handler.
func (a *API) stack(h http.Handler, opt stackOptions) http.Handler {
	mws := []Middleware{Recover, SecurityHeaders, a.rateLimit(opt.tier), a.authenticate}
	if opt.auditAction != "" && a.recorder != nil {
		mws = append(mws, a.auditTrail(opt.auditAction, opt.auditResource, opt.idFromPath))
	}
	if opt.resource != "" && opt.action != "" {
		mws = append(mws, a.authorize(opt.resource, opt.action))
	}
	return Chain(h, mws...)
}

// byMethod dispatches to a per-method handler, rejecting everything else.
// The per-method handlers carry their own stacks; the 405 path gets the
// same outer stages so every response leaves with the hardening headers.
func byMethod(handlers map[string]http.Handler) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for m := range handlers {
		allowed = append(allowed, m)
	}
	sort.Strings(allowed)
	allowHeader := strings.Join(allowed, ", ")
	notAllowed := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, allowHeader)
	}), Recover, SecurityHeaders)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Method]; ok {
			h.ServeHTTP(w, r)
			return
		}
		notAllowed.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrInvalidToken
	}
	const bearer = "bearer "
	if !strings.HasPrefix(strings.ToLower(header), bearer) {
		return "", auth.ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

// rateLimitIdentifier prefers an authenticated user id, then the client
// IP, then the "unknown" sentinel. The identity is only present when a
// route assembles authentication ahead of the limiter; in the standard
// order the IP is the effective identifier.
func rateLimitIdentifier(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.ID
	}
	if ip := clientIP(r); ip != "" {
		return ip
	}
	return "unknown"
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("Cf-Connecting-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func lastPathSegment(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
