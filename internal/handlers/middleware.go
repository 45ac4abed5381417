package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Brownie44l1/visionai-api/internal/auth"
	"github.com/Brownie44l1/visionai-api/internal/logger"
	"github.com/Brownie44l1/visionai-api/internal/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestID reuses the caller's X-Request-ID or mints a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if id := c.GetString(requestIDKey); id != "" {
			fields = append(fields, "request_id", id)
		}
		if ident, ok := auth.IdentityFromContext(c.Request.Context()); ok {
			fields = append(fields, "user_id", ident.UserID)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// Recovery turns a panic into a logged 500 with the usual error envelope.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if log != nil {
			log.Error("panic in handler", "panic", recovered, "path", c.Request.URL.Path, "request_id", c.GetString(requestIDKey))
		}
		respondError(c, http.StatusInternalServerError, "internal server error")
	})
}

func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if allowAll(origins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// OptionalAuth attaches an auth.Identity when the request carries a valid
// bearer token. Anything else leaves the request anonymous.
func OptionalAuth(svc *auth.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" || svc == nil {
			c.Next()
			return
		}
		id, err := svc.Resolve(c.Request.Context(), token)
		if err != nil {
			if log != nil && !errors.Is(err, auth.ErrInvalidToken) {
				log.Warn("could not resolve bearer token", "error", err)
			}
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireAuth rejects requests without a resolvable token. The token may
// come from the Authorization header or a ?token= query parameter.
func RequireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.IdentityFromContext(c.Request.Context()); ok {
			c.Next()
			return
		}
		token := requestToken(c)
		if token == "" || svc == nil {
			unauthorized(c, "not authenticated")
			return
		}
		id, err := svc.Resolve(c.Request.Context(), token)
		if err != nil {
			unauthorized(c, auth.ErrInvalidToken.Error())
			return
		}
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func requestToken(c *gin.Context) string {
	if token := auth.BearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query("token"))
}

func allowAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// originChecker applies the CORS allow-list to WebSocket handshakes.
// Non-browser clients send no Origin and are let through.
func originChecker(origins []string) func(r *http.Request) bool {
	if allowAll(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.TrimRight(origin, "/")]
	}
}
