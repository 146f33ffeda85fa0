package handler

import (
	"context"
	"net/http"
	"time"

	"adventure-bot/internal/metrics"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter. Zero RateLimit disables rate limiting and a nil
// Gatherer leaves /metrics unmounted.
type RouterOptions struct {
	Secret         string
	AllowedOrigins []string
	RateLimit      uint
	RateWindow     time.Duration
	Gatherer       prometheus.Gatherer
	Metrics        *metrics.Collectors
	// Health reports store reachability for /health.
	Health func(ctx context.Context) error
}

// NewRouter builds the gin engine: logging, recovery, CORS, /health, /metrics and the
// authenticated command API.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(ZapLogger(logger.Named("HTTP")))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(opts.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = opts.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", InterServiceTokenHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := []gin.HandlerFunc{InterServiceAuth(opts.Secret, logger, opts.Metrics)}
	if opts.RateLimit > 0 {
		auth = append(auth, rateLimiter(logger, opts.RateLimit, opts.RateWindow))
	}
	h.RegisterRoutes(router, auth...)
	router.NoRoute(NotFound)
	return router
}

// rateLimiter caps requests per calling service and client IP.
func rateLimiter(logger *zap.Logger, limit uint, window time.Duration) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  window,
		Limit: limit,
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			logger.Warn("Rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.String("caller_service", c.GetString(ctxServiceNameKey)),
				zap.Time("reset_time", info.ResetTime),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:      "rate_limited",
				Message:   "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
				Retryable: true,
			})
		},
		KeyFunc: func(c *gin.Context) string {
			return c.GetString(ctxServiceNameKey) + "|" + c.ClientIP()
		},
	})
}
