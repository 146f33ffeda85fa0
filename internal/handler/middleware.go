package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// InterServiceTokenHeader carries the bot's service token. A Bearer Authorization
	// header is accepted as well.
	InterServiceTokenHeader = "X-Internal-Service-Token"
	requestIDHeader         = "X-Request-ID"
	ctxServiceNameKey       = "service_name"
)

// ZapLogger logs every request except health checks and metrics scrapes.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if path == "/health" || path == "/metrics" {
			c.Next()
			return
		}

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", requestID),
		}
		if service := c.GetString(ctxServiceNameKey); service != "" {
			fields = append(fields, zap.String("caller_service", service))
		}

		for _, ginErr := range c.Errors.ByType(gin.ErrorTypeAny) {
			fields = append(fields, zap.Error(ginErr.Err))
		}
		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("Server error", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request completed", fields...)
		}
	}
}

// InterServiceAuth accepts HS256 tokens signed with secret. The token subject names the
// calling service and is stored in the gin context.
func InterServiceAuth(secret string, log *zap.Logger, m *metrics.Collectors) gin.HandlerFunc {
	log = log.Named("InterServiceAuth")
	key := []byte(secret)
	record := func(outcome string) {
		if m != nil {
			m.TokenVerifications.WithLabelValues(outcome).Inc()
		}
	}

	return func(c *gin.Context) {
		tokenString := c.GetHeader(InterServiceTokenHeader)
		if tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			record("missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    "unauthorized",
				Message: "Missing service token",
			})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			outcome := "invalid"
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				outcome = "expired"
			case errors.Is(err, jwt.ErrTokenMalformed):
				outcome = "malformed"
			}
			record(outcome)
			log.Warn("Service token rejected", zap.String("outcome", outcome), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    "unauthorized",
				Message: "Invalid service token",
			})
			return
		}

		record("valid")
		c.Set(ctxServiceNameKey, claims.Subject)
		c.Next()
	}
}

// NotFound answers unknown routes in the API's error format.
func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Code:    string(models.KindNotFound),
		Message: "Route not found",
	})
}
