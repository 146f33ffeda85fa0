package handler

import (
	"net/http"

	"adventure-bot/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx answer. Code is a models.ErrorKind.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

var kindStatus = map[models.ErrorKind]int{
	models.KindValidation:       http.StatusBadRequest,
	models.KindNotFound:         http.StatusNotFound,
	models.KindState:            http.StatusConflict,
	models.KindTurn:             http.StatusConflict,
	models.KindCapacity:         http.StatusConflict,
	models.KindAlreadyInParty:   http.StatusConflict,
	models.KindForbidden:        http.StatusForbidden,
	models.KindConnection:       http.StatusServiceUnavailable,
	models.KindTransientStore:   http.StatusServiceUnavailable,
	models.KindOperationTimeout: http.StatusGatewayTimeout,
	models.KindMalformedContent: http.StatusBadGateway,
	models.KindGenerator:        http.StatusServiceUnavailable,
}

// StatusFor maps an engine error kind to an HTTP status.
func StatusFor(kind models.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleServiceError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	status := StatusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Unhandled internal error", zap.String("path", c.FullPath()), zap.Error(err))
		message = "An unexpected internal error occurred"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      string(kind),
		Message:   message,
		Retryable: kind.Retryable(),
	})
}
