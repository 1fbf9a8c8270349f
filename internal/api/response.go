package api

import (
	"errors"
	"net/http"

	"marketplace/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope every endpoint answers with
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Error   *string     `json:"error,omitempty"`
}

func respond(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, Response{Code: code, Message: message, Data: data})
}

func abortWithError(c *gin.Context, code int, message string, err error) {
	resp := Response{Code: code, Message: message}
	if err != nil {
		detail := err.Error()
		resp.Error = &detail
	}
	c.AbortWithStatusJSON(code, resp)
}

// statusFor maps a core error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrAlreadyRated),
		errors.Is(err, models.ErrRequestInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the envelope for err. Internal details stay in the logs.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abortWithError(c, code, http.StatusText(code), nil)
		return
	}
	abortWithError(c, code, messageFor(err), err)
}

func messageFor(err error) string {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		return validation.Reason
	case errors.Is(err, models.ErrLineNotInOrder):
		return "Product not found in this order"
	case errors.Is(err, models.ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, models.ErrProductNotFound):
		return "Product not found"
	case errors.Is(err, models.ErrAlreadyRated):
		return "You have already rated this item for this order"
	case errors.Is(err, models.ErrInsufficientStock):
		return "Insufficient stock"
	case errors.Is(err, models.ErrForbidden):
		return "Not authorized to access this order"
	case errors.Is(err, models.ErrRequestInProgress):
		return "Order request already in progress"
	default:
		return err.Error()
	}
}
