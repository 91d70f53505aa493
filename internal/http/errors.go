package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/pollwave/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindExpired, apperr.KindInvalidOption, apperr.KindDuplicateVote:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps err to its status and body. Anything unclassified is
// logged and hidden behind a generic message.
func (e *Env) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || statusFor(appErr.Kind) == http.StatusInternalServerError {
		e.Log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error:   string(apperr.KindStore),
			Message: "Internal server error",
		})
		return
	}
	c.AbortWithStatusJSON(statusFor(appErr.Kind), ErrorResponse{
		Error:   string(appErr.Kind),
		Message: appErr.Message,
		Details: appErr.Fields,
	})
}

// badBody reports a request body that could not be decoded.
func (e *Env) badBody(c *gin.Context, err error) {
	e.Log.WithError(err).Debug("malformed request body")
	e.respondError(c, apperr.Validation(map[string]string{"body": "must be valid JSON"}))
}
