package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/middleware"
)

// ErrorResponse sends a standardized error response
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondError maps the error taxonomy onto HTTP status codes. The error is attached to
// the context for the request log.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	code := apperr.CodeOf(err)
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindPrecondition:
		status = http.StatusConflict
		if code == apperr.CodeNotParticipant {
			status = http.StatusForbidden
		}
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindTransport:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable", "code": code})
		return
	default:
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var e *apperr.Error
	message := err.Error()
	if errors.As(err, &e) && e.Message != "" {
		message = e.Message
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}

// userID returns the caller, answering 401 when there is none.
func userID(c *gin.Context) (uuid.UUID, bool) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return u.ID, true
}

// pathID parses a uuid route parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
