package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ClinicQueue/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Code: code, Message: message}}
}

// StatusOf maps an error kind onto an HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Conflict, apperr.CapacityExceeded, apperr.InvalidTransition:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.MalformedInput:
		return http.StatusBadRequest
	case apperr.StorageFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondJSON writes a JSON response to the client.
func RespondJSON(c *gin.Context, data any, status int) {
	c.JSON(status, data)
}

// HttpError writes the classified error and aborts the chain. Storage
// failures are retryable and carry Retry-After. Internal errors are logged
// with their cause and reported without it.
func HttpError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusOf(err)
	kind := apperr.KindOf(err)
	if apperr.Retryable(err) {
		c.Header("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorBody(string(kind), apperr.Message(err)))
}
