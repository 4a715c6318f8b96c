// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	xerrors "lingua-billing/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// requestIDKey matches the context key set by the logging middleware.
const requestIDKey = "request_id"

// Response is the envelope every endpoint returns.
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// Error aborts the chain and writes a failure envelope. Failures carry the
// request id so a user report can be matched to the log line.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	c.Abort()

	resp := Response{
		Message:   message,
		RequestID: c.GetString(requestIDKey),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if len(data) > 0 {
		resp.Data = data[0]
	}
	c.JSON(code, resp)
}

// FromError maps a service error onto an HTTP status and writes it.
// Unclassified errors become a 500 without their text.
func FromError(c *gin.Context, message string, err error) {
	var insufficient *xerrors.InsufficientCreditsError
	var gateway *xerrors.GatewayUnavailableError

	switch {
	case errors.As(err, &insufficient):
		Error(c, http.StatusPaymentRequired, message, err, gin.H{
			"credits_required":  insufficient.Required,
			"credits_available": insufficient.Available,
			"reason":            insufficient.Reason,
		})
	case errors.As(err, &gateway):
		Error(c, http.StatusServiceUnavailable, message, err, gin.H{"order_id": gateway.OrderID})
	default:
		Error(c, StatusOf(err), message, exposed(err))
	}
}

// StatusOf returns the HTTP status for a service error.
func StatusOf(err error) int {
	var insufficient *xerrors.InsufficientCreditsError
	var gateway *xerrors.GatewayUnavailableError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &insufficient):
		return http.StatusPaymentRequired
	case errors.As(err, &gateway):
		return http.StatusServiceUnavailable
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrInvalidInput), errors.Is(err, xerrors.ErrBadRequest),
		errors.Is(err, xerrors.ErrVoucherInvalid):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrAlreadySubscribed), errors.Is(err, xerrors.ErrInvalidTierChange),
		errors.Is(err, xerrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrTrialIneligible), errors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func exposed(err error) error {
	if StatusOf(err) == http.StatusInternalServerError {
		return nil
	}
	return err
}
