package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	krishierrors "krishi/internal/errors"
)

// statusClientClosedRequest is the nginx convention for a request the client
// abandoned before the answer was ready.
const statusClientClosedRequest = 499

// Response is the envelope of every API answer. Data may accompany an error
// when part of the work succeeded.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// fail writes err using its kind for the status and the farmer-facing
// message for the body.
func fail(c *gin.Context, err error, data any) {
	kind := krishierrors.KindOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(kind), Response{
		Success:   false,
		Data:      data,
		Error:     krishierrors.FormatForUser(err),
		ErrorKind: string(kind),
	})
}

// badRequest reports a request that could not be decoded.
func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Error:     message,
		ErrorKind: string(krishierrors.KindInvalidInput),
	})
}

func unavailable(c *gin.Context, feature string) {
	fail(c, errors.Join(krishierrors.ErrServiceUnavailable, errors.New(feature+" is not configured")), nil)
}

func statusFor(kind krishierrors.Kind) int {
	switch kind {
	case krishierrors.KindInvalidInput:
		return http.StatusBadRequest
	case krishierrors.KindBusiness:
		return http.StatusUnprocessableEntity
	case krishierrors.KindTimeout:
		return http.StatusGatewayTimeout
	case krishierrors.KindParse:
		return http.StatusBadGateway
	case krishierrors.KindTransport:
		return http.StatusServiceUnavailable
	case krishierrors.KindCancelled:
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}
