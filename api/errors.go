package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"dealgraph.org/common"
	"dealgraph.org/db/repository"
	"dealgraph.org/queue"
)

// errorBody is the only error shape the API emits. Stack traces and wrapped
// causes stay in the logs; the client gets the kind, a safe message, and the
// request id to quote in a support ticket.
type errorBody struct {
	ErrorKind     string `json:"error_kind"`
	Message       string `json:"message"`
	Guidance      string `json:"guidance,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// statusFor maps the error taxonomy onto HTTP. Missing and foreign-tenant
// rows are both 404 so resource existence never leaks across organizations.
func statusFor(kind common.ErrorKind) int {
	switch kind {
	case common.KindValidation:
		return http.StatusBadRequest
	case common.KindNotAuthorized:
		return http.StatusForbidden
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict:
		return http.StatusConflict
	case common.KindProviderRateLimited:
		return http.StatusTooManyRequests
	case common.KindTimeout:
		return http.StatusGatewayTimeout
	case common.KindProviderUnavailable, common.KindTransientIO:
		return http.StatusServiceUnavailable
	case common.KindParseError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders any error through the taxonomy.
func respondError(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	correlationID := c.Response().Header().Get(echo.HeaderXRequestID)

	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody{
			ErrorKind: string(common.KindNotFound), Message: "not found",
			CorrelationID: correlationID,
		})
	}
	if errors.Is(err, repository.ErrStaleUpdate) {
		return c.JSON(http.StatusConflict, errorBody{
			ErrorKind: string(common.KindConflict), Message: "resource was modified concurrently, reload and retry",
			CorrelationID: correlationID,
		})
	}
	if errors.Is(err, queue.ErrDuplicate) {
		return c.JSON(http.StatusConflict, errorBody{
			ErrorKind: string(common.KindConflict), Message: "equivalent job already queued",
			CorrelationID: correlationID,
		})
	}

	kind := common.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		common.Logger.WithError(err).WithField("correlation_id", correlationID).Error("request failed")
	}

	body := errorBody{
		ErrorKind:     string(kind),
		Message:       safeMessage(err, kind),
		Guidance:      common.GuidanceOf(err),
		CorrelationID: correlationID,
	}
	return c.JSON(status, body)
}

// duplicateJobConflict renders the 409 for a singleton job collision,
// carrying the id of the job already queued so the client can poll it.
func duplicateJobConflict(c echo.Context, jobID string) error {
	return c.JSON(http.StatusConflict, map[string]interface{}{
		"error_kind":     string(common.KindConflict),
		"message":        "equivalent job already queued",
		"job_id":         jobID,
		"correlation_id": c.Response().Header().Get(echo.HeaderXRequestID),
	})
}

// safeMessage keeps internal failure detail out of responses.
func safeMessage(err error, kind common.ErrorKind) string {
	switch kind {
	case common.KindInternal, common.KindTransientIO:
		return "internal error"
	}
	var e *common.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "request failed"
}
