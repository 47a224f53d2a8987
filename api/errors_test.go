package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealgraph.org/common"
	"dealgraph.org/db/repository"
	"dealgraph.org/queue"
)

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, errorBody) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.Response().Header().Set(echo.HeaderXRequestID, "req-123")

	require.NoError(t, respondError(c, err))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestStatusForMapping(t *testing.T) {
	cases := map[common.ErrorKind]int{
		common.KindValidation:          http.StatusBadRequest,
		common.KindNotAuthorized:       http.StatusForbidden,
		common.KindNotFound:            http.StatusNotFound,
		common.KindConflict:            http.StatusConflict,
		common.KindProviderRateLimited: http.StatusTooManyRequests,
		common.KindTimeout:             http.StatusGatewayTimeout,
		common.KindProviderUnavailable: http.StatusServiceUnavailable,
		common.KindTransientIO:         http.StatusServiceUnavailable,
		common.KindParseError:          http.StatusUnprocessableEntity,
		common.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), string(kind))
	}
}

func TestRespondErrorNotFoundSentinel(t *testing.T) {
	rec, body := respond(t, repository.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(common.KindNotFound), body.ErrorKind)
	assert.Equal(t, "req-123", body.CorrelationID)
}

func TestRespondErrorStaleUpdate(t *testing.T) {
	rec, body := respond(t, repository.ErrStaleUpdate)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body.Message, "reload and retry")
}

func TestRespondErrorDuplicateJob(t *testing.T) {
	rec, _ := respond(t, queue.ErrDuplicate)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDuplicateJobConflictCarriesExistingJobID(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.Response().Header().Set(echo.HeaderXRequestID, "req-123")

	require.NoError(t, duplicateJobConflict(c, "job-7"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-7", body["job_id"])
	assert.Equal(t, string(common.KindConflict), body["error_kind"])
	assert.Equal(t, "req-123", body["correlation_id"])
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec, body := respond(t, common.E(common.KindInternal, "pgx: connection refused to 10.0.0.5"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, body.Message, "10.0.0.5")
}

func TestRespondErrorKeepsValidationDetail(t *testing.T) {
	rec, body := respond(t, common.E(common.KindValidation, "name is required"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "name is required", body.Message)
}

func TestRespondErrorCarriesGuidance(t *testing.T) {
	err := common.E(common.KindParseError, "workbook is encrypted")
	err.Guidance = "remove the password and re-upload"
	rec, body := respond(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "remove the password and re-upload", body.Guidance)
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	h := &Handlers{WebhookSecret: "expected"}
	e := echo.New()

	for _, secret := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/document-uploaded", nil)
		if secret != "" {
			req.Header.Set("X-Webhook-Secret", secret)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := h.DocumentUploadedWebhook(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	}
}

func TestWebhookRejectsWhenUnconfigured(t *testing.T) {
	// An empty configured secret must never authenticate anything.
	h := &Handlers{WebhookSecret: ""}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/document-uploaded", nil)
	req.Header.Set("X-Webhook-Secret", "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.DocumentUploadedWebhook(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
