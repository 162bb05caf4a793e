package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string         `json:"kind"`
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	return c, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestSuccessEnvelope(t *testing.T) {
	c, rec := newContext()
	c.Response().Header().Set(echo.HeaderXRequestID, "req-1")

	require.NoError(t, New(c).WithStatus(http.StatusCreated).WithData(map[string]int{"id": 7}).WithMeta("count", 1).WithMeta("", "ignored").Build())

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"id":7}`, string(env.Data))
	assert.Nil(t, env.Error)
	assert.Equal(t, "req-1", env.Meta["request_id"])
	assert.EqualValues(t, 1, env.Meta["count"])
	assert.NotContains(t, env.Meta, "")
}

func TestErrorEnvelopeCarriesCodeAndDetails(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithError(errorbank.InsufficientStock(3, "Chips", 1, 4)).Build())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	env := decode(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "insufficient_stock", env.Error.Code)
	assert.EqualValues(t, 1, env.Error.Details["available"])
}

func TestConcurrencyConflictSetsRetryAfter(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithError(errorbank.ConcurrencyConflict("order changed")).Build())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestExplicitStatusWinsOverKind(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithStatus(http.StatusTooManyRequests).WithError(errorbank.Unavailable("slow down")).Build())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestPlainErrorsRenderAsInternal(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, New(c).WithError(errors.New("boom")).Build())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, "internal", env.Error.Kind)
}
