package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/nightowl/internal/cache"
	"github.com/Additional-Code/nightowl/internal/config"
	"github.com/Additional-Code/nightowl/internal/database/dbtest"
)

type envelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   struct {
		Kind string `json:"kind"`
		Code string `json:"code"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func serve(t *testing.T, e *echo.Echo, method, path string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func TestHealthAndUnknownRoute(t *testing.T) {
	e := NewEcho(Params{Logger: zap.NewNop()})

	rec, _ := serve(t, e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec, env := serve(t, e, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "not_found", env.Error.Kind)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), env.Meta["request_id"])
}

func TestPanicsRenderInternalEnvelope(t *testing.T) {
	e := NewEcho(Params{Logger: zap.NewNop()})
	e.GET("/boom", func(echo.Context) error { panic(errors.New("kaboom")) })

	rec, env := serve(t, e, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", env.Error.Kind)
}

func TestReadiness(t *testing.T) {
	rec, env := serve(t, NewEcho(Params{Logger: zap.NewNop()}), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", env.Error.Kind)

	e := NewEcho(Params{Logger: zap.NewNop(), Connections: dbtest.New(t), Cache: cache.NewMemoryStore(time.Minute)})
	rec, env = serve(t, e, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sqlite", env.Data["driver"])
	assert.Equal(t, "ok", env.Data["cache"])
}

func TestAdminLogLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	hidden := NewEcho(Params{Logger: zap.NewNop(), Level: level})
	rec, _ := serve(t, hidden, http.MethodGet, "/admin/log-level", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e := NewEcho(Params{
		Config: config.Config{HTTP: config.HTTP{AdminEnabled: true}},
		Logger: zap.NewNop(),
		Level:  level,
	})
	rec, _ = serve(t, e, http.MethodGet, "/admin/log-level", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"level":"info"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPut, "/admin/log-level", strings.NewReader(`{"level":"debug"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
}
