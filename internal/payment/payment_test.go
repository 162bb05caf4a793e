package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/nightowl/internal/config"
)

func gatewayServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/payments/pi_ok":
			_, _ = w.Write([]byte(`{"status":"succeeded","amount":24.5}`))
		case "/payments/pi_pending":
			_, _ = w.Write([]byte(`{"status":"processing","amount":24.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGatewayVerify(t *testing.T) {
	srv := gatewayServer(t)
	gw := NewHTTPGateway(config.Payment{BaseURL: srv.URL, APIKey: "secret"})
	ctx := context.Background()

	require.NoError(t, gw.Verify(ctx, "pi_ok", 24.50))
	assert.ErrorIs(t, gw.Verify(ctx, "pi_ok", 30), ErrDeclined)
	assert.ErrorIs(t, gw.Verify(ctx, "pi_pending", 24.5), ErrDeclined)
	assert.ErrorIs(t, gw.Verify(ctx, "pi_missing", 24.5), ErrDeclined)
	assert.ErrorIs(t, gw.Verify(ctx, " ", 24.5), ErrDeclined)

	bad := NewHTTPGateway(config.Payment{BaseURL: srv.URL, APIKey: "wrong"})
	err := bad.Verify(ctx, "pi_ok", 24.5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeclined)
}

func TestNoopGateway(t *testing.T) {
	gw, err := NewGateway(config.Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, gw.Verify(context.Background(), "anything", 1))
	assert.ErrorIs(t, gw.Verify(context.Background(), "", 1), ErrDeclined)
}
