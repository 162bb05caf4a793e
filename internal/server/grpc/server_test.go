package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/nightowl/pkg/errorbank"
)

func TestErrorInterceptorMapsAppErrors(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}
	cases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", errorbank.Validation("bad input"), codes.InvalidArgument},
		{"stock", errorbank.InsufficientStock(1, "Chips", 0, 2), codes.AlreadyExists},
		{"conflict", errorbank.ConcurrencyConflict("busy"), codes.Unavailable},
		{"transition", errorbank.IllegalTransition("nope"), codes.FailedPrecondition},
		{"not found", errorbank.NotFound("order not found"), codes.NotFound},
		{"plain", errors.New("boom"), codes.Internal},
		{"status passthrough", status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ErrorInterceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
				return nil, tc.err
			})
			require.Error(t, err)
			assert.Equal(t, tc.want, status.Code(err))
		})
	}
}

func TestErrorInterceptorPassesSuccess(t *testing.T) {
	resp, err := ErrorInterceptor(context.Background(), "req", &grpc.UnaryServerInfo{}, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
}

func TestNewServerRegistersHealth(t *testing.T) {
	hs := health.NewServer()
	server := NewServer(zap.NewNop(), hs)
	defer server.Stop()

	_, ok := server.GetServiceInfo()[healthpb.Health_ServiceDesc.ServiceName]
	assert.True(t, ok)

	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
