package httpapi

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type fakeReadiness struct {
	err error
}

func (f fakeReadiness) Check(ctx context.Context) error { return f.err }

func TestGRPCHealthCheck(t *testing.T) {
	srv := NewGRPCHealthServer(fakeReadiness{})
	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}

	srv = NewGRPCHealthServer(fakeReadiness{err: errors.New("db down")})
	resp, err = srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.Status)
	}
}

func TestGRPCHealthWatchUnimplemented(t *testing.T) {
	srv := NewGRPCHealthServer(fakeReadiness{})
	err := srv.Watch(&grpc_health_v1.HealthCheckRequest{}, nil)
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}
