package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rzbill/eventpump/internal/config"
	"github.com/rzbill/eventpump/internal/projections"
	"github.com/rzbill/eventpump/internal/runtime"
)

const bufSize = 1 << 20

func dialer(s *grpc.Server) func(context.Context, string) (net.Conn, error) {
	lis := bufconn.Listen(bufSize)
	go func() { _ = s.Serve(lis) }()
	return func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
}

func openRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	cfg.Snapshots.Driver = config.SnapshotMemory
	cfg.Consumers = []config.Consumer{
		{Name: "stats", Kind: projections.KindStreamStats, AutoStart: true},
		{Name: "audit", Kind: projections.KindEventLog},
	}
	ctx := context.Background()
	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(ctx) })
	if err := rt.RegisterConsumers(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	return rt
}

func healthClient(t *testing.T, srv *Server) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer(srv.grpc)),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		srv.grpc.Stop()
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
	if err != nil {
		t.Fatalf("check %q: %v", svc, err)
	}
	return res.GetStatus()
}

func TestHealthOverGRPC(t *testing.T) {
	rt := openRuntime(t)
	srv := New(rt, nil)
	c := healthClient(t, srv)

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall: %v", got)
	}
	if got := check(t, c, ConsumerService("stats")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("stats: %v", got)
	}
	if got := check(t, c, ConsumerService("audit")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("audit: %v", got)
	}
}

func TestSyncStatusesTracksTransitions(t *testing.T) {
	rt := openRuntime(t)
	srv := New(rt, nil)
	c := healthClient(t, srv)

	ctx := context.Background()
	f, err := rt.Manager().Start("audit")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("start wait: %v", err)
	}
	srv.SyncStatuses(ctx)
	if got := check(t, c, ConsumerService("audit")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("audit after start: %v", got)
	}

	if err := rt.Manager().Close(ctx); err != nil {
		t.Fatalf("close manager: %v", err)
	}
	srv.SyncStatuses(ctx)
	if got := check(t, c, ConsumerService("audit")); got != healthpb.HealthCheckResponse_SERVICE_UNKNOWN {
		t.Fatalf("audit after close: %v", got)
	}
}

func TestUnknownServiceIsNotFound(t *testing.T) {
	rt := openRuntime(t)
	srv := New(rt, nil)
	c := healthClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: ConsumerService("missing")}); err == nil {
		t.Fatalf("expected NotFound for unregistered consumer")
	}
}
