package grpcserver

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/eventpump/internal/eventconsumer"
)

// ConsumerService is the health service name under which a consumer's
// status is published.
func ConsumerService(name string) string { return "consumer/" + name }

func consumerServing(st eventconsumer.Status) healthpb.HealthCheckResponse_ServingStatus {
	if st == eventconsumer.StatusStarted {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// SyncStatuses publishes the store health as the overall ("") status and
// one service per registered consumer. Consumers that disappeared are
// reported as SERVICE_UNKNOWN.
func (s *Server) SyncStatuses(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	if err := s.rt.CheckHealth(ctx); err != nil {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)

	seen := map[string]bool{}
	for _, info := range s.rt.Manager().Statuses() {
		svc := ConsumerService(info.Name)
		seen[svc] = true
		s.health.SetServingStatus(svc, consumerServing(info.Status))
	}
	for svc := range s.known {
		if !seen[svc] {
			s.health.SetServingStatus(svc, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	s.known = seen
}
