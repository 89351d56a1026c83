package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceNamespace groups every seqci component in the collector
const ServiceNamespace = "seqci"

// processInstanceID is shared by the tracer and meter so that spans and
// metrics from one proxy process carry the same service.instance.id
var processInstanceID = uuid.NewString()

// newResource describes this proxy process. OTEL_RESOURCE_ATTRIBUTES is
// merged in so operators can tag replicas (e.g. deployment.environment).
func newResource(ctx context.Context, serviceName, serviceVersion string) (*resource.Resource, error) {
	// resource.New avoids schema URL conflicts with resource.Default()
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.ServiceNamespace(ServiceNamespace),
			semconv.ServiceInstanceID(processInstanceID),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
