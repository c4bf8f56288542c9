// Package providers defines the read interfaces the pipeline consumes from
// external collaborators: pricing, instance metadata, spot-advisor data and
// interruption signals. The core never calls a cloud API to answer these;
// implementations are injected at construction time.
package providers

import (
	"context"

	"github.com/spothive/spothive/pkg/domain"
)

// PriceProvider serves current spot and on-demand prices per pool.
type PriceProvider interface {
	SpotPrice(ctx context.Context, pool domain.Pool) (float64, error)
	OnDemandPrice(ctx context.Context, pool domain.Pool) (float64, error)
}

// MetadataProvider serves hardware specs and discovery data.
type MetadataProvider interface {
	HardwareSpec(ctx context.Context, instanceType string) (domain.HardwareSpec, error)
	InstanceTypes(ctx context.Context, region string) ([]string, error)
	Zones(ctx context.Context, region string) ([]string, error)
}

// SpotAdvisor serves the historical interruption-frequency bucket per pool
// as a fraction in [0,1].
type SpotAdvisor interface {
	InterruptionFrequency(ctx context.Context, pool domain.Pool) (float64, error)
}

// SignalProvider reports the cloud provider's current interruption signal
// for an instance, sourced from the instance metadata service.
type SignalProvider interface {
	CurrentSignal(ctx context.Context, instance domain.Pool) (domain.Signal, error)
}
