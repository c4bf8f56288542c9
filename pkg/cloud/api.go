// Package cloud abstracts the provider API the executor drives for
// cloud-direct actions. Implementations carry standard provider semantics:
// idempotent where the provider supports client-side idempotency tokens.
package cloud

import (
	"context"

	"github.com/spothive/spothive/pkg/domain"
)

// LaunchRequest asks for one spot instance in a pool. ReplaceInstanceID,
// when set, makes the launch a compound switch: the named instance is
// terminated as part of the same request, never as a separately scheduled
// action.
type LaunchRequest struct {
	Pool              domain.Pool
	IdempotencyToken  string
	ReplaceInstanceID string
}

// API is the cloud-direct execution substrate.
type API interface {
	LaunchSpot(ctx context.Context, req LaunchRequest) (instanceID string, err error)
	TerminateInstance(ctx context.Context, instanceID, idempotencyToken string) error
	DetachVolume(ctx context.Context, volumeID, instanceID string) error
	UpdateASGCapacity(ctx context.Context, asgName string, desired int) error
}
