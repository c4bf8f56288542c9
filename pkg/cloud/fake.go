package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Call records one API invocation made against the fake.
type Call struct {
	Op     string
	Target string
	Token  string
}

// FakeAPI records calls instead of mutating infrastructure. It backs tests
// and can be scripted to fail specific operations.
type FakeAPI struct {
	mu    sync.Mutex
	calls []Call

	// FailOps maps an op name to the error every call to it returns.
	FailOps map[string]error
}

// NewFakeAPI returns an empty recording fake.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{FailOps: make(map[string]error)}
}

// Calls returns a copy of the recorded invocations.
func (f *FakeAPI) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakeAPI) record(op, target, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailOps[op]; ok {
		return err
	}
	f.calls = append(f.calls, Call{Op: op, Target: target, Token: token})
	return nil
}

func (f *FakeAPI) LaunchSpot(_ context.Context, req LaunchRequest) (string, error) {
	target := req.Pool.ID()
	if req.ReplaceInstanceID != "" {
		target = fmt.Sprintf("%s(replacing %s)", target, req.ReplaceInstanceID)
	}
	if err := f.record("launch_spot", target, req.IdempotencyToken); err != nil {
		return "", err
	}
	return "i-" + uuid.NewString()[:8], nil
}

func (f *FakeAPI) TerminateInstance(_ context.Context, instanceID, token string) error {
	return f.record("terminate_instance", instanceID, token)
}

func (f *FakeAPI) DetachVolume(_ context.Context, volumeID, instanceID string) error {
	return f.record("detach_volume", volumeID+"/"+instanceID, "")
}

func (f *FakeAPI) UpdateASGCapacity(_ context.Context, asgName string, desired int) error {
	return f.record("update_asg", fmt.Sprintf("%s=%d", asgName, desired), "")
}
