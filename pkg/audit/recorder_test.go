package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spothive/spothive/pkg/domain"
)

func TestRecorderAssignsIdentityAndTimestamp(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	action := domain.NewAction(domain.ActionTerminateInstance, "i-0abc", nil)

	before := time.Now()
	entry := r.Record("executor", action, domain.AuditExecuted, "done", 120*time.Millisecond)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "executor", entry.Actor)
	assert.Equal(t, action.ID, entry.ActionID)
	assert.Equal(t, domain.ActionTerminateInstance, entry.ActionType)
	assert.Equal(t, "i-0abc", entry.Target)
	assert.Equal(t, domain.AuditExecuted, entry.Result)
	assert.Equal(t, "done", entry.Detail)
	assert.Equal(t, 120*time.Millisecond, entry.Duration)
	assert.False(t, entry.Timestamp.Before(before))
}

func TestRecorderPreservesAppendOrder(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	first := r.Record("a", domain.NewAction(domain.ActionCordonNode, "n1", nil), domain.AuditExecuted, "", 0)
	second := r.Record("b", domain.NewAction(domain.ActionDrainNode, "n2", nil), domain.AuditFailed, "", 0)

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
}

func TestRecorderEntriesReturnsCopy(t *testing.T) {
	r := NewRecorder(zap.NewNop())
	r.Record("a", domain.NewAction(domain.ActionLabelNode, "n1", nil), domain.AuditExecuted, "", 0)

	entries := r.Entries()
	entries[0].Detail = "mutated"

	assert.Empty(t, r.Entries()[0].Detail)
}

func TestRecorderConcurrentWrites(t *testing.T) {
	r := NewRecorder(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record("worker", domain.NewAction(domain.ActionEvictPod, "pod", nil), domain.AuditExecuted, "", 0)
		}()
	}
	wg.Wait()

	assert.Len(t, r.Entries(), 16)
}
