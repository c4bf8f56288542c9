package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeSubstrate(t *testing.T) {
	tests := []struct {
		actionType ActionType
		want       Substrate
	}{
		{ActionLaunchSpot, SubstrateCloud},
		{ActionTerminateInstance, SubstrateCloud},
		{ActionDetachVolume, SubstrateCloud},
		{ActionUpdateASG, SubstrateCloud},
		{ActionEvictPod, SubstrateAgent},
		{ActionCordonNode, SubstrateAgent},
		{ActionDrainNode, SubstrateAgent},
		{ActionLabelNode, SubstrateAgent},
	}

	for _, tt := range tests {
		t.Run(string(tt.actionType), func(t *testing.T) {
			got, err := tt.actionType.Substrate()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionTypeSubstrateRejectsUnknown(t *testing.T) {
	_, err := ActionType("reboot_everything").Substrate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownActionType)
}

func TestNewActionAssignsIdentity(t *testing.T) {
	a := NewAction(ActionDrainNode, "node-1", nil)
	b := NewAction(ActionDrainNode, "node-1", nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.WithinDuration(t, time.Now(), a.CreatedAt, time.Second)
}

func TestActionPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		actions []Action
		wantErr error
	}{
		{
			name: "independent targets",
			actions: []Action{
				NewAction(ActionDrainNode, "node-1", nil),
				NewAction(ActionTerminateInstance, "node-2", nil),
			},
		},
		{
			name:    "empty plan",
			actions: nil,
		},
		{
			name: "cordon then drain of one node",
			actions: []Action{
				NewAction(ActionCordonNode, "node-1", nil),
				NewAction(ActionDrainNode, "node-1", nil),
			},
		},
		{
			name: "cordon and label of one node",
			actions: []Action{
				NewAction(ActionCordonNode, "node-1", nil),
				NewAction(ActionLabelNode, "node-1", nil),
			},
		},
		{
			name: "two mutations of one target",
			actions: []Action{
				NewAction(ActionLabelNode, "node-1", nil),
				NewAction(ActionUpdateASG, "node-1", nil),
			},
		},
		{
			name: "two removals of one target",
			actions: []Action{
				NewAction(ActionDrainNode, "node-1", nil),
				NewAction(ActionTerminateInstance, "node-1", nil),
			},
			wantErr: ErrConflictingActions,
		},
		{
			name: "conflicting actions on one target",
			actions: []Action{
				NewAction(ActionTerminateInstance, "node-1", nil),
				NewAction(ActionLabelNode, "node-1", nil),
			},
			wantErr: ErrConflictingActions,
		},
		{
			name: "duplicate action on one target",
			actions: []Action{
				NewAction(ActionDrainNode, "node-1", nil),
				NewAction(ActionDrainNode, "node-1", nil),
			},
			wantErr: ErrConflictingActions,
		},
		{
			name: "unknown action type",
			actions: []Action{
				{ID: "x", Type: "mystery", Target: "node-1"},
			},
			wantErr: ErrUnknownActionType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewActionPlan()
			plan.Actions = tt.actions
			err := plan.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActionPlanValidateRejectsMissingTarget(t *testing.T) {
	plan := NewActionPlan()
	plan.Actions = []Action{NewAction(ActionDrainNode, "", nil)}
	assert.Error(t, plan.Validate())
}

func TestRiskEventExpiry(t *testing.T) {
	now := time.Now()
	ev := RiskEvent{
		Pool:      Pool{Region: "r", Zone: "z", InstanceType: "t"},
		EventType: RiskEventTermination,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	assert.False(t, ev.Expired(now))
	assert.False(t, ev.Expired(now.Add(29*time.Minute)))
	assert.True(t, ev.Expired(now.Add(31*time.Minute)))
}
