package purchase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beanline/beanline/internal/shared"
)

func TestTransitionGraph(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusPending},
		{StatusDraft, StatusCancelled},
		{StatusPending, StatusApproved},
		{StatusPending, StatusDraft},
		{StatusPending, StatusCancelled},
		{StatusApproved, StatusDelivered},
		{StatusApproved, StatusCancelled},
		{StatusDelivered, StatusCompleted},
		{StatusDelivered, StatusCancelled},
	}
	for _, tc := range allowed {
		require.True(t, TransitionAllowed(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	forbidden := []struct{ from, to Status }{
		{StatusDraft, StatusApproved},
		{StatusDraft, StatusDelivered},
		{StatusPending, StatusDelivered},
		{StatusApproved, StatusDraft},
		{StatusApproved, StatusPending},
		{StatusDelivered, StatusApproved},
		{StatusCompleted, StatusDelivered},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusDraft},
	}
	for _, tc := range forbidden {
		require.False(t, TransitionAllowed(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		for _, to := range []Status{StatusDraft, StatusPending, StatusApproved, StatusDelivered, StatusCompleted, StatusCancelled} {
			require.False(t, TransitionAllowed(from, to))
		}
	}
}

func TestPolicyRoleGating(t *testing.T) {
	policy := DefaultPolicy()

	require.True(t, policy.Permits(shared.RolePurchasing, StatusDraft, StatusPending))
	require.True(t, policy.Permits(shared.RolePurchasing, StatusPending, StatusDraft))
	require.False(t, policy.Permits(shared.RolePurchasing, StatusPending, StatusApproved))

	require.True(t, policy.Permits(shared.RoleWarehouse, StatusApproved, StatusDelivered))
	require.False(t, policy.Permits(shared.RoleWarehouse, StatusPending, StatusApproved))
	require.False(t, policy.Permits(shared.RoleWarehouse, StatusDelivered, StatusCompleted))

	require.True(t, policy.Permits(shared.RoleFinance, StatusPending, StatusApproved))
	require.True(t, policy.Permits(shared.RoleDirector, StatusDelivered, StatusCompleted))
	require.True(t, policy.Permits(shared.RoleIT, StatusApproved, StatusCancelled))
}

func TestPolicyTransitionRejectsIllegalMove(t *testing.T) {
	policy := DefaultPolicy()
	po := &PurchaseOrder{ID: 1, Status: StatusDraft}

	err := policy.Transition(po, StatusApproved, shared.Actor{UserID: 1, Role: shared.RoleDirector}, "", time.Now())
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusDraft, po.Status)
	require.Empty(t, po.History)
}

func TestPolicyTransitionRejectsForbiddenRole(t *testing.T) {
	policy := DefaultPolicy()
	po := &PurchaseOrder{ID: 1, Status: StatusPending}

	err := policy.Transition(po, StatusApproved, shared.Actor{UserID: 1, Role: shared.RoleWarehouse}, "", time.Now())
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Equal(t, StatusPending, po.Status)
}

func TestPolicyTransitionSetsStatusFields(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	po := &PurchaseOrder{ID: 1, Status: StatusPending}

	err := policy.Transition(po, StatusApproved, shared.Actor{UserID: 42, Role: shared.RoleFinance}, "looks good", now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, po.Status)
	require.EqualValues(t, 42, po.ApprovedBy)
	require.Equal(t, now, po.ApprovedAt)
	require.Len(t, po.History, 1)
	require.Equal(t, StatusPending, po.History[0].Previous)
	require.Equal(t, StatusApproved, po.History[0].New)
	require.Equal(t, "looks good", po.History[0].Notes)
}

func TestPolicyTransitionCancellation(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Now().UTC()
	po := &PurchaseOrder{ID: 1, Status: StatusApproved}

	err := policy.Transition(po, StatusCancelled, shared.Actor{UserID: 9, Role: shared.RoleDirector}, "supplier folded", now)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, po.Status)
	require.EqualValues(t, 9, po.CancelledBy)
	require.Equal(t, "supplier folded", po.CancellationReason)
}

func TestReactivate(t *testing.T) {
	now := time.Now().UTC()

	po := &PurchaseOrder{ID: 1, Status: StatusCompleted}
	err := Reactivate(po, shared.Actor{UserID: 5, Role: shared.RoleWarehouse}, "recount", now)
	require.ErrorIs(t, err, shared.ErrPermissionDenied)

	err = Reactivate(po, shared.Actor{UserID: 5, Role: shared.RoleDirector}, "", now)
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)

	err = Reactivate(po, shared.Actor{UserID: 5, Role: shared.RoleDirector}, "recount", now)
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, po.Status)
	require.Len(t, po.History, 1)
	require.Equal(t, "recount", po.History[0].Notes)

	// Only COMPLETED orders can be reopened.
	fresh := &PurchaseOrder{ID: 2, Status: StatusApproved}
	err = Reactivate(fresh, shared.Actor{UserID: 5, Role: shared.RoleIT}, "redo", now)
	require.ErrorIs(t, err, shared.ErrPreconditionFailed)
}

func TestNewPolicyRejectsUnknownStatus(t *testing.T) {
	_, err := NewPolicy(map[shared.Role]RolePolicy{
		shared.RoleFinance: {
			Sources: map[Status]bool{Status("LIMBO"): true},
			Targets: map[Status]bool{StatusPending: true},
		},
	})
	require.Error(t, err)
}
