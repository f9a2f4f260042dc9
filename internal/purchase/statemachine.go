package purchase

import (
	"fmt"
	"time"

	"github.com/beanline/beanline/internal/shared"
)

// transitions is the status graph. Absence means the move is never legal,
// whatever the role.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusCancelled},
	StatusPending:   {StatusApproved, StatusCancelled, StatusDraft},
	StatusApproved:  {StatusDelivered, StatusCancelled},
	StatusDelivered: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// TransitionAllowed reports whether the status graph permits current → target.
func TransitionAllowed(current, target Status) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// RolePolicy lists which source statuses a role may act on and which target
// statuses it may set. A transition needs both.
type RolePolicy struct {
	Sources map[Status]bool
	Targets map[Status]bool
}

// Policy is the typed role permission table, validated at construction.
type Policy struct {
	rules map[shared.Role]RolePolicy
}

// NewPolicy validates that every status named by the rules exists in the
// graph and returns the table. Misconfigured policies fail at startup, not
// at request time.
func NewPolicy(rules map[shared.Role]RolePolicy) (*Policy, error) {
	for role, rule := range rules {
		for status := range rule.Sources {
			if _, ok := transitions[status]; !ok {
				return nil, fmt.Errorf("policy for %s references unknown source status %q", role, status)
			}
		}
		for status := range rule.Targets {
			if _, ok := transitions[status]; !ok {
				return nil, fmt.Errorf("policy for %s references unknown target status %q", role, status)
			}
		}
	}
	return &Policy{rules: rules}, nil
}

// DefaultPolicy returns the shipped permission table: warehouse submits
// drafts and confirms deliveries; purchasing edits and submits; finance and
// director drive approvals, completion and cancellation.
func DefaultPolicy() *Policy {
	statuses := func(list ...Status) map[Status]bool {
		m := make(map[Status]bool, len(list))
		for _, s := range list {
			m[s] = true
		}
		return m
	}
	policy, err := NewPolicy(map[shared.Role]RolePolicy{
		shared.RolePurchasing: {
			Sources: statuses(StatusDraft, StatusPending),
			Targets: statuses(StatusPending, StatusDraft),
		},
		shared.RoleWarehouse: {
			Sources: statuses(StatusDraft, StatusApproved),
			Targets: statuses(StatusPending, StatusDelivered),
		},
		shared.RoleFinance: {
			Sources: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered),
			Targets: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered, StatusCompleted, StatusCancelled),
		},
		shared.RoleDirector: {
			Sources: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered),
			Targets: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered, StatusCompleted, StatusCancelled),
		},
		shared.RoleIT: {
			Sources: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered),
			Targets: statuses(StatusDraft, StatusPending, StatusApproved, StatusDelivered, StatusCompleted, StatusCancelled),
		},
	})
	if err != nil {
		panic(err)
	}
	return policy
}

// Permits reports whether the role may move an order from current to target.
func (p *Policy) Permits(role shared.Role, current, target Status) bool {
	rule, ok := p.rules[role]
	if !ok {
		return false
	}
	return rule.Sources[current] && rule.Targets[target]
}

// Transition validates and applies a status change on the order: graph check,
// then role check, then mutation. Rejections leave the order untouched.
func (p *Policy) Transition(po *PurchaseOrder, target Status, actor shared.Actor, notes string, now time.Time) error {
	if !TransitionAllowed(po.Status, target) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, po.Status, target)
	}
	if !p.Permits(actor.Role, po.Status, target) {
		return fmt.Errorf("%w: role %s may not move %s -> %s", shared.ErrPermissionDenied, actor.Role, po.Status, target)
	}
	applyTransition(po, target, actor, notes, now)
	return nil
}

// Reactivate reopens a closed order so distribution can be redone. Outside
// the normal graph on purpose: only director/IT, only from COMPLETED, and a
// reason is mandatory.
func Reactivate(po *PurchaseOrder, actor shared.Actor, reason string, now time.Time) error {
	if !actor.CanReactivate() {
		return fmt.Errorf("%w: role %s may not reactivate orders", shared.ErrPermissionDenied, actor.Role)
	}
	if po.Status != StatusCompleted {
		return fmt.Errorf("%w: only completed orders can be reactivated", shared.ErrPreconditionFailed)
	}
	if reason == "" {
		return fmt.Errorf("%w: reactivation reason required", shared.ErrPreconditionFailed)
	}
	applyTransition(po, StatusDelivered, actor, reason, now)
	return nil
}

// applyTransition appends the history entry and sets status-specific fields.
// Callers have already validated the move.
func applyTransition(po *PurchaseOrder, target Status, actor shared.Actor, notes string, now time.Time) {
	po.History = append(po.History, StatusChange{
		OrderID:  po.ID,
		Previous: po.Status,
		New:      target,
		ActorID:  actor.UserID,
		Role:     actor.Role,
		At:       now,
		Notes:    notes,
	})
	po.Status = target
	po.UpdatedAt = now
	switch target {
	case StatusApproved:
		po.ApprovedBy = actor.UserID
		po.ApprovedAt = now
	case StatusDelivered:
		po.DeliveredAt = now
	case StatusCompleted:
		po.CompletedAt = now
	case StatusCancelled:
		po.CancelledBy = actor.UserID
		po.CancelledAt = now
		po.CancellationReason = notes
	}
}
