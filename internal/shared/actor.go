package shared

import "context"

// Role is the coarse permission group resolved by the external auth service.
type Role string

const (
	RolePurchasing Role = "PURCHASING"
	RoleWarehouse  Role = "WAREHOUSE"
	RoleFinance    Role = "FINANCE"
	RoleDirector   Role = "DIRECTOR"
	RoleIT         Role = "IT"
)

// Actor identifies who performs an operation. Role resolution happens
// upstream; this subsystem only consumes the result.
type Actor struct {
	UserID  int64
	Role    Role
	SubRole string
}

// IsDirectorClass reports whether the actor may sign off distribution plans.
func (a Actor) IsDirectorClass() bool {
	return a.Role == RoleDirector
}

// CanReactivate reports whether the actor may reopen a closed purchase order.
func (a Actor) CanReactivate() bool {
	return a.Role == RoleDirector || a.Role == RoleIT
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
