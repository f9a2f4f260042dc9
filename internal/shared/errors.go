package shared

import "errors"

// Error taxonomy shared by all warehouse modules. Services return these
// (usually wrapped) and the HTTP layer maps them to problem responses.
var (
	// ErrNotFound indicates a referenced order, batch, stock or product is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change outside the allowed graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPermissionDenied indicates the actor's role does not permit the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInsufficientStock indicates a movement exceeds the source location balance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrQuantityMismatch indicates quantities exceed what the batch received or passed.
	ErrQuantityMismatch = errors.New("quantity mismatch")
	// ErrDuplicate indicates a duplicate batch number or second batch per order.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrPreconditionFailed indicates an operation attempted out of workflow order.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrStorage wraps persistence failures; previously committed state is untouched.
	ErrStorage = errors.New("storage failure")
)
