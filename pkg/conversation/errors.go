package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrInvariant         = errors.New("structural invariant violation")
	ErrNoContinuation    = errors.New("no continuation to fork")
	ErrEmptyConversation = errors.New("conversation is empty")
)

// NotFoundError reports a message or branch ID that does not exist in the
// conversation. The operation that raised it has not modified anything.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNodeNotFound.Error()
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch e.Kind {
	case "branch":
		return target == ErrBranchNotFound
	default:
		return target == ErrNodeNotFound
	}
}

// InvariantError reports detected structural corruption. Mutations refuse to
// run against a corrupt record and leave it in its last-known-good state.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	if e == nil {
		return ErrInvariant.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvariant, e.Detail)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

func invariantf(format string, args ...interface{}) error {
	return &InvariantError{Detail: fmt.Sprintf(format, args...)}
}

func nodeNotFound(id NodeID) error {
	return &NotFoundError{Kind: "node", ID: id.String()}
}

func branchNotFound(id BranchID) error {
	return &NotFoundError{Kind: "branch", ID: id.String()}
}
