package store

import (
	"errors"
	"fmt"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrVersionConflict      = errors.New("version conflict")
	ErrStoreClosed          = errors.New("store closed")
)

// VersionConflictError reports optimistic-locking failures between two
// writers of the same conversation.
type VersionConflictError struct {
	ID       conversation.ConversationID
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	if e == nil {
		return ErrVersionConflict.Error()
	}
	return fmt.Sprintf("conversation %s version conflict: expected=%d actual=%d", e.ID, e.Expected, e.Actual)
}

func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
