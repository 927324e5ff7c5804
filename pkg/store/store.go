// Package store persists conversation records keyed by their conversation
// ID. Three implementations share one contract: an in-memory store, a
// one-file-per-conversation JSON store, and a SQLite store. The file and
// SQLite stores wrap the in-memory store as their working set and persist
// through it.
package store

import (
	"context"
	"time"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// SaveOptions carries write context for conversation persistence.
type SaveOptions struct {
	// ExpectedVersion, when non-zero, fails the write with a
	// VersionConflictError unless the stored record has that version.
	ExpectedVersion uint64
	Source          string
}

// ConversationInfo is a listing row: identity and cheap stats without the
// message tree.
type ConversationInfo struct {
	ID           conversation.ConversationID `json:"id"`
	Title        string                      `json:"title"`
	MessageCount int                         `json:"messageCount"`
	Version      uint64                      `json:"version"`
	Created      time.Time                   `json:"created"`
	Updated      time.Time                   `json:"updated"`
}

// Reader provides read operations over stored conversations.
type Reader interface {
	// Get returns a deep copy of the record, or ok=false when the ID is
	// unknown.
	Get(ctx context.Context, id conversation.ConversationID) (*conversation.Conversation, bool, error)
	// List returns info rows sorted by last update, newest first. A
	// non-empty pattern glob-filters titles.
	List(ctx context.Context, pattern string) ([]ConversationInfo, error)
	// Watch emits the ID of every conversation that changes after the
	// call. The channel closes when ctx is done or the store closes.
	Watch(ctx context.Context) (<-chan conversation.ConversationID, error)
}

// Writer provides write operations over stored conversations.
type Writer interface {
	Put(ctx context.Context, conv *conversation.Conversation, opts SaveOptions) error
	Delete(ctx context.Context, id conversation.ConversationID, opts SaveOptions) error
	Rename(ctx context.Context, id conversation.ConversationID, title string, opts SaveOptions) error
	Close() error
}

// Store is the persistence abstraction used by the conversation service.
type Store interface {
	Reader
	Writer
}

// InfoOf derives the listing row of a record.
func InfoOf(conv *conversation.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:           conv.ID,
		Title:        conv.Title,
		MessageCount: conv.MessageCount(),
		Version:      conv.Version,
		Created:      conv.Created,
		Updated:      conv.Updated,
	}
}
