package service

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

const defaultJournalSize = 512

// JournalEntry records one committed mutation for debugging and the CLI log
// command. Entry IDs are ULIDs, so they sort by commit time.
type JournalEntry struct {
	ID           ulid.ULID                   `json:"id"`
	Conversation conversation.ConversationID `json:"conversation"`
	Name         string                      `json:"name"`
	At           time.Time                   `json:"at"`
	Added        int                         `json:"added"`
	Removed      int                         `json:"removed"`
}

// journal is a bounded in-memory ring of recent entries across all
// conversations. Oldest entries fall off once the bound is reached.
type journal struct {
	mu      sync.Mutex
	size    int
	entries []JournalEntry
}

func newJournal(size int) *journal {
	if size <= 0 {
		size = defaultJournalSize
	}
	return &journal{size: size}
}

func (j *journal) append(entry JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.size {
		j.entries = j.entries[len(j.entries)-j.size:]
	}
}

// forConversation returns the retained entries for one conversation, oldest
// first.
func (j *journal) forConversation(id conversation.ConversationID) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, entry := range j.entries {
		if entry.Conversation == id {
			out = append(out, entry)
		}
	}
	return out
}
