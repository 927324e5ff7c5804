package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// GenerationStatus tracks the lifecycle of an assistant reply produced by an
// external engine. Failures and cancellations are recorded here as data so
// the tree stays renderable with an error-state node.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationStreaming GenerationStatus = "streaming"
	GenerationComplete  GenerationStatus = "complete"
	GenerationCancelled GenerationStatus = "cancelled"
	GenerationError     GenerationStatus = "error"
)

// GenerationInfo records how a message was produced. Only set on messages
// that came out of a generation engine.
type GenerationInfo struct {
	Provider         string           `json:"provider,omitempty"`
	Model            string           `json:"model,omitempty"`
	Status           GenerationStatus `json:"status,omitempty"`
	Error            string           `json:"error,omitempty"`
	StopReason       string           `json:"stopReason,omitempty"`
	PromptTokens     int              `json:"promptTokens,omitempty"`
	CompletionTokens int              `json:"completionTokens,omitempty"`
}

// Message represents a single turn in the conversation tree.
//
// ParentID is maintained by the mutation operations: within a sequence each
// message's parent is its predecessor, and the head of a stored branch points
// at the fork-point message it continues from.
type Message struct {
	ParentID   NodeID    `json:"parentID"`
	ID         NodeID    `json:"id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Time       time.Time `json:"time"`
	LastUpdate time.Time `json:"lastUpdate"`

	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Generation *GenerationInfo        `json:"generation,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
		message.LastUpdate = time
	}
}

func WithParentID(parentID NodeID) MessageOption {
	return func(message *Message) {
		message.ParentID = parentID
	}
}

func WithID(id NodeID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func WithGeneration(info *GenerationInfo) MessageOption {
	return func(message *Message) {
		message.Generation = info
	}
}

func NewMessage(role Role, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:         NodeID(uuid.New()),
		Role:       role,
		Text:       text,
		Time:       time.Now(),
		LastUpdate: time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

// Failed reports whether the message carries a failed or cancelled generation.
func (m *Message) Failed() bool {
	if m.Generation == nil {
		return false
	}
	return m.Generation.Status == GenerationError || m.Generation.Status == GenerationCancelled
}

// Thread is a linear run of messages, root-most first.
type Thread []*Message

func (t Thread) IDs() []NodeID {
	ids := make([]NodeID, 0, len(t))
	for _, m := range t {
		ids = append(ids, m.ID)
	}
	return ids
}

func (t Thread) Last() *Message {
	if len(t) == 0 {
		return nil
	}
	return t[len(t)-1]
}

// SinglePrompt concatenates the thread into one prompt string, role-tagged
// when there is more than one message.
func (t Thread) SinglePrompt() string {
	if len(t) == 0 {
		return ""
	}
	if len(t) == 1 {
		return t[0].Text
	}

	prompt := ""
	for _, message := range t {
		prompt += fmt.Sprintf("[%s]: %s\n", message.Role, message.Text)
	}
	return prompt
}
