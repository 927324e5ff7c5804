package conversation

import (
	"encoding/json"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NodeID identifies a single message within a conversation.
type NodeID uuid.UUID

var NullNode NodeID = NodeID(uuid.Nil)

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

// MarshalText makes NodeID usable as a map key in JSON documents.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *NodeID) UnmarshalText(data []byte) error {
	u, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) MarshalYAML() (interface{}, error) {
	return uuid.UUID(id).String(), nil
}

func (id *NodeID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(u), nil
}

// ConversationID identifies a conversation record in a store.
type ConversationID uuid.UUID

var NullConversation ConversationID = ConversationID(uuid.Nil)

func NewConversationID() ConversationID {
	return ConversationID(uuid.New())
}

func (id ConversationID) String() string {
	return uuid.UUID(id).String()
}

func (id ConversationID) IsNull() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id ConversationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *ConversationID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func (id ConversationID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *ConversationID) UnmarshalText(data []byte) error {
	u, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func (id ConversationID) MarshalYAML() (interface{}, error) {
	return uuid.UUID(id).String(), nil
}

func (id *ConversationID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func ParseConversationID(s string) (ConversationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NullConversation, err
	}
	return ConversationID(u), nil
}

// BranchID identifies a branch of a fork entry. Branch identity is stable
// from creation: callers must never address branches by slice index, since
// indices shift when branches are promoted or pruned.
type BranchID uuid.UUID

var NullBranch BranchID = BranchID(uuid.Nil)

func NewBranchID() BranchID {
	return BranchID(uuid.New())
}

func (id BranchID) String() string {
	return uuid.UUID(id).String()
}

func (id BranchID) IsNull() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id BranchID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *BranchID) UnmarshalJSON(data []byte) error {
	var u uuid.UUID
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	*id = BranchID(u)
	return nil
}

func (id BranchID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *BranchID) UnmarshalText(data []byte) error {
	u, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*id = BranchID(u)
	return nil
}

func (id BranchID) MarshalYAML() (interface{}, error) {
	return uuid.UUID(id).String(), nil
}

func (id *BranchID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = BranchID(u)
	return nil
}
