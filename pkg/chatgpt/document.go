// Package chatgpt imports ChatGPT share pages into conversation records.
//
// A share page embeds the conversation as JSON in a #__NEXT_DATA__ script
// tag. Older pages carry a linear_conversation array, newer ones a mapping
// object; both list nodes with parent and children links, which is enough to
// reconstruct the full tree including regenerated branches.
package chatgpt

import "sort"

// NextData is the outer shell of the embedded JSON document.
type NextData struct {
	Props struct {
		PageProps struct {
			SharedConversationID string `json:"sharedConversationId"`
			ServerResponse       struct {
				SharedConversation `json:"data"`
			} `json:"serverResponse"`
		} `json:"pageProps"`
	} `json:"props"`
}

// SharedConversation is the share payload: title, timestamps, and the node
// tree in whichever encoding the page used.
type SharedConversation struct {
	Title              string          `json:"title"`
	CreateTime         float64         `json:"create_time"`
	UpdateTime         float64         `json:"update_time"`
	LinearConversation []Node          `json:"linear_conversation"`
	Mapping            map[string]Node `json:"mapping"`
}

// Nodes returns the conversation nodes in a deterministic order, preferring
// the linear encoding when both are present.
func (d *SharedConversation) Nodes() []Node {
	if len(d.LinearConversation) > 0 {
		return d.LinearConversation
	}

	out := make([]Node, 0, len(d.Mapping))
	for id, node := range d.Mapping {
		if node.ID == "" {
			node.ID = id
		}
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

type Node struct {
	ID       string   `json:"id"`
	Message  Message  `json:"message"`
	Parent   string   `json:"parent"`
	Children []string `json:"children"`
}

type Message struct {
	ID         string                 `json:"id"`
	Author     Author                 `json:"author"`
	Content    Content                `json:"content"`
	CreateTime float64                `json:"create_time"`
	Status     string                 `json:"status"`
	EndTurn    bool                   `json:"end_turn"`
	Weight     float64                `json:"weight"`
	Metadata   map[string]interface{} `json:"metadata"`
	Recipient  string                 `json:"recipient"`
}

type Author struct {
	Role     string                 `json:"role"`
	Metadata map[string]interface{} `json:"metadata"`
}

type Content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}
