package chatgpt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

const (
	rootID = "aaaaaaaa-0000-0000-0000-000000000001"
	u1ID   = "aaaaaaaa-0000-0000-0000-000000000002"
	a1ID   = "aaaaaaaa-0000-0000-0000-000000000003"
	a2ID   = "aaaaaaaa-0000-0000-0000-000000000004"
	u2ID   = "aaaaaaaa-0000-0000-0000-000000000005"
)

// The share payload models one regeneration: the user question has two
// assistant replies, the first of which continues into a follow-up.
const linearShareJSON = `{
  "props": {
    "pageProps": {
      "sharedConversationId": "share-1234",
      "serverResponse": {
        "data": {
          "title": "monads",
          "create_time": 1700000000.5,
          "update_time": 1700000100.5,
          "linear_conversation": [
            {"id": "` + rootID + `", "parent": "", "children": ["` + u1ID + `"],
             "message": {"id": "` + rootID + `", "author": {"role": "system"}, "content": {"content_type": "text", "parts": [""]}}},
            {"id": "` + u1ID + `", "parent": "` + rootID + `", "children": ["` + a1ID + `", "` + a2ID + `"],
             "message": {"id": "` + u1ID + `", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["what is a monad"]}, "create_time": 1700000010}},
            {"id": "` + a1ID + `", "parent": "` + u1ID + `", "children": ["` + u2ID + `"],
             "message": {"id": "` + a1ID + `", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["a monoid in the category of endofunctors"]}, "create_time": 1700000020}},
            {"id": "` + a2ID + `", "parent": "` + u1ID + `", "children": [],
             "message": {"id": "` + a2ID + `", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["a burrito, roughly"]}, "create_time": 1700000030}},
            {"id": "` + u2ID + `", "parent": "` + a1ID + `", "children": [],
             "message": {"id": "` + u2ID + `", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["thanks"]}, "create_time": 1700000040}}
          ]
        }
      }
    }
  }
}`

const mappingShareJSON = `{
  "props": {
    "pageProps": {
      "sharedConversationId": "share-1234",
      "serverResponse": {
        "data": {
          "title": "monads",
          "create_time": 1700000000.5,
          "update_time": 1700000100.5,
          "mapping": {
            "` + rootID + `": {"parent": "", "children": ["` + u1ID + `"],
             "message": {"id": "` + rootID + `", "author": {"role": "system"}, "content": {"content_type": "text", "parts": [""]}}},
            "` + u1ID + `": {"parent": "` + rootID + `", "children": ["` + a1ID + `", "` + a2ID + `"],
             "message": {"id": "` + u1ID + `", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["what is a monad"]}}},
            "` + a1ID + `": {"parent": "` + u1ID + `", "children": ["` + u2ID + `"],
             "message": {"id": "` + a1ID + `", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["a monoid in the category of endofunctors"]}}},
            "` + a2ID + `": {"parent": "` + u1ID + `", "children": [],
             "message": {"id": "` + a2ID + `", "author": {"role": "assistant"}, "content": {"content_type": "text", "parts": ["a burrito, roughly"]}}},
            "` + u2ID + `": {"parent": "` + a1ID + `", "children": [],
             "message": {"id": "` + u2ID + `", "author": {"role": "user"}, "content": {"content_type": "text", "parts": ["thanks"]}}}
          }
        }
      }
    }
  }
}`

func sharePageHTML(dataJSON string) []byte {
	return []byte(`<html><head><title>shared</title></head><body><div id="app"></div>` +
		`<script id="__NEXT_DATA__" type="application/json">` + dataJSON + `</script></body></html>`)
}

func TestParseSharePage(t *testing.T) {
	doc, err := ParseSharePage(sharePageHTML(linearShareJSON))
	require.NoError(t, err)
	assert.Equal(t, "monads", doc.Title)
	assert.Len(t, doc.Nodes(), 5)
}

func TestParseSharePageRejectsOtherHTML(t *testing.T) {
	_, err := ParseSharePage([]byte(`<html><body><p>hello</p></body></html>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "__NEXT_DATA__")
}

func assertImportedShape(t *testing.T, conv *conversation.Conversation) {
	t.Helper()

	require.Equal(t, "monads", conv.Title)
	require.Equal(t, 4, conv.MessageCount())

	path := conv.ActivePath()
	require.Len(t, path, 3)
	assert.Equal(t, u1ID, path[0].ID.String())
	assert.Equal(t, a1ID, path[1].ID.String())
	assert.Equal(t, u2ID, path[2].ID.String())
	assert.Equal(t, conversation.RoleUser, path[0].Role)
	assert.Equal(t, conversation.RoleAssistant, path[1].Role)
	assert.True(t, path[0].ParentID.IsNull())

	entry, ok := conv.Fork(path[0].ID)
	require.True(t, ok)
	require.Len(t, entry.Branches, 2)
	assert.Equal(t, 0, entry.ActiveIndex)
	assert.Empty(t, entry.Branches[0].Messages)

	stored := entry.Branches[1]
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, a2ID, stored.Messages[0].ID.String())
	assert.Equal(t, "a burrito, roughly", stored.Messages[0].Text)
	assert.Equal(t, path[0].ID, stored.Messages[0].ParentID)
}

func TestToConversationMapsForks(t *testing.T) {
	doc, err := ParseSharePage(sharePageHTML(linearShareJSON))
	require.NoError(t, err)

	conv, err := ToConversation(doc)
	require.NoError(t, err)

	assertImportedShape(t, conv)
	assert.Equal(t, int64(1700000000), conv.Created.Unix())
	assert.Equal(t, int64(1700000100), conv.Updated.Unix())
	assert.Equal(t, int64(1700000010), conv.ActivePath()[0].Time.Unix())
}

func TestToConversationMappingEncoding(t *testing.T) {
	doc, err := ParseSharePage(sharePageHTML(mappingShareJSON))
	require.NoError(t, err)
	require.Empty(t, doc.LinearConversation)

	conv, err := ToConversation(doc)
	require.NoError(t, err)
	assertImportedShape(t, conv)
}

func TestToConversationRejectsCycles(t *testing.T) {
	doc := &SharedConversation{
		LinearConversation: []Node{
			{ID: u1ID, Children: []string{a1ID},
				Message: Message{Author: Author{Role: "user"}, Content: Content{Parts: []string{"hello"}}}},
			{ID: a1ID, Parent: u1ID, Children: []string{u1ID},
				Message: Message{Author: Author{Role: "assistant"}, Content: Content{Parts: []string{"hi"}}}},
		},
	}
	_, err := ToConversation(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "share.html")
	require.NoError(t, os.WriteFile(path, sharePageHTML(linearShareJSON), 0o644))

	doc, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "monads", doc.Title)
}

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(sharePageHTML(linearShareJSON))
	}))
	defer srv.Close()

	doc, err := Load(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "monads", doc.Title)
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
