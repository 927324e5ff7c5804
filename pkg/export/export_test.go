package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func forkedConversation(t *testing.T) *conversation.Conversation {
	t.Helper()

	u1 := conversation.NewMessage(conversation.RoleUser, "what is a monad")
	a1 := conversation.NewMessage(conversation.RoleAssistant, "a monoid in the category of endofunctors")
	conv := conversation.New(
		conversation.WithTitle("category theory"),
		conversation.WithThread(conversation.Thread{u1, a1}),
	)

	_, err := conv.Apply(conversation.MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := conversation.NewMessage(conversation.RoleAssistant, "a burrito, roughly")
	_, err = conv.Apply(conversation.MutateInsertAfter(u1.ID, alt))
	require.NoError(t, err)

	return conv
}

func TestMarkdown_ActivePathOnly(t *testing.T) {
	conv := forkedConversation(t)

	out, err := Markdown(conv, Options{})
	require.NoError(t, err)

	assert.Contains(t, out, "# category theory")
	assert.Contains(t, out, "**user**: what is a monad")
	assert.Contains(t, out, "a burrito, roughly")
	assert.NotContains(t, out, "monoid in the category")
}

func TestMarkdown_IncludeBranches(t *testing.T) {
	conv := forkedConversation(t)

	out, err := Markdown(conv, Options{IncludeBranches: true})
	require.NoError(t, err)

	assert.Contains(t, out, `## Alternatives after "what is a monad"`)
	assert.Contains(t, out, "### Branch 1")
	assert.Contains(t, out, "a monoid in the category of endofunctors")
}

func TestMarkdown_UntitledDefault(t *testing.T) {
	conv := conversation.New(conversation.WithThread(conversation.Thread{
		conversation.NewMessage(conversation.RoleUser, "hi"),
	}))

	out, err := Markdown(conv, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "# Untitled conversation")
}

func TestMarkdown_CustomTemplate(t *testing.T) {
	conv := forkedConversation(t)

	out, err := Markdown(conv, Options{Template: `{{ .Title }}|{{ len .Messages }}`})
	require.NoError(t, err)
	assert.Equal(t, "category theory|2", out)
}

func TestMarkdown_FailedGeneration(t *testing.T) {
	msg := conversation.NewMessage(conversation.RoleAssistant, "partial answer",
		conversation.WithGeneration(&conversation.GenerationInfo{
			Status: conversation.GenerationError,
			Error:  "connection reset",
		}))
	conv := conversation.New(conversation.WithThread(conversation.Thread{
		conversation.NewMessage(conversation.RoleUser, "hi"),
		msg,
	}))

	out, err := Markdown(conv, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "partial answer")
	assert.Contains(t, out, "> generation failed: connection reset")
}

func TestExtractCodeBlocks(t *testing.T) {
	markdown := "intro\n\n```go\nfunc main() {}\n```\n\ntext\n\n```\nplain\n```\n"

	blocks, err := ExtractCodeBlocks(markdown)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, "go", blocks[0].Language)
	assert.Contains(t, blocks[0].Code, "func main() {}")
	assert.Equal(t, "", blocks[1].Language)
	assert.Contains(t, blocks[1].Code, "plain")
}

func TestSourceBlocks(t *testing.T) {
	conv := conversation.New(conversation.WithThread(conversation.Thread{
		conversation.NewMessage(conversation.RoleUser, "write hello world\n\n```python\nignored\n```"),
		conversation.NewMessage(conversation.RoleAssistant, "sure:\n\n```go\nfmt.Println(\"hello\")\n```\n"),
	}))

	out, err := SourceBlocks(conv)
	require.NoError(t, err)

	assert.Contains(t, out, "```go\nfmt.Println(\"hello\")\n```")
	assert.NotContains(t, out, "ignored")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "my-chat-part-2", Slug("My Chat: Part 2!"))
	assert.Equal(t, "untitled", Slug(""))
	assert.Equal(t, "untitled", Slug("???"))
}

func TestAutosaver_Save(t *testing.T) {
	dir := t.TempDir()
	saver := NewAutosaver(dir, `{{.Slug}}.md`)
	conv := forkedConversation(t)

	require.NoError(t, saver.Save(conv))

	content, err := os.ReadFile(filepath.Join(dir, "category-theory.md"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "# category theory")
	assert.Contains(t, string(content), "a burrito, roughly")
}
