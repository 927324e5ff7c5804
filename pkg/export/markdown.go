// Package export renders conversation records into markdown documents and
// extracts source blocks from them.
package export

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// Options control the markdown rendering.
type Options struct {
	// IncludeBranches appends the stored alternatives of every fork point
	// after the active path.
	IncludeBranches bool

	// OnlyAssistant drops everything but assistant messages.
	OnlyAssistant bool

	// Template overrides the built-in document template.
	Template string
}

const defaultTemplate = `# {{ .Title | default "Untitled conversation" }}

{{ range .Messages -}}
**{{ .Role }}**: {{ .Text }}

{{ end -}}
{{- if .Forks }}
---

{{ range .Forks -}}
## Alternatives after "{{ .Anchor }}"

{{ range .Branches -}}
### Branch {{ .Number }}

{{ range .Messages -}}
**{{ .Role }}**: {{ .Text }}

{{ end -}}
{{ end -}}
{{ end -}}
{{ end -}}
`

type messageData struct {
	Role   string
	Text   string
	Failed bool
}

type branchData struct {
	Number   int
	Messages []messageData
}

type forkData struct {
	Anchor   string
	Branches []branchData
}

type documentData struct {
	Title    string
	ID       string
	Messages []messageData
	Forks    []forkData
}

// Markdown renders the active path of the conversation, and optionally its
// stored branches, into a markdown document.
func Markdown(conv *conversation.Conversation, options Options) (string, error) {
	if conv == nil {
		return "", errors.New("conversation is nil")
	}

	tmplText := options.Template
	if tmplText == "" {
		tmplText = defaultTemplate
	}
	tmpl, err := template.New("conversation").Funcs(sprig.TxtFuncMap()).Parse(tmplText)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse export template")
	}

	data := documentData{
		Title: conv.Title,
		ID:    conv.ID.String(),
	}
	for _, msg := range conv.ActivePath() {
		if options.OnlyAssistant && msg.Role != conversation.RoleAssistant {
			continue
		}
		data.Messages = append(data.Messages, messageView(msg))
	}
	if options.IncludeBranches {
		data.Forks = forkSections(conv, options)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to render conversation")
	}

	return buf.String(), nil
}

func messageView(msg *conversation.Message) messageData {
	text := msg.Text
	if msg.Failed() {
		text = strings.TrimRight(text, "\n")
		if msg.Generation != nil && msg.Generation.Error != "" {
			text += "\n\n> generation failed: " + msg.Generation.Error
		} else {
			text += "\n\n> generation cancelled"
		}
	}
	return messageData{
		Role:   string(msg.Role),
		Text:   text,
		Failed: msg.Failed(),
	}
}

// forkSections walks messages in document order so the rendered alternatives
// come out deterministically, not in map iteration order.
func forkSections(conv *conversation.Conversation, options Options) []forkData {
	var sections []forkData
	for _, msg := range conv.AllMessages() {
		entry, ok := conv.Fork(msg.ID)
		if !ok {
			continue
		}

		section := forkData{Anchor: anchorPreview(msg.Text)}
		number := 0
		for i, branch := range entry.Branches {
			if i == entry.ActiveIndex {
				continue
			}
			number++
			b := branchData{Number: number}
			for _, m := range branch.Messages {
				if options.OnlyAssistant && m.Role != conversation.RoleAssistant {
					continue
				}
				b.Messages = append(b.Messages, messageView(m))
			}
			section.Branches = append(section.Branches, b)
		}
		if len(section.Branches) > 0 {
			sections = append(sections, section)
		}
	}
	return sections
}

func anchorPreview(text string) string {
	line := strings.SplitN(strings.TrimSpace(text), "\n", 2)[0]
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}
