package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/glazed/pkg/helpers/templating"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

const defaultAutosaveFormat = `{{.Year}}/{{.Month}}/{{.Day}}/{{.Time.Format "150405"}}-{{.Slug}}.md`

// Autosaver writes markdown snapshots of conversations to templated paths
// under its directory. The path template sees the conversation's creation
// time, so repeated saves of one conversation land on the same file.
type Autosaver struct {
	dir    string
	format string
}

func NewAutosaver(dir string, format string) *Autosaver {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		dir = filepath.Join(homeDir, ".espalier", "history")
	}
	if format == "" {
		format = defaultAutosaveFormat
	}

	return &Autosaver{
		dir:    dir,
		format: format,
	}
}

func (a *Autosaver) Save(conv *conversation.Conversation) error {
	if conv == nil {
		return errors.New("conversation is nil")
	}

	data := map[string]interface{}{
		"Year":           conv.Created.Format("2006"),
		"Month":          conv.Created.Format("01"),
		"Day":            conv.Created.Format("02"),
		"Time":           conv.Created,
		"ConversationID": conv.ID.String(),
		"Title":          conv.Title,
		"Slug":           Slug(conv.Title),
	}

	tmpl, err := templating.CreateTemplate("autosave").Parse(a.format)
	if err != nil {
		return errors.Wrap(err, "failed to parse autosave path template")
	}

	var pathBuffer strings.Builder
	if err := tmpl.Execute(&pathBuffer, data); err != nil {
		return errors.Wrap(err, "failed to render autosave path")
	}

	content, err := Markdown(conv, Options{IncludeBranches: true})
	if err != nil {
		return err
	}

	fullPath := filepath.Join(a.dir, pathBuffer.String())
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	log.Trace().
		Str("path", fullPath).
		Str("conversation_id", conv.ID.String()).
		Msg("autosaving conversation")

	return os.WriteFile(fullPath, []byte(content), 0644)
}

// Slug derives a filesystem-safe name fragment from a conversation title.
func Slug(title string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return r
		default:
			return ' '
		}
	}, title)

	slug := strcase.ToKebab(strings.Join(strings.Fields(cleaned), " "))
	if slug == "" {
		return "untitled"
	}
	return slug
}
