package export

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

type CodeBlock struct {
	Language string
	Code     string
}

// ExtractCodeBlocks returns the fenced code blocks of a markdown document in
// order of appearance.
func ExtractCodeBlocks(markdownText string) ([]CodeBlock, error) {
	source := []byte(markdownText)
	document := goldmark.DefaultParser().Parse(
		text.NewReader(source),
	)

	var blocks []CodeBlock
	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		code := ""
		if v.Lines().Len() > 0 {
			code = string(source[v.Lines().At(0).Start:v.Lines().At(v.Lines().Len()-1).Stop])
		}
		blocks = append(blocks, CodeBlock{
			Language: string(v.Language(source)),
			Code:     code,
		})
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	return blocks, nil
}

// SourceBlocks re-fences the code blocks of every assistant message on the
// active path, in path order.
func SourceBlocks(conv *conversation.Conversation) (string, error) {
	var out strings.Builder
	for _, msg := range conv.ActivePath() {
		if msg.Role != conversation.RoleAssistant {
			continue
		}
		blocks, err := ExtractCodeBlocks(msg.Text)
		if err != nil {
			return "", err
		}
		for _, block := range blocks {
			out.WriteString("```" + block.Language + "\n")
			out.WriteString(strings.TrimRight(block.Code, "\n"))
			out.WriteString("\n```\n\n")
		}
	}
	return out.String(), nil
}
