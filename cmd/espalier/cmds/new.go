package cmds

import (
	"fmt"
	"strings"

	"github.com/lithammer/shortuuid/v3"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func newNewCommand() *cobra.Command {
	var systemPrompt string
	var userMessage string

	cmd := &cobra.Command{
		Use:   "new [title...]",
		Short: "Create a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			title := strings.Join(args, " ")
			if title == "" {
				title = "conversation-" + shortuuid.New()
			}

			var seed []*conversation.Message
			if systemPrompt != "" {
				seed = append(seed, conversation.NewMessage(conversation.RoleSystem, systemPrompt))
			}
			if userMessage != "" {
				seed = append(seed, conversation.NewMessage(conversation.RoleUser, userMessage))
			}

			conv, err := svc.CreateConversation(cmd.Context(), title, seed...)
			if err != nil {
				return err
			}

			fmt.Printf("%s  %s\n", conv.ID, conv.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&systemPrompt, "system", "", "Seed the conversation with a system prompt")
	cmd.Flags().StringVar(&userMessage, "message", "", "Seed the conversation with a first user message")

	return cmd
}
