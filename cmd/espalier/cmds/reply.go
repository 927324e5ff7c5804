package cmds

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func newReplyCommand() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "reply <conversation> <text...>",
		Short: "Append a message to the active leaf",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := conversation.Role(role)
			switch r {
			case conversation.RoleUser, conversation.RoleAssistant, conversation.RoleSystem:
			default:
				return errors.Errorf("unknown role %q (want user, assistant, or system)", role)
			}

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			id, err := resolveConversation(ctx, svc, args[0])
			if err != nil {
				return err
			}

			msg := conversation.NewMessage(r, strings.Join(args[1:], " "))
			if _, err := svc.AppendToLeaf(ctx, id, msg); err != nil {
				return err
			}
			flushAudit(svc, id)

			fmt.Printf("%.8s appended\n", msg.ID.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(conversation.RoleUser), "Message role (user, assistant, system)")
	return cmd
}
