package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func newRemoveCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove <conversation> <node>",
		Short: "Remove a message and its whole subtree",
		Long: `Remove the message, every message after it, and every branch hanging off
the removed run. The previous state is kept in the undo slot; espalier undo
brings it back.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			conv, err := loadConversation(ctx, svc, args[0])
			if err != nil {
				return err
			}
			nodeID, err := resolveNode(conv, args[1])
			if err != nil {
				return err
			}

			if !force {
				ok, err := confirm(fmt.Sprintf("Remove %.8s and everything under it from %q?", nodeID.String(), conv.Title))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("aborted")
					return nil
				}
			}

			changes, err := svc.Do(ctx, conv.ID, conversation.MutateRemoveWithCascade(nodeID))
			if err != nil {
				return err
			}
			flushAudit(svc, conv.ID)

			if len(changes.Removed) == 0 {
				fmt.Println("nothing removed")
				return nil
			}
			armUndoSlot(conv)

			fmt.Printf("removed %d messages (espalier undo restores them)\n", len(changes.Removed))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}
