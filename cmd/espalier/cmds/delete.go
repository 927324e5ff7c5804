package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <conversation>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
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

			if !force {
				ok, err := confirm(fmt.Sprintf("Delete %q (%d messages)? This cannot be undone.", conv.Title, conv.MessageCount()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("aborted")
					return nil
				}
			}

			if err := svc.DeleteConversation(ctx, conv.ID); err != nil {
				return err
			}
			clearUndoSlot(conv.ID)

			fmt.Printf("deleted %s\n", conv.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}
