package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <conversation> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			title := strings.Join(args[1:], " ")
			if err := svc.Rename(ctx, id, title); err != nil {
				return err
			}

			fmt.Printf("renamed %.8s to %q\n", id.String(), title)
			return nil
		},
	}
	return cmd
}
