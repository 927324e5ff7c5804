package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func newForkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fork <conversation> [node]",
		Short: "Open a new branch at a message",
		Long: `Fork the conversation at the given message. The messages after the fork
point move into a stored branch and the active path is ready for a fresh
continuation. Without a node the fork opens at the parent of the active
leaf, an alternative to the latest message.`,
		Args: cobra.RangeArgs(1, 2),
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

			var nodeID conversation.NodeID
			if len(args) > 1 {
				nodeID, err = resolveNode(conv, args[1])
				if err != nil {
					return err
				}
			} else {
				leaf := conv.ActiveLeaf()
				if leaf == nil {
					return errors.Errorf("conversation %s has no messages", conv.ID)
				}
				if leaf.ParentID.IsNull() {
					return errors.New("a single-message conversation has nothing to fork, name a fork point")
				}
				nodeID = leaf.ParentID
			}

			if _, err := svc.Do(ctx, conv.ID, conversation.MutateCreateFork(nodeID)); err != nil {
				return err
			}
			flushAudit(svc, conv.ID)

			updated, ok, err := svc.Get(ctx, conv.ID)
			if err != nil {
				return err
			}
			if ok {
				if entry, found := updated.Fork(nodeID); found {
					fmt.Printf("forked at %.8s, now %d branches\n", nodeID.String(), len(entry.Branches))
					return nil
				}
			}
			fmt.Printf("forked at %.8s\n", nodeID.String())
			return nil
		},
	}
	return cmd
}
