package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

func newSwitchCommand() *cobra.Command {
	var prev bool
	var to int

	cmd := &cobra.Command{
		Use:   "switch <conversation> <node>",
		Short: "Switch the active branch at a fork point",
		Long: `Cycle the active branch of the fork point anchored at the given message.
By default the next branch becomes active, wrapping around at the end;
--prev cycles backwards and --to jumps to a branch by its [i/n] number.`,
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

			var m conversation.Mutation
			if to > 0 {
				entry, ok := conv.Fork(nodeID)
				if !ok {
					return errors.Errorf("message %.8s is not a fork point", nodeID.String())
				}
				if to > len(entry.Branches) {
					return errors.Errorf("fork at %.8s has %d branches, not %d", nodeID.String(), len(entry.Branches), to)
				}
				m = conversation.MutateSwitchForkTo(nodeID, entry.Branches[to-1].ID)
			} else {
				dir := conversation.SwitchNext
				if prev {
					dir = conversation.SwitchPrev
				}
				m = conversation.MutateSwitchFork(nodeID, dir)
			}

			if _, err := svc.Do(ctx, conv.ID, m); err != nil {
				return err
			}
			flushAudit(svc, conv.ID)

			updated, ok, err := svc.Get(ctx, conv.ID)
			if err != nil {
				return err
			}
			if ok {
				if leaf := updated.ActiveLeaf(); leaf != nil {
					fmt.Printf("active path now ends at %.8s\n", leaf.ID.String())
					return nil
				}
			}
			fmt.Println("switched")
			return nil
		},
	}

	cmd.Flags().BoolVar(&prev, "prev", false, "Cycle backwards instead of forwards")
	cmd.Flags().IntVar(&to, "to", 0, "Jump to the branch with this number (1-based)")
	return cmd
}
