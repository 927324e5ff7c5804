package cmds

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/store"
)

func newUndoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <conversation>",
		Short: "Restore the last cascade removal",
		Long: `Restore the conversation to its state before the most recent remove.
Only the latest removal is kept; a second undo has nothing to restore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := resolveConversation(ctx, svc, args[0])
			if err != nil {
				cleanup()
				return err
			}

			restored, err := svc.Undo(ctx, id)
			if err != nil {
				cleanup()
				return err
			}
			if restored {
				flushAudit(svc, id)
				cleanup()
				fmt.Println("restored")
				return nil
			}
			cleanup()

			// The service slot is per process; fall back to the slot a
			// previous invocation left on disk.
			snapshot, ok := takeUndoSlot(id)
			if !ok {
				fmt.Println("nothing to undo")
				return nil
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = st.Close()
			}()

			current, found, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			if found {
				snapshot.Version = current.Version + 1
			} else {
				snapshot.Version++
			}
			snapshot.Updated = time.Now()

			if err := st.Put(ctx, snapshot, store.SaveOptions{Source: "undo"}); err != nil {
				return err
			}
			fmt.Println("restored")
			return nil
		},
	}
	return cmd
}
