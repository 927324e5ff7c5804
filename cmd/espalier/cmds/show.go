package cmds

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/tree"
)

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <conversation>",
		Short: "Print the conversation tree",
		Long: `Print the conversation as an indented tree. Lines marked with * lie on
the active path; [i/n] badges mark the branches of a fork point.`,
		Args: cobra.ExactArgs(1),
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

			tr, err := svc.GetTree(ctx, conv.ID)
			if err != nil {
				return err
			}

			fmt.Printf("%s  (version %d, %d messages)\n", conv.Title, conv.Version, conv.MessageCount())
			if tr.Len() == 0 {
				fmt.Println("  (empty)")
				return nil
			}
			fmt.Println()
			for _, f := range tr.Flatten() {
				fmt.Println(formatTreeLine(f))
			}
			return nil
		},
	}
	return cmd
}

func formatTreeLine(f tree.FlatNode) string {
	marker := " "
	if f.Node.OnActivePath {
		marker = "*"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%.8s %s %s%-9s  %s",
		f.Node.ID.String(), marker, strings.Repeat("  ", f.Depth), f.Node.Role, f.Node.Preview)
	if f.Node.BranchCount > 1 {
		fmt.Fprintf(&b, "  [%d/%d]", f.Node.BranchIndex+1, f.Node.BranchCount)
	}
	if f.Node.Failed {
		b.WriteString("  (failed)")
	}
	return b.String()
}
