package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/store"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the conversation record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := store.Schema()
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
