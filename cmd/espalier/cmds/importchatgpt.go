package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/chatgpt"
	"github.com/go-go-golems/espalier/pkg/store"
)

func newImportChatGPTCommand() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "import-chatgpt <url-or-file>",
		Short: "Import a ChatGPT share page",
		Long: `Import a chatgpt.com share link, or a saved copy of the page, as a new
conversation. Alternative answers in the share become stored branches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			doc, err := chatgpt.Load(ctx, args[0])
			if err != nil {
				return err
			}
			conv, err := chatgpt.ToConversation(doc)
			if err != nil {
				return err
			}
			if title != "" {
				conv.Title = title
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = st.Close()
			}()

			if err := st.Put(ctx, conv, store.SaveOptions{Source: "import"}); err != nil {
				return err
			}

			fmt.Printf("%s  %s  (%d messages)\n", conv.ID, conv.Title, conv.MessageCount())
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Override the imported title")
	return cmd
}
