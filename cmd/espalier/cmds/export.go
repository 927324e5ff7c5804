package cmds

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/pkg/export"
)

func newExportCommand() *cobra.Command {
	var (
		output           string
		includeBranches  bool
		onlyAssistant    bool
		onlySourceBlocks bool
		templateFile     string
	)

	cmd := &cobra.Command{
		Use:   "export <conversation>",
		Short: "Export a conversation as markdown",
		Long: `Render the active path (and optionally the stored branches) of a
conversation as a markdown document. --only-source-blocks extracts the
fenced code blocks instead.`,
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

			var text string
			if onlySourceBlocks {
				text, err = export.SourceBlocks(conv)
			} else {
				options := export.Options{
					IncludeBranches: includeBranches,
					OnlyAssistant:   onlyAssistant,
				}
				if templateFile != "" {
					data, err := os.ReadFile(templateFile)
					if err != nil {
						return errors.Wrapf(err, "failed to read template %s", templateFile)
					}
					options.Template = string(data)
				}
				text, err = export.Markdown(conv, options)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				fmt.Print(text)
				return nil
			}
			if err := os.WriteFile(output, []byte(text), 0o644); err != nil {
				return errors.Wrapf(err, "failed to write %s", output)
			}
			log.Info().Str("path", output).Msg("exported conversation")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&includeBranches, "include-branches", false, "Append the stored branches of every fork point")
	cmd.Flags().BoolVar(&onlyAssistant, "only-assistant", false, "Drop everything but assistant messages")
	cmd.Flags().BoolVar(&onlySourceBlocks, "only-source-blocks", false, "Extract fenced code blocks instead of the document")
	cmd.Flags().StringVar(&templateFile, "template", "", "Render with this template file instead of the built-in one")
	return cmd
}
