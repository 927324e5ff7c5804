package cmds

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/espalier/cmd/espalier/cmds/browse"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/service"
)

func newBrowseCommand() *cobra.Command {
	var (
		provider    string
		model       string
		staticReply string
	)

	cmd := &cobra.Command{
		Use:   "browse <conversation>",
		Short: "Browse the conversation tree interactively",
		Long: `Open the conversation in an interactive tree browser. Move the cursor
with the arrow keys, switch branches with left/right, fork with f, remove
subtrees with d, undo with u, and stream a reply with g.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine(provider, staticReply)
			if err != nil {
				return err
			}

			router, err := events.NewEventRouter()
			if err != nil {
				return err
			}
			defer func() {
				_ = router.Close()
			}()

			svc, cleanup, err := openService(
				service.WithEventRouter(router),
				service.WithEngine(engine),
				service.WithStoreWatch(),
			)
			if err != nil {
				return err
			}
			closed := false
			defer func() {
				if !closed {
					cleanup()
				}
			}()

			ctx := cmd.Context()
			id, err := resolveConversation(ctx, svc, args[0])
			if err != nil {
				return err
			}

			options := service.GenerateOptions{Provider: provider, Model: model}
			p := tea.NewProgram(
				browse.New(svc, id, options),
				tea.WithAltScreen(),
			)

			router.AddHandler("browse", events.ConversationTopic(id), events.DispatchHandler(browse.NewForwarder(p)))

			routerCtx, cancelRouter := context.WithCancel(context.Background())
			defer cancelRouter()
			go func() {
				if err := router.Run(routerCtx); err != nil {
					log.Warn().Err(err).Msg("event router stopped")
				}
			}()
			<-router.Running()

			if _, err := p.Run(); err != nil {
				return err
			}

			// Close drains pending work before the journal is flushed.
			cleanup()
			closed = true
			flushAudit(svc, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "static", "Model provider for g (openai, ollama, static)")
	cmd.Flags().StringVar(&model, "model", "gpt-4", "Model to ask for")
	cmd.Flags().StringVar(&staticReply, "static-reply", "this is a canned reply from the static provider.", "Reply text for the static provider")
	return cmd
}
