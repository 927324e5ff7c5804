package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/generation"
	"github.com/go-go-golems/espalier/pkg/generation/ollama"
	"github.com/go-go-golems/espalier/pkg/generation/openai"
	"github.com/go-go-golems/espalier/pkg/service"
)

func newGenerateCommand() *cobra.Command {
	var (
		provider    string
		model       string
		anchor      string
		temperature float64
		maxTokens   int
		staticReply string
	)

	cmd := &cobra.Command{
		Use:   "generate <conversation>",
		Short: "Stream an assistant reply onto the active path",
		Long: `Ask the configured model provider for a reply to the active path and
stream it to stdout as it arrives. Ctrl-C interrupts the run; the text
received so far stays in the conversation, marked as cancelled.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			id, err := resolveConversation(ctx, svc, args[0])
			if err != nil {
				return err
			}

			anchorID := conversation.NullNode
			if anchor != "" {
				conv, ok, err := svc.Get(ctx, id)
				if err != nil {
					return err
				}
				if !ok {
					return errors.Errorf("conversation %s not found", id)
				}
				anchorID, err = resolveNode(conv, anchor)
				if err != nil {
					return err
				}
			}

			done := make(chan string, 1)
			finish := func(outcome string) {
				select {
				case done <- outcome:
				default:
				}
			}
			router.AddHandler("cli-stream", events.ConversationTopic(id), func(msg *message.Message) error {
				msg.Ack()

				e, err := events.NewEventFromJson(msg.Payload)
				if err != nil {
					return err
				}
				switch e_ := e.(type) {
				case *events.EventPartialCompletion:
					fmt.Print(e_.Delta)
				case *events.EventFinal:
					fmt.Println()
					finish("complete")
				case *events.EventInterrupt:
					fmt.Println()
					finish("cancelled")
				case *events.EventError:
					fmt.Println()
					finish("error: " + e_.ErrorString)
				}
				return nil
			})

			routerCtx, cancelRouter := context.WithCancel(context.Background())
			defer cancelRouter()
			go func() {
				if err := router.Run(routerCtx); err != nil {
					log.Warn().Err(err).Msg("event router stopped")
				}
			}()
			<-router.Running()

			options := service.GenerateOptions{Provider: provider, Model: model}
			if cmd.Flags().Changed("temperature") {
				options.Temperature = &temperature
			}
			if cmd.Flags().Changed("max-tokens") {
				options.MaxTokens = &maxTokens
			}

			nodeID, err := svc.Generate(ctx, id, anchorID, options)
			if err != nil {
				return err
			}

			var outcome string
			select {
			case outcome = <-done:
			case <-ctx.Done():
				if svc.CancelGeneration(id) {
					select {
					case outcome = <-done:
					case <-time.After(5 * time.Second):
						outcome = "cancelled"
					}
				} else {
					outcome = "cancelled"
				}
			}

			// Close drains the queue, so the reply is recorded before we
			// report or flush anything.
			cleanup()
			closed = true
			flushAudit(svc, id)

			log.Info().
				Str("node", nodeID.String()).
				Str("outcome", outcome).
				Msg("generation finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "openai", "Model provider (openai, ollama, static)")
	cmd.Flags().StringVar(&model, "model", "gpt-4", "Model to ask for")
	cmd.Flags().StringVar(&anchor, "anchor", "", "Generate after this message instead of the active leaf")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Cap the reply length")
	cmd.Flags().StringVar(&staticReply, "static-reply", "ok.", "Reply text for the static provider")
	return cmd
}

func buildEngine(provider, staticReply string) (generation.Engine, error) {
	switch provider {
	case "openai":
		key := viper.GetString("openai-api-key")
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("no OpenAI API key configured (use --openai-api-key or OPENAI_API_KEY)")
		}
		e, err := openai.NewEngine(key)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "ollama":
		e, err := ollama.NewEngineFromEnvironment()
		if err != nil {
			return nil, err
		}
		return e, nil
	case "static":
		return generation.NewStaticEngine(
			strings.SplitAfter(staticReply, " "),
			generation.WithChunkInterval(50*time.Millisecond),
		), nil
	default:
		return nil, errors.Errorf("unknown provider %q (want openai, ollama, or static)", provider)
	}
}
