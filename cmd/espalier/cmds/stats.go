package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/tokens"
)

type StatsSettings struct {
	Conversations []string `glazed.parameter:"conversations"`
	Model         string   `glazed.parameter:"model"`
}

type StatsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*StatsCommand)(nil)

func NewStatsCommand() (*StatsCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &StatsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"stats",
			cmds.WithShort("Token and branch statistics per conversation"),
			cmds.WithLong(`Count messages, branches, and tokens per conversation. Path tokens cover
the active path, the tokens a generation request would spend; total tokens
cover every stored branch as well.`),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"model",
					parameters.ParameterTypeString,
					parameters.WithHelp("Tokenize for this model"),
					parameters.WithDefault("gpt-4"),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversations",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Conversations to inspect (default: all)"),
					parameters.WithDefault([]string{}),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *StatsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &StatsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	svc, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	var ids []conversation.ConversationID
	if len(s.Conversations) == 0 {
		infos, err := svc.List(ctx, "")
		if err != nil {
			return err
		}
		for _, info := range infos {
			ids = append(ids, info.ID)
		}
	} else {
		for _, arg := range s.Conversations {
			id, err := resolveConversation(ctx, svc, arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		conv, ok, err := svc.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("conversation %s not found", id)
		}

		forks := len(conv.Forks)
		storedBranches := 0
		for _, entry := range conv.Forks {
			for _, b := range entry.Branches {
				if len(b.Messages) > 0 {
					storedBranches++
				}
			}
		}

		activePath := conv.ActivePath()
		pathTokens, err := tokens.CountThread(s.Model, activePath)
		if err != nil {
			return errors.Wrapf(err, "failed to tokenize conversation %s", id)
		}
		totalTokens, err := tokens.CountThread(s.Model, conv.AllMessages())
		if err != nil {
			return errors.Wrapf(err, "failed to tokenize conversation %s", id)
		}

		row := types.NewRow(
			types.MRP("id", conv.ID.String()),
			types.MRP("title", conv.Title),
			types.MRP("messages", conv.MessageCount()),
			types.MRP("forks", forks),
			types.MRP("stored_branches", storedBranches),
			types.MRP("path_messages", len(activePath)),
			types.MRP("path_tokens", pathTokens),
			types.MRP("total_tokens", totalTokens),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
