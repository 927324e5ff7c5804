package cmds

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type LogSettings struct {
	Conversation string `glazed.parameter:"conversation"`
	Tail         int    `glazed.parameter:"tail"`
}

type LogCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*LogCommand)(nil)

func NewLogCommand() (*LogCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &LogCommand{
		CommandDescription: cmds.NewCommandDescription(
			"log",
			cmds.WithShort("Show the mutation log"),
			cmds.WithLong("Show recent mutations, oldest first. Every mutating espalier command appends here."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"tail",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Show only the last N entries (0 shows all)"),
					parameters.WithDefault(20),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversation",
					parameters.ParameterTypeString,
					parameters.WithHelp("Show only this conversation (ID or ID prefix)"),
					parameters.WithDefault(""),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *LogCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &LogSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	entries, err := readAudit()
	if err != nil {
		return err
	}

	if s.Conversation != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if strings.HasPrefix(e.Conversation.String(), s.Conversation) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if s.Tail > 0 && len(entries) > s.Tail {
		entries = entries[len(entries)-s.Tail:]
	}

	for _, e := range entries {
		row := types.NewRow(
			types.MRP("id", e.ID.String()),
			types.MRP("conversation", e.Conversation.String()),
			types.MRP("mutation", e.Name),
			types.MRP("at", e.At.Format(time.RFC3339)),
			types.MRP("added", e.Added),
			types.MRP("removed", e.Removed),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
