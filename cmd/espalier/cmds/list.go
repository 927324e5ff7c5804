package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type ListSettings struct {
	Pattern string `glazed.parameter:"pattern"`
}

type ListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ListCommand)(nil)

func NewListCommand() (*ListCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &ListCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List conversations"),
			cmds.WithLong("List stored conversations, newest first. The pattern glob-filters titles."),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"pattern",
					parameters.ParameterTypeString,
					parameters.WithHelp("Glob pattern matched against conversation titles"),
					parameters.WithDefault(""),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &ListSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	svc, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	infos, err := svc.List(ctx, s.Pattern)
	if err != nil {
		return err
	}

	for _, info := range infos {
		row := types.NewRow(
			types.MRP("id", info.ID.String()),
			types.MRP("title", info.Title),
			types.MRP("messages", info.MessageCount),
			types.MRP("version", info.Version),
			types.MRP("created", info.Created.Format(time.RFC3339)),
			types.MRP("updated", info.Updated.Format(time.RFC3339)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
