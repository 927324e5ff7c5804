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

	"github.com/go-go-golems/espalier/pkg/layout"
	"github.com/go-go-golems/espalier/pkg/service"
)

type LayoutSettings struct {
	Conversation string `glazed.parameter:"conversation"`
	Direction    string `glazed.parameter:"direction"`
}

type LayoutCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*LayoutCommand)(nil)

func NewLayoutCommand() (*LayoutCommand, error) {
	glazedParameterLayer, err := settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create Glazed parameter layer")
	}

	return &LayoutCommand{
		CommandDescription: cmds.NewCommandDescription(
			"layout",
			cmds.WithShort("Print the node positions of the conversation drawing"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"direction",
					parameters.ParameterTypeString,
					parameters.WithHelp("Depth axis of the drawing (top-down, left-right)"),
					parameters.WithDefault(string(layout.TopDown)),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"conversation",
					parameters.ParameterTypeString,
					parameters.WithHelp("Conversation to lay out"),
					parameters.WithRequired(true),
				),
			),
			cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *LayoutCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *layers.ParsedLayers,
	gp middlewares.Processor,
) error {
	s := &LayoutSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	cfg := layout.DefaultConfig()
	switch layout.Direction(s.Direction) {
	case layout.TopDown, layout.LeftRight:
		cfg.Direction = layout.Direction(s.Direction)
	default:
		return errors.Errorf("unknown direction %q (want top-down or left-right)", s.Direction)
	}

	svc, cleanup, err := openService(service.WithLayoutConfig(cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := resolveConversation(ctx, svc, s.Conversation)
	if err != nil {
		return err
	}

	res, err := svc.GetLayout(ctx, id)
	if err != nil {
		return err
	}
	tr, err := svc.GetTree(ctx, id)
	if err != nil {
		return err
	}

	for layerIdx, layer := range res.Layers {
		for _, nodeID := range layer {
			pos := res.Positions[nodeID]
			node, _ := tr.Find(nodeID)
			row := types.NewRow(
				types.MRP("node", nodeID.String()),
				types.MRP("role", string(node.Role)),
				types.MRP("layer", layerIdx),
				types.MRP("x", pos.X),
				types.MRP("y", pos.Y),
				types.MRP("width", pos.Width),
				types.MRP("height", pos.Height),
				types.MRP("active", node.OnActivePath),
			)
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}
