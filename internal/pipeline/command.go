package pipeline

import (
	"context"

	"github.com/Faultbox/neuralsubd/internal/host"
)

// Command metadata for the subdivision operator.
const (
	CommandName  = "object.nn_subdivide"
	CommandLabel = "Neural Network Subdivide"
	PanelName    = "Neural Networks"
)

// Command returns the host command that runs the pipeline on the active
// object, bound to Shift+N in object mode.
func Command(opts Options) host.Command {
	return host.Command{
		Name:        CommandName,
		Label:       CommandLabel,
		Description: "Subdivide the active mesh with a trained subdivision network",
		Shortcut:    host.Shortcut{Key: "N", Shift: true, Mode: host.ModeObject},
		Panel:       PanelName,
		Handler: func(ctx context.Context, scene *host.Scene) error {
			_, err := Run(ctx, scene, opts)
			return err
		},
	}
}
