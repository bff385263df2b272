package workspace

import (
	"fmt"

	"github.com/banshee-data/selfeval/internal/kinematics"
)

// ConfigurationError reports malformed workspace parameters. It is raised
// before any sampling happens.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid workspace configuration: %s: %s", e.Field, e.Reason)
}

// OutOfWorkspaceError reports a recorded demonstration whose object pose
// lies outside every arm. It is a warning: the demonstration is left
// unassigned and evaluation continues.
type OutOfWorkspaceError struct {
	DemonstrationID int
	Position        kinematics.Position
}

func (e *OutOfWorkspaceError) Error() string {
	return fmt.Sprintf("demonstration %d at (%.4f, %.4f) is outside the workspace",
		e.DemonstrationID, e.Position.X, e.Position.Y)
}
