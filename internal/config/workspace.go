package config

import (
	"fmt"

	"github.com/banshee-data/selfeval/internal/workspace"
)

// WorkspaceConfig is the config.json stored next to recorded
// demonstrations: the workspace dimensions, how many objects a task
// places and the robot's initial joint configuration.
type WorkspaceConfig struct {
	Dimensions         []workspace.Dimension `json:"dimensions" yaml:"dimensions"`
	NObjects           int                   `json:"n_objects" yaml:"n_objects"`
	InitialJointConfig []float64             `json:"initial_joint_config" yaml:"initial_joint_config"`
}

// LoadWorkspaceConfig loads and validates a workspace config from a .json,
// .yaml or .yml file.
func LoadWorkspaceConfig(path string) (*WorkspaceConfig, error) {
	data, format, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWorkspaceConfig(data, format)
}

// ParseWorkspaceConfig decodes and validates a workspace config.
func ParseWorkspaceConfig(data []byte, format Format) (*WorkspaceConfig, error) {
	cfg := &WorkspaceConfig{}
	if err := decode(data, format, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NDims is the number of dimensions per object.
func (c *WorkspaceConfig) NDims() int { return len(c.Dimensions) }

// Validate checks the dimensions and object count. Objects are placed on
// the table, so a workspace has x, y and optionally θ: 2 or 3 dimensions.
func (c *WorkspaceConfig) Validate() error {
	if _, err := workspace.Count(c.Dimensions, c.NObjects); err != nil {
		return err
	}
	if n := len(c.Dimensions); n != 2 && n != 3 {
		return &workspace.ConfigurationError{Field: "dimensions", Reason: fmt.Sprintf("need 2 (x, y) or 3 (x, y, theta) dimensions, got %d", n)}
	}
	return nil
}
