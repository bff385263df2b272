package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/selfeval/internal/workspace"
)

func TestFixturesPartition(t *testing.T) {
	arms, err := workspace.Partition(StripDimensions(3), 1)
	require.NoError(t, err)
	require.Len(t, arms, 3)

	d := DemoAt(1, 1.5, 0.5)
	assert.True(t, arms[1].Contains(d, 2))
	assert.False(t, arms[0].Contains(d, 2))

	n, err := workspace.Count(GridDimensions(2, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRobotMatchesDemoAt(t *testing.T) {
	r := Robot()
	require.NoError(t, r.Validate())

	d := DemoAt(1, 0, 0)
	require.NotEmpty(t, d.JointAngles)
	assert.Len(t, r.Limits(), len(d.JointAngles[0])-1)
	pos, ok := d.ObjectPosition(0)
	require.True(t, ok)
	assert.InDelta(t, 0, pos.X, 1e-12)
}
