package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "demos")
	outside := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo1"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	tests := []struct {
		name    string
		path    string
		root    string
		wantErr bool
	}{
		{"root itself", root, root, false},
		{"existing child", filepath.Join(root, "demo1"), root, false},
		{"new nested file", filepath.Join(root, "demo2", "joint_angles.csv"), root, false},
		{"dot-dot escape", filepath.Join(root, "..", "elsewhere"), root, true},
		{"relative escape", "../../../etc/passwd", root, true},
		{"sibling with shared prefix", root + "-old", root, true},
		{"through symlink", filepath.Join(root, "link"), root, true},
		{"new file through symlink", filepath.Join(root, "link", "new.csv"), root, true},
		{"missing root", filepath.Join(root, "demo1"), filepath.Join(tmp, "nope"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.root)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePathWithinDirectory_WrapsErrOutsideRoot(t *testing.T) {
	root := t.TempDir()
	err := ValidatePathWithinDirectory(filepath.Join(root, ".."), root)
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "x.json"), []string{a, b}))
	assert.ErrorIs(t, ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}), ErrOutsideRoot)
	assert.ErrorContains(t, ValidatePathWithinAllowedDirs(filepath.Join(a, "x"), nil), "no allowed directories")
}

func TestValidateExportPath(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	assert.NoError(t, ValidateExportPath(filepath.Join(t.TempDir(), "round.png")))
	assert.NoError(t, ValidateExportPath(filepath.Join(cwd, "out", "round.html")))
	assert.NoError(t, ValidateExportPath("round.json"))
	assert.Error(t, ValidateExportPath("/proc/self/round.json"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "unknown"},
		{"3f2b-11ee", "3f2b-11ee"},
		{"round/1", "round_1"},
		{"../../etc/passwd", "etc_passwd"},
		{"a  b\tc", "a_b_c"},
		{"..__..", "unknown"},
		{"θ-sweep", "-sweep"},
		{"trailing/", "trailing"},
		{"v1.2_final", "v1.2_final"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}

	long := SanitizeFilename(strings.Repeat("a", 300))
	assert.Len(t, long, maxFilenameLen)
}
