package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/security"
)

// Format selects an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatPNG  Format = "png"
)

// FormatFromPath infers the export format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".html", ".htm":
		return FormatHTML, nil
	case ".png":
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unsupported export format %q", filepath.Ext(path))
}

// FileName returns a safe file name for a round's export.
func FileName(roundID string, f Format) string {
	return "round_" + security.SanitizeFilename(roundID) + "." + string(f)
}

// WriteJSON writes the full result, including per-arm task instances.
func WriteJSON(w io.Writer, res *bandit.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Write encodes res in format f.
func Write(w io.Writer, f Format, res *bandit.Result, demos []demo.Demonstration) error {
	if f == FormatJSON {
		return WriteJSON(w, res)
	}
	h, err := FromResult(res, demos)
	if err != nil {
		return err
	}
	switch f {
	case FormatHTML:
		return RenderHTML(w, h)
	case FormatPNG:
		return RenderPNG(w, h)
	}
	return fmt.Errorf("unsupported export format %q", f)
}

// Save writes res to path in the format given by its extension. The path
// must be inside the working or temporary directory.
func Save(path string, res *bandit.Result, demos []demo.Demonstration) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid export path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(out, f, res, demos); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	return out.Close()
}
