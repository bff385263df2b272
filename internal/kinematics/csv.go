package kinematics

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ParseMatrix parses a rectangular numeric CSV. When skipHeader is set the
// first record is discarded. Trailing empty lines are ignored.
func ParseMatrix(data []byte, skipHeader bool) (*mat.Dense, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if skipHeader && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows")
	}

	cols := len(records[0])
	values := make([]float64, 0, len(records)*cols)
	for i, record := range records {
		if len(record) != cols {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", i+1, cols, len(record))
		}
		for j, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+1, j+1, err)
			}
			values = append(values, v)
		}
	}
	return mat.NewDense(len(records), cols, values), nil
}

// ParseTransforms parses a CSV of stacked 4x4 homogeneous transforms, four
// rows per transform.
func ParseTransforms(data []byte) ([]Transform, error) {
	m, err := ParseMatrix(data, false)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	if c != 4 || r%4 != 0 {
		return nil, fmt.Errorf("expected stacked 4x4 transforms, got %dx%d", r, c)
	}

	out := make([]Transform, 0, r/4)
	for i := 0; i < r; i += 4 {
		t, err := TransformFromMatrix(m.Slice(i, i+4, 0, 4))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// FormatTransforms is the inverse of ParseTransforms.
func FormatTransforms(ts []Transform) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, t := range ts {
		for i := 0; i < 4; i++ {
			row := make([]string, 4)
			for j := 0; j < 4; j++ {
				row[j] = strconv.FormatFloat(t.At(i, j), 'g', -1, 64)
			}
			_ = w.Write(row)
		}
	}
	w.Flush()
	return buf.Bytes()
}
