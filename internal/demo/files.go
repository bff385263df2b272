package demo

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
)

// File names inside a demonstration directory.
const (
	JointAnglesFile      = "joint_angles.csv"
	ObjectPosesFile      = "object_poses.csv"
	RegionOfInterestFile = "region_of_interest.txt"
)

var dirIDPattern = regexp.MustCompile(`(\d+)$`)

// ParseJointAngles parses a joint-angle CSV: a header row followed by rows
// of (time, q1..qJ).
func ParseJointAngles(data []byte) ([][]float64, error) {
	m, err := kinematics.ParseMatrix(data, true)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out, nil
}

// FormatJointAngles writes rows in the joint-angle CSV format.
func FormatJointAngles(rows [][]float64) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	header := []string{"time"}
	for j := 1; j < cols; j++ {
		header = append(header, fmt.Sprintf("q%d", j))
	}
	_ = w.Write(header)

	for _, row := range rows {
		record := make([]string, len(row))
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		_ = w.Write(record)
	}
	w.Flush()
	return buf.Bytes()
}

// Load reads one demonstration directory. A missing joint-angle file yields
// a demonstration with UnscoredScore; a missing region-of-interest file
// yields DefaultRegionOfInterest. Object poses are required.
func Load(fsys fsutil.FileSystem, dir string, id int, limits []kinematics.JointLimit) (Demonstration, error) {
	poseData, err := fsys.ReadFile(filepath.Join(dir, ObjectPosesFile))
	if err != nil {
		return Demonstration{}, fmt.Errorf("failed to read object poses: %w", err)
	}
	poses, err := kinematics.ParseTransforms(poseData)
	if err != nil {
		return Demonstration{}, fmt.Errorf("%s: %w", filepath.Join(dir, ObjectPosesFile), err)
	}

	var joints [][]float64
	jointData, err := fsys.ReadFile(filepath.Join(dir, JointAnglesFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		monitoring.Warnf("demonstration %s has no %s; score set to %d", dir, JointAnglesFile, UnscoredScore)
	case err != nil:
		return Demonstration{}, fmt.Errorf("failed to read joint angles: %w", err)
	default:
		if joints, err = ParseJointAngles(jointData); err != nil {
			return Demonstration{}, fmt.Errorf("%s: %w", filepath.Join(dir, JointAnglesFile), err)
		}
	}

	roi := float64(DefaultRegionOfInterest)
	if roiData, err := fsys.ReadFile(filepath.Join(dir, RegionOfInterestFile)); err == nil {
		roi, err = strconv.ParseFloat(strings.TrimSpace(string(roiData)), 64)
		if err != nil {
			return Demonstration{}, fmt.Errorf("%s: %w", filepath.Join(dir, RegionOfInterestFile), err)
		}
	}

	d := New(id, joints, poses, roi, limits)
	d.Source = dir
	return d, nil
}

// LoadDir loads every sub-directory of root, in name order, as one
// demonstration. A trailing number in the directory name (demo12) is used
// as the ID when it is free; otherwise the next free ID is assigned.
func LoadDir(fsys fsutil.FileSystem, root string, limits []kinematics.JointLimit) ([]Demonstration, error) {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list demonstrations: %w", err)
	}

	var dirs []string
	taken := make(map[int]bool)
	wanted := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirs = append(dirs, e.Name())
		if m := dirIDPattern.FindStringSubmatch(e.Name()); m != nil {
			if id, err := strconv.Atoi(m[1]); err == nil && id > 0 && !taken[id] {
				taken[id] = true
				wanted[e.Name()] = id
			}
		}
	}

	demos := make([]Demonstration, 0, len(dirs))
	for _, name := range dirs {
		id, ok := wanted[name]
		if !ok {
			id = 1
			for taken[id] {
				id++
			}
			taken[id] = true
		}
		d, err := Load(fsys, filepath.Join(root, name), id, limits)
		if err != nil {
			return nil, fmt.Errorf("demonstration %s: %w", name, err)
		}
		demos = append(demos, d)
	}
	return demos, nil
}

// WriteFiles materialises d into dir in the on-disk format.
func WriteFiles(fsys fsutil.FileSystem, dir string, d Demonstration) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{ObjectPosesFile, kinematics.FormatTransforms(d.ObjectPoses)},
		{RegionOfInterestFile, []byte(strconv.FormatFloat(d.RegionOfInterest, 'g', -1, 64))},
	}
	if len(d.JointAngles) > 0 {
		files = append(files, struct {
			name string
			data []byte
		}{JointAnglesFile, FormatJointAngles(d.JointAngles)})
	}
	for _, f := range files {
		if err := fsys.WriteFile(filepath.Join(dir, f.name), f.data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}
