package workspace

import (
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/monitoring"
)

// Contains reports whether the recorded object positions of d fall inside
// the arm. Only the planar (first two) dimensions of each object slot are
// checked, with closed bounds.
func (a Arm) Contains(d demo.Demonstration, nDims int) bool {
	if nDims < 2 || len(a.Intervals) < nDims {
		return false
	}
	nObjects := len(a.Intervals) / nDims
	checked := 0
	for o := 0; o < nObjects; o++ {
		pos, ok := d.ObjectPosition(o)
		if !ok {
			break
		}
		slot := a.Intervals[o*nDims:]
		if !slot[0].Contains(pos.X) || !slot[1].Contains(pos.Y) {
			return false
		}
		checked++
	}
	return checked > 0
}

// AssignDemonstrations appends each demonstration to the first arm that
// contains it. Demonstrations outside every arm are skipped and reported
// as warnings; they never abort assignment.
func AssignDemonstrations(arms []Arm, nDims int, demos []demo.Demonstration) []*OutOfWorkspaceError {
	var warnings []*OutOfWorkspaceError
	for _, d := range demos {
		assigned := false
		for i := range arms {
			if arms[i].Contains(d, nDims) {
				arms[i].Demonstrations = append(arms[i].Demonstrations, d)
				assigned = true
				break
			}
		}
		if assigned {
			continue
		}

		pos, _ := d.ObjectPosition(0)
		w := &OutOfWorkspaceError{DemonstrationID: d.ID, Position: pos}
		monitoring.Warnf("%v", w)
		monitoring.OutOfWorkspaceDemonstrations.Inc()
		warnings = append(warnings, w)
	}
	return warnings
}

// Locate returns the ID of the first arm containing the planar position p
// for object 0, or 0 when no arm contains it.
func Locate(arms []Arm, nDims int, p kinematics.Position) int {
	if nDims < 2 {
		return 0
	}
	for _, a := range arms {
		if len(a.Intervals) >= 2 && a.Intervals[0].Contains(p.X) && a.Intervals[1].Contains(p.Y) {
			return a.ID
		}
	}
	return 0
}
