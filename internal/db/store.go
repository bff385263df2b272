package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/kinematics"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// Blob keys used by the session.
const (
	WorkspaceConfigKey = "workspace_config"
	RobotConfigKey     = "robot_config"
)

// SaveDemonstration inserts d, replacing any demonstration with the same id.
func (db *DB) SaveDemonstration(ctx context.Context, d demo.Demonstration) error {
	joints, err := json.Marshal(d.JointAngles)
	if err != nil {
		return fmt.Errorf("failed to encode joint angles: %w", err)
	}
	poses, err := json.Marshal(d.ObjectPoses)
	if err != nil {
		return fmt.Errorf("failed to encode object poses: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO demonstrations (id, joint_angles, object_poses, score, region_of_interest, source)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, string(joints), string(poses), d.Score, d.RegionOfInterest, d.Source)
	if err != nil {
		return fmt.Errorf("failed to save demonstration %d: %w", d.ID, err)
	}
	return nil
}

// Demonstrations returns every stored demonstration ordered by id.
func (db *DB) Demonstrations(ctx context.Context) ([]demo.Demonstration, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, joint_angles, object_poses, score, region_of_interest, source
		FROM demonstrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []demo.Demonstration
	for rows.Next() {
		var (
			d             demo.Demonstration
			joints, poses string
		)
		if err := rows.Scan(&d.ID, &joints, &poses, &d.Score, &d.RegionOfInterest, &d.Source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(joints), &d.JointAngles); err != nil {
			return nil, fmt.Errorf("demonstration %d: bad joint angles: %w", d.ID, err)
		}
		var ts []kinematics.Transform
		if err := json.Unmarshal([]byte(poses), &ts); err != nil {
			return nil, fmt.Errorf("demonstration %d: bad object poses: %w", d.ID, err)
		}
		d.ObjectPoses = ts
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDemonstrations removes every stored demonstration.
func (db *DB) DeleteDemonstrations(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "DELETE FROM demonstrations")
	return err
}

// RoundRecord is one row of the rounds table.
type RoundRecord struct {
	RoundID                    string                `json:"round_id"`
	Seed                       uint64                `json:"seed"`
	Params                     bandit.Params         `json:"params"`
	NArms                      int                   `json:"n_arms"`
	SamplesPerArm              int                   `json:"samples_per_arm"`
	WorstArmID                 int                   `json:"worst_arm_id"`
	WorstArmFailureProbability float64               `json:"worst_arm_failure_probability"`
	NextDemonstration          []kinematics.Position `json:"next_demonstration"`
	Done                       bool                  `json:"done"`
	CreatedAt                  time.Time             `json:"created_at"`
}

// ArmResultRecord is one row of the arm_results table.
type ArmResultRecord struct {
	RoundID            string  `json:"round_id"`
	ArmID              int     `json:"arm_id"`
	NTaskInstances     int     `json:"n_task_instances"`
	NFailed            int     `json:"n_failed"`
	FailureProbability float64 `json:"failure_probability"`
	Error              string  `json:"error,omitempty"`
}

// SaveRound records a round and its per-arm outcome in one transaction.
func (db *DB) SaveRound(ctx context.Context, res *bandit.Result) error {
	next, err := json.Marshal(res.NextDemonstration)
	if err != nil {
		return fmt.Errorf("failed to encode next demonstration: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rounds (round_id, seed, epsilon, delta, beta, n_arms, samples_per_arm,
			worst_arm_id, worst_arm_failure_probability, next_demonstration, done)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RoundID, strconv.FormatUint(res.Seed, 10), res.Params.Epsilon, res.Params.Delta, res.Params.Beta,
		len(res.Arms), res.SamplesPerArm, res.WorstArmID, res.WorstArmFailureProbability, string(next), res.Done)
	if err != nil {
		return fmt.Errorf("failed to save round %s: %w", res.RoundID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO arm_results (round_id, arm_id, n_task_instances, n_failed, failure_probability, error)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range res.PerArm {
		if _, err := stmt.ExecContext(ctx, res.RoundID, s.ArmID, len(s.TaskInstances), len(s.FailedIndices),
			s.FailureProbability(), nil); err != nil {
			return fmt.Errorf("failed to save arm %d: %w", s.ArmID, err)
		}
	}
	for _, e := range res.ArmErrors {
		if _, err := stmt.ExecContext(ctx, res.RoundID, e.ArmID, 0, 0, 0, e.Error); err != nil {
			return fmt.Errorf("failed to save arm %d: %w", e.ArmID, err)
		}
	}
	return tx.Commit()
}

// Rounds returns the most recent rounds, newest first. limit <= 0 returns
// all of them.
func (db *DB) Rounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	query := `
		SELECT round_id, seed, epsilon, delta, beta, n_arms, samples_per_arm,
			worst_arm_id, worst_arm_failure_probability, next_demonstration, done, created_at
		FROM rounds ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var (
			r    RoundRecord
			seed string
			next sql.NullString
		)
		if err := rows.Scan(&r.RoundID, &seed, &r.Params.Epsilon, &r.Params.Delta, &r.Params.Beta,
			&r.NArms, &r.SamplesPerArm, &r.WorstArmID, &r.WorstArmFailureProbability,
			&next, &r.Done, &r.CreatedAt); err != nil {
			return nil, err
		}
		if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("round %s: bad seed %q: %w", r.RoundID, seed, err)
		}
		if next.Valid && next.String != "" {
			if err := json.Unmarshal([]byte(next.String), &r.NextDemonstration); err != nil {
				return nil, fmt.Errorf("round %s: bad next demonstration: %w", r.RoundID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArmResults returns the per-arm rows of a round ordered by arm id.
func (db *DB) ArmResults(ctx context.Context, roundID string) ([]ArmResultRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT round_id, arm_id, n_task_instances, n_failed, failure_probability, error
		FROM arm_results WHERE round_id = ? ORDER BY arm_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArmResultRecord
	for rows.Next() {
		var (
			a      ArmResultRecord
			errStr sql.NullString
		)
		if err := rows.Scan(&a.RoundID, &a.ArmID, &a.NTaskInstances, &a.NFailed, &a.FailureProbability, &errStr); err != nil {
			return nil, err
		}
		a.Error = errStr.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutBlob stores value under key, replacing any previous value.
func (db *DB) PutBlob(ctx context.Context, key string, value []byte) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Blob returns the value stored under key, or ErrNotFound.
func (db *DB) Blob(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, "SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	return value, err
}
