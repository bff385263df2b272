package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/selfeval/internal/bandit"
	"github.com/banshee-data/selfeval/internal/config"
	"github.com/banshee-data/selfeval/internal/demo"
	"github.com/banshee-data/selfeval/internal/fsutil"
	"github.com/banshee-data/selfeval/internal/httputil"
	"github.com/banshee-data/selfeval/internal/kinematics"
	"github.com/banshee-data/selfeval/internal/report"
	"github.com/banshee-data/selfeval/internal/security"
	"github.com/banshee-data/selfeval/internal/workspace"
)

const defaultRoundsLimit = 20

func (s *Server) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.sess.Workspace()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ws)
}

func (s *Server) putWorkspace(w http.ResponseWriter, r *http.Request) {
	var ws config.WorkspaceConfig
	if err := httputil.DecodeJSON(w, r, &ws); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.sess.SetWorkspace(r.Context(), &ws); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, &ws)
}

func (s *Server) listDemonstrations(w http.ResponseWriter, r *http.Request) {
	demos := s.sess.Demonstrations()
	if demos == nil {
		demos = []demo.Demonstration{}
	}
	httputil.WriteJSONOK(w, demos)
}

type addDemonstrationRequest struct {
	JointAngles      [][]float64             `json:"joint_angles"`
	ObjectPoses      []kinematics.PlanarPose `json:"object_poses"`
	RegionOfInterest float64                 `json:"region_of_interest"`
}

type addDemonstrationResponse struct {
	Demonstration demo.Demonstration `json:"demonstration"`
	Warning       string             `json:"warning,omitempty"`
}

func (s *Server) addDemonstration(w http.ResponseWriter, r *http.Request) {
	var req addDemonstrationRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if len(req.ObjectPoses) == 0 {
		httputil.BadRequest(w, "object_poses is required")
		return
	}
	poses := make([]kinematics.Transform, len(req.ObjectPoses))
	for i, p := range req.ObjectPoses {
		poses[i] = kinematics.ToSE3(p)
	}
	s.add(w, r, req.JointAngles, poses, req.RegionOfInterest)
}

func (s *Server) add(w http.ResponseWriter, r *http.Request, joints [][]float64, poses []kinematics.Transform, roi float64) {
	d, warn, err := s.sess.AddDemonstration(r.Context(), joints, poses, roi)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := addDemonstrationResponse{Demonstration: d}
	if warn != nil {
		resp.Warning = warn.Error()
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) clearDemonstrations(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.ClearDemonstrations(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importRequest struct {
	Path string `json:"path"`
}

func (s *Server) importDemonstrations(w http.ResponseWriter, r *http.Request) {
	if s.opts.ImportRoot == "" {
		httputil.WriteJSONError(w, http.StatusForbidden, "demonstration import is disabled")
		return
	}
	var req importRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := security.ValidatePathWithinDirectory(req.Path, s.opts.ImportRoot); err != nil {
		httputil.WriteJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	demos, err := demo.LoadDir(fsutil.OSFileSystem{}, req.Path, s.sess.Robot().Limits())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	added, err := s.sess.ImportDemonstrations(r.Context(), demos)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, added)
}

func (s *Server) listArms(w http.ResponseWriter, r *http.Request) {
	arms, err := s.sess.Arms()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, summarize(arms))
}

func summarize(arms []workspace.Arm) []bandit.ArmSummary {
	out := make([]bandit.ArmSummary, len(arms))
	for i, a := range arms {
		ids := make([]int, len(a.Demonstrations))
		for j, d := range a.Demonstrations {
			ids[j] = d.ID
		}
		out[i] = bandit.ArmSummary{ID: a.ID, Intervals: a.Intervals, DemonstrationIDs: ids}
	}
	return out
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.Evaluate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) lastResult(w http.ResponseWriter, r *http.Request) {
	res := s.sess.LastResult()
	if res == nil {
		httputil.NotFound(w, "no round has completed")
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.sess.State())
}

var contentTypes = map[report.Format]string{
	report.FormatJSON: "application/json",
	report.FormatHTML: "text/html; charset=utf-8",
	report.FormatPNG:  "image/png",
}

func (s *Server) heatmap(w http.ResponseWriter, r *http.Request) {
	format := report.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatHTML
	}
	ct, ok := contentTypes[format]
	if !ok {
		httputil.BadRequest(w, fmt.Sprintf("unsupported format %q", format))
		return
	}
	res := s.sess.LastResult()
	if res == nil {
		httputil.NotFound(w, "no round has completed")
		return
	}

	w.Header().Set("Content-Type", ct)
	if err := report.Write(w, format, res, s.sess.Demonstrations()); err != nil {
		w.Header().Del("Content-Type")
		writeError(w, err)
	}
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	limit := defaultRoundsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	rounds, err := s.opts.History.Rounds(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rounds)
}

func (s *Server) roundArms(w http.ResponseWriter, r *http.Request) {
	arms, err := s.opts.History.ArmResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(arms) == 0 {
		httputil.NotFound(w, "unknown round")
		return
	}
	httputil.WriteJSONOK(w, arms)
}

func (s *Server) robotInit(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Robot.Init(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"status": true})
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	ws, err := s.sess.Workspace()
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.opts.Robot.Begin(r.Context(), ws.InitialJointConfig, s.opts.RecordWait)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	s.recordings[rec.PID] = rec
	s.mu.Unlock()
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil {
		httputil.BadRequest(w, "invalid pid")
		return
	}
	s.mu.Lock()
	rec, ok := s.recordings[pid]
	delete(s.recordings, pid)
	s.mu.Unlock()
	if !ok {
		httputil.NotFound(w, "unknown recording")
		return
	}

	joints, err := s.opts.Robot.Stop(r.Context(), pid)
	if err != nil {
		writeError(w, err)
		return
	}
	s.add(w, r, joints, rec.Poses(), 0)
}
