package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/pkg/version"
)

// maxStepsPerRequest bounds POST /api/v1/bus/step.
const maxStepsPerRequest = 100000

// StepResponse is the body of POST /api/v1/bus/step.
type StepResponse struct {
	Steps    int               `json:"steps"`
	Snapshot harness.Snapshot `json:"snapshot"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, version.GetInfo()); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// handleBus returns the bench snapshot.
func (s *Server) handleBus(w http.ResponseWriter, r *http.Request) {
	if err := s.writeJSON(w, http.StatusOK, s.bench.Snapshot()); err != nil {
		s.logger.WithError(err).Error("Failed to encode bus snapshot")
	}
}

// handleBeats writes the recent valid beats, oldest first. The text form is one dump
// block per beat separated by blank lines; ?format=json returns the beats as JSON.
func (s *Server) handleBeats(w http.ResponseWriter, r *http.Request) {
	history := s.bench.History()

	if r.URL.Query().Get("format") == "json" {
		if err := s.writeJSON(w, http.StatusOK, history); err != nil {
			s.logger.WithError(err).Error("Failed to encode beats")
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for i, beat := range history {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, beat.String())
	}
}

// handleStep advances the bench by ?n= edges (default 1). It conflicts with a running
// bench.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	n := 1
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxStepsPerRequest {
			s.writeError(w, r, errors.NewValidationError(
				fmt.Sprintf("n must be an integer between 1 and %d", maxStepsPerRequest)))
			return
		}
		n = v
	}

	log := logger.FromContext(r.Context())
	if _, err := s.bench.StepN(r.Context(), n); err != nil {
		if stderrors.Is(err, harness.ErrRunning) {
			s.writeError(w, r, errors.NewConflictError("bench is running; stop it before stepping"))
			return
		}
		s.writeError(w, r, err)
		return
	}

	snap := s.bench.Snapshot()
	log.WithFields(logger.Fields{
		"steps":  n,
		"cycles": snap.Cycles,
		"frames": snap.Frames,
	}).Debug("Bench stepped")

	if err := s.writeJSON(w, http.StatusOK, StepResponse{Steps: n, Snapshot: snap}); err != nil {
		log.WithError(err).Error("Failed to encode step response")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
