// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/debug"
)

// RegisterAdminHandlers registers admin HTTP endpoints on the debug mux:
//   - GET /admin/uploads/groups - parted uploads still waiting for parts
//   - GET /admin/uploads/inflight - reconciliations currently running
//
// Must be called before debug.GetMux() is invoked.
func (s *Service) RegisterAdminHandlers() {
	debug.RegisterHandlerFunc("/admin/uploads/groups", s.handleGroups)
	debug.RegisterHandlerFunc("/admin/uploads/inflight", s.handleInFlight)
}

type groupView struct {
	OriginalFilename string    `json:"original_filename"`
	TotalParts       int       `json:"total_parts"`
	Received         []int     `json:"received"`
	TargetDir        string    `json:"target_dir"`
	CreatedAt        time.Time `json:"created_at"`
	AgeSeconds       float64   `json:"age_seconds"`
}

// handleGroups returns the tracked part groups, oldest first
// GET /admin/uploads/groups
func (s *Service) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tr := s.Tracker()
	now := tr.Now()
	groups := tr.Snapshot()
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupView{
			OriginalFilename: g.OriginalFilename,
			TotalParts:       g.TotalParts,
			Received:         g.Received(),
			TargetDir:        s.relPath(g.TargetDir),
			CreatedAt:        g.CreatedAt,
			AgeSeconds:       now.Sub(g.CreatedAt).Seconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleInFlight returns the running reconciliation tasks
// GET /admin/uploads/inflight
func (s *Service) handleInFlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.InFlight())
}
