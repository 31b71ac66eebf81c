package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relves/macaroons/pkg/bakery"
)

// ExpectRequest is the body of POST /expect. The caveat identifier is
// base64-encoded; root key and condition travel as plain strings.
type ExpectRequest struct {
	CaveatID  []byte `json:"caveat_id"`
	RootKey   string `json:"root_key"`
	Condition string `json:"condition,omitempty"`
}

// DischargeRequest is the body of POST /discharge.
type DischargeRequest struct {
	CaveatID []byte `json:"caveat_id"`
}

// DischargeResponse carries the minted discharge credential.
type DischargeResponse struct {
	Discharge json.RawMessage `json:"discharge"`
}

// handleExpect handles POST /expect: register the root key and condition of
// a third-party caveat for later discharge.
func (s *Server) handleExpect(w http.ResponseWriter, r *http.Request) {
	var req ExpectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.CaveatID) == 0 || req.RootKey == "" {
		http.Error(w, "caveat_id and root_key required", http.StatusBadRequest)
		return
	}

	if err := s.service.ExpectDischarge(r.Context(), req.CaveatID, req.RootKey, req.Condition); err != nil {
		s.logger.Error("failed to register expectation", "error", err)
		http.Error(w, "failed to register expectation", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDischarge handles POST /discharge: mint the discharge credential
// for a registered third-party caveat.
func (s *Server) handleDischarge(w http.ResponseWriter, r *http.Request) {
	var req DischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.CaveatID) == 0 {
		http.Error(w, "caveat_id required", http.StatusBadRequest)
		return
	}

	discharge, err := s.service.Discharge(r.Context(), req.CaveatID)
	switch {
	case errors.Is(err, bakery.ErrRootKeyNotFound):
		http.Error(w, "unknown caveat", http.StatusNotFound)
		return
	case errors.Is(err, bakery.ErrConditionNotRecognized):
		http.Error(w, "condition not recognized", http.StatusForbidden)
		return
	case err != nil:
		// Checker refusals are deliberate denials, not server faults.
		s.logger.Info("discharge refused", "error", err)
		http.Error(w, "discharge refused", http.StatusForbidden)
		return
	}

	encoded, err := json.Marshal(discharge)
	if err != nil {
		s.logger.Error("failed to encode discharge", "error", err)
		http.Error(w, "failed to encode discharge", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DischargeResponse{Discharge: encoded})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
