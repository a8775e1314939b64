package api

import (
	"encoding/json"
	"net/http"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/credentials"
)

type cloudConnectionInitiateRequest struct {
	CallerID       string `json:"caller_id"`
	ConsoleBaseURL string `json:"console_base_url"`
}

type cloudConnectionInitiateResponse struct {
	Nonce    string `json:"nonce"`
	SetupURL string `json:"setup_url"`
}

// handleCloudConnectionInitiate is the first phase of the two-phase setup:
// mint a nonce for the caller and hand back a one-click console URL that
// provisions a trust-scoped role referencing it.
func (s *Server) handleCloudConnectionInitiate(w http.ResponseWriter, r *http.Request) {
	var req cloudConnectionInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallerID == "" || req.ConsoleBaseURL == "" {
		writeError(w, http.StatusBadRequest, "caller_id and console_base_url are required")
		return
	}

	nonce, err := credentials.NewNonce()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not generate nonce")
		return
	}
	if _, err := s.store.UpsertCloudConnection(r.Context(), req.CallerID, nonce); err != nil {
		s.log.Printf("upsert cloud connection: %v", err)
		writeError(w, http.StatusInternalServerError, "could not register cloud connection")
		return
	}

	writeJSON(w, http.StatusOK, cloudConnectionInitiateResponse{
		Nonce:    nonce,
		SetupURL: s.broker.SetupURL(req.ConsoleBaseURL, nonce),
	})
}

type cloudConnectionVerifyRequest struct {
	CallerID string `json:"caller_id"`
	RoleARN  string `json:"role_arn"`
}

type cloudConnectionVerifyResponse struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

// handleCloudConnectionVerify is the second phase: the caller reports the
// role ARN it created, and the broker proves the trust relationship by
// assuming it with the nonce recorded during initiate.
func (s *Server) handleCloudConnectionVerify(w http.ResponseWriter, r *http.Request) {
	var req cloudConnectionVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallerID == "" || req.RoleARN == "" {
		writeError(w, http.StatusBadRequest, "caller_id and role_arn are required")
		return
	}

	ctx := r.Context()
	conn, err := s.store.GetCloudConnection(ctx, req.CallerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call initiate first")
		return
	}

	accountID, err := s.broker.Verify(ctx, req.RoleARN, conn.Nonce)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "role assumption failed: "+err.Error())
		return
	}
	if err := s.store.VerifyCloudConnection(ctx, req.CallerID, req.RoleARN, accountID); err != nil {
		s.log.Printf("verify cloud connection: %v", err)
		writeError(w, http.StatusInternalServerError, "could not record verified connection")
		return
	}

	writeJSON(w, http.StatusOK, cloudConnectionVerifyResponse{AccountID: accountID, Status: "verified"})
}
