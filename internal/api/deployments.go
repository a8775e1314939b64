package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	wf "github.com/RAJ-SUDHARSHAN/sirpi/internal/workflow"
)

var deployOperations = map[string]bool{
	"build-image": true,
	"plan":        true,
	"apply":       true,
	"destroy":     true,
}

type deployTriggerRequest struct {
	CallerID        string            `json:"caller_id"`
	RoleARN         string            `json:"role_arn"`
	Nonce           string            `json:"nonce"`
	ContainerRecipe string            `json:"container_recipe"`
	InfraFiles      map[string]string `json:"infra_files"`
}

type deployTriggerResponse struct {
	SessionID string `json:"session_id"`
}

// handleDeployTrigger starts a DeploymentWorkflow for one of
// build-image/plan/apply/destroy against a registered project, per §4.8.3.
// The caller supplies the role ARN and setup nonce directly, or the cloud
// connection stored for the caller in s.store is used when caller_id is given instead — either
// way, the credentials themselves never cross this boundary; only the
// broker reference does (P5).
func (s *Server) handleDeployTrigger(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")
	if !deployOperations[operation] {
		writeError(w, http.StatusBadRequest, "unknown deployment operation")
		return
	}
	projectIDParam := chi.URLParam(r, "id")
	var projectID int64
	if _, err := fmt.Sscanf(projectIDParam, "%d", &projectID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req deployTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown project")
		return
	}

	roleARN, nonce := req.RoleARN, req.Nonce
	if roleARN == "" && req.CallerID != "" {
		conn, err := s.store.GetCloudConnection(ctx, req.CallerID)
		if err != nil || conn.Status != "verified" {
			writeError(w, http.StatusBadRequest, "caller has no verified cloud connection")
			return
		}
		roleARN, nonce = conn.RoleARN, conn.Nonce
	}
	if roleARN == "" || nonce == "" {
		writeError(w, http.StatusBadRequest, "role_arn and nonce (or a verified caller_id) are required")
		return
	}

	containerRecipe := req.ContainerRecipe
	infraFiles := req.InfraFiles
	if operation != "build-image" && len(infraFiles) == 0 {
		latest, err := s.artifacts.ReadLatest(ctx, project.RepoOwner, project.RepoName)
		if err != nil {
			writeError(w, http.StatusFailedDependency, "could not load stored artifacts")
			return
		}
		for name, content := range latest {
			if name == "Dockerfile" {
				if containerRecipe == "" {
					containerRecipe = content
				}
				continue
			}
			// Stored infra files live under "terraform/<name>.tf"; this
			// handler re-keys them by logical name, matching how
			// templates.Bundle and the sandbox writer address them.
			logicalName := strings.TrimSuffix(strings.TrimPrefix(name, "terraform/"), ".tf")
			if infraFiles == nil {
				infraFiles = map[string]string{}
			}
			infraFiles[logicalName] = content
		}
	}

	sessionID := uuid.New().String()
	_, err = s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        sessionID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, wf.DeploymentWorkflow, wf.DeploymentRequest{
		Operation:       operation,
		ProjectID:       project.ID,
		ProjectSlug:     fmt.Sprintf("%d", project.ID),
		SessionID:       sessionID,
		RoleARN:         roleARN,
		Nonce:           nonce,
		ContainerRecipe: containerRecipe,
		InfraFiles:      infraFiles,
		InstallationID:  project.InstallationID,
		Owner:           project.RepoOwner,
		Repo:            project.RepoName,
		Framework:       project.Framework,
		StateBucket:     s.cfg.StateBucket,
	})
	if err != nil {
		s.log.Printf("start deployment workflow: %v", err)
		writeError(w, http.StatusInternalServerError, "could not start deployment workflow")
		return
	}

	writeJSON(w, http.StatusAccepted, deployTriggerResponse{SessionID: sessionID})
}
