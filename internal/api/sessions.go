package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/memory"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/store"
	wf "github.com/RAJ-SUDHARSHAN/sirpi/internal/workflow"
)

type startSessionRequest struct {
	InstallationID int64  `json:"installation_id"`
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	Ref            string `json:"ref"`
	BaseBranch     string `json:"base_branch"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

// handleStartSession registers (or reuses) the project row, creates a new
// generation record, and starts the session's GenerationWorkflow with the
// generation's session id doubling as the Temporal workflow id — every
// other handler that needs to query or signal a session's workflow relies
// on that identity.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InstallationID == 0 || req.Owner == "" || req.Repo == "" {
		writeError(w, http.StatusBadRequest, "installation_id, owner and repo are required")
		return
	}
	if req.BaseBranch == "" {
		req.BaseBranch = "main"
	}

	ctx := r.Context()
	project, err := s.store.UpsertProject(ctx, store.Project{
		InstallationID:  req.InstallationID,
		RepoOwner:       req.Owner,
		RepoName:        req.Repo,
		DeploymentShape: "container-service",
	})
	if err != nil {
		s.log.Printf("upsert project: %v", err)
		writeError(w, http.StatusInternalServerError, "could not register project")
		return
	}

	sessionID := uuid.New().String()
	if _, err := s.store.CreateGeneration(ctx, project.ID, sessionID); err != nil {
		s.log.Printf("create generation: %v", err)
		writeError(w, http.StatusInternalServerError, "could not create generation session")
		return
	}

	projectIDStr := fmt.Sprintf("%d", project.ID)
	_, err = s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        sessionID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, wf.GenerationWorkflow, wf.GenerationRequest{
		SessionID:   sessionID,
		Owner:       req.Owner,
		Repo:        req.Repo,
		Ref:         req.Ref,
		ProjectID:   projectIDStr,
		BaseBranch:  req.BaseBranch,
		Region:      s.cfg.AWSRegion,
		StateBucket: s.cfg.StateBucket,
	})
	if err != nil {
		s.log.Printf("start generation workflow: %v", err)
		writeError(w, http.StatusInternalServerError, "could not start generation workflow")
		return
	}

	writeJSON(w, http.StatusAccepted, startSessionResponse{SessionID: sessionID})
}

// handleSessionMemory is the assistant context-retrieval endpoint
// (SPEC_FULL.md's supplemented feature): a thin read over the session's
// stage memory, letting an external assistant answer "what have we learned
// about this repository so far" without reaching into Temporal.
//
// The worker process that runs a session's activities owns the in-process
// memory.Store those activities write to; this handler runs in the
// separate api process and so only ever sees that store's misses once a
// session's activities actually ran on a worker. When that happens this
// falls back to the generation row's recorded artifact bundle — the
// container recipe and infra code the session produced, persisted to the
// artifact store and pointed at by generations.stage_memory_id — and
// presents it in the same item shape a same-process read would have
// returned.
func (s *Server) handleSessionMemory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if key := r.URL.Query().Get("key"); key != "" {
		reader := r.URL.Query().Get("reader")
		if reader == "" {
			reader = "assistant"
		}
		content, found, err := s.memory.Retrieve(sessionID, key, reader)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if found {
			writeJSON(w, http.StatusOK, map[string]any{"key": key, "content": content})
			return
		}
		items, err := s.reconstituteMemory(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, "no such memory item")
			return
		}
		for _, item := range items {
			if item.Key == key {
				writeJSON(w, http.StatusOK, map[string]any{"key": key, "content": item.Content})
				return
			}
		}
		writeError(w, http.StatusNotFound, "no such memory item")
		return
	}

	items, err := s.memory.Items(sessionID)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	items, rerr := s.reconstituteMemory(r.Context(), sessionID)
	if rerr != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "reconstituted": true})
}

// reconstituteMemory rebuilds a best-effort item list for a session whose
// stage memory was written by a different process than this one, by
// reading the generation row's stage_memory_id pointer and replaying the
// persisted artifact bundle for the session's repository.
func (s *Server) reconstituteMemory(ctx context.Context, sessionID string) ([]memory.Item, error) {
	gen, err := s.store.GetGeneration(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("no stage memory for session %s: %w", sessionID, err)
	}
	if !gen.StageMemoryID.Valid || gen.StageMemoryID.String == "" {
		return nil, fmt.Errorf("no stage memory for session %s", sessionID)
	}
	project, err := s.store.GetProjectByID(ctx, gen.ProjectID)
	if err != nil {
		return nil, err
	}
	files, err := s.artifacts.ReadLatest(ctx, project.RepoOwner, project.RepoName)
	if err != nil {
		return nil, err
	}
	items := make([]memory.Item, 0, len(files)+1)
	items = append(items, memory.Item{Key: "pull_request_url", Content: gen.PRURL.String, Producer: "workflow", StoredAt: gen.UpdatedAt})
	for name, content := range files {
		items = append(items, memory.Item{Key: name, Content: content, Producer: "workflow", StoredAt: gen.UpdatedAt})
	}
	return items, nil
}

// sseEvent writes one Server-Sent Events frame and flushes it immediately,
// so a slow-reading consumer sees entries as they are appended rather than
// buffered until the response closes. id is optional (empty skips the
// "id:" field); when set, a standards-compliant SSE client echoes it back
// as Last-Event-ID on its own reconnect, in addition to the explicit
// ?after= query param this handler also accepts.
func sseEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	if id != "" {
		_, _ = w.Write([]byte("id: " + id + "\n"))
	}
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

// resumeIndex returns the index of the first log entry a reconnecting
// consumer has not yet seen, per §4.8.4's "a reconnecting consumer resumes
// from its recorded last-seen index" and scenario 6. The last-seen index
// is read, in order, from the standard SSE Last-Event-ID header (what a
// browser's EventSource sets automatically on its own reconnect, carrying
// the last frame's "id:" field back), then from an explicit ?after= query
// param for non-EventSource clients; the stream resumes one past it.
// Defaults to 0 — replay everything — when neither is present.
func resumeIndex(r *http.Request) int {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n + 1
		}
	}
	if v := r.URL.Query().Get("after"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n + 1
		}
	}
	return 0
}

// handleStreamSession implements §6's "GET /api/sessions/{id}/stream" over
// exactly the four contractual event types: a "connected" frame once at
// stream start, "log" frames carrying new entries (resuming from the
// client's last-seen index per resumeIndex, never replaying entries it
// already holds), and a closing "complete" frame carrying status and any
// error once the session reaches a terminal state. If the workflow has
// already closed and aged out of Temporal's visibility, the relational
// store's final record is replayed instead via an "error" or "complete"
// frame, satisfying P1's "bounded history after termination".
func (s *Server) handleStreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	lastIndex := resumeIndex(r)
	sseEvent(w, flusher, "connected", "", map[string]any{"session_id": sessionID, "resumed_from": lastIndex})

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var entries []wf.LogEntry
			logsVal, err := s.temporal.QueryWorkflow(ctx, sessionID, "", "logs")
			if err != nil {
				s.streamFromStore(ctx, w, flusher, sessionID)
				return
			}
			if err := logsVal.Get(&entries); err != nil {
				s.log.Printf("decode logs query: %v", err)
				continue
			}
			for ; lastIndex < len(entries); lastIndex++ {
				sseEvent(w, flusher, "log", strconv.Itoa(lastIndex), entries[lastIndex])
			}

			var status json.RawMessage
			statusVal, err := s.temporal.QueryWorkflow(ctx, sessionID, "", "status")
			if err != nil {
				continue
			}
			if err := statusVal.Get(&status); err != nil {
				continue
			}
			if done, payload := terminalCompletePayload(status); done {
				sseEvent(w, flusher, "complete", "", payload)
				return
			}
		}
	}
}

// streamFromStore replays the last known persisted state for a session
// whose workflow is no longer queryable (completed and past Temporal's
// retention, or the session id is unknown), then closes the stream.
func (s *Server) streamFromStore(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string) {
	gen, err := s.store.GetGeneration(ctx, sessionID)
	if err != nil {
		sseEvent(w, flusher, "error", "", map[string]string{"error": "unknown session"})
		return
	}
	sseEvent(w, flusher, "complete", "", map[string]string{"status": gen.Status, "error": gen.Error.String})
}

// terminalCompletePayload reports whether the workflow's "status" query
// result names a terminal state and, if so, the {status, error} payload
// the "complete" event carries per §6.
func terminalCompletePayload(status json.RawMessage) (bool, map[string]string) {
	var s struct {
		Status string `json:"Status"`
		Error  string `json:"Error"`
	}
	if err := json.Unmarshal(status, &s); err != nil {
		return false, nil
	}
	switch s.Status {
	case "failed", "merged", "closed", "succeeded":
		return true, map[string]string{"status": s.Status, "error": s.Error}
	default:
		return false, nil
	}
}
