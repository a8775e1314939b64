package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
)

// handleGitHubWebhook verifies the HMAC signature, parses the event, and
// dispatches on type. pull_request close events are how the engine learns
// a change request was merged or abandoned, delivered into the owning
// GenerationWorkflow as a "pr_merged"/"pr_closed" signal via the Temporal
// client rather than a workflow-to-workflow signal, since the trigger
// originates outside any workflow.
func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := s.app.VerifyWebhook(r)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	eventType := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery != "" {
		s.log.Printf("webhook delivery=%s event=%s", delivery, eventType)
	}

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.InstallationEvent:
		s.log.Printf("installation event action=%s installation=%d", e.GetAction(), e.GetInstallation().GetID())
	case *github.InstallationRepositoriesEvent:
		s.log.Printf("installation repositories event action=%s installation=%d", e.GetAction(), e.GetInstallation().GetID())
	case *github.PullRequestEvent:
		s.handlePullRequestEvent(r.Context(), e)
	default:
		// ignore
	}

	w.WriteHeader(http.StatusAccepted)
}

// handlePullRequestEvent resolves the generation session the closed pull
// request belongs to (matched on the PR's HTML URL, which RaiseChangeRequest
// returns and RecordGenerationPR records verbatim) and signals its workflow so it can leave the
// awaiting-review wait state.
func (s *Server) handlePullRequestEvent(ctx context.Context, e *github.PullRequestEvent) {
	if !strings.EqualFold(e.GetAction(), "closed") {
		return
	}
	pr := e.GetPullRequest()
	if pr == nil {
		return
	}
	prURL := pr.GetHTMLURL()
	if prURL == "" {
		return
	}

	gen, err := s.store.GetGenerationByPRURL(ctx, prURL)
	if err != nil {
		s.log.Printf("pull_request webhook: no generation tracked for %s: %v", prURL, err)
		return
	}

	signal := "pr_closed"
	if pr.GetMerged() {
		signal = "pr_merged"
		if err := s.store.MarkGenerationMerged(ctx, gen.SessionID); err != nil {
			s.log.Printf("mark generation merged: %v", err)
		}
	}
	if err := s.temporal.SignalWorkflow(ctx, gen.SessionID, "", signal, nil); err != nil {
		s.log.Printf("signal workflow %s=%s: %v", gen.SessionID, signal, err)
	}
}
