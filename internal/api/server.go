// Package api is the HTTP surface of §6's External Interfaces: install URL,
// GitHub webhook intake, session start + streaming log retrieval, deploy
// triggers, and the credential-broker setup/verify exchange.
//
// Grounded on apps/ReleaseParty/backend/internal/api/server.go's
// Server/Router/writeJSON shape, extended with the Temporal client calls
// the generation/deployment workflows need and the memory/artifacts/
// credentials collaborators this system adds.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/config"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/credentials"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubapp"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/memory"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/store"
)

type Server struct {
	cfg       config.Config
	app       *githubapp.App
	store     *store.Store
	temporal  client.Client
	gateway   *agentgw.Gateway
	memory    *memory.Store
	artifacts *artifacts.Store
	broker    *credentials.Broker
	log       *log.Logger
}

func New(cfg config.Config, app *githubapp.App, st *store.Store, temporalClient client.Client,
	gw *agentgw.Gateway, mem *memory.Store, art *artifacts.Store, broker *credentials.Broker, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "sirpi ", log.LstdFlags|log.LUTC)
	}
	return &Server{
		cfg: cfg, app: app, store: st, temporal: temporalClient,
		gateway: gw, memory: mem, artifacts: art, broker: broker, log: logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/install/url", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"url": s.app.InstallURL()})
		})
		r.Post("/github/webhooks", s.handleGitHubWebhook)

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions/{id}/stream", s.handleStreamSession)
		r.Get("/sessions/{id}/memory", s.handleSessionMemory)

		r.Post("/cloud-connections/initiate", s.handleCloudConnectionInitiate)
		r.Post("/cloud-connections/verify", s.handleCloudConnectionVerify)

		r.Post("/projects/{id}/deploy/{operation}", s.handleDeployTrigger)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
