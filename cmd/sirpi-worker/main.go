package main

import (
	"context"
	"log"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/config"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/credentials"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubapp"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/memory"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/registry"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sandbox"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/store"
	sirpiworkflow "github.com/RAJ-SUDHARSHAN/sirpi/internal/workflow"
)

func main() {
	logger := log.New(os.Stdout, "sirpi-worker ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	app, err := githubapp.New(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.BaseURL)
	if err != nil {
		logger.Fatalf("github app: %v", err)
	}
	ghClient, err := app.InstallationClient(cfg.GitHubDefaultInstallationID)
	if err != nil {
		logger.Fatalf("github installation client: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer st.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Fatalf("aws config: %v", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	deps := sirpiworkflow.Deps{
		GitHub:      ghClient,
		GitHubApp:   app,
		Gateway:     agentgw.New(cfg.AgentGatewayBaseURL, cfg.AgentMaxRetries, cfg.AgentBackoffBase),
		Memory:      memory.NewStore(),
		Store:       st,
		Artifacts:   artifacts.New(s3.NewFromConfig(awsCfg), cfg.ArtifactBucket),
		SandboxPool: sandbox.NewPool(cfg.SandboxWorkers, cfg.SandboxImage),
		Broker:      credentials.New(sts.NewFromConfig(awsCfg), cfg.ServiceAccountID),
		Registry:    registry.New(),
		Temporal:    c,
		Region:      cfg.AWSRegion,
	}
	activities := sirpiworkflow.NewActivities(deps)

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(sirpiworkflow.GenerationWorkflow)
	w.RegisterWorkflow(sirpiworkflow.DeploymentWorkflow)
	w.RegisterActivity(activities)

	logger.Printf("worker started (task queue: %s)", cfg.TemporalTaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatalf("worker error: %v", err)
	}
}
