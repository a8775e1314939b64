package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.temporal.io/sdk/client"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/api"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/config"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/credentials"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubapp"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/memory"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "sirpi-api ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	app, err := githubapp.New(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.BaseURL)
	if err != nil {
		logger.Fatalf("github app: %v", err)
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

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer temporalClient.Close()

	gw := agentgw.New(cfg.AgentGatewayBaseURL, cfg.AgentMaxRetries, cfg.AgentBackoffBase)
	mem := memory.NewStore()
	art := artifacts.New(s3.NewFromConfig(awsCfg), cfg.ArtifactBucket)
	broker := credentials.New(sts.NewFromConfig(awsCfg), cfg.ServiceAccountID)

	srv := api.New(cfg, app, st, temporalClient, gw, mem, art, broker, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Printf("shutting down...")
	_ = httpSrv.Close()
}
