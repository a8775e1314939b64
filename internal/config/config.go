package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting for both the HTTP API and
// the Temporal worker. Both binaries call Load and pick the fields they
// need; unused fields for a given binary are simply ignored.
type Config struct {
	Addr string

	GitHubAppID               int64
	GitHubAppSlug             string
	GitHubWebhookSecret       string
	GitHubPrivateKeyPEM       string
	GitHubDefaultInstallationID int64

	DatabasePath string
	BaseURL      string

	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	ArtifactBucket   string
	StateBucket      string
	AWSRegion        string
	SignedURLTTL     time.Duration
	AssumeRoleTTL    time.Duration
	ServiceAccountID string

	SandboxImage     string
	SandboxMaxLife   time.Duration
	SandboxWorkers   int
	SandboxCmdTimeoutDefault time.Duration
	SandboxCmdTimeoutMax     time.Duration

	AgentGatewayBaseURL string
	AgentMaxRetries     int
	AgentBackoffBase    time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		Addr:                env("SIRPI_ADDR", ":8080"),
		BaseURL:             strings.TrimRight(env("SIRPI_BASE_URL", ""), "/"),
		DatabasePath:        env("SIRPI_DB_PATH", "data/sirpi.sqlite"),
		GitHubAppSlug:       env("GITHUB_APP_SLUG", ""),
		GitHubWebhookSecret: env("GITHUB_APP_WEBHOOK_SECRET", ""),
		GitHubPrivateKeyPEM: env("GITHUB_APP_PRIVATE_KEY_PEM", ""),

		TemporalHostPort:  env("TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace: env("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: env("SIRPI_TASK_QUEUE", "sirpi-engine"),

		ArtifactBucket:   env("SIRPI_ARTIFACT_BUCKET", ""),
		StateBucket:      env("SIRPI_STATE_BUCKET", ""),
		AWSRegion:        env("AWS_REGION", "us-east-1"),
		SignedURLTTL:     durationEnv("SIRPI_SIGNED_URL_TTL", time.Hour),
		AssumeRoleTTL:    durationEnv("SIRPI_ASSUME_ROLE_TTL", time.Hour),
		ServiceAccountID: env("SIRPI_SERVICE_ACCOUNT_ID", ""),

		SandboxImage:             env("SIRPI_SANDBOX_IMAGE", "sirpi/sandbox:latest"),
		SandboxMaxLife:           durationEnv("SIRPI_SANDBOX_MAX_LIFE", time.Hour),
		SandboxWorkers:           intEnv("SIRPI_SANDBOX_WORKERS", 4),
		SandboxCmdTimeoutDefault: durationEnv("SIRPI_SANDBOX_CMD_TIMEOUT_DEFAULT", 5*time.Minute),
		SandboxCmdTimeoutMax:     durationEnv("SIRPI_SANDBOX_CMD_TIMEOUT_MAX", 50*time.Minute),

		AgentGatewayBaseURL: env("SIRPI_AGENT_GATEWAY_URL", ""),
		AgentMaxRetries:     intEnv("SIRPI_AGENT_MAX_RETRIES", 3),
		AgentBackoffBase:    durationEnv("SIRPI_AGENT_BACKOFF_BASE", 2*time.Second),
	}

	if v := strings.TrimSpace(env("GITHUB_APP_ID", "")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.GitHubAppID = n
	}
	if v := strings.TrimSpace(env("GITHUB_DEFAULT_INSTALLATION_ID", "")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.GitHubDefaultInstallationID = n
	}
	if cfg.GitHubPrivateKeyPEM == "" {
		if path := strings.TrimSpace(env("GITHUB_APP_PRIVATE_KEY_PATH", "")); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return Config{}, err
			}
			cfg.GitHubPrivateKeyPEM = string(b)
		}
	}

	if cfg.GitHubAppID == 0 {
		return Config{}, errors.New("missing GITHUB_APP_ID")
	}
	if strings.TrimSpace(cfg.GitHubPrivateKeyPEM) == "" {
		return Config{}, errors.New("missing GITHUB_APP_PRIVATE_KEY_PEM or GITHUB_APP_PRIVATE_KEY_PATH")
	}
	if strings.TrimSpace(cfg.GitHubWebhookSecret) == "" {
		return Config{}, errors.New("missing GITHUB_APP_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(cfg.GitHubAppSlug) == "" {
		return Config{}, errors.New("missing GITHUB_APP_SLUG")
	}
	if cfg.BaseURL == "" {
		return Config{}, errors.New("missing SIRPI_BASE_URL (public https base url for GitHub webhook delivery + UI links)")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
