package githubapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
)

// App holds one GitHub App's identity: the app id and private key used to
// mint JWTs/installation tokens, the webhook signing secret used to
// authenticate inbound deliveries, and the slug used to build the
// installation URL.
type App struct {
	AppID         int64
	Slug          string
	WebhookSecret string
	PrivateKeyPEM []byte
	BaseURL       string
}

func New(appID int64, slug, webhookSecret, privateKeyPEM, baseURL string) (*App, error) {
	keyBytes := []byte(privateKeyPEM)
	if len(bytesTrimSpace(keyBytes)) == 0 {
		return nil, fmt.Errorf("empty private key PEM")
	}
	return &App{
		AppID:         appID,
		Slug:          slug,
		WebhookSecret: webhookSecret,
		PrivateKeyPEM: keyBytes,
		BaseURL:       strings.TrimRight(baseURL, "/"),
	}, nil
}

// AppClient authenticates as the app itself (no installation), for
// app-level endpoints such as listing installations.
func (a *App) AppClient() (*github.Client, error) {
	tr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, a.AppID, a.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// installationTransport builds the per-installation JWT-exchange
// transport both InstallationClient and InstallationToken need: the
// former hands it to a *github.Client for API calls, the latter pulls a
// raw bearer token off it for a plain `git clone` the API client can't do.
func (a *App) installationTransport(installationID int64) (*ghinstallation.Transport, error) {
	return ghinstallation.New(http.DefaultTransport, a.AppID, installationID, a.PrivateKeyPEM)
}

// InstallationClient returns a *github.Client scoped to one installation,
// for repository inspection, PR creation, and similar API calls.
func (a *App) InstallationClient(installationID int64) (*github.Client, error) {
	tr, err := a.installationTransport(installationID)
	if err != nil {
		return nil, err
	}
	return github.NewClient(&http.Client{Transport: tr}), nil
}

// InstallationToken mints a short-lived token scoped to one installation
// for a caller that needs to authenticate a plain `git clone` (the sandbox
// checkout ahead of `docker build`) rather than talk to the GitHub API
// through a *github.Client. Like every other credential this system hands
// to a sandbox, it is used in-process for one call and never written to
// the relational store or artifact store.
func (a *App) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	tr, err := a.installationTransport(installationID)
	if err != nil {
		return "", err
	}
	return tr.Token(ctx)
}

// InstallURL is the one-click GitHub App installation URL for this app's slug.
func (a *App) InstallURL() string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new", a.Slug)
}

func bytesTrimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpaceByte(b[i]) {
		i++
	}
	for j > i && isSpaceByte(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
