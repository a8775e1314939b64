// Package registry implements the image-registry pre-flight and
// authorization steps of §4.8.3's build-image operation: ensuring the
// caller's ECR repository exists and minting the short-lived docker-login
// credentials the sandbox uses to push into it. Grounded on
// internal/credentials/broker.go's pattern of building a fresh,
// never-cached AWS client per call from the assumed-role credentials the
// broker just returned.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

// Client talks to the image registry in the caller's own cloud account
// using the short-lived credentials the broker hands back for each
// operation; it never holds or caches credentials itself.
type Client struct{}

func New() *Client { return &Client{} }

func clientFor(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (*ecr.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)),
	)
	if err != nil {
		return nil, sirperr.Fatal("registry", fmt.Errorf("load aws config: %w", err))
	}
	return ecr.NewFromConfig(cfg), nil
}

// EnsureRepository creates repoName if absent and returns its full
// "<account>.dkr.ecr.<region>.amazonaws.com/<repo>" URI. Running this
// pre-flight twice in the same account leaves exactly one repository with
// the expected name (R2): a create that loses the race against a
// concurrent pre-flight falls back to describing the now-existing repo
// instead of failing.
func (c *Client) EnsureRepository(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken, repoName string) (string, error) {
	cli, err := clientFor(ctx, region, accessKeyID, secretAccessKey, sessionToken)
	if err != nil {
		return "", err
	}

	if uri, ok := describeOne(ctx, cli, repoName); ok {
		return uri, nil
	}

	created, err := cli.CreateRepository(ctx, &ecr.CreateRepositoryInput{RepositoryName: aws.String(repoName)})
	if err != nil {
		var exists *ecrtypes.RepositoryAlreadyExistsException
		if errors.As(err, &exists) {
			if uri, ok := describeOne(ctx, cli, repoName); ok {
				return uri, nil
			}
		}
		return "", sirperr.Fatal("registry", fmt.Errorf("create repository %s: %w", repoName, err))
	}
	return aws.ToString(created.Repository.RepositoryUri), nil
}

func describeOne(ctx context.Context, cli *ecr.Client, repoName string) (string, bool) {
	out, err := cli.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{repoName}})
	if err != nil || len(out.Repositories) == 0 {
		return "", false
	}
	return aws.ToString(out.Repositories[0].RepositoryUri), true
}

// AuthToken exchanges the caller's credentials for the short-lived
// username/password pair the sandbox uses for `docker login`, satisfying
// the build-image step's "log in to the image registry".
func (c *Client) AuthToken(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) (username, password string, err error) {
	cli, err := clientFor(ctx, region, accessKeyID, secretAccessKey, sessionToken)
	if err != nil {
		return "", "", err
	}
	out, err := cli.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", "", sirperr.Fatal("registry", fmt.Errorf("get authorization token: %w", err))
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", sirperr.Fatal("registry", fmt.Errorf("registry returned no authorization data"))
	}
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(out.AuthorizationData[0].AuthorizationToken))
	if err != nil {
		return "", "", sirperr.Fatal("registry", fmt.Errorf("decode authorization token: %w", err))
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", sirperr.Fatal("registry", fmt.Errorf("unexpected authorization token shape"))
	}
	return parts[0], parts[1], nil
}

// EnsureECSServiceLinkedRole implements §4.8.3's apply pre-flight:
// "attempt to create the container-service service-linked role in the
// caller's account (idempotent; ignore 'already exists')." IAM has no
// describe-before-create for service-linked roles, so the idempotence is
// implemented the way the AWS CLI docs themselves recommend: attempt the
// create and swallow InvalidInputException, which IAM returns when the
// role already exists.
func (c *Client) EnsureECSServiceLinkedRole(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)),
	)
	if err != nil {
		return sirperr.Fatal("registry", fmt.Errorf("load aws config: %w", err))
	}
	cli := iam.NewFromConfig(cfg)
	_, err = cli.CreateServiceLinkedRole(ctx, &iam.CreateServiceLinkedRoleInput{
		AWSServiceName: aws.String("ecs.amazonaws.com"),
	})
	if err != nil {
		var exists *iamtypes.InvalidInputException
		if errors.As(err, &exists) {
			return nil
		}
		return sirperr.Fatal("registry", fmt.Errorf("create ecs service-linked role: %w", err))
	}
	return nil
}

// SanitizeRepoName lowercases name and replaces every character outside
// ECR's allowed repository-name set with '-', then trims leading and
// trailing '-' (falling back to "sirpi-app" when nothing is left),
// matching the build-image step's "repo-name-sanitized".
func SanitizeRepoName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '/', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "sirpi-app"
	}
	return out
}
