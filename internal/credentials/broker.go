// Package credentials implements the Credential Broker (C6): a two-phase
// setup (initiate / verify) that exchanges a caller-registered role
// reference + nonce for short-lived credentials in the caller's own cloud
// account, via STS role assumption. See §4.6.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

// Credentials are short-lived and must never be persisted (Design Note
// "Credential non-persistence", P5).
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
	AccountID       string
}

type Broker struct {
	stsClient        *sts.Client
	serviceAccountID string
}

func New(stsClient *sts.Client, serviceAccountID string) *Broker {
	return &Broker{stsClient: stsClient, serviceAccountID: serviceAccountID}
}

// NewNonce generates a high-entropy nonce for the initiate phase.
func NewNonce() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credentials: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SetupURL returns a one-click URL targeting the cloud provider's
// stack-creation console with our service account id and the nonce
// embedded as parameters, for the caller to create a trust-scoped role.
func (b *Broker) SetupURL(consoleBaseURL, nonce string) string {
	return fmt.Sprintf("%s?serviceAccountId=%s&nonce=%s", strings.TrimRight(consoleBaseURL, "/"), b.serviceAccountID, nonce)
}

// Verify attempts a role assumption using the stored nonce. On success it
// returns the account id extracted from the assumed-role principal ARN,
// which the caller persists alongside status=verified.
func (b *Broker) Verify(ctx context.Context, roleARN, nonce string) (accountID string, err error) {
	_, principalARN, aerr := b.assume(ctx, roleARN, nonce, "sirpi-verify", 15*time.Minute)
	if aerr != nil {
		return "", sirperr.Fatal("credentials", fmt.Errorf("verify role assumption: %w", aerr))
	}
	account, ok := accountFromARN(principalARN)
	if !ok {
		return "", sirperr.Fatal("credentials", fmt.Errorf("could not extract account id from %q", principalARN))
	}
	return account, nil
}

// Assume performs the at-runtime cross-account operation of §4.6: every
// cross-account call assumes the role with the stored nonce and uses the
// returned short-lived credentials directly. Credentials are never
// persisted (P5); their lifetime is the returned expiry, default one hour.
func (b *Broker) Assume(ctx context.Context, roleARN, nonce, sessionName string, duration time.Duration) (Credentials, error) {
	if duration <= 0 {
		duration = time.Hour
	}
	creds, principalARN, err := b.assume(ctx, roleARN, nonce, sessionName, duration)
	if err != nil {
		return Credentials{}, err
	}
	if account, ok := accountFromARN(principalARN); ok {
		creds.AccountID = account
	}
	return creds, nil
}

func (b *Broker) assume(ctx context.Context, roleARN, nonce, sessionName string, duration time.Duration) (Credentials, string, error) {
	out, err := b.stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		ExternalId:      aws.String(nonce),
		DurationSeconds: aws.Int32(int32(duration.Seconds())),
	})
	if err != nil {
		return Credentials{}, "", err
	}
	if out.Credentials == nil {
		return Credentials{}, "", fmt.Errorf("assume-role returned no credentials")
	}
	principalARN := ""
	if out.AssumedRoleUser != nil {
		principalARN = aws.ToString(out.AssumedRoleUser.Arn)
	}
	return Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiry:          aws.ToTime(out.Credentials.Expiration),
	}, principalARN, nil
}

// accountFromARN extracts the account id segment from an ARN of the shape
// arn:aws:sts::<account-id>:assumed-role/<role>/<session>.
func accountFromARN(arn string) (string, bool) {
	parts := strings.Split(arn, ":")
	if len(parts) < 5 {
		return "", false
	}
	account := parts[4]
	if account == "" {
		return "", false
	}
	return account, true
}
