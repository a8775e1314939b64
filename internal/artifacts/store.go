// Package artifacts implements the Artifact Store (C5): generated files are
// persisted under a deterministic per-repository path with object-store
// versioning, and time-limited read links are issued against the stable
// path. See §4.5.
//
// Generalized from internal/store/store.go's "deterministic path, let the
// substrate version it" idiom (see DESIGN.md for the aws-sdk-go-v2 grounding).
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Kind string

const (
	KindContainerRecipe Kind = "container-recipe"
	KindInfraCode       Kind = "infra-code"
)

// File is one member of an artifact bundle: (filename, content, kind).
type File struct {
	Name    string
	Content string
	Kind    Kind
}

// WriteResult reports the version id the underlying object store assigned
// to each written file, satisfying P2 (latest-read observes the version a
// write returned, unless superseded).
type WriteResult struct {
	Name      string
	Key       string
	VersionID string
}

type Store struct {
	client *s3.Client
	bucket string
}

func New(client *s3.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// repoPrefix builds the deterministic path of §4.5: container recipe at the
// root of the prefix, infra-code files under a terraform/ subpath.
func repoPrefix(owner, repo string) string {
	return fmt.Sprintf("repositories/%s/%s", owner, repo)
}

func keyFor(owner, repo string, f File) string {
	prefix := repoPrefix(owner, repo)
	if f.Kind == KindInfraCode {
		return fmt.Sprintf("%s/terraform/%s", prefix, f.Name)
	}
	return fmt.Sprintf("%s/%s", prefix, f.Name)
}

// WriteBundle persists every file in the bundle to its stable path. Writes
// always target the same key, so the object store's own versioning keeps
// older content addressable while the stable-key read always returns the
// newest write (P2, R1).
func (s *Store) WriteBundle(ctx context.Context, owner, repo string, files []File) ([]WriteResult, error) {
	results := make([]WriteResult, 0, len(files))
	for _, f := range files {
		key := keyFor(owner, repo, f)
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader([]byte(f.Content)),
		})
		if err != nil {
			return nil, fmt.Errorf("artifacts: put %s: %w", key, err)
		}
		version := ""
		if out.VersionId != nil {
			version = *out.VersionId
		}
		results = append(results, WriteResult{Name: f.Name, Key: key, VersionID: version})
	}
	return results, nil
}

// ReadLatest returns the current content of every file under a repository's
// prefix, keyed by the object's path below that prefix (e.g. "Dockerfile",
// "terraform/main.tf").
func (s *Store) ReadLatest(ctx context.Context, owner, repo string) (map[string]string, error) {
	prefix := repoPrefix(owner, repo) + "/"
	out := map[string]string{}
	var continuationToken *string
	for {
		list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("artifacts: list %s: %w", prefix, err)
		}
		for _, obj := range list.Contents {
			key := aws.ToString(obj.Key)
			getOut, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("artifacts: get %s: %w", key, err)
			}
			data, err := io.ReadAll(getOut.Body)
			getOut.Body.Close()
			content := string(data)
			if err != nil {
				return nil, err
			}
			out[strings.TrimPrefix(key, prefix)] = content
		}
		if list.IsTruncated == nil || !*list.IsTruncated {
			break
		}
		continuationToken = list.NextContinuationToken
	}
	return out, nil
}

// SignedReadURL issues a time-bounded signed URL for a stored file, default
// lifetime one hour per §4.5.
func (s *Store) SignedReadURL(ctx context.Context, owner, repo, filename string, kind Kind, ttl time.Duration) (string, error) {
	key := keyFor(owner, repo, File{Name: filename, Kind: kind})
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("artifacts: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// DeleteAllVersions removes every version of a state-backend object from
// this store's bucket, satisfying R3 (destroy idempotence).
func (s *Store) DeleteAllVersions(ctx context.Context, key string) error {
	versions, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("artifacts: list versions %s: %w", key, err)
	}
	for _, v := range versions.Versions {
		if aws.ToString(v.Key) != key {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket:    aws.String(s.bucket),
			Key:       v.Key,
			VersionId: v.VersionId,
		}); err != nil {
			return fmt.Errorf("artifacts: delete version %s: %w", aws.ToString(v.VersionId), err)
		}
	}
	for _, m := range versions.DeleteMarkers {
		if aws.ToString(m.Key) != key {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket:    aws.String(s.bucket),
			Key:       m.Key,
			VersionId: m.VersionId,
		}); err != nil {
			return fmt.Errorf("artifacts: delete marker %s: %w", aws.ToString(m.VersionId), err)
		}
	}
	return nil
}

// DeleteAllVersionsInCallerBucket removes every version of a state-backend
// object from the per-caller bucket in the caller's own cloud account,
// using the short-lived credentials the broker just returned rather than
// this service's own S3 client — the bucket lives outside our account, so
// our credentials have no access to it. Built fresh per call, never cached,
// matching internal/credentials/broker.go's non-persistence discipline.
func DeleteAllVersionsInCallerBucket(ctx context.Context, region, accessKeyID, secretAccessKey, sessionToken, bucket, key string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)),
	)
	if err != nil {
		return fmt.Errorf("artifacts: load aws config: %w", err)
	}
	s := &Store{client: s3.NewFromConfig(cfg), bucket: bucket}
	return s.DeleteAllVersions(ctx, key)
}

// StateObjectKey is the deterministic key for a project's terraform state,
// stored in a per-caller bucket named by the caller's account id per §4.8.3.
func StateObjectKey(projectID string) string {
	return fmt.Sprintf("states/%s/terraform.tfstate", projectID)
}

// PerCallerStateBucket derives the per-caller state bucket name so each
// caller's state is isolated, per §4.8.2 step 4's state-backend note.
func PerCallerStateBucket(baseBucket, accountID string) string {
	return fmt.Sprintf("%s-%s", baseBucket, accountID)
}

