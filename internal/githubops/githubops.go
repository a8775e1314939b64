// Package githubops wraps the go-github client operations the generation
// pipeline needs: reading a repository's tree and file contents (C1
// Repository Inspector) and raising the generated-artifact change request
// (the final step of the generation pipeline, §4.8.2).
package githubops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// TreeEntry is a flattened file/dir path from the repository tree, as
// consumed by the Repository Inspector's language-classification and
// artifact-probing passes.
type TreeEntry struct {
	Path string
	Dir  bool
}

// ListTree fetches the repository's full git tree recursively, truncated to
// a bounded count by the caller (the inspector enforces the bound, this
// function just surfaces whatever GitHub returns plus a truncation flag).
func ListTree(ctx context.Context, client *github.Client, owner, repo, ref string) ([]TreeEntry, bool, error) {
	tree, _, err := client.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, false, err
	}
	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			Dir:  e.GetType() == "tree",
		})
	}
	return entries, tree.GetTruncated(), nil
}

// GetFileContent reads a single file's content at ref. Returns (content,
// found, error): found is false on a 404, which callers treat as a silent
// skip per §4.1's "missing files are silently skipped" rule.
func GetFileContent(ctx context.Context, client *github.Client, owner, repo, path, ref string) (string, bool, error) {
	file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == 404 {
			return "", false, nil
		}
		return "", false, err
	}
	if file == nil {
		return "", false, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func EnsureBranch(ctx context.Context, client *github.Client, owner, repo, branch, baseBranch string) error {
	_, _, err := client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
	if err == nil {
		return nil
	}
	baseRef, _, err := client.Git.GetRef(ctx, owner, repo, "refs/heads/"+baseBranch)
	if err != nil {
		return fmt.Errorf("base branch %s not found: %w", baseBranch, err)
	}
	newRef := &github.Reference{
		Ref: github.String("refs/heads/" + branch),
		Object: &github.GitObject{
			SHA: baseRef.Object.SHA,
		},
	}
	_, _, err = client.Git.CreateRef(ctx, owner, repo, newRef)
	return err
}

func UpsertFile(ctx context.Context, client *github.Client, owner, repo, branch, path, content, message string) error {
	var sha *string
	file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err == nil && file != nil {
		s := file.GetSHA()
		sha = &s
	} else if resp != nil && resp.StatusCode != 404 {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
		SHA:     sha,
	}
	if sha == nil {
		_, _, err = client.Repositories.CreateFile(ctx, owner, repo, path, opts)
		return err
	}
	_, _, err = client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	return err
}

func CreatePullRequest(ctx context.Context, client *github.Client, owner, repo, headBranch, baseBranch, title, body string) (string, error) {
	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(headBranch),
		Base:  github.String(baseBranch),
		Body:  github.String(body),
	})
	if err != nil {
		return "", err
	}
	return pr.GetHTMLURL(), nil
}

// BuildBranchName produces a unique branch name for the change request
// carrying the generated container recipe and infra-as-code bundle.
func BuildBranchName(repo string, now time.Time) string {
	ts := now.UTC().Format("20060102150405")
	return fmt.Sprintf("sirpi/%s-%s", slugify(repo, "deploy"), ts)
}

func BuildCommitMessage(repo string) string {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		repo = "app"
	}
	return "chore: add deployment artifacts for " + repo
}

func slugify(value string, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	out := make([]rune, 0, len(v))
	lastDash := false
	for _, r := range v {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			out = append(out, r)
			lastDash = false
			continue
		}
		if !lastDash {
			out = append(out, '-')
			lastDash = true
		}
	}
	s := strings.Trim(string(out), "-")
	if s == "" {
		return fallback
	}
	return s
}
