// Package inspector implements the Repository Inspector (C1): it fetches a
// repository's file tree and salient file contents, classifies the dominant
// language, and locates any pre-existing container recipe or infra-as-code
// files already checked into the repository. See §4.1.
package inspector

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v66/github"
	"gopkg.in/yaml.v3"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubops"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

const (
	maxTreePaths    = 2000
	manifestCapByte = 5 * 1024
	truncationMark  = "\n...[truncated]"
)

// Snapshot is the repository snapshot of §3.
type Snapshot struct {
	Owner        string
	Name         string
	Paths        []string
	Truncated    bool
	Manifests    map[string]string
	Configs      map[string]string
	Language     string
	Dockerfile   *DockerfileCandidate
	InfraFiles   map[string]string
	InfraDir     string
	DeployConfig *DeployConfig
}

// DeployConfig is a repository-checked-in override of the values the
// context-analyzer agent would otherwise infer on its own, read from
// ".sirpi.yml" at the repository root per §4.1's "a repository may commit
// its own deployment config to skip inference for values it already knows."
// Every field is optional; a zero value means "let the agent decide".
type DeployConfig struct {
	DeploymentShape string `yaml:"deployment_shape"`
	Port            int    `yaml:"port"`
	HealthProbePath string `yaml:"health_probe_path"`
	StartCommand    string `yaml:"start_command"`
	BuildCommand    string `yaml:"build_command"`
}

const deployConfigPath = ".sirpi.yml"

// loadDeployConfig fetches and parses the repository's deployment config
// override, if any. A missing file or malformed YAML is treated the same
// as "no override" (§4.1's partial-fetch tolerance, kind 4) rather than
// failing the whole inspection.
func loadDeployConfig(ctx context.Context, client *github.Client, owner, repo, ref string) *DeployConfig {
	content, found, err := githubops.GetFileContent(ctx, client, owner, repo, deployConfigPath, ref)
	if err != nil || !found {
		return nil
	}
	var cfg DeployConfig
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil
	}
	return &cfg
}

type DockerfileCandidate struct {
	Path    string
	Content string
}

var extensionLanguage = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".java": "java",
	".rb":   "ruby",
	".php":  "php",
}

var manifestsByLanguage = map[string][]string{
	"python":     {"requirements.txt", "pyproject.toml", "Pipfile", "setup.py"},
	"javascript": {"package.json"},
	"typescript": {"package.json"},
	"go":         {"go.mod"},
	"java":       {"pom.xml", "build.gradle", "build.gradle.kts"},
	"ruby":       {"Gemfile"},
	"php":        {"composer.json"},
}

var configFiles = []string{
	".env.example", ".env.sample", "docker-compose.yml", "docker-compose.yaml",
	"Procfile", "next.config.js", "next.config.mjs", "vite.config.ts", "vite.config.js",
}

// recipeProbes returns the fixed-order candidate paths of §4.1: root,
// hidden tool directory, docker/, a directory matching the repo name,
// docker/<repo>/, docker/images/<repo>/, app/, then docker/app/.
func recipeProbes(repo string) []string {
	return []string{
		"Dockerfile",
		".docker/Dockerfile",
		"docker/Dockerfile",
		fmt.Sprintf("%s/Dockerfile", repo),
		fmt.Sprintf("docker/%s/Dockerfile", repo),
		fmt.Sprintf("docker/images/%s/Dockerfile", repo),
		"app/Dockerfile",
		"docker/app/Dockerfile",
	}
}

var recursiveAllowDirs = []string{".docker", "docker", "docker/images", "docker/app", "app", "src"}

var recursiveExcludeDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"test": true, "tests": true, "__tests__": true, "vendor": true,
	"node_modules/.bin": true, "docs": true, "doc": true,
}

var redHerringTokens = []string{"base", "test", "dev", "example", "sample", "demo"}

// Inspect builds the repository snapshot described in §4.1.
func Inspect(ctx context.Context, client *github.Client, owner, repo, ref string) (*Snapshot, error) {
	snap := &Snapshot{
		Owner:      owner,
		Name:       repo,
		Manifests:  map[string]string{},
		Configs:    map[string]string{},
		InfraFiles: map[string]string{},
	}

	entries, truncated, err := githubops.ListTree(ctx, client, owner, repo, ref)
	if err != nil {
		return nil, sirperr.Fatal("inspector", fmt.Errorf("list tree: %w", err))
	}
	snap.Truncated = truncated
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Dir {
			continue
		}
		paths = append(paths, e.Path)
	}
	if len(paths) > maxTreePaths {
		paths = paths[:maxTreePaths]
		snap.Truncated = true
	}
	snap.Paths = paths

	snap.Language = classifyLanguage(paths)

	candidateLanguages := []string{snap.Language}
	if snap.Language == "typescript" {
		candidateLanguages = append(candidateLanguages, "javascript")
	}
	for _, lang := range candidateLanguages {
		for _, manifest := range manifestsByLanguage[lang] {
			content, found, ferr := githubops.GetFileContent(ctx, client, owner, repo, manifest, ref)
			if ferr != nil || !found {
				continue // partial-fetch: missing files silently skipped, §4.1 / §7 kind 4
			}
			snap.Manifests[manifest] = cap5KB(content)
		}
	}

	for _, cfgFile := range configFiles {
		content, found, ferr := githubops.GetFileContent(ctx, client, owner, repo, cfgFile, ref)
		if ferr != nil || !found {
			continue
		}
		snap.Configs[cfgFile] = cap5KB(content)
	}

	if dc := findDockerfile(ctx, client, owner, repo, ref, paths); dc != nil {
		snap.Dockerfile = dc
	}

	infraDir, infraFiles := findTerraform(ctx, client, owner, repo, ref, paths)
	snap.InfraDir = infraDir
	snap.InfraFiles = infraFiles

	snap.DeployConfig = loadDeployConfig(ctx, client, owner, repo, ref)

	return snap, nil
}

func classifyLanguage(paths []string) string {
	counts := map[string]int{}
	for _, p := range paths {
		ext := path.Ext(p)
		if lang, ok := extensionLanguage[ext]; ok {
			counts[lang]++
		}
	}
	best := ""
	bestCount := 0
	for lang, c := range counts {
		if c > bestCount {
			best, bestCount = lang, c
		}
	}
	return best
}

func cap5KB(content string) string {
	if len(content) <= manifestCapByte {
		return content
	}
	return content[:manifestCapByte] + truncationMark
}

func findDockerfile(ctx context.Context, client *github.Client, owner, repo, ref string, paths []string) *DockerfileCandidate {
	for _, p := range recipeProbes(repo) {
		content, found, err := githubops.GetFileContent(ctx, client, owner, repo, p, ref)
		if err == nil && found {
			return &DockerfileCandidate{Path: p, Content: content}
		}
	}

	var candidates []string
	pathSet := make(map[string]bool, len(paths))
	for _, p := range paths {
		pathSet[p] = true
	}
	for _, p := range paths {
		if path.Base(p) != "Dockerfile" {
			continue
		}
		dir := path.Dir(p)
		if dir == "." {
			continue // already covered by the root probe above
		}
		if !underAllowedDir(dir) {
			continue
		}
		if depthOf(dir) > 2 {
			continue
		}
		if excludedSegment(dir) {
			continue
		}
		candidates = append(candidates, p)
	}

	candidates = filterRedHerrings(candidates)
	if len(candidates) == 0 {
		return nil
	}
	best := preferRepoName(candidates, repo)
	content, found, err := githubops.GetFileContent(ctx, client, owner, repo, best, ref)
	if err != nil || !found {
		return nil
	}
	return &DockerfileCandidate{Path: best, Content: content}
}

func underAllowedDir(dir string) bool {
	for _, allowed := range recursiveAllowDirs {
		if dir == allowed || strings.HasPrefix(dir, allowed+"/") {
			return true
		}
	}
	return false
}

func depthOf(dir string) int {
	return strings.Count(dir, "/") + 1
}

func excludedSegment(dir string) bool {
	for _, seg := range strings.Split(dir, "/") {
		if recursiveExcludeDirs[seg] {
			return true
		}
	}
	return false
}

func filterRedHerrings(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lower := strings.ToLower(c)
		flagged := false
		for _, tok := range redHerringTokens {
			if strings.Contains(lower, tok) {
				flagged = true
				break
			}
		}
		if !flagged {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}

func preferRepoName(candidates []string, repo string) string {
	lowerRepo := strings.ToLower(repo)
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), lowerRepo) {
			return c
		}
	}
	return candidates[0]
}

func findTerraform(ctx context.Context, client *github.Client, owner, repo, ref string, paths []string) (string, map[string]string) {
	files := map[string]string{}
	hasTerraformDir := false
	for _, p := range paths {
		if strings.HasPrefix(p, "terraform/") {
			hasTerraformDir = true
			break
		}
	}
	dir := ""
	if hasTerraformDir {
		dir = "terraform"
		for _, p := range paths {
			if strings.HasPrefix(p, "terraform/") && strings.HasSuffix(p, ".tf") {
				if content, found, err := githubops.GetFileContent(ctx, client, owner, repo, p, ref); err == nil && found {
					files[path.Base(p)] = content
				}
			}
		}
		return dir, files
	}
	for _, p := range paths {
		if path.Dir(p) == "." && strings.HasSuffix(p, ".tf") {
			if content, found, err := githubops.GetFileContent(ctx, client, owner, repo, p, ref); err == nil && found {
				files[path.Base(p)] = content
				dir = "."
			}
		}
	}
	return dir, files
}
