package agentgw

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Agent is the capability every generation agent implements: build the
// prompt from an input, parse the response into a typed output. Design
// Notes §9 "Agent-as-variant": the three agents differ only by id,
// prompt-building, and response extraction.
type Agent interface {
	ID() string
	BuildPrompt(ctx context.Context, input any) (string, error)
	Parse(response string) (any, error)
}

// RepositoryContext is the structured inference output shared between
// generation stages, per §3.
type RepositoryContext struct {
	Language             string            `json:"language"`
	Framework            string            `json:"framework"`
	RuntimeVersion       string            `json:"runtime_version"`
	PackageManager        string            `json:"package_manager"`
	Dependencies          map[string]string `json:"dependencies"`
	DeploymentShape       string            `json:"deployment_shape"`
	Ports                 []int             `json:"ports"`
	EnvVars                []string          `json:"env_vars"`
	HealthProbePath        string            `json:"health_probe_path"`
	StartCommand           string            `json:"start_command"`
	BuildCommand           string            `json:"build_command"`
	HasExistingDockerfile  bool              `json:"-"`
	ExistingDockerfile     string            `json:"-"`
	ExistingInfraFiles     map[string]string `json:"-"`
	ExistingInfraLocation  string            `json:"-"`
}

// ContextAnalyzerInput is the snapshot-derived input to the context-analyzer
// agent (generation pipeline step 2, §4.8.2).
type ContextAnalyzerInput struct {
	Owner         string
	Repo          string
	Paths         []string
	Manifests     map[string]string
	Configs       map[string]string
	DominantLang  string
}

type contextAnalyzerAgent struct{}

func NewContextAnalyzer() Agent { return contextAnalyzerAgent{} }

func (contextAnalyzerAgent) ID() string { return "context-analyzer" }

func (contextAnalyzerAgent) BuildPrompt(_ context.Context, input any) (string, error) {
	in, ok := input.(ContextAnalyzerInput)
	if !ok {
		return "", fmt.Errorf("context-analyzer: unexpected input type %T", input)
	}
	var b strings.Builder
	b.WriteString("You are analyzing a source repository to infer its runtime and framework.\n")
	fmt.Fprintf(&b, "Repository: %s/%s\n", in.Owner, in.Repo)
	fmt.Fprintf(&b, "Dominant language (by file-extension count): %s\n", in.DominantLang)
	b.WriteString("File list (truncated to 50):\n")
	paths := in.Paths
	if len(paths) > 50 {
		paths = paths[:50]
	}
	for _, p := range paths {
		b.WriteString("- " + p + "\n")
	}
	for name, content := range in.Manifests {
		fmt.Fprintf(&b, "\n--- manifest: %s ---\n%s\n", name, content)
	}
	for name, content := range in.Configs {
		fmt.Fprintf(&b, "\n--- config: %s ---\n%s\n", name, content)
	}
	b.WriteString("\nRespond with a single structured JSON object matching the RepositoryContext schema.\n")
	return b.String(), nil
}

func (contextAnalyzerAgent) Parse(response string) (any, error) {
	var out RepositoryContext
	if err := ExtractStructured(response, &out); err != nil {
		fallback, ferr := fallbackMarkdownExtract(response)
		if ferr != nil {
			return nil, fmt.Errorf("context-analyzer parse failed: %w", err)
		}
		out = fallback
	}
	normalizeContext(&out)
	return out, nil
}

// DockerfileGeneratorInput carries the rule list and framework guidance the
// dockerfile-generator agent's prompt needs, per §4.8.2 step 3.
type DockerfileGeneratorInput struct {
	RepoContext RepositoryContext
}

type dockerfileGeneratorAgent struct{}

func NewDockerfileGenerator() Agent { return dockerfileGeneratorAgent{} }

func (dockerfileGeneratorAgent) ID() string { return "dockerfile-generator" }

var requiredDirectives = []string{"base-image (FROM)", "working-directory (WORKDIR)", "file-copy (COPY/ADD)", "entrypoint (ENTRYPOINT/CMD)"}

func (dockerfileGeneratorAgent) BuildPrompt(_ context.Context, input any) (string, error) {
	in, ok := input.(DockerfileGeneratorInput)
	if !ok {
		return "", fmt.Errorf("dockerfile-generator: unexpected input type %T", input)
	}
	rc := in.RepoContext
	var b strings.Builder
	b.WriteString("Generate a production container recipe (Dockerfile).\n")
	fmt.Fprintf(&b, "Required instructions: %s\n", strings.Join(requiredDirectives, ", "))
	b.WriteString("Never include placeholder tokens (PLACEHOLDER, TODO, FIXME, XXX).\n")
	fmt.Fprintf(&b, "Language: %s, Framework: %s, Runtime: %s\n", rc.Language, rc.Framework, rc.RuntimeVersion)
	switch rc.PackageManager {
	case "npm":
		b.WriteString("Use `npm ci` for reproducible installs.\n")
	case "yarn":
		b.WriteString("Use `yarn install --frozen-lockfile`.\n")
	case "pnpm":
		b.WriteString("Use `pnpm install --frozen-lockfile`.\n")
	case "pip":
		b.WriteString("Use `pip install --no-cache-dir -r requirements.txt`.\n")
	}
	switch rc.Framework {
	case "next":
		b.WriteString("Use Next.js standalone output mode for a minimal runtime image.\n")
	case "spa":
		b.WriteString("Serve the built static assets with a lightweight static-file server.\n")
	case "express", "fastify":
		b.WriteString("Node API without a separate build step; run directly from source.\n")
	case "fastapi", "flask", "django":
		b.WriteString("Use a slim Python base image and run behind an ASGI/WSGI server.\n")
	}
	return b.String(), nil
}

func (dockerfileGeneratorAgent) Parse(response string) (any, error) {
	cleaned := StripEnvelopes(response)
	cleaned = anyFenced.ReplaceAllStringFunc(cleaned, func(m string) string {
		sub := anyFenced.FindStringSubmatch(m)
		if len(sub) > 1 {
			return sub[1]
		}
		return m
	})
	lines := strings.Split(cleaned, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") || strings.HasPrefix(trimmed, "ARG ") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("dockerfile-generator: no base-image or ARG directive found in response")
	}
	return strings.Join(lines[start:], "\n"), nil
}

var markdownFieldPattern = regexp.MustCompile(`(?i)\*\*([A-Za-z ]+)\*\*:\s*(.+)`)

// fallbackMarkdownExtract is the last-resort extractor of §4.2: it pulls
// known key-value pairs via pattern matching when structured extraction
// fails entirely, and fills absent keys with conservative defaults.
func fallbackMarkdownExtract(response string) (RepositoryContext, error) {
	out := RepositoryContext{}
	matches := markdownFieldPattern.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return out, fmt.Errorf("no markdown fields found")
	}
	for _, m := range matches {
		key := strings.ToLower(strings.TrimSpace(m[1]))
		val := strings.TrimSpace(m[2])
		switch key {
		case "language":
			out.Language = strings.ToLower(val)
		case "framework":
			out.Framework = strings.ToLower(val)
		case "runtime", "runtime version":
			out.RuntimeVersion = val
		case "package manager":
			out.PackageManager = strings.ToLower(val)
		case "port":
			if p, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				out.Ports = []int{p}
			}
		}
	}
	return out, nil
}

// normalizeContext coerces nullable containers to empty containers and
// fills defaults, per §4.2's "Type normalization".
func normalizeContext(rc *RepositoryContext) {
	if rc.Dependencies == nil {
		rc.Dependencies = map[string]string{}
	}
	if rc.EnvVars == nil {
		rc.EnvVars = []string{}
	}
	if len(rc.Ports) == 0 {
		rc.Ports = []int{8080}
	}
	if rc.DeploymentShape == "" {
		rc.DeploymentShape = "container-service"
	}
	if rc.HealthProbePath == "" {
		rc.HealthProbePath = "/"
	}
}
