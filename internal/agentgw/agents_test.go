package agentgw

import (
	"context"
	"testing"
)

// TestContextAnalyzerParseFallsBackToMarkdownFields is B3: a response
// containing only markdown key-value fields yields language/port parsed
// and everything else defaulted.
func TestContextAnalyzerParseFallsBackToMarkdownFields(t *testing.T) {
	agent := NewContextAnalyzer()
	raw := "I couldn't produce JSON, but here's what I found:\n**Language**: python\n**Port**: 5000\n"

	out, err := agent.Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	rc, ok := out.(RepositoryContext)
	if !ok {
		t.Fatalf("expected RepositoryContext, got %T", out)
	}
	if rc.Language != "python" {
		t.Errorf("expected language python, got %q", rc.Language)
	}
	if len(rc.Ports) != 1 || rc.Ports[0] != 5000 {
		t.Errorf("expected ports [5000], got %v", rc.Ports)
	}
	if rc.DeploymentShape != "container-service" {
		t.Errorf("expected default deployment shape, got %q", rc.DeploymentShape)
	}
	if rc.Dependencies == nil {
		t.Errorf("expected Dependencies normalized to empty map, not nil")
	}
	if rc.EnvVars == nil {
		t.Errorf("expected EnvVars normalized to empty slice, not nil")
	}
}

func TestContextAnalyzerParseStructuredJSON(t *testing.T) {
	agent := NewContextAnalyzer()
	raw := "```json\n{\"language\":\"python\",\"framework\":\"fastapi\",\"runtime_version\":\"python3.12\",\"package_manager\":\"pip\",\"ports\":[8000]}\n```"
	out, err := agent.Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	rc := out.(RepositoryContext)
	if rc.Language != "python" || rc.Framework != "fastapi" || rc.PackageManager != "pip" {
		t.Fatalf("unexpected parsed context: %+v", rc)
	}
	if len(rc.Ports) != 1 || rc.Ports[0] != 8000 {
		t.Fatalf("unexpected ports: %v", rc.Ports)
	}
}

func TestContextAnalyzerParseFailsWhenNothingExtracts(t *testing.T) {
	agent := NewContextAnalyzer()
	if _, err := agent.Parse("completely unstructured prose with no markers"); err == nil {
		t.Fatalf("expected parse failure when both structured and fallback extraction fail")
	}
}

func TestContextAnalyzerBuildPromptRejectsWrongInputType(t *testing.T) {
	agent := NewContextAnalyzer()
	if _, err := agent.BuildPrompt(context.Background(), "not the right type"); err == nil {
		t.Fatalf("expected an error for a mistyped input")
	}
}

func TestContextAnalyzerBuildPromptTruncatesFileList(t *testing.T) {
	agent := NewContextAnalyzer()
	paths := make([]string, 80)
	for i := range paths {
		paths[i] = "file.go"
	}
	prompt, err := agent.BuildPrompt(context.Background(), ContextAnalyzerInput{
		Owner: "acme", Repo: "demo", Paths: paths, DominantLang: "go",
	})
	if err != nil {
		t.Fatalf("BuildPrompt error: %v", err)
	}
	count := 0
	for _, r := range prompt {
		if r == '\n' {
			count++
		}
	}
	// 50 truncated paths plus preamble lines; assert the prompt lists
	// exactly 50 of the 80 by counting the "- file.go" occurrences.
	occurrences := 0
	for i := 0; i+len("- file.go") <= len(prompt); i++ {
		if prompt[i:i+len("- file.go")] == "- file.go" {
			occurrences++
		}
	}
	if occurrences != 50 {
		t.Fatalf("expected the file list truncated to 50 entries, found %d", occurrences)
	}
}

func TestDockerfileGeneratorParseStripsToBaseImage(t *testing.T) {
	agent := NewDockerfileGenerator()
	raw := "Here is the Dockerfile:\n```dockerfile\nFROM python:3.12-slim\nWORKDIR /app\nCOPY . .\nCMD [\"python\", \"app.py\"]\n```\n"
	out, err := agent.Parse(raw)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	recipe := out.(string)
	if recipe[:len("FROM python")] != "FROM python" {
		t.Fatalf("expected recipe to start at the FROM directive, got: %q", recipe)
	}
}

func TestDockerfileGeneratorParseFailsWithoutBaseImage(t *testing.T) {
	agent := NewDockerfileGenerator()
	if _, err := agent.Parse("no directives here at all"); err == nil {
		t.Fatalf("expected an error when no FROM/ARG directive is present")
	}
}

func TestDockerfileGeneratorBuildPromptIncludesPackageManagerGuidance(t *testing.T) {
	agent := NewDockerfileGenerator()
	prompt, err := agent.BuildPrompt(context.Background(), DockerfileGeneratorInput{
		RepoContext: RepositoryContext{Language: "javascript", Framework: "next", PackageManager: "pnpm"},
	})
	if err != nil {
		t.Fatalf("BuildPrompt error: %v", err)
	}
	if !containsSubstr(prompt, "pnpm install --frozen-lockfile") {
		t.Errorf("expected pnpm-specific guidance in prompt: %q", prompt)
	}
	if !containsSubstr(prompt, "Next.js standalone") {
		t.Errorf("expected Next.js framework guidance in prompt: %q", prompt)
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
