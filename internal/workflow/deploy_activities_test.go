package workflow

import (
	"strings"
	"testing"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/templates"
)

func TestRecipeUsesAlpineBase(t *testing.T) {
	cases := []struct {
		name   string
		recipe string
		want   bool
	}{
		{"alpine", "FROM node:20-alpine\nWORKDIR /app\n", true},
		{"debian", "FROM node:20-slim\nWORKDIR /app\n", false},
		{"leading-blank-lines", "\n\n  \nFROM node:18-alpine AS deps\n", true},
		{"leading-arg-then-alpine", "ARG NODE_VERSION=20\nFROM node:${NODE_VERSION}-alpine\n", false},
		{"empty", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := recipeUsesAlpineBase(c.recipe); got != c.want {
				t.Fatalf("recipeUsesAlpineBase(%q) = %v, want %v", c.recipe, got, c.want)
			}
		})
	}
}

func TestNextDebianRecipeIsNotAlpine(t *testing.T) {
	recipe := nextDebianRecipe()
	if recipeUsesAlpineBase(recipe) {
		t.Fatalf("replacement recipe must not itself be alpine-based")
	}
	if !strings.HasPrefix(strings.TrimSpace(recipe), "FROM node:20-slim") {
		t.Fatalf("expected replacement recipe to start with a debian-slim base image, got %q", recipe)
	}
}

func TestSummarizeResourcesBucketsByCategory(t *testing.T) {
	bundle, err := templates.Render("container-service", templates.Params{
		AppName: "demo-app", Port: 8000, HealthProbePath: "/healthz",
		ProjectID: "proj-123", Region: "us-east-1", StateBucket: "sirpi-state",
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	summary := summarizeResources(bundle)
	if !strings.HasPrefix(summary, "apply completed") {
		t.Fatalf("expected summary to start with 'apply completed', got %q", summary)
	}
	for _, cat := range []string{"compute", "security", "load-balancing"} {
		if !strings.Contains(summary, cat) {
			t.Fatalf("expected summary %q to mention category %q", summary, cat)
		}
	}
}

func TestSummarizeResourcesEmptyBundle(t *testing.T) {
	if got := summarizeResources(map[string]string{}); got != "apply completed" {
		t.Fatalf("expected the bare fallback summary for an empty bundle, got %q", got)
	}
}
