package validator

import "testing"

func TestValidateContainerRecipeValid(t *testing.T) {
	recipe := `FROM node:20-slim AS build
WORKDIR /app
COPY . .
RUN npm ci && npm run build

FROM node:20-slim
WORKDIR /app
COPY --from=build /app/dist ./dist
USER node
HEALTHCHECK CMD curl -f http://localhost:3000/ || exit 1
ENTRYPOINT ["node", "dist/index.js"]
`
	res := ValidateContainerRecipe(recipe)
	if !res.Valid {
		t.Fatalf("expected valid recipe, got errors: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings for a complete multi-stage recipe, got: %v", res.Warnings)
	}
}

func TestValidateContainerRecipeMissingDirectives(t *testing.T) {
	res := ValidateContainerRecipe("RUN echo hello\n")
	if res.Valid {
		t.Fatalf("expected invalid recipe")
	}
	wantSubstrings := []string{"FROM", "WORKDIR", "COPY/ADD", "ENTRYPOINT/CMD"}
	for _, want := range wantSubstrings {
		found := false
		for _, e := range res.Errors {
			if containsString(e, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected an error mentioning %q, got: %v", want, res.Errors)
		}
	}
}

func TestValidateContainerRecipeRejectsPlaceholder(t *testing.T) {
	recipe := "FROM python:3.12-slim\nWORKDIR /app\nCOPY . .\n# TODO fix this\nCMD [\"python\", \"app.py\"]\n"
	res := ValidateContainerRecipe(recipe)
	if res.Valid {
		t.Fatalf("expected recipe with TODO placeholder to be invalid")
	}
	found := false
	for _, e := range res.Errors {
		if containsString(e, "TODO") && containsString(e, "Dockerfile:4") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected error to cite the placeholder and its line number, got: %v", res.Errors)
	}
}

func TestValidateContainerRecipeRejectsSecret(t *testing.T) {
	recipe := "FROM python:3.12-slim\nWORKDIR /app\nCOPY . .\nENV password=\"supersecretvalue\"\nCMD [\"python\", \"app.py\"]\n"
	res := ValidateContainerRecipe(recipe)
	if res.Valid {
		t.Fatalf("expected recipe with an embedded secret to be invalid")
	}
}

func TestValidateContainerRecipeWarnings(t *testing.T) {
	recipe := "FROM node:latest\nWORKDIR /app\nCOPY . .\nCMD [\"node\", \"index.js\"]\n"
	res := ValidateContainerRecipe(recipe)
	if !res.Valid {
		t.Fatalf("expected recipe to pass hard validation, got errors: %v", res.Errors)
	}
	wantWarnings := []string{"mutable", "HEALTHCHECK", "USER", "multi-stage"}
	for _, want := range wantWarnings {
		found := false
		for _, w := range res.Warnings {
			if containsString(w, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a warning mentioning %q, got: %v", want, res.Warnings)
		}
	}
}

func containsString(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}
