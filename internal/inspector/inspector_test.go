package inspector

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestClassifyLanguagePicksArgmax(t *testing.T) {
	paths := []string{"a.py", "b.py", "c.py", "d.js", "e.go"}
	if got := classifyLanguage(paths); got != "python" {
		t.Fatalf("expected python as dominant language, got %q", got)
	}
}

func TestClassifyLanguageEmptyWhenNoKnownExtensions(t *testing.T) {
	paths := []string{"README.md", "LICENSE", "Makefile"}
	if got := classifyLanguage(paths); got != "" {
		t.Fatalf("expected no dominant language, got %q", got)
	}
}

// TestCap5KBTruncation is B2: any manifest longer than the cap is delivered
// with a truncation marker, preceded by the first cap bytes of the
// original content.
func TestCap5KBTruncation(t *testing.T) {
	big := make([]byte, manifestCapByte+500)
	for i := range big {
		big[i] = 'x'
	}
	got := cap5KB(string(big))
	if len(got) <= manifestCapByte {
		t.Fatalf("expected truncated content to retain the marker suffix")
	}
	prefix := got[:manifestCapByte]
	if prefix != string(big[:manifestCapByte]) {
		t.Fatalf("expected the first cap bytes to be preserved verbatim")
	}
	if got[manifestCapByte:] != truncationMark {
		t.Fatalf("expected truncation marker suffix, got %q", got[manifestCapByte:])
	}
}

func TestCap5KBNoTruncationUnderLimit(t *testing.T) {
	small := "requirements.txt content"
	if got := cap5KB(small); got != small {
		t.Fatalf("expected short content to pass through unchanged, got %q", got)
	}
}

// TestExcludedSegmentSkipsNodeModules is B4: a Dockerfile under
// node_modules/x/Dockerfile is never selected because its directory path
// contains an excluded segment.
func TestExcludedSegmentSkipsNodeModules(t *testing.T) {
	if !excludedSegment("node_modules/x") {
		t.Fatalf("expected node_modules to be excluded")
	}
	if excludedSegment("docker/images") {
		t.Fatalf("did not expect docker/images to be excluded")
	}
}

func TestUnderAllowedDir(t *testing.T) {
	cases := []struct {
		dir  string
		want bool
	}{
		{"docker", true},
		{"docker/images", true},
		{"docker/images/myrepo", true},
		{"src", true},
		{"vendor", false},
		{"scripts", false},
	}
	for _, tc := range cases {
		if got := underAllowedDir(tc.dir); got != tc.want {
			t.Errorf("underAllowedDir(%q) = %v, want %v", tc.dir, got, tc.want)
		}
	}
}

func TestDepthOf(t *testing.T) {
	if depthOf("docker") != 1 {
		t.Errorf("expected depth 1 for top-level dir")
	}
	if depthOf("docker/images/myrepo") != 3 {
		t.Errorf("expected depth 3")
	}
}

func TestFilterRedHerrings(t *testing.T) {
	candidates := []string{
		"docker/test/Dockerfile",
		"docker/myrepo/Dockerfile",
		"docker/sample/Dockerfile",
	}
	got := filterRedHerrings(candidates)
	if len(got) != 1 || got[0] != "docker/myrepo/Dockerfile" {
		t.Fatalf("expected only the non-red-herring candidate to survive, got %v", got)
	}
}

func TestFilterRedHerringsFallsBackWhenAllFlagged(t *testing.T) {
	candidates := []string{"docker/test/Dockerfile", "docker/demo/Dockerfile"}
	got := filterRedHerrings(candidates)
	if len(got) != len(candidates) {
		t.Fatalf("expected all candidates returned when every one is flagged, got %v", got)
	}
}

func TestPreferRepoName(t *testing.T) {
	candidates := []string{"docker/images/other/Dockerfile", "docker/images/myrepo/Dockerfile"}
	got := preferRepoName(candidates, "myrepo")
	if got != "docker/images/myrepo/Dockerfile" {
		t.Fatalf("expected the repo-name match to be preferred, got %q", got)
	}
}

func TestPreferRepoNameFallsBackToFirst(t *testing.T) {
	candidates := []string{"docker/images/alpha/Dockerfile", "docker/images/beta/Dockerfile"}
	got := preferRepoName(candidates, "myrepo")
	if got != candidates[0] {
		t.Fatalf("expected fallback to first candidate, got %q", got)
	}
}

// TestRecipeProbesOrder pins the fixed 8-probe order §4.1 requires: root,
// hidden tool directory, docker/, a directory matching the repo name,
// docker/<repo>/, docker/images/<repo>/, app/, docker/app/.
func TestRecipeProbesOrder(t *testing.T) {
	want := []string{
		"Dockerfile",
		".docker/Dockerfile",
		"docker/Dockerfile",
		"myrepo/Dockerfile",
		"docker/myrepo/Dockerfile",
		"docker/images/myrepo/Dockerfile",
		"app/Dockerfile",
		"docker/app/Dockerfile",
	}
	got := recipeProbes("myrepo")
	if len(got) != len(want) {
		t.Fatalf("expected %d probes, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("probe %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestLoadDeployConfigParsesYAML(t *testing.T) {
	var cfg DeployConfig
	raw := "deployment_shape: vm\nport: 9000\nhealth_probe_path: /healthz\n"
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if cfg.DeploymentShape != "vm" || cfg.Port != 9000 || cfg.HealthProbePath != "/healthz" {
		t.Fatalf("unexpected parsed config: %+v", cfg)
	}
}
