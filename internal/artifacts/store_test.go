package artifacts

import "testing"

func TestKeyForContainerRecipeAtPrefixRoot(t *testing.T) {
	got := keyFor("acme", "demo", File{Name: "Dockerfile", Kind: KindContainerRecipe})
	want := "repositories/acme/demo/Dockerfile"
	if got != want {
		t.Fatalf("keyFor() = %q, want %q", got, want)
	}
}

func TestKeyForInfraCodeUnderTerraformSubpath(t *testing.T) {
	got := keyFor("acme", "demo", File{Name: "main.tf", Kind: KindInfraCode})
	want := "repositories/acme/demo/terraform/main.tf"
	if got != want {
		t.Fatalf("keyFor() = %q, want %q", got, want)
	}
}

func TestStateObjectKey(t *testing.T) {
	got := StateObjectKey("proj-42")
	want := "states/proj-42/terraform.tfstate"
	if got != want {
		t.Fatalf("StateObjectKey() = %q, want %q", got, want)
	}
}

func TestPerCallerStateBucketIsolatesByAccount(t *testing.T) {
	a := PerCallerStateBucket("sirpi-state", "111111111111")
	b := PerCallerStateBucket("sirpi-state", "222222222222")
	if a == b {
		t.Fatalf("expected distinct per-caller bucket names, got %q for both", a)
	}
	if a != "sirpi-state-111111111111" {
		t.Fatalf("unexpected bucket name: %q", a)
	}
}
