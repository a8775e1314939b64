package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sirpi-test.sqlite"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertProjectThenGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, Project{
		InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "container-service",
	})
	if err != nil {
		t.Fatalf("UpsertProject error: %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("expected a generated project id")
	}

	got, err := s.GetProjectByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProjectByID error: %v", err)
	}
	if got.RepoOwner != "acme" || got.RepoName != "demo" {
		t.Fatalf("unexpected project: %+v", got)
	}
}

func TestUpsertProjectIsIdempotentOnConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertProject(ctx, Project{InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "vm"})
	if err != nil {
		t.Fatalf("first UpsertProject error: %v", err)
	}
	second, err := s.UpsertProject(ctx, Project{InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "serverless"})
	if err != nil {
		t.Fatalf("second UpsertProject error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same project row to be reused, got ids %d and %d", first.ID, second.ID)
	}
	if second.DeploymentShape != "serverless" {
		t.Fatalf("expected the deployment shape to be updated, got %q", second.DeploymentShape)
	}
}

// TestApplyThenDestroyClearsOutputs exercises R3/scenario 5 of §8:
// after a successful apply's outputs are recorded, destroy clears them.
func TestApplyThenDestroyClearsOutputs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, Project{InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "container-service"})
	if err != nil {
		t.Fatalf("UpsertProject error: %v", err)
	}

	if err := s.RecordApplyOutputs(ctx, p.ID, "https://demo.example.com", `{"url":"https://demo.example.com"}`, "apply completed"); err != nil {
		t.Fatalf("RecordApplyOutputs error: %v", err)
	}
	applied, err := s.GetProjectByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProjectByID error: %v", err)
	}
	if !applied.ApplicationURL.Valid || applied.ApplicationURL.String != "https://demo.example.com" {
		t.Fatalf("expected application url to be recorded, got %+v", applied.ApplicationURL)
	}

	if err := s.ClearApplyOutputs(ctx, p.ID); err != nil {
		t.Fatalf("ClearApplyOutputs error: %v", err)
	}
	destroyed, err := s.GetProjectByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProjectByID error: %v", err)
	}
	if destroyed.ApplicationURL.Valid || destroyed.TerraformOutputs.Valid || destroyed.DeploymentSummary.Valid {
		t.Fatalf("expected all deployment outputs cleared after destroy, got %+v", destroyed)
	}
}

func TestCloudConnectionSetupAndVerify(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cc, err := s.UpsertCloudConnection(ctx, "user-1", "nonce-abc")
	if err != nil {
		t.Fatalf("UpsertCloudConnection error: %v", err)
	}
	if cc.Status != "pending" {
		t.Fatalf("expected pending status on initiate, got %q", cc.Status)
	}

	if err := s.VerifyCloudConnection(ctx, "user-1", "arn:aws:iam::123456789012:role/sirpi-deploy", "123456789012"); err != nil {
		t.Fatalf("VerifyCloudConnection error: %v", err)
	}
	verified, err := s.GetCloudConnection(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetCloudConnection error: %v", err)
	}
	if verified.Status != "verified" || verified.AccountID != "123456789012" {
		t.Fatalf("unexpected cloud connection after verify: %+v", verified)
	}
}

func TestGenerationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, Project{InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "container-service"})
	if err != nil {
		t.Fatalf("UpsertProject error: %v", err)
	}
	g, err := s.CreateGeneration(ctx, p.ID, "sess-1")
	if err != nil {
		t.Fatalf("CreateGeneration error: %v", err)
	}
	if g.Status != "pending" {
		t.Fatalf("expected pending status for a new generation, got %q", g.Status)
	}

	if err := s.SetGenerationPR(ctx, "sess-1", "https://github.com/acme/demo/pull/1", `["k1","k2"]`, "mem-1"); err != nil {
		t.Fatalf("SetGenerationPR error: %v", err)
	}
	if err := s.UpdateGenerationStatus(ctx, "sess-1", "awaiting-review", ""); err != nil {
		t.Fatalf("UpdateGenerationStatus error: %v", err)
	}

	byPR, err := s.GetGenerationByPRURL(ctx, "https://github.com/acme/demo/pull/1")
	if err != nil {
		t.Fatalf("GetGenerationByPRURL error: %v", err)
	}
	if byPR.SessionID != "sess-1" || byPR.Status != "awaiting-review" {
		t.Fatalf("unexpected generation looked up by PR url: %+v", byPR)
	}

	if err := s.MarkGenerationMerged(ctx, "sess-1"); err != nil {
		t.Fatalf("MarkGenerationMerged error: %v", err)
	}
	merged, err := s.GetGeneration(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetGeneration error: %v", err)
	}
	if !merged.PRMerged {
		t.Fatalf("expected pr_merged to be set after MarkGenerationMerged")
	}
}

func TestDeploymentOperationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, Project{InstallationID: 1, RepoOwner: "acme", RepoName: "demo", DeploymentShape: "container-service"})
	if err != nil {
		t.Fatalf("UpsertProject error: %v", err)
	}
	op, err := s.CreateDeploymentOperation(ctx, p.ID, "sess-2", "apply")
	if err != nil {
		t.Fatalf("CreateDeploymentOperation error: %v", err)
	}
	if op.Status != "pending" {
		t.Fatalf("expected pending status, got %q", op.Status)
	}
	if err := s.UpdateDeploymentOperationStatus(ctx, op.ID, "succeeded", ""); err != nil {
		t.Fatalf("UpdateDeploymentOperationStatus error: %v", err)
	}
}
