package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Project struct {
	ID                int64
	InstallationID    int64
	RepoOwner         string
	RepoName          string
	DeploymentShape   string
	Framework         string
	ApplicationURL    sql.NullString
	TerraformOutputs  sql.NullString
	DeploymentSummary sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CloudConnection struct {
	ID         int64
	CallerID   string
	RoleARN    string
	Nonce      string
	AccountID  string
	Status     string
	VerifiedAt sql.NullString
	CreatedAt  time.Time
}

type Generation struct {
	ID            int64
	ProjectID     int64
	SessionID     string
	Status        string
	PRURL         sql.NullString
	PRMerged      bool
	ArtifactKeys  sql.NullString
	StageMemoryID sql.NullString
	Error         sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type DeploymentOperation struct {
	ID        int64
	ProjectID int64
	SessionID string
	Operation string
	Status    string
	Error     sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) UpsertProject(ctx context.Context, p Project) (Project, error) {
	if p.InstallationID == 0 || p.RepoOwner == "" || p.RepoName == "" {
		return Project{}, fmt.Errorf("invalid project")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (
			installation_id, repo_owner, repo_name, deployment_shape, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(installation_id, repo_owner, repo_name) DO UPDATE SET
			deployment_shape=excluded.deployment_shape,
			updated_at=excluded.updated_at
	`, p.InstallationID, p.RepoOwner, p.RepoName, p.DeploymentShape, now, now)
	if err != nil {
		return Project{}, err
	}
	return s.GetProject(ctx, p.InstallationID, p.RepoOwner, p.RepoName)
}

func (s *Store) GetProject(ctx context.Context, installationID int64, owner, name string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, installation_id, repo_owner, repo_name, deployment_shape, framework, application_url, terraform_outputs, deployment_summary, created_at, updated_at
		FROM projects WHERE installation_id = ? AND repo_owner = ? AND repo_name = ?
	`, installationID, owner, name)
	var p Project
	var created, updated string
	if err := row.Scan(&p.ID, &p.InstallationID, &p.RepoOwner, &p.RepoName, &p.DeploymentShape, &p.Framework, &p.ApplicationURL, &p.TerraformOutputs, &p.DeploymentSummary, &created, &updated); err != nil {
		return Project{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return p, nil
}

// GetProjectByID looks a project up by its primary key, for handlers that
// only carry the numeric id (deployment triggers, generation lookups).
func (s *Store) GetProjectByID(ctx context.Context, id int64) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, installation_id, repo_owner, repo_name, deployment_shape, framework, application_url, terraform_outputs, deployment_summary, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	var p Project
	var created, updated string
	if err := row.Scan(&p.ID, &p.InstallationID, &p.RepoOwner, &p.RepoName, &p.DeploymentShape, &p.Framework, &p.ApplicationURL, &p.TerraformOutputs, &p.DeploymentSummary, &created, &updated); err != nil {
		return Project{}, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return p, nil
}

// SetProjectFramework records the framework the context-analyzer detected
// for this repository, so a later build-image deployment operation (which
// has no agent-gateway call of its own) can apply framework-specific
// sandbox fixups such as the alpine+Next.js recipe swap of scenario 2.
func (s *Store) SetProjectFramework(ctx context.Context, projectID int64, framework string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET framework = ?, updated_at = ? WHERE id = ?
	`, framework, now, projectID)
	return err
}

// RecordApplyOutputs persists the structured terraform outputs, the
// extracted public-URL-style output, and the human-readable deployment
// summary on a successful apply (§4.8.3).
func (s *Store) RecordApplyOutputs(ctx context.Context, projectID int64, applicationURL, terraformOutputsJSON, summary string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET application_url = ?, terraform_outputs = ?, deployment_summary = ?, updated_at = ?
		WHERE id = ?
	`, applicationURL, terraformOutputsJSON, summary, now, projectID)
	return err
}

// ClearApplyOutputs nulls the recorded deployment outputs on a successful
// destroy, per R3 / scenario 5 of §8.
func (s *Store) ClearApplyOutputs(ctx context.Context, projectID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET application_url = NULL, terraform_outputs = NULL, deployment_summary = NULL, updated_at = ?
		WHERE id = ?
	`, now, projectID)
	return err
}

func (s *Store) UpsertCloudConnection(ctx context.Context, callerID, nonce string) (CloudConnection, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cloud_connections (caller_id, nonce, status, created_at)
		VALUES (?, ?, 'pending', ?)
		ON CONFLICT(caller_id) DO UPDATE SET nonce=excluded.nonce, status='pending'
	`, callerID, nonce, now)
	if err != nil {
		return CloudConnection{}, err
	}
	return s.GetCloudConnection(ctx, callerID)
}

func (s *Store) VerifyCloudConnection(ctx context.Context, callerID, roleARN, accountID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE cloud_connections SET role_arn = ?, account_id = ?, status = 'verified', verified_at = ?
		WHERE caller_id = ?
	`, roleARN, accountID, now, callerID)
	return err
}

func (s *Store) GetCloudConnection(ctx context.Context, callerID string) (CloudConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, caller_id, role_arn, nonce, account_id, status, verified_at, created_at
		FROM cloud_connections WHERE caller_id = ?
	`, callerID)
	var c CloudConnection
	var created string
	if err := row.Scan(&c.ID, &c.CallerID, &c.RoleARN, &c.Nonce, &c.AccountID, &c.Status, &c.VerifiedAt, &created); err != nil {
		return CloudConnection{}, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return c, nil
}

func (s *Store) CreateGeneration(ctx context.Context, projectID int64, sessionID string) (Generation, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (project_id, session_id, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)
	`, projectID, sessionID, now, now)
	if err != nil {
		return Generation{}, err
	}
	return s.GetGeneration(ctx, sessionID)
}

func (s *Store) GetGeneration(ctx context.Context, sessionID string) (Generation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, session_id, status, pr_url, pr_merged, artifact_keys, stage_memory_id, error, created_at, updated_at
		FROM generations WHERE session_id = ?
	`, sessionID)
	var g Generation
	var created, updated string
	if err := row.Scan(&g.ID, &g.ProjectID, &g.SessionID, &g.Status, &g.PRURL, &g.PRMerged, &g.ArtifactKeys, &g.StageMemoryID, &g.Error, &created, &updated); err != nil {
		return Generation{}, err
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339, created)
	g.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return g, nil
}

// UpdateGenerationStatus advances the persisted subset of session state
// (§3's "Workflow session... a subset persists in the relational store").
func (s *Store) UpdateGenerationStatus(ctx context.Context, sessionID, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE generations SET status = ?, error = ?, updated_at = ? WHERE session_id = ?
	`, status, errVal, now, sessionID)
	return err
}

func (s *Store) SetGenerationPR(ctx context.Context, sessionID, prURL, artifactKeysJSON, stageMemoryID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE generations SET pr_url = ?, artifact_keys = ?, stage_memory_id = ?, updated_at = ? WHERE session_id = ?
	`, prURL, artifactKeysJSON, stageMemoryID, now, sessionID)
	return err
}

func (s *Store) MarkGenerationMerged(ctx context.Context, sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE generations SET pr_merged = 1, updated_at = ? WHERE session_id = ?
	`, now, sessionID)
	return err
}

// GetGenerationByPRURL locates the session awaiting review for a given
// change request, so the webhook handler can translate a pull_request
// closed event into a signal targeting the right workflow (§4.8.2).
func (s *Store) GetGenerationByPRURL(ctx context.Context, prURL string) (Generation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, session_id, status, pr_url, pr_merged, artifact_keys, stage_memory_id, error, created_at, updated_at
		FROM generations WHERE pr_url = ?
	`, prURL)
	var g Generation
	var created, updated string
	if err := row.Scan(&g.ID, &g.ProjectID, &g.SessionID, &g.Status, &g.PRURL, &g.PRMerged, &g.ArtifactKeys, &g.StageMemoryID, &g.Error, &created, &updated); err != nil {
		return Generation{}, err
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339, created)
	g.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return g, nil
}

func (s *Store) CreateDeploymentOperation(ctx context.Context, projectID int64, sessionID, operation string) (DeploymentOperation, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_operations (project_id, session_id, operation, status, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
	`, projectID, sessionID, operation, now, now)
	if err != nil {
		return DeploymentOperation{}, err
	}
	id, _ := res.LastInsertId()
	return DeploymentOperation{ID: id, ProjectID: projectID, SessionID: sessionID, Operation: operation, Status: "pending"}, nil
}

func (s *Store) UpdateDeploymentOperationStatus(ctx context.Context, id int64, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE deployment_operations SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, errVal, now, id)
	return err
}
