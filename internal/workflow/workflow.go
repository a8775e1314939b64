package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/inspector"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/templates"
)

// GenerationRequest starts the seven-step generation pipeline of §4.8.2.
type GenerationRequest struct {
	SessionID  string
	Owner      string
	Repo       string
	Ref        string
	ProjectID  string
	BaseBranch string
	Region     string
	StateBucket string
}

// GenerationResult is what the workflow's query handler and the eventual
// Get() caller see once a generation has produced (or failed to produce)
// a change request.
type GenerationResult struct {
	Status      string // "running", "awaiting-review", "merged", "closed", "failed"
	PRURL       string
	Error       string
}

// retryOpts is the standard activity retry policy for generation steps:
// upstream calls (GitHub, the agent gateway) get a handful of backed-off
// attempts, as does persisting to the object store, which rewrites the
// same keys; steps with no useful retry semantics (validation, raising
// the PR, status bookkeeping) use noRetryOpts: a single attempt that surfaces failure
// to the caller instead of silently repeating a side effect.
var retryOpts = workflow.ActivityOptions{
	StartToCloseTimeout: 3 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    4,
	},
}

var noRetryOpts = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
}

// GenerationWorkflow drives inspect -> analyze -> container-recipe ->
// infra-code -> validate -> persist -> raise-change-request, per §4.8.2,
// then parks in an awaiting-review wait state until a "pr_merged" signal
// arrives (delivered by the webhook handler on pull_request.closed with
// merged=true) or a "pr_closed" signal reports an unmerged close.
func GenerationWorkflow(ctx workflow.Context, req GenerationRequest) (GenerationResult, error) {
	logger := workflow.GetLogger(ctx)
	result := GenerationResult{Status: "running"}
	appendLog := attachLogBuffer(ctx)

	_ = workflow.SetQueryHandler(ctx, "status", func() (GenerationResult, error) {
		return result, nil
	})

	fail := func(stage string, err error) (GenerationResult, error) {
		result.Status = "failed"
		result.Error = fmt.Sprintf("%s: %v", stage, err)
		logger.Error("generation pipeline failed", "stage", stage, "error", err)
		appendLog("engine", SeverityError, result.Error)
		recordStatus(ctx, req.SessionID, "failed", result.Error)
		return result, err
	}

	appendLog("engine", SeverityInfo, "inspecting repository")
	var snapshot *inspector.Snapshot
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
		ActivityInspectRepository, InspectRepositoryInput{Owner: req.Owner, Repo: req.Repo, Ref: req.Ref},
	).Get(ctx, &snapshot); err != nil {
		return fail("inspect", err)
	}

	appendLog("engine", SeverityInfo, "analyzing repository context")
	var repoCtx agentgw.RepositoryContext
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
		ActivityAnalyzeContext, AnalyzeContextInput{SessionID: req.SessionID, Snapshot: snapshot},
	).Get(ctx, &repoCtx); err != nil {
		return fail("analyze-context", err)
	}
	if repoCtx.Framework != "" {
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityRecordFramework, RecordFrameworkInput{ProjectID: projectIDInt(req.ProjectID), Framework: repoCtx.Framework},
		).Get(ctx, nil)
	}

	var recipe string
	if repoCtx.HasExistingDockerfile {
		appendLog("engine", SeverityInfo, "using existing container recipe found in repository")
		recipe = repoCtx.ExistingDockerfile
	} else {
		appendLog("engine", SeverityInfo, "generating container recipe")
		if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
			ActivityGenerateRecipe, GenerateRecipeInput{SessionID: req.SessionID, RepoCtx: repoCtx},
		).Get(ctx, &recipe); err != nil {
			return fail("generate-container-recipe", err)
		}
	}

	var infra templates.Bundle
	if len(repoCtx.ExistingInfraFiles) > 0 {
		appendLog("engine", SeverityInfo, "using existing infrastructure code found in repository")
		infra = templates.Bundle(repoCtx.ExistingInfraFiles)
	} else {
		appendLog("engine", SeverityInfo, "generating infrastructure code")
		if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
			ActivityGenerateInfra, GenerateInfraInput{
				SessionID: req.SessionID, ProjectID: req.ProjectID, RepoName: req.Repo,
				RepoCtx: repoCtx, Region: req.Region, StateBucket: req.StateBucket,
			},
		).Get(ctx, &infra); err != nil {
			return fail("generate-infra-code", err)
		}
	}

	appendLog("engine", SeverityInfo, "validating generated artifacts")
	var validation ValidateArtifactsOutput
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
		ActivityValidateArtifacts, ValidateArtifactsInput{ContainerRecipe: recipe, InfraFiles: infra},
	).Get(ctx, &validation); err != nil {
		return fail("validate", err)
	}
	if !validation.Recipe.Valid || !validation.Infra.Valid {
		result.Status = "failed"
		result.Error = fmt.Sprintf("validation failed: recipe=%v infra=%v", validation.Recipe.Errors, validation.Infra.Errors)
		appendLog("engine", SeverityError, result.Error)
		recordStatus(ctx, req.SessionID, "failed", result.Error)
		return result, fmt.Errorf("%s", result.Error)
	}

	appendLog("engine", SeverityInfo, "persisting artifacts")
	var written []artifacts.WriteResult
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
		ActivityPersistArtifacts, PersistArtifactsInput{Owner: req.Owner, Repo: req.Repo, ContainerRecipe: recipe, InfraFiles: infra},
	).Get(ctx, &written); err != nil {
		return fail("persist", err)
	}

	appendLog("engine", SeverityInfo, "raising change request")
	var prURL string
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
		ActivityRaiseChangeRequest, RaiseChangeRequestInput{
			Owner: req.Owner, Repo: req.Repo, BaseBranch: req.BaseBranch,
			ContainerRecipe: recipe, InfraFiles: infra,
		},
	).Get(ctx, &prURL); err != nil {
		return fail("raise-change-request", err)
	}

	result.Status = "awaiting-review"
	result.PRURL = prURL
	appendLog("engine", SeverityInfo, fmt.Sprintf("change request opened: %s", prURL))
	recordStatus(ctx, req.SessionID, "awaiting-review", "")

	if keysJSON, err := json.Marshal(written); err == nil {
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityRecordGenerationPR, RecordGenerationPRInput{
				SessionID: req.SessionID, PRURL: prURL, ArtifactKeysJSON: string(keysJSON),
			},
		).Get(ctx, nil)
	}

	prMergedCh := workflow.GetSignalChannel(ctx, "pr_merged")
	prClosedCh := workflow.GetSignalChannel(ctx, "pr_closed")
	selector := workflow.NewSelector(ctx)
	selector.AddReceive(prMergedCh, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, nil)
		result.Status = "merged"
	})
	selector.AddReceive(prClosedCh, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, nil)
		result.Status = "closed"
	})
	selector.Select(ctx)

	appendLog("engine", SeverityInfo, fmt.Sprintf("change request %s", result.Status))
	if result.Status == "merged" {
		recordStatus(ctx, req.SessionID, "merged", "")
	} else {
		recordStatus(ctx, req.SessionID, "closed", "")
	}
	return result, nil
}

// projectIDInt parses the GenerationRequest's string project id back into
// the numeric primary key the store keys on. GenerationRequest carries it
// as a string because it is also interpolated into template parameters
// (the per-project state-backend bucket path); a malformed or empty value
// means "no project row to attribute the framework to" rather than a
// workflow error, since framework recording is best-effort.
func projectIDInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func recordStatus(ctx workflow.Context, sessionID, status, errMsg string) {
	_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
		ActivityRecordGenStatus, RecordGenStatusInput{SessionID: sessionID, Status: status, ErrMsg: errMsg},
	).Get(ctx, nil)
}

// DeploymentRequest dispatches one deployment operation, per §4.8.3's
// "build-image, plan, apply, destroy" operation set.
type DeploymentRequest struct {
	Operation       string
	ProjectID       int64
	ProjectSlug     string
	SessionID       string
	RoleARN         string
	Nonce           string
	ContainerRecipe string
	InfraFiles      map[string]string
	InstallationID  int64
	Owner           string
	Repo            string
	Framework       string
	StateBucket     string
}

type DeploymentResult struct {
	Status           string
	ApplicationURL   string
	TerraformOutputs string
	ImageURI         string
	Error            string
}

// DeploymentWorkflow assumes the caller's cross-account role, runs the
// requested terraform/docker subcommand inside a fresh sandbox, and
// records the outcome. Apply records the new application URL and
// terraform outputs; destroy clears them and removes the remote state
// object so a retried destroy is a no-op (R3).
func DeploymentWorkflow(ctx workflow.Context, req DeploymentRequest) (DeploymentResult, error) {
	logger := workflow.GetLogger(ctx)
	result := DeploymentResult{Status: "running"}
	appendLog := attachLogBuffer(ctx)

	_ = workflow.SetQueryHandler(ctx, "status", func() (DeploymentResult, error) {
		return result, nil
	})

	var opID int64
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
		ActivityRecordDeployOp, RecordDeployOpInput{ProjectID: req.ProjectID, SessionID: req.SessionID, Operation: req.Operation},
	).Get(ctx, &opID); err != nil {
		logger.Error("record deployment operation", "error", err)
	}

	fail := func(err error) (DeploymentResult, error) {
		result.Status = "failed"
		result.Error = err.Error()
		appendLog("engine", SeverityError, result.Error)
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityUpdateDeployOp, UpdateDeployOpInput{OperationID: opID, Status: "failed", ErrMsg: err.Error()},
		).Get(ctx, nil)
		return result, err
	}

	appendLog("engine", SeverityInfo, fmt.Sprintf("assuming cross-account role for %s", req.Operation))
	var creds AssumeCredentialsOutput
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, retryOpts),
		ActivityAssumeCredentials, AssumeCredentialsInput{RoleARN: req.RoleARN, Nonce: req.Nonce, SessionName: "sirpi-" + req.Operation},
	).Get(ctx, &creds); err != nil {
		return fail(err)
	}

	longRunOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 55 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	appendLog("engine", SeverityInfo, fmt.Sprintf("running %s in sandbox", req.Operation))
	var runOut RunDeploymentOperationOutput
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, longRunOpts),
		ActivityRunSandboxCommand, RunDeploymentOperationInput{
			SessionID: req.SessionID, Operation: req.Operation, RepoName: req.Repo,
			ContainerRecipe: req.ContainerRecipe, InfraFiles: req.InfraFiles, Credentials: creds,
			InstallationID: req.InstallationID, Owner: req.Owner, Repo: req.Repo, Framework: req.Framework,
			StateBucket: req.StateBucket,
		},
	).Get(ctx, &runOut); err != nil {
		return fail(err)
	}

	switch req.Operation {
	case "apply":
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityRecordApplyOutputs, RecordApplyOutputsInput{
				ProjectID: req.ProjectID, ApplicationURL: runOut.ApplicationURL,
				TerraformOutputs: runOut.TerraformOutputs, Summary: runOut.DeploymentSummary,
			},
		).Get(ctx, nil)
	case "destroy":
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityClearApplyOutputs, req.ProjectID,
		).Get(ctx, nil)
		_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
			ActivityDeleteRemoteState, DeleteRemoteStateInput{
				ProjectID: req.ProjectSlug, StateBucket: req.StateBucket, Credentials: creds,
			},
		).Get(ctx, nil)
	}

	_ = workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, noRetryOpts),
		ActivityUpdateDeployOp, UpdateDeployOpInput{OperationID: opID, Status: "succeeded"},
	).Get(ctx, nil)

	result.Status = "succeeded"
	result.ApplicationURL = runOut.ApplicationURL
	result.TerraformOutputs = runOut.TerraformOutputs
	result.ImageURI = runOut.ImageURI
	appendLog("engine", SeverityInfo, fmt.Sprintf("%s completed", req.Operation))
	return result, nil
}
