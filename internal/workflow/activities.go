// Package workflow hosts the C8 Workflow Engine of §4.8: the
// durable orchestrator driving the seven-step generation pipeline and the
// deployment operations (build-image, plan, apply, destroy), each modeled
// as a Temporal workflow with its steps as retried activities.
//
// Grounded on agents/manager/internal/beam/workflow.go's per-kind dispatch
// and ActivityOptions/RetryPolicy idiom, and internal/state/state.go's
// SetQueryHandler/SetUpdateHandler + signal-channel event loop pattern for
// the awaiting-review wait state.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v66/github"
	"go.temporal.io/sdk/client"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/credentials"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubapp"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/githubops"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/inspector"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/memory"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/registry"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sandbox"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/store"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/templates"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/validator"
)

// Activity name constants, referenced by both the workflow definitions and
// the worker's registration call.
const (
	ActivityInspectRepository  = "InspectRepository"
	ActivityAnalyzeContext     = "AnalyzeContext"
	ActivityGenerateRecipe     = "GenerateContainerRecipe"
	ActivityGenerateInfra      = "GenerateInfraCode"
	ActivityValidateArtifacts  = "ValidateArtifacts"
	ActivityPersistArtifacts   = "PersistArtifacts"
	ActivityRaiseChangeRequest = "RaiseChangeRequest"
	ActivityRecordGenStatus    = "RecordGenerationStatus"
	ActivityRecordGenerationPR = "RecordGenerationPR"
	ActivityRecordFramework    = "RecordProjectFramework"
	ActivityAssumeCredentials  = "AssumeCredentials"
	ActivityRunSandboxCommand  = "RunDeploymentOperation"
	ActivityRecordDeployOp     = "RecordDeploymentOperation"
	ActivityUpdateDeployOp     = "UpdateDeploymentOperationStatus"
	ActivityRecordApplyOutputs = "RecordApplyOutputs"
	ActivityClearApplyOutputs  = "ClearApplyOutputs"
	ActivityDeleteRemoteState  = "DeleteRemoteState"
)

// Deps bundles every external collaborator the activities call into. A
// single Deps value is bound into Activities and registered with the
// worker once at startup.
type Deps struct {
	GitHub      *github.Client
	GitHubApp   *githubapp.App
	Gateway     *agentgw.Gateway
	Memory      *memory.Store
	Store       *store.Store
	Artifacts   *artifacts.Store
	SandboxPool *sandbox.Pool
	Broker      *credentials.Broker
	Registry    *registry.Client
	Temporal    client.Client
	Region      string
}

// Activities is the receiver every activity function hangs off, so the
// worker registers bound methods rather than free functions holding
// package-level globals.
type Activities struct {
	deps Deps
}

func NewActivities(deps Deps) *Activities {
	return &Activities{deps: deps}
}

// logLine signals a single streamed line back to the workflow running the
// named session, so it lands in that session's queryable log buffer
// (logs.go). sessionID doubles as the workflow ID: every workflow this
// engine starts is started with that ID, per how internal/api dispatches
// generation and deployment requests. Best effort: a signal failure here
// (workflow already closed, Temporal unavailable) must not fail the
// activity that's just trying to report progress.
func (a *Activities) logLine(ctx context.Context, sessionID, producer string, severity LogSeverity, text string) {
	if a.deps.Temporal == nil || sessionID == "" || text == "" {
		return
	}
	_ = a.deps.Temporal.SignalWorkflow(ctx, sessionID, "", logSignalName, LogSignal{
		Producer: producer,
		Severity: severity,
		Text:     text,
	})
}

// InspectRepositoryInput/Output cross the activity boundary as plain
// serializable structs, per Temporal's payload-conversion requirement.
type InspectRepositoryInput struct {
	Owner string
	Repo  string
	Ref   string
}

func (a *Activities) InspectRepository(ctx context.Context, in InspectRepositoryInput) (*inspector.Snapshot, error) {
	if a.deps.GitHub == nil {
		return nil, sirperr.Fatal("workflow", fmt.Errorf("no github client bound"))
	}
	return inspector.Inspect(ctx, a.deps.GitHub, in.Owner, in.Repo, in.Ref)
}

type AnalyzeContextInput struct {
	SessionID string
	Snapshot  *inspector.Snapshot
}

func (a *Activities) AnalyzeContext(ctx context.Context, in AnalyzeContextInput) (agentgw.RepositoryContext, error) {
	agent := agentgw.NewContextAnalyzer()
	snap := in.Snapshot
	prompt, err := agent.BuildPrompt(ctx, agentgw.ContextAnalyzerInput{
		Owner:        snap.Owner,
		Repo:         snap.Name,
		Paths:        snap.Paths,
		Manifests:    snap.Manifests,
		Configs:      snap.Configs,
		DominantLang: snap.Language,
	})
	if err != nil {
		return agentgw.RepositoryContext{}, err
	}
	raw, err := a.deps.Gateway.Invoke(ctx, agent.ID(), "latest", in.SessionID, prompt,
		func(agentName, chunk string) { a.logLine(ctx, in.SessionID, agentName, SeverityInfo, chunk) })
	if err != nil {
		return agentgw.RepositoryContext{}, err
	}
	parsed, err := agent.Parse(raw)
	if err != nil {
		return agentgw.RepositoryContext{}, err
	}
	rc, ok := parsed.(agentgw.RepositoryContext)
	if !ok {
		return agentgw.RepositoryContext{}, sirperr.Wrap(sirperr.KindParseFailure, "workflow", fmt.Errorf("unexpected context-analyzer output type %T", parsed))
	}
	if snap.Dockerfile != nil {
		rc.HasExistingDockerfile = true
		rc.ExistingDockerfile = snap.Dockerfile.Content
	}
	if len(snap.InfraFiles) > 0 {
		rc.ExistingInfraFiles = snap.InfraFiles
		rc.ExistingInfraLocation = snap.InfraDir
	}
	applyDeployConfig(&rc, snap.DeployConfig)
	a.deps.Memory.StoreItem(in.SessionID, "repository_context", rc, agent.ID())
	return rc, nil
}

// applyDeployConfig overrides the context-analyzer's inferred values with
// whatever the repository's checked-in ".sirpi.yml" pins down explicitly,
// letting a repository skip inference entirely for values its maintainers
// already know (deployment shape, port, health probe, build/start commands).
func applyDeployConfig(rc *agentgw.RepositoryContext, cfg *inspector.DeployConfig) {
	if cfg == nil {
		return
	}
	if cfg.DeploymentShape != "" {
		rc.DeploymentShape = cfg.DeploymentShape
	}
	if cfg.Port != 0 {
		rc.Ports = []int{cfg.Port}
	}
	if cfg.HealthProbePath != "" {
		rc.HealthProbePath = cfg.HealthProbePath
	}
	if cfg.StartCommand != "" {
		rc.StartCommand = cfg.StartCommand
	}
	if cfg.BuildCommand != "" {
		rc.BuildCommand = cfg.BuildCommand
	}
}

type GenerateRecipeInput struct {
	SessionID string
	RepoCtx   agentgw.RepositoryContext
}

func (a *Activities) GenerateContainerRecipe(ctx context.Context, in GenerateRecipeInput) (string, error) {
	agent := agentgw.NewDockerfileGenerator()
	prompt, err := agent.BuildPrompt(ctx, agentgw.DockerfileGeneratorInput{RepoContext: in.RepoCtx})
	if err != nil {
		return "", err
	}
	raw, err := a.deps.Gateway.Invoke(ctx, agent.ID(), "latest", in.SessionID, prompt,
		func(agentName, chunk string) { a.logLine(ctx, in.SessionID, agentName, SeverityInfo, chunk) })
	if err != nil {
		return "", err
	}
	parsed, err := agent.Parse(raw)
	if err != nil {
		return "", err
	}
	recipe, _ := parsed.(string)
	a.deps.Memory.StoreItem(in.SessionID, "container_recipe", recipe, agent.ID())
	return recipe, nil
}

type GenerateInfraInput struct {
	SessionID   string
	ProjectID   string
	RepoName    string
	RepoCtx     agentgw.RepositoryContext
	Region      string
	StateBucket string
}

func (a *Activities) GenerateInfraCode(ctx context.Context, in GenerateInfraInput) (templates.Bundle, error) {
	shape := in.RepoCtx.DeploymentShape
	if shape == "" {
		shape = "container-service"
	}
	port := 8080
	if len(in.RepoCtx.Ports) > 0 {
		port = in.RepoCtx.Ports[0]
	}
	probe := in.RepoCtx.HealthProbePath
	if probe == "" {
		probe = "/"
	}
	bundle, err := templates.Render(shape, templates.Params{
		AppName:         in.RepoName,
		Port:            port,
		HealthProbePath: probe,
		ProjectID:       in.ProjectID,
		Region:          in.Region,
		StateBucket:     in.StateBucket,
	})
	if err != nil {
		return nil, sirperr.Fatal("workflow", err)
	}
	a.deps.Memory.StoreItem(in.SessionID, "infra_code", bundle, "template-library")
	return bundle, nil
}

type ValidateArtifactsInput struct {
	ContainerRecipe string
	InfraFiles      map[string]string
}

type ValidateArtifactsOutput struct {
	Recipe validator.Result
	Infra  validator.Result
}

func (a *Activities) ValidateArtifacts(ctx context.Context, in ValidateArtifactsInput) (ValidateArtifactsOutput, error) {
	return ValidateArtifactsOutput{
		Recipe: validator.ValidateContainerRecipe(in.ContainerRecipe),
		Infra:  validator.ValidateInfraCode(in.InfraFiles),
	}, nil
}

type PersistArtifactsInput struct {
	Owner           string
	Repo            string
	ContainerRecipe string
	InfraFiles      map[string]string
}

func (a *Activities) PersistArtifacts(ctx context.Context, in PersistArtifactsInput) ([]artifacts.WriteResult, error) {
	files := []artifacts.File{{Name: "Dockerfile", Content: in.ContainerRecipe, Kind: artifacts.KindContainerRecipe}}
	for name, content := range in.InfraFiles {
		files = append(files, artifacts.File{Name: name + ".tf", Content: content, Kind: artifacts.KindInfraCode})
	}
	return a.deps.Artifacts.WriteBundle(ctx, in.Owner, in.Repo, files)
}

type RaiseChangeRequestInput struct {
	Owner           string
	Repo            string
	BaseBranch      string
	ContainerRecipe string
	InfraFiles      map[string]string
}

func (a *Activities) RaiseChangeRequest(ctx context.Context, in RaiseChangeRequestInput) (string, error) {
	if a.deps.GitHub == nil {
		return "", sirperr.Fatal("workflow", fmt.Errorf("no github client bound"))
	}
	client := a.deps.GitHub
	base := in.BaseBranch
	if base == "" {
		base = "main"
	}
	branch := githubops.BuildBranchName(in.Repo, time.Now())
	if err := githubops.EnsureBranch(ctx, client, in.Owner, in.Repo, branch, base); err != nil {
		return "", sirperr.Fatal("workflow", err)
	}
	files := map[string]string{"Dockerfile": in.ContainerRecipe}
	for name, content := range in.InfraFiles {
		files["terraform/"+name+".tf"] = content
	}
	msg := githubops.BuildCommitMessage(in.Repo)
	for path, content := range files {
		if err := githubops.UpsertFile(ctx, client, in.Owner, in.Repo, branch, path, content, msg); err != nil {
			return "", sirperr.Fatal("workflow", err)
		}
	}
	pr, err := githubops.CreatePullRequest(ctx, client, in.Owner, in.Repo, branch, base,
		"sirpi: generated deployment recipe", "Automatically generated container recipe and infrastructure code.")
	if err != nil {
		return "", sirperr.Fatal("workflow", err)
	}
	return pr, nil
}

type RecordGenStatusInput struct {
	SessionID string
	Status    string
	ErrMsg    string
}

func (a *Activities) RecordGenerationStatus(ctx context.Context, in RecordGenStatusInput) error {
	return a.deps.Store.UpdateGenerationStatus(ctx, in.SessionID, in.Status, in.ErrMsg)
}

type RecordGenerationPRInput struct {
	SessionID        string
	PRURL            string
	ArtifactKeysJSON string
}

// RecordGenerationPR persists the change request URL and the artifact bundle
// keys alongside the session's stage-memory id, once a generation's recipe
// and infra code have been written and a PR opened for them. The assistant
// memory-retrieval endpoint runs in the api process, a different process
// than the worker whose in-process memory.Store actually holds the stage
// items; this row is what lets that endpoint reconstitute persisted artifact
// content when the worker that wrote the items is not the one it asks. The
// stage-memory id is the session id itself — memory.Store keys every item by
// session id, so there is no separate id to mint.
func (a *Activities) RecordGenerationPR(ctx context.Context, in RecordGenerationPRInput) error {
	return a.deps.Store.SetGenerationPR(ctx, in.SessionID, in.PRURL, in.ArtifactKeysJSON, in.SessionID)
}

type RecordFrameworkInput struct {
	ProjectID int64
	Framework string
}

// RecordProjectFramework persists the context-analyzer's framework
// detection onto the project row so a later, independent build-image
// deployment operation can look it up without re-running the analyzer.
func (a *Activities) RecordProjectFramework(ctx context.Context, in RecordFrameworkInput) error {
	if in.ProjectID == 0 || in.Framework == "" {
		return nil
	}
	return a.deps.Store.SetProjectFramework(ctx, in.ProjectID, in.Framework)
}

// AssumeCredentialsInput/Output, RunDeploymentOperation etc. are
// defined in deploy_activities.go to keep each activity file scoped to one
// phase of the pipeline (generation vs deployment), mirroring how beam's
// activities are split by concern across files.
