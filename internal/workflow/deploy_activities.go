package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/artifacts"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/registry"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

// AssumeCredentialsInput/Output carries the broker's cross-account
// assumption across the activity boundary. Credentials are never
// persisted by anything downstream of this activity's caller — the
// workflow passes them directly into the next activity call and they are
// not written to any store (Design Notes "Credential non-persistence",
// P5).
type AssumeCredentialsInput struct {
	RoleARN     string
	Nonce       string
	SessionName string
}

type AssumeCredentialsOutput struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	AccountID       string
}

func (a *Activities) AssumeCredentials(ctx context.Context, in AssumeCredentialsInput) (AssumeCredentialsOutput, error) {
	creds, err := a.deps.Broker.Assume(ctx, in.RoleARN, in.Nonce, in.SessionName, time.Hour)
	if err != nil {
		return AssumeCredentialsOutput{}, err
	}
	return AssumeCredentialsOutput{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Region:          a.deps.Region,
		AccountID:       creds.AccountID,
	}, nil
}

// RunDeploymentOperationInput drives one full sandbox lifecycle: create,
// bootstrap, write the artifact bundle, source the assumed-role
// credentials, run the terraform subcommand matching Operation, capture
// outputs on apply, then always kill the sandbox. One activity call is
// the natural at-least-once retry unit here since a half-run sandbox
// offers nothing worth resuming (§4.7, §5).
type RunDeploymentOperationInput struct {
	SessionID       string
	Operation       string // "build-image", "plan", "apply", "destroy"
	RepoName        string
	ContainerRecipe string
	InfraFiles      map[string]string
	Credentials     AssumeCredentialsOutput
	InstallationID  int64
	Owner           string
	Repo            string
	Framework       string
	StateBucket     string
}

type RunDeploymentOperationOutput struct {
	ExitCode          int
	Stdout            string
	ApplicationURL    string
	TerraformOutputs  string
	ImageURI          string
	DeploymentSummary string
}

func (a *Activities) RunDeploymentOperation(ctx context.Context, in RunDeploymentOperationInput) (RunDeploymentOperationOutput, error) {
	sb, err := a.deps.SandboxPool.Create(ctx)
	if err != nil {
		return RunDeploymentOperationOutput{}, err
	}
	defer func() { _ = sb.Kill(context.Background()) }()

	if err := sb.Bootstrap(ctx, nil); err != nil {
		return RunDeploymentOperationOutput{}, err
	}
	if err := sb.WriteCredentialsShell(ctx, in.Credentials.AccessKeyID, in.Credentials.SecretAccessKey, in.Credentials.SessionToken, in.Credentials.Region); err != nil {
		return RunDeploymentOperationOutput{}, err
	}
	// Rewrite the state-backend file to point at this caller's own isolated
	// bucket before it ever lands in the sandbox, per §4.8.3's "rewrite the
	// state-backend file to point at a per-caller bucket name (derived from
	// account id)". The base bucket name only ever appears in the rendered
	// backend block, so a plain substring substitution across every file
	// is equivalent to (and simpler than) re-parsing HCL to find it.
	infraFiles := in.InfraFiles
	if in.StateBucket != "" && in.Credentials.AccountID != "" {
		perCallerBucket := artifacts.PerCallerStateBucket(in.StateBucket, in.Credentials.AccountID)
		rewritten := make(map[string]string, len(in.InfraFiles))
		for name, content := range in.InfraFiles {
			rewritten[name] = strings.ReplaceAll(content, in.StateBucket, perCallerBucket)
		}
		infraFiles = rewritten
	}
	for name, content := range infraFiles {
		if err := sb.WriteFile(ctx, "/workspace/terraform/"+name+".tf", []byte(content)); err != nil {
			return RunDeploymentOperationOutput{}, err
		}
	}

	recipe := in.ContainerRecipe
	var cmd []string
	var imageURI string
	switch in.Operation {
	case "build-image":
		// Clone the repository into the sandbox before building, per
		// §4.8.3's "create a sandbox; install build tooling; clone the
		// repository into it". The installation token is minted fresh for
		// this one clone and never leaves this activity (same non-
		// persistence discipline as the AWS credentials it runs alongside).
		if a.deps.GitHubApp != nil && in.Owner != "" && in.Repo != "" {
			token, err := a.deps.GitHubApp.InstallationToken(ctx, in.InstallationID)
			if err != nil {
				return RunDeploymentOperationOutput{}, sirperr.Fatal("workflow", fmt.Errorf("mint clone token: %w", err))
			}
			cloneURL := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, in.Owner, in.Repo)
			cloneCmd := []string{"sh", "-c", fmt.Sprintf("git clone --depth 1 %s /workspace/src", shellQuote(cloneURL))}
			code, _, err := sb.RunCommand(ctx, cloneCmd, false, 0, nil, nil)
			if err != nil {
				return RunDeploymentOperationOutput{}, err
			}
			if code != 0 {
				return RunDeploymentOperationOutput{}, sirperr.Fatal("workflow", fmt.Errorf("clone exited %d", code))
			}
		}

		// The "alpine + next" fixup of scenario 2: an Alpine-based Next.js
		// recipe is a known source of native-module build failures inside
		// the sandbox's build environment, so it is swapped for a safe
		// debian-slim multi-stage recipe before the build ever runs.
		if in.Framework == "next" && recipeUsesAlpineBase(recipe) {
			recipe = nextDebianRecipe()
		}
		if recipe != "" {
			if err := sb.WriteFile(ctx, "/workspace/src/Dockerfile", []byte(recipe)); err != nil {
				return RunDeploymentOperationOutput{}, err
			}
		}

		// Ensure the target repository exists in the caller's own account,
		// log in, build, and push, per §4.8.3's build-image step.
		repoName := registry.SanitizeRepoName(in.RepoName)
		repoURI, err := a.deps.Registry.EnsureRepository(ctx, in.Credentials.Region,
			in.Credentials.AccessKeyID, in.Credentials.SecretAccessKey, in.Credentials.SessionToken, repoName)
		if err != nil {
			return RunDeploymentOperationOutput{}, err
		}
		username, password, err := a.deps.Registry.AuthToken(ctx, in.Credentials.Region,
			in.Credentials.AccessKeyID, in.Credentials.SecretAccessKey, in.Credentials.SessionToken)
		if err != nil {
			return RunDeploymentOperationOutput{}, err
		}
		imageURI = repoURI + ":latest"
		cmd = []string{"sh", "-c", fmt.Sprintf(
			"docker build -t %s /workspace/src && echo %s | docker login --username %s --password-stdin %s && docker push %s",
			shellQuote(imageURI), shellQuote(password), shellQuote(username), shellQuote(repoURI), shellQuote(imageURI),
		)}
	case "plan":
		cmd = []string{"sh", "-c", "cd /workspace/terraform && terraform init -input=false && terraform plan -input=false"}
	case "apply":
		// Pre-flight of §4.8.3: ensure the container-service service-linked
		// role exists in the caller's account before apply runs, since a
		// first-ever ECS deployment in a fresh account fails without it.
		if err := a.deps.Registry.EnsureECSServiceLinkedRole(ctx, in.Credentials.Region,
			in.Credentials.AccessKeyID, in.Credentials.SecretAccessKey, in.Credentials.SessionToken); err != nil {
			return RunDeploymentOperationOutput{}, err
		}
		cmd = []string{"sh", "-c", "cd /workspace/terraform && terraform init -input=false && terraform apply -input=false -auto-approve && terraform output -json"}
	case "destroy":
		cmd = []string{"sh", "-c", "cd /workspace/terraform && terraform init -input=false && terraform destroy -input=false -auto-approve"}
	default:
		return RunDeploymentOperationOutput{}, sirperr.Fatal("workflow", fmt.Errorf("unknown deployment operation %q", in.Operation))
	}

	onStdout := func(line string) { a.logLine(ctx, in.SessionID, "sandbox", SeverityInfo, line) }
	onStderr := func(line string) { a.logLine(ctx, in.SessionID, "sandbox", SeverityError, line) }
	code, stdout, err := sb.RunCommand(ctx, cmd, true, 0, onStdout, onStderr)
	if err != nil {
		return RunDeploymentOperationOutput{ExitCode: code, Stdout: stdout}, err
	}
	if code != 0 {
		return RunDeploymentOperationOutput{ExitCode: code, Stdout: stdout}, sirperr.DeploymentFailed("workflow", fmt.Errorf("%s exited %d", in.Operation, code))
	}

	out := RunDeploymentOperationOutput{ExitCode: code, Stdout: stdout}
	switch in.Operation {
	case "apply":
		out.TerraformOutputs = stdout
		out.ApplicationURL = extractApplicationURL(stdout)
		out.DeploymentSummary = summarizeResources(infraFiles)
	case "build-image":
		out.ImageURI = imageURI
	}
	return out, nil
}

// shellQuote wraps s in single quotes for embedding in the sh -c script
// above, escaping any single quote it contains. The ECR auth token is
// short-lived and delivered the same way the broker's own credentials
// are: in-process, never written to a durable store (P5).
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type RecordDeployOpInput struct {
	ProjectID int64
	SessionID string
	Operation string
}

func (a *Activities) RecordDeploymentOperation(ctx context.Context, in RecordDeployOpInput) (int64, error) {
	op, err := a.deps.Store.CreateDeploymentOperation(ctx, in.ProjectID, in.SessionID, in.Operation)
	if err != nil {
		return 0, err
	}
	return op.ID, nil
}

type UpdateDeployOpInput struct {
	OperationID int64
	Status      string
	ErrMsg      string
}

func (a *Activities) UpdateDeploymentOperationStatus(ctx context.Context, in UpdateDeployOpInput) error {
	return a.deps.Store.UpdateDeploymentOperationStatus(ctx, in.OperationID, in.Status, in.ErrMsg)
}

type RecordApplyOutputsInput struct {
	ProjectID        int64
	ApplicationURL   string
	TerraformOutputs string
	Summary          string
}

func (a *Activities) RecordApplyOutputs(ctx context.Context, in RecordApplyOutputsInput) error {
	return a.deps.Store.RecordApplyOutputs(ctx, in.ProjectID, in.ApplicationURL, in.TerraformOutputs, in.Summary)
}

func (a *Activities) ClearApplyOutputs(ctx context.Context, projectID int64) error {
	return a.deps.Store.ClearApplyOutputs(ctx, projectID)
}

type DeleteRemoteStateInput struct {
	ProjectID   string
	StateBucket string
	Credentials AssumeCredentialsOutput
}

// DeleteRemoteState removes every version of the project's state object
// from its per-caller bucket, satisfying R3's destroy-idempotence: a
// destroy retried after a successful one finds nothing left to remove and
// still reports success. The per-caller bucket lives in the caller's own
// account, so this reaches it with the short-lived assumed-role
// credentials rather than this service's own artifact-store client.
func (a *Activities) DeleteRemoteState(ctx context.Context, in DeleteRemoteStateInput) error {
	if in.StateBucket == "" || in.Credentials.AccountID == "" {
		return a.deps.Artifacts.DeleteAllVersions(ctx, artifacts.StateObjectKey(in.ProjectID))
	}
	bucket := artifacts.PerCallerStateBucket(in.StateBucket, in.Credentials.AccountID)
	return artifacts.DeleteAllVersionsInCallerBucket(ctx, a.deps.Region,
		in.Credentials.AccessKeyID, in.Credentials.SecretAccessKey, in.Credentials.SessionToken,
		bucket, artifacts.StateObjectKey(in.ProjectID))
}

// terraformOutput mirrors one entry of `terraform output -json`'s
// per-variable rendering: {"application_url": {"value": "...", ...}}.
type terraformOutput struct {
	Value any `json:"value"`
}

// extractApplicationURL pulls the application_url output value out of
// `terraform output -json`'s rendering. Returns "" if the command's
// stdout isn't valid JSON (e.g. a plan/build-image run) or the key is
// absent.
func extractApplicationURL(terraformOutputJSON string) string {
	var outputs map[string]terraformOutput
	if err := json.Unmarshal([]byte(terraformOutputJSON), &outputs); err != nil {
		return ""
	}
	out, ok := outputs["application_url"]
	if !ok {
		return ""
	}
	s, _ := out.Value.(string)
	return s
}

// recipeUsesAlpineBase reports whether recipe's first non-blank directive
// line names an alpine-tagged base image, the trigger condition for
// scenario 2's fixup.
func recipeUsesAlpineBase(recipe string) bool {
	for _, line := range strings.Split(recipe, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "FROM") {
			return strings.Contains(strings.ToLower(trimmed), "alpine")
		}
		return false
	}
	return false
}

// nextDebianRecipe is the safe default multi-stage recipe scenario 2
// swaps in for an Alpine-based Next.js Dockerfile: debian-slim avoids the
// native-module (sharp, etc.) build failures Alpine's musl libc triggers
// for Next.js's standalone output mode.
func nextDebianRecipe() string {
	return `FROM node:20-slim AS deps
WORKDIR /app
COPY package.json package-lock.json* ./
RUN npm ci

FROM node:20-slim AS builder
WORKDIR /app
COPY --from=deps /app/node_modules ./node_modules
COPY . .
RUN npm run build

FROM node:20-slim AS runner
WORKDIR /app
ENV NODE_ENV=production
RUN useradd --system --uid 1001 nextjs
COPY --from=builder /app/.next/standalone ./
COPY --from=builder /app/.next/static ./.next/static
COPY --from=builder /app/public ./public
USER nextjs
EXPOSE 3000
CMD ["node", "server.js"]
`
}

// resourceDeclRE matches one HCL resource block header, e.g.
// `resource "aws_lb" "this" {`, the same shape internal/validator parses
// reference and declaration lines with.
var resourceDeclRE = regexp.MustCompile(`resource\s+"([a-zA-Z0-9_]+)"\s+"[a-zA-Z0-9_]+"`)

// resourceCategoryOrder lists the display categories §4.8.3's apply
// summary calls for: networking, load-balancing, compute, security,
// monitoring. Order matters: it is also the display order of the rendered
// summary. resourceCategoryPrefixes maps each known Terraform resource
// type, matched by its exact name, to one of these categories.
var resourceCategoryOrder = []string{"networking", "load-balancing", "compute", "security", "monitoring"}

var resourceCategoryPrefixes = map[string]string{
	"aws_vpc":             "networking",
	"aws_subnet":          "networking",
	"aws_internet_gateway": "networking",
	"aws_nat_gateway":     "networking",
	"aws_route":           "networking",
	"aws_route_table":     "networking",
	"aws_eip":             "networking",
	"aws_lb":              "load-balancing",
	"aws_lb_listener":     "load-balancing",
	"aws_lb_target_group": "load-balancing",
	"aws_ecs_cluster":     "compute",
	"aws_ecs_service":     "compute",
	"aws_ecs_task_definition": "compute",
	"aws_instance":        "compute",
	"aws_launch_template": "compute",
	"aws_lambda_function": "compute",
	"aws_autoscaling_group": "compute",
	"aws_security_group":  "security",
	"aws_iam_role":        "security",
	"aws_iam_role_policy": "security",
	"aws_iam_policy":      "security",
	"aws_kms_key":         "security",
	"aws_cloudwatch_log_group": "monitoring",
	"aws_cloudwatch_metric_alarm": "monitoring",
}

// summarizeResources produces the human-readable, category-bucketed
// deployment summary §4.8.3 calls for on a successful apply: "fetch
// outputs... produce a human-readable summary by bucketing the created
// resources into categories (networking, load-balancing, compute,
// security, monitoring) for the caller's display." The resource types are
// read directly out of the rendered infra-code text rather than parsed
// from a terraform state file — the template library's output is the
// normative definition of what gets created (§9's "Template library vs.
// generated infra"), so the declared resource blocks are an accurate
// census without a second round-trip through terraform show.
func summarizeResources(infraFiles map[string]string) string {
	counts := map[string]int{}
	for _, content := range infraFiles {
		for _, m := range resourceDeclRE.FindAllStringSubmatch(content, -1) {
			resourceType := m[1]
			category, ok := resourceCategoryPrefixes[resourceType]
			if !ok {
				category = "other"
			}
			counts[category]++
		}
	}
	if len(counts) == 0 {
		return "apply completed"
	}
	var parts []string
	for _, cat := range resourceCategoryOrder {
		if n := counts[cat]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", cat, n))
		}
	}
	if n := counts["other"]; n > 0 {
		parts = append(parts, fmt.Sprintf("other: %d", n))
	}
	return "apply completed — " + strings.Join(parts, ", ")
}
