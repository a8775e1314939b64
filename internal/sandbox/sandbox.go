package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/sirperr"
)

const (
	maxLifetime          = time.Hour
	defaultCmdTimeout    = 5 * time.Minute
	maxCmdTimeout        = 50 * time.Minute
	credentialsShellFile = "/tmp/.sirpi_env.sh"
)

// LineObserver receives one stdout or stderr line as it arrives, the
// observer semantics of §4.7.
type LineObserver func(line string)

// Pool bounds the number of concurrently running sandbox commands across
// all sessions to a fixed worker count (default 4), per §5's "Blocking
// calls against the sandbox... are dispatched onto a fixed-size worker
// pool so the cooperating scheduler is never stalled."
type Pool struct {
	sem   *semaphore.Weighted
	image string
}

func NewPool(workers int, image string) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), image: image}
}

// Sandbox is one ephemeral container created for a single workflow
// operation (build-image, plan, apply, destroy). It is always created with
// a deadline at most maxLifetime in the future and is always removed via
// Kill in a deferred, scoped-release block by the caller.
type Sandbox struct {
	pool        *Pool
	client      *dockerClient
	containerID string
	deadline    time.Time
}

// Create starts a fresh container to back the sandbox, per §4.7's "Creates
// an ephemeral isolated VM with a maximum lifetime (1 hour)".
func (p *Pool) Create(ctx context.Context) (*Sandbox, error) {
	cli, err := newDockerClient()
	if err != nil {
		return nil, sirperr.Fatal("sandbox", fmt.Errorf("docker client: %w", err))
	}

	name := "sirpi-sandbox-" + uuid.NewString()
	cfg := &container.Config{
		Image:      p.image,
		Cmd:        []string{"sleep", fmt.Sprintf("%d", int(maxLifetime.Seconds())+60)},
		Tty:        false,
		WorkingDir: "/workspace",
	}
	hostCfg := &container.HostConfig{
		AutoRemove: false,
	}
	id, err := cli.createContainer(ctx, cfg, hostCfg, name)
	if err != nil {
		_ = cli.close()
		return nil, sirperr.Fatal("sandbox", fmt.Errorf("create container: %w", err))
	}
	if err := cli.startContainer(ctx, id); err != nil {
		_ = cli.removeContainer(ctx, id, true)
		_ = cli.close()
		return nil, sirperr.Fatal("sandbox", fmt.Errorf("start container: %w", err))
	}
	return &Sandbox{pool: p, client: cli, containerID: id, deadline: time.Now().Add(maxLifetime)}, nil
}

// Kill tears the sandbox down. Always invoked in a deferred scoped-release
// block by the caller, including on the error path, per §5.
func (s *Sandbox) Kill(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	err := s.client.removeContainer(ctx, s.containerID, true)
	_ = s.client.close()
	return err
}

// WriteFile uploads content to path inside the sandbox.
func (s *Sandbox) WriteFile(ctx context.Context, destPath string, content []byte) error {
	if time.Now().After(s.deadline) {
		return sirperr.Fatal("sandbox", fmt.Errorf("sandbox past its %s lifetime", maxLifetime))
	}
	if err := s.client.copyFileToContainer(ctx, s.containerID, destPath, content, 0o644); err != nil {
		return sirperr.Fatal("sandbox", fmt.Errorf("write-file %s: %w", destPath, err))
	}
	return nil
}

// WriteCredentialsShell writes the assumed-role credentials to a one-shot
// shell file that each subsequent command sources, per §4.7 and the
// Design Notes' "Credential non-persistence": credentials are delivered
// in-process to the sandbox and never baked into an image or written to
// any durable store.
func (s *Sandbox) WriteCredentialsShell(ctx context.Context, accessKeyID, secretAccessKey, sessionToken, region string) error {
	script := fmt.Sprintf(
		"export AWS_ACCESS_KEY_ID=%q\nexport AWS_SECRET_ACCESS_KEY=%q\nexport AWS_SESSION_TOKEN=%q\nexport AWS_DEFAULT_REGION=%q\n",
		accessKeyID, secretAccessKey, sessionToken, region,
	)
	return s.WriteFile(ctx, credentialsShellFile, []byte(script))
}

// RunCommand executes cmd inside the sandbox, streaming each stdout/stderr
// line to the observers as it arrives, bounded by a per-command timeout
// (default 5 minutes, configurable up to 50 minutes, always below the
// sandbox's own 60-minute lifetime cap). The blocking docker exec call runs
// on a pool-bounded goroutine so the caller's own cancellation point is
// preserved (§4.7, §9 "Sandbox long-lived blocking").
func (s *Sandbox) RunCommand(ctx context.Context, cmd []string, sourceCredentials bool, timeout time.Duration, onStdout, onStderr LineObserver) (exitCode int, stdout string, err error) {
	if timeout <= 0 {
		timeout = defaultCmdTimeout
	}
	if timeout > maxCmdTimeout {
		timeout = maxCmdTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.pool.sem.Acquire(ctx, 1); err != nil {
		return -1, "", err
	}
	defer s.pool.sem.Release(1)

	shellCmd := strings.Join(cmd, " ")
	if sourceCredentials {
		shellCmd = fmt.Sprintf("[ -f %s ] && . %s; %s", credentialsShellFile, credentialsShellFile, shellCmd)
	}
	full := []string{"sh", "-c", shellCmd}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	var captured strings.Builder

	go streamLines(stdoutR, onStdout, &captured)
	go streamLines(stderrR, onStderr, nil)

	type result struct {
		code int
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		code, execErr := s.client.exec(runCtx, s.containerID, full, execOptions{WorkDir: "/workspace"}, stdoutW, stderrW)
		stdoutW.Close()
		stderrW.Close()
		resCh <- result{code: code, err: execErr}
	}()

	select {
	case r := <-resCh:
		return r.code, captured.String(), r.err
	case <-runCtx.Done():
		return -1, captured.String(), sirperr.DeploymentFailed("sandbox", fmt.Errorf("command timed out after %s", timeout))
	}
}

func streamLines(r io.Reader, observe LineObserver, capture *strings.Builder) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if capture != nil {
			capture.WriteString(line)
			capture.WriteString("\n")
		}
		if observe != nil {
			observe(line)
		}
	}
}

// Bootstrap installs terraform, docker, and the cloud CLI if not already
// present, idempotently — a first-run no-op on a sandbox image that
// already bundles them. Per §4.7's "Tool bootstrapping".
func (s *Sandbox) Bootstrap(ctx context.Context, onStdout LineObserver) error {
	script := `
set -e
command -v terraform >/dev/null 2>&1 || {
  curl -fsSL https://releases.hashicorp.com/terraform/1.8.5/terraform_1.8.5_linux_amd64.zip -o /tmp/tf.zip
  unzip -o /tmp/tf.zip -d /usr/local/bin
}
command -v aws >/dev/null 2>&1 || {
  curl -fsSL https://awscli.amazonaws.com/awscli-exe-linux-x86_64.zip -o /tmp/awscli.zip
  unzip -o /tmp/awscli.zip -d /tmp/awscli && /tmp/awscli/aws/install
}
command -v docker >/dev/null 2>&1 || {
  curl -fsSL https://get.docker.com -o /tmp/get-docker.sh
  sh /tmp/get-docker.sh
}
true
`
	code, _, err := s.RunCommand(ctx, []string{"sh", "-c", script}, false, maxCmdTimeout, onStdout, nil)
	if err != nil {
		return sirperr.Fatal("sandbox", fmt.Errorf("bootstrap: %w", err))
	}
	if code != 0 {
		return sirperr.Fatal("sandbox", fmt.Errorf("bootstrap exited %d", code))
	}
	return nil
}
