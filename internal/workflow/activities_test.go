package workflow

import (
	"testing"

	"github.com/RAJ-SUDHARSHAN/sirpi/internal/agentgw"
	"github.com/RAJ-SUDHARSHAN/sirpi/internal/inspector"
)

func TestApplyDeployConfigNilIsNoop(t *testing.T) {
	rc := agentgw.RepositoryContext{DeploymentShape: "container-service", Ports: []int{8080}}
	applyDeployConfig(&rc, nil)
	if rc.DeploymentShape != "container-service" || len(rc.Ports) != 1 || rc.Ports[0] != 8080 {
		t.Fatalf("expected no change for a nil override, got %+v", rc)
	}
}

func TestApplyDeployConfigOverridesOnlySetFields(t *testing.T) {
	rc := agentgw.RepositoryContext{
		DeploymentShape: "container-service",
		Ports:           []int{8080},
		HealthProbePath: "/",
		StartCommand:    "npm start",
	}
	applyDeployConfig(&rc, &inspector.DeployConfig{
		DeploymentShape: "vm",
		HealthProbePath: "/healthz",
	})
	if rc.DeploymentShape != "vm" {
		t.Fatalf("expected deployment shape override to apply, got %q", rc.DeploymentShape)
	}
	if rc.HealthProbePath != "/healthz" {
		t.Fatalf("expected health probe override to apply, got %q", rc.HealthProbePath)
	}
	if len(rc.Ports) != 1 || rc.Ports[0] != 8080 {
		t.Fatalf("expected unset port override to leave inferred ports untouched, got %v", rc.Ports)
	}
	if rc.StartCommand != "npm start" {
		t.Fatalf("expected unset start command override to leave inferred value untouched, got %q", rc.StartCommand)
	}
}

func TestApplyDeployConfigOverridesPort(t *testing.T) {
	rc := agentgw.RepositoryContext{Ports: []int{8080}}
	applyDeployConfig(&rc, &inspector.DeployConfig{Port: 3000})
	if len(rc.Ports) != 1 || rc.Ports[0] != 3000 {
		t.Fatalf("expected port override to replace inferred ports, got %v", rc.Ports)
	}
}
