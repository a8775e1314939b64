// Package templates is the deterministic infra-as-code template library of
// §4.8.2 step 4: generated from a fixed template keyed by
// deployment shape and parameterized by (app name, primary port,
// health-probe path, project id), never by an LLM call — this removes one
// rate-limit dependency and one class of validator failures, per Design
// Notes §9.
//
// The map-building text-assembly style here is grounded on
// apps/ReleaseParty/backend/internal/releaseparty/generate.go's
// buildYAMLFrontMatter map-to-text builder, adapted from YAML front matter
// to HCL blocks.
package templates

import (
	"fmt"
	"strings"
)

// Params parameterize the template library per repository.
type Params struct {
	AppName         string
	Port            int
	HealthProbePath string
	ProjectID       string
	Region          string
	StateBucket     string
}

// Bundle is the set of generated infra-code files keyed by logical name
// (main, variables, outputs, identity, security_groups, data, backend),
// matching the minimum set §4.8.2 step 4 requires.
type Bundle map[string]string

// Render produces the infra-code bundle for a deployment shape. Only
// "container-service" is implemented in depth;
// "vm" and "serverless" reuse the same variable/output/identity/backend
// scaffolding with a different main block, since those files don't
// reference compute-specific resources.
func Render(shape string, p Params) (Bundle, error) {
	switch shape {
	case "container-service", "vm", "serverless":
	default:
		return nil, fmt.Errorf("templates: unknown deployment shape %q", shape)
	}

	b := Bundle{}
	b["variables"] = renderVariables(p)
	b["outputs"] = renderOutputs(shape)
	b["identity"] = renderIdentity(p)
	b["security_groups"] = renderSecurityGroups(p)
	b["data"] = renderDataSources()
	b["backend"] = renderBackend(p)
	b["main"] = renderMain(shape, p)
	return b, nil
}

func renderVariables(p Params) string {
	vars := []struct{ name, typ, def string }{
		{"app_name", "string", quote(p.AppName)},
		{"port", "number", fmt.Sprintf("%d", p.Port)},
		{"health_probe_path", "string", quote(p.HealthProbePath)},
		{"project_id", "string", quote(p.ProjectID)},
		{"region", "string", quote(p.Region)},
	}
	var b strings.Builder
	for _, v := range vars {
		fmt.Fprintf(&b, "variable %q {\n  type    = %s\n  default = %s\n}\n\n", v.name, v.typ, v.def)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderOutputs(shape string) string {
	var b strings.Builder
	b.WriteString("output \"application_url\" {\n  value = local.application_url\n}\n\n")
	b.WriteString("output \"service_name\" {\n  value = var.app_name\n}\n")
	_ = shape
	return b.String()
}

func renderIdentity(p Params) string {
	return fmt.Sprintf(`resource "aws_iam_role" "task_execution" {
  name = "${var.app_name}-exec-role"
  assume_role_policy = data.aws_iam_policy_document.task_assume.json
}

resource "aws_iam_role_policy_attachment" "task_execution_policy" {
  role       = aws_iam_role.task_execution.name
  policy_arn = "arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"
}
`)
}

func renderSecurityGroups(p Params) string {
	return fmt.Sprintf(`resource "aws_security_group" "service" {
  name_prefix = "${var.app_name}-sg-"
  vpc_id      = data.aws_vpc.default.id

  ingress {
    from_port   = var.port
    to_port     = var.port
    protocol    = "tcp"
    cidr_blocks = ["0.0.0.0/0"]
  }

  egress {
    from_port   = 0
    to_port     = 0
    protocol    = "-1"
    cidr_blocks = ["0.0.0.0/0"]
  }
}
`)
}

func renderDataSources() string {
	return `data "aws_vpc" "default" {
  default = true
}

data "aws_subnets" "default" {
  filter {
    name   = "vpc-id"
    values = [data.aws_vpc.default.id]
  }
}

data "aws_iam_policy_document" "task_assume" {
  statement {
    actions = ["sts:AssumeRole"]
    principals {
      type        = "Service"
      identifiers = ["ecs-tasks.amazonaws.com"]
    }
  }
}
`
}

func renderBackend(p Params) string {
	bucket := p.StateBucket
	if bucket == "" {
		bucket = "sirpi-state"
	}
	return fmt.Sprintf(`terraform {
  backend "s3" {
    bucket         = %q
    key            = "states/%s/terraform.tfstate"
    region         = %q
    encrypt        = true
    dynamodb_table = "sirpi-terraform-locks"
  }
}
`, bucket, p.ProjectID, p.Region)
}

func renderMain(shape string, p Params) string {
	switch shape {
	case "vm":
		return fmt.Sprintf(`resource "aws_instance" "app" {
  ami                    = data.aws_ami.base.id
  instance_type          = "t3.small"
  vpc_security_group_ids = [aws_security_group.service.id]
}

locals {
  application_url = "http://${aws_instance.app.public_ip}:${var.port}"
}

data "aws_ami" "base" {
  most_recent = true
  owners      = ["amazon"]
  filter {
    name   = "name"
    values = ["al2023-ami-*-x86_64"]
  }
}
`)
	case "serverless":
		return fmt.Sprintf(`resource "aws_lambda_function" "app" {
  function_name = var.app_name
  role          = aws_iam_role.task_execution.arn
  package_type  = "Image"
  image_uri     = "${var.app_name}:latest"
}

resource "aws_lambda_function_url" "app" {
  function_name      = aws_lambda_function.app.function_name
  authorization_type = "NONE"
}

locals {
  application_url = aws_lambda_function_url.app.function_url
}
`)
	default: // container-service
		return fmt.Sprintf(`resource "aws_ecs_cluster" "this" {
  name = "${var.app_name}-cluster"
}

resource "aws_ecs_task_definition" "app" {
  family                   = var.app_name
  requires_compatibilities = ["FARGATE"]
  network_mode             = "awsvpc"
  cpu                      = "256"
  memory                   = "512"
  execution_role_arn       = aws_iam_role.task_execution.arn
  container_definitions = jsonencode([{
    name      = var.app_name
    image     = "${var.app_name}:latest"
    portMappings = [{ containerPort = var.port }]
    healthCheck = {
      command = ["CMD-SHELL", "curl -f http://localhost:${var.port}${var.health_probe_path} || exit 1"]
    }
  }])
}

resource "aws_ecs_service" "app" {
  name            = var.app_name
  cluster         = aws_ecs_cluster.this.id
  task_definition = aws_ecs_task_definition.app.arn
  desired_count   = 1
  launch_type     = "FARGATE"

  network_configuration {
    subnets         = data.aws_subnets.default.ids
    security_groups = [aws_security_group.service.id]
    assign_public_ip = true
  }
}

resource "aws_lb" "app" {
  name               = "${var.app_name}-lb"
  internal           = false
  load_balancer_type = "application"
  subnets            = data.aws_subnets.default.ids
  security_groups    = [aws_security_group.service.id]
}

locals {
  application_url = "http://${aws_lb.app.dns_name}"
}
`)
	}
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
