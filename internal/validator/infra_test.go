package validator

import "testing"

func validInfraFiles() map[string]string {
	return map[string]string{
		"variables": `variable "app_name" {
  type    = string
  default = "demo"
}

variable "region" {
  type    = string
  default = "us-east-1"
}
`,
		"main": `resource "aws_ecs_service" "app" {
  name = "${var.app_name}"
}
`,
		"outputs": `output "application_url" {
  value = local.application_url
}
`,
		"identity": `resource "aws_iam_role" "task_execution" {
  name = "${var.app_name}-exec-role"
}
`,
	}
}

func TestValidateInfraCodeValid(t *testing.T) {
	res := ValidateInfraCode(validInfraFiles())
	if !res.Valid {
		t.Fatalf("expected valid infra bundle, got errors: %v", res.Errors)
	}
}

func TestValidateInfraCodeMissingRequiredFile(t *testing.T) {
	files := validInfraFiles()
	delete(files, "outputs")
	res := ValidateInfraCode(files)
	if res.Valid {
		t.Fatalf("expected invalid result with outputs missing")
	}
	found := false
	for _, e := range res.Errors {
		if containsString(e, "outputs") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error naming the missing file, got: %v", res.Errors)
	}
}

func TestValidateInfraCodeUndeclaredVariable(t *testing.T) {
	files := validInfraFiles()
	files["main"] = `resource "aws_ecs_service" "app" {
  name = "${var.app_name}"
  desired_count = "${var.undeclared_thing}"
}
`
	res := ValidateInfraCode(files)
	if res.Valid {
		t.Fatalf("expected invalid result for an undeclared variable reference")
	}
	found := false
	for _, e := range res.Errors {
		if containsString(e, "undeclared_thing") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error naming the undeclared variable, got: %v", res.Errors)
	}
}

func TestValidateInfraCodePlaceholderRejected(t *testing.T) {
	files := validInfraFiles()
	files["main"] = `resource "aws_ecs_service" "app" {
  name = "FIXME"
}
`
	res := ValidateInfraCode(files)
	if res.Valid {
		t.Fatalf("expected invalid result for placeholder token")
	}
}

func TestValidateInfraCodeHardcodedRegionWarning(t *testing.T) {
	files := validInfraFiles()
	files["main"] = `resource "aws_instance" "app" {
  availability_zone = "us-east-1a"
  region             = "us-east-1"
}
`
	res := ValidateInfraCode(files)
	if !res.Valid {
		t.Fatalf("hardcoded region must only warn, not fail: %v", res.Errors)
	}
	found := false
	for _, w := range res.Warnings {
		if containsString(w, "hardcoded region") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a hardcoded-region warning, got: %v", res.Warnings)
	}
}
