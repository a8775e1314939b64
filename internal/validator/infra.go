package validator

import (
	"regexp"
	"sort"
)

var requiredInfraFiles = []string{"main", "variables", "outputs", "identity"}

var reVarDecl = regexp.MustCompile(`(?m)^\s*variable\s+"([A-Za-z0-9_-]+)"\s*{`)
var reVarRef = regexp.MustCompile(`\$\{var\.([A-Za-z0-9_-]+)\}`)
var reHardcodedRegion = regexp.MustCompile(`(?i)"(us|eu|ap|sa|ca|me|af)-[a-z]+-[0-9]\b"`)

// ValidateInfraCode checks the generated infra-as-code bundle: required
// files present, no placeholders/secrets, every `${var.<name>}` reference
// has a matching `variable "<name>"` declaration, and warns on hardcoded
// region strings.
//
// files maps a filename key (main, variables, outputs, identity,
// security_groups, data, backend, ...) to its content.
func ValidateInfraCode(files map[string]string) Result {
	res := Result{Valid: true}

	for _, required := range requiredInfraFiles {
		if _, ok := files[required]; !ok {
			res.fail("missing required infra-code file: %s", required)
		}
	}

	declared := map[string]bool{}
	if variables, ok := files["variables"]; ok {
		for _, m := range reVarDecl.FindAllStringSubmatch(variables, -1) {
			declared[m[1]] = true
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		for _, tok := range placeholderTokens {
			if idx := indexOf(content, tok); idx >= 0 {
				line := lineNumberAt(content, idx)
				res.fail("Found forbidden term '%s' in %s.tf:%d", tok, name, line)
			}
		}
		for _, re := range secretPatterns {
			if loc := re.FindStringIndex(content); loc != nil {
				line := lineNumberAt(content, loc[0])
				res.fail("potential secret detected in %s.tf:%d", name, line)
			}
		}
		if name == "variables" {
			continue
		}
		for _, m := range reVarRef.FindAllStringSubmatch(content, -1) {
			if !declared[m[1]] {
				res.fail("undeclared variable referenced in %s.tf: var.%s", name, m[1])
			}
		}
		if reHardcodedRegion.MatchString(content) {
			res.warn("hardcoded region string in %s.tf", name)
		}
	}

	return res
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
