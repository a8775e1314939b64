// Package validator implements two fixed-rule-set validators, one for the
// generated container recipe and one for the generated infra-as-code
// bundle.
package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Result carries the validator's verdict, an ordered error list (fails the
// pipeline) and an ordered warning list (surfaced but non-blocking).
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var placeholderTokens = []string{"PLACEHOLDER", "TODO", "FIXME", "XXX"}

// secretPatterns covers password/key/token assignments and well-known cloud
// access-key shapes; any match is a hard error.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token)\s*[:=]\s*['"][^'"\s]{6,}['"]`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"][A-Za-z0-9/+=]{30,}['"]`),
}

var (
	reFrom       = regexp.MustCompile(`(?mi)^\s*FROM\s+\S+`)
	reWorkdir    = regexp.MustCompile(`(?mi)^\s*WORKDIR\s+\S+`)
	reCopyOrAdd  = regexp.MustCompile(`(?mi)^\s*(COPY|ADD)\s+\S+`)
	reEntrypoint = regexp.MustCompile(`(?mi)^\s*(ENTRYPOINT|CMD)\s+`)
	reHealth     = regexp.MustCompile(`(?mi)^\s*HEALTHCHECK\s+`)
	reUser       = regexp.MustCompile(`(?mi)^\s*USER\s+\S+`)
	reLatestTag  = regexp.MustCompile(`(?mi)^\s*FROM\s+\S+:latest\b`)
	reFromMulti  = regexp.MustCompile(`(?mi)^\s*FROM\s+`)
)

// ValidateContainerRecipe checks the generated recipe against the fixed
// rule set: required instructions present, no placeholder tokens, no
// secrets; warns on mutable tag, missing health probe, missing user switch,
// single-stage build.
func ValidateContainerRecipe(content string) Result {
	res := Result{Valid: true}

	if !reFrom.MatchString(content) {
		res.fail("missing base-image directive (FROM)")
	}
	if !reWorkdir.MatchString(content) {
		res.fail("missing working-directory directive (WORKDIR)")
	}
	if !reCopyOrAdd.MatchString(content) {
		res.fail("missing file-copy directive (COPY/ADD)")
	}
	if !reEntrypoint.MatchString(content) {
		res.fail("missing entrypoint directive (ENTRYPOINT/CMD)")
	}

	for _, tok := range placeholderTokens {
		if idx := strings.Index(content, tok); idx >= 0 {
			line := lineNumberAt(content, idx)
			res.fail("Found forbidden term '%s' in Dockerfile:%d", tok, line)
		}
	}
	for _, re := range secretPatterns {
		if loc := re.FindStringIndex(content); loc != nil {
			line := lineNumberAt(content, loc[0])
			res.fail("potential secret detected in Dockerfile:%d", line)
		}
	}

	if reLatestTag.MatchString(content) {
		res.warn("image tag is mutable (latest)")
	}
	if !reHealth.MatchString(content) {
		res.warn("no health-probe directive (HEALTHCHECK)")
	}
	if !reUser.MatchString(content) {
		res.warn("no user-switch (USER) — container runs as root")
	}
	if len(reFromMulti.FindAllString(content, -1)) < 2 {
		res.warn("not a multi-stage build")
	}

	return res
}

func lineNumberAt(content string, idx int) int {
	return strings.Count(content[:idx], "\n") + 1
}
