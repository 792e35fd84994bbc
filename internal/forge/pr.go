package forge

import (
	"fmt"
	"strings"
)

// Labels attached to every fix PR.
var Labels = []string{"ci-fix", "automated"}

// Title renders the PR title for a build.
func Title(buildNumber int, commitSHA string) string {
	return fmt.Sprintf("Fix: CI build #%d (%s)", buildNumber, shortSHA(commitSHA))
}

// BodyInput carries the pieces assembled into the PR description.
type BodyInput struct {
	Job               string
	BuildNumber       int
	PlanSummary       string
	PatchedFiles      []string
	ValidationSummary string // empty means validation was skipped
}

// Body renders the PR description.
func Body(in BodyInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for CI build #%d of %s.\n\n", in.BuildNumber, in.Job)

	fmt.Fprintf(&b, "## Failure analysis\n\n%s\n\n", in.PlanSummary)

	b.WriteString("## Patched files\n\n")
	for _, f := range in.PatchedFiles {
		fmt.Fprintf(&b, "- `%s`\n", f)
	}

	b.WriteString("\n## Validation\n\n")
	if in.ValidationSummary == "" {
		b.WriteString("validation skipped\n")
	} else {
		b.WriteString(in.ValidationSummary + "\n")
	}

	b.WriteString("\n## Review checklist\n\n")
	b.WriteString("- [ ] The change addresses the build failure\n")
	b.WriteString("- [ ] No unrelated files were modified\n")
	b.WriteString("- [ ] Tests cover the fixed behavior\n")
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
