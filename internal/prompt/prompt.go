// Package prompt renders the messages sent to the patch-generation model.
// The builder is deterministic over its inputs so a regenerated prompt for
// the same build state is byte-identical.
package prompt

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	"git.home.luguber.info/inful/fixbot/internal/classify"
)

// MaxFileBytes is the largest candidate file the stage will prompt with.
const MaxFileBytes = 50 * 1024

// Input carries everything the builder needs for one candidate file.
type Input struct {
	Plan        *classify.Plan
	Project     *analyzer.ProjectContext
	FilePath    string
	FileContent string

	// ValidationTail is the fresh error tail from a failed validation run,
	// present only when the fix loop came back through the validator.
	ValidationTail string
}

// System returns the role preface for the detected stack.
func System(pc *analyzer.ProjectContext) string {
	var b strings.Builder
	b.WriteString("You are an expert ")
	b.WriteString(pc.Language)
	b.WriteString(" engineer")
	if pc.Framework != "" {
		fmt.Fprintf(&b, " with deep %s experience", pc.Framework)
		if pc.FrameworkVersion != "" {
			fmt.Fprintf(&b, " (version %s)", pc.FrameworkVersion)
		}
	}
	b.WriteString(". You fix CI build failures with the smallest possible change.")
	return b.String()
}

// User renders the user message: error context, project summary, file
// content, and the output contract.
func User(in Input) string {
	var b strings.Builder

	b.WriteString("The CI build failed. Structured error context:\n\n")
	for i, e := range in.Plan.Errors {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.Kind, e.Message)
		if e.File != "" {
			fmt.Fprintf(&b, "   at %s:%d\n", e.File, e.Line)
		}
		if e.Symbol != "" {
			fmt.Fprintf(&b, "   missing symbol: %s\n", e.Symbol)
		}
		if e.Artifact != "" {
			fmt.Fprintf(&b, "   artifact: %s\n", e.Artifact)
		}
		if e.Bean != "" {
			fmt.Fprintf(&b, "   bean: %s (%s)\n", e.Bean, e.ContextKind)
		}
		if e.TestClass != "" {
			fmt.Fprintf(&b, "   test: %s.%s %s\n", e.TestClass, e.TestMethod, e.Assertion)
		}
	}
	if in.Plan.RawTail != "" {
		b.WriteString("\nRaw log tail:\n")
		b.WriteString(in.Plan.RawTail)
		b.WriteString("\n")
	}
	if in.ValidationTail != "" {
		b.WriteString("\nA previous fix attempt failed validation with:\n")
		b.WriteString(in.ValidationTail)
		b.WriteString("\n")
	}

	b.WriteString("\nProject: ")
	b.WriteString(in.Project.Summary())
	if anns := in.Project.Annotations[in.FilePath]; len(anns) > 0 {
		fmt.Fprintf(&b, "\nAnnotations on this file: @%s", strings.Join(anns, " @"))
	}

	fmt.Fprintf(&b, "\n\nFile %s:\n```\n%s\n```\n", in.FilePath, strings.TrimRight(in.FileContent, "\n"))

	b.WriteString("\nRespond with a unified diff against this file only. ")
	b.WriteString("Use hunk headers of the form @@ -start,count +start,count @@ with 1-based line numbers. ")
	b.WriteString("Make the minimal change that fixes the failure. ")
	b.WriteString("Output nothing but the diff: no prose, no fences, no explanations.")
	return b.String()
}

// RegenerationHint is appended to the user message when the previous model
// response failed diff validation.
func RegenerationHint(reason string) string {
	return fmt.Sprintf("\n\nYour previous response was not a valid unified diff (%s). "+
		"Respond again with only a unified diff: hunk headers @@ -start,count +start,count @@ "+
		"and body lines prefixed with space, + or - exclusively.", reason)
}
