package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// StripFences removes a surrounding markdown code fence when the model
// wrapped the diff despite the output contract.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// ValidateDiff checks the minimal unified-diff contract: the text is
// non-empty, contains at least one hunk header, and every line inside a
// hunk starts with space, plus, or minus. File headers (---/+++) and text
// before the first hunk are tolerated; the patch applier ignores them.
func ValidateDiff(diff string) error {
	if strings.TrimSpace(diff) == "" {
		return fmt.Errorf("empty response")
	}

	hunks := 0
	inHunk := false
	for i, line := range strings.Split(diff, "\n") {
		if hunkHeaderRe.MatchString(line) {
			hunks++
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}
		if line == "" {
			// A trailing blank line ends the diff body.
			inHunk = false
			continue
		}
		switch line[0] {
		case ' ', '+', '-', '\\':
		default:
			return fmt.Errorf("illegal prefix %q inside hunk at line %d", line[0], i+1)
		}
	}
	if hunks == 0 {
		return fmt.Errorf("no hunk header found")
	}
	return nil
}
