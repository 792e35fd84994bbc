// Package patch applies model-generated unified diffs to files in the
// working tree. It is deliberately not a general diff engine: context must
// match exactly at the stated position and there is no fuzz matching.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Hunk is one parsed @@ block. Counts default to 1 when omitted in the
// header; line numbers are 1-based.
type Hunk struct {
	OrigStart int
	OrigCount int
	NewStart  int
	NewCount  int
	Lines     []string // prefixed body lines
}

// Parse extracts the hunks from a unified diff. File headers and any prose
// before the first hunk are ignored. A diff without hunks is an error.
func Parse(diff string) ([]Hunk, error) {
	var hunks []Hunk
	var cur *Hunk

	for _, line := range strings.Split(diff, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			if cur != nil {
				hunks = append(hunks, *cur)
			}
			cur = &Hunk{
				OrigStart: atoiDefault(m[1], 1),
				OrigCount: atoiDefault(m[2], 1),
				NewStart:  atoiDefault(m[3], 1),
				NewCount:  atoiDefault(m[4], 1),
			}
			continue
		}
		if cur == nil {
			continue
		}
		if line == "" {
			// Blank line after the body ends the hunk.
			hunks = append(hunks, *cur)
			cur = nil
			continue
		}
		switch line[0] {
		case ' ', '+', '-':
			cur.Lines = append(cur.Lines, line)
		case '\\':
			// "\ No newline at end of file" markers carry no content.
		default:
			return nil, apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError,
				fmt.Sprintf("illegal line prefix %q in hunk body", line[0]))
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}
	if len(hunks) == 0 {
		return nil, apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError, "diff contains no hunks")
	}

	for _, h := range hunks {
		orig, fresh := 0, 0
		for _, l := range h.Lines {
			switch l[0] {
			case ' ':
				orig++
				fresh++
			case '-':
				orig++
			case '+':
				fresh++
			}
		}
		if orig != h.OrigCount || fresh != h.NewCount {
			return nil, apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError,
				fmt.Sprintf("hunk @@ -%d,%d +%d,%d @@ body has %d/%d lines",
					h.OrigStart, h.OrigCount, h.NewStart, h.NewCount, orig, fresh))
		}
	}
	return hunks, nil
}

// Apply patches the file at path (relative to dir) with the given diff.
// All hunks apply in order against the original line numbering; any failure
// leaves the file untouched. The returned log describes what was done.
func Apply(dir, path, diff string) (string, error) {
	hunks, err := Parse(diff)
	if err != nil {
		return "", err
	}

	full := filepath.Join(dir, path)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryPatch, apperrors.SeverityError, "read target file")
	}

	original := string(data)
	trailingNewline := strings.HasSuffix(original, "\n")
	lines := strings.Split(strings.TrimSuffix(original, "\n"), "\n")

	var out []string
	cursor := 0 // 0-based index into lines; next original line to copy

	for _, h := range hunks {
		start := h.OrigStart - 1
		if h.OrigCount == 0 {
			// Pure insertion: the header points at the line after which
			// new content lands.
			start = h.OrigStart
		}
		if start < cursor || start > len(lines) {
			return "", apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError,
				fmt.Sprintf("hunk start %d out of range", h.OrigStart))
		}
		out = append(out, lines[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			content := l[1:]
			switch l[0] {
			case ' ':
				if cursor >= len(lines) || lines[cursor] != content {
					return "", apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError,
						fmt.Sprintf("context mismatch at line %d", cursor+1))
				}
				out = append(out, content)
				cursor++
			case '-':
				if cursor >= len(lines) || lines[cursor] != content {
					return "", apperrors.New(apperrors.CategoryPatch, apperrors.SeverityError,
						fmt.Sprintf("context mismatch at line %d", cursor+1))
				}
				cursor++
			case '+':
				out = append(out, content)
			}
		}
	}
	out = append(out, lines[cursor:]...)

	result := strings.Join(out, "\n")
	if trailingNewline {
		result += "\n"
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryPatch, apperrors.SeverityError, "stat target file")
	}
	if err := os.WriteFile(full, []byte(result), info.Mode().Perm()); err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryPatch, apperrors.SeverityError, "write patched file")
	}

	return fmt.Sprintf("applied %d hunk(s) to %s (%d -> %d lines)",
		len(hunks), path, len(lines), len(out)), nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
