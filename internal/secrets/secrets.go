// Package secrets centralizes credential handling and log redaction.
// Secrets are loaded once at startup from the environment; any registered
// value or token-shaped substring appearing in a log record is rewritten
// to a short prefix followed by asterisks before the record is emitted.
package secrets

import (
	"regexp"
	"strings"
	"sync"
)

// tokenPattern matches well-known credential shapes even when the value was
// never registered (defense against secrets arriving via payloads).
var tokenPattern = regexp.MustCompile(`\b(?:ghp_[A-Za-z0-9]{20,}|gho_[A-Za-z0-9]{20,}|glpat-[A-Za-z0-9_\-]{15,}|sk-[A-Za-z0-9_\-]{20,}|xox[baprs]-[A-Za-z0-9\-]{10,})\b`)

const prefixLen = 4

// Redactor rewrites secret material in strings. Safe for concurrent use.
type Redactor struct {
	mu     sync.RWMutex
	values []string
}

// NewRedactor creates a redactor seeded with the given secret values.
// Empty and very short values are ignored so redaction never mangles
// ordinary text.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{}
	r.Register(values...)
	return r
}

// Register adds secret values to the redaction set.
func (r *Redactor) Register(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range values {
		if len(v) >= 6 {
			r.values = append(r.values, v)
		}
	}
}

// Redact rewrites registered secrets and token-shaped substrings in s.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	for _, v := range r.values {
		if strings.Contains(s, v) {
			s = strings.ReplaceAll(s, v, mask(v))
		}
	}
	r.mu.RUnlock()

	return tokenPattern.ReplaceAllStringFunc(s, mask)
}

func mask(v string) string {
	if len(v) <= prefixLen {
		return "****"
	}
	return v[:prefixLen] + "****"
}
