// Package classify turns raw build logs into a structured failure plan.
// The classifier is a pure function over the log text: it never touches the
// filesystem and the same input always yields the same plan. Patterns cover
// Maven, Gradle, javac, and Spring diagnostics.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// LogWindow is the maximum number of trailing log lines examined. Longer
// logs are window-truncated from the front.
const LogWindow = 300

// ErrorKind is the top-level error taxonomy.
type ErrorKind string

const (
	KindCompilation      ErrorKind = "compilation"
	KindDependency       ErrorKind = "dependency"
	KindFrameworkContext ErrorKind = "framework_context"
	KindTestFailure      ErrorKind = "test_failure"
	KindUnknown          ErrorKind = "unknown"
)

// ContextKind refines framework-context errors.
type ContextKind string

const (
	ContextNoSuchBean         ContextKind = "no_such_bean"
	ContextAmbiguousBean      ContextKind = "ambiguous_bean"
	ContextCircularDependency ContextKind = "circular_dependency"
	ContextMissingAnnotation  ContextKind = "missing_annotation"
)

// BuildError is one typed error extracted from the log.
type BuildError struct {
	Kind ErrorKind `json:"kind"`

	// Compilation fields
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Symbol string `json:"symbol,omitempty"`

	// Dependency fields
	Artifact string `json:"artifact,omitempty"`
	Conflict bool   `json:"conflict,omitempty"`

	// Framework-context fields
	Bean        string      `json:"bean,omitempty"`
	ContextKind ContextKind `json:"context_kind,omitempty"`

	// Test-failure fields
	TestClass  string `json:"test_class,omitempty"`
	TestMethod string `json:"test_method,omitempty"`
	Assertion  string `json:"assertion,omitempty"`

	Message string `json:"message"`
}

// Plan is the structured output of the plan stage, persisted as the task
// payload for downstream stages.
type Plan struct {
	Errors  []BuildError `json:"errors"`
	RawTail string       `json:"raw_tail,omitempty"` // populated only for unknown plans
}

// HasKind reports whether the plan contains an error of the given kind.
func (p *Plan) HasKind(kind ErrorKind) bool {
	for _, e := range p.Errors {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable plan description for PR bodies
// and notifications.
func (p *Plan) Summary() string {
	if len(p.Errors) == 0 {
		return "no errors recognized"
	}
	counts := map[ErrorKind]int{}
	for _, e := range p.Errors {
		counts[e.Kind]++
	}
	var parts []string
	for _, k := range []ErrorKind{KindCompilation, KindDependency, KindFrameworkContext, KindTestFailure, KindUnknown} {
		if n := counts[k]; n > 0 {
			parts = append(parts, strconv.Itoa(n)+" "+string(k))
		}
	}
	return strings.Join(parts, ", ")
}

var (
	// Maven compiler: [ERROR] /src/main/java/Foo.java:[12,34] cannot find symbol
	mavenCompileRe = regexp.MustCompile(`\[ERROR\]\s+(\S+\.java):\[(\d+),(\d+)\]\s+(.*)`)
	// javac: Foo.java:12: error: cannot find symbol
	javacRe = regexp.MustCompile(`(\S+\.java):(\d+):\s+error:\s+(.*)`)
	// symbol line following a "cannot find symbol" diagnostic
	symbolRe = regexp.MustCompile(`symbol:\s+(?:class|variable|method)\s+([A-Za-z0-9_.$]+)`)
	// inline symbol: cannot find symbol: class JpaRepository
	inlineSymbolRe = regexp.MustCompile(`cannot find symbol:?\s+(?:class|variable|method)\s+([A-Za-z0-9_.$]+)`)

	// Maven: Could not find artifact org.g:art:jar:1.0 / Could not resolve dependencies
	mavenArtifactRe = regexp.MustCompile(`Could not (?:find artifact|resolve dependencies for project)\s+([A-Za-z0-9_.\-]+:[A-Za-z0-9_.\-]+(?::[A-Za-z0-9_.\-]+)*)`)
	// Gradle: Could not resolve org.g:art:1.0
	gradleArtifactRe = regexp.MustCompile(`Could not resolve\s+([A-Za-z0-9_.\-]+:[A-Za-z0-9_.\-]+(?::[A-Za-z0-9_.\-]+)?)\.?$`)
	conflictRe       = regexp.MustCompile(`(?i)conflict.*\b([A-Za-z0-9_.\-]+:[A-Za-z0-9_.\-]+)`)

	noSuchBeanRe = regexp.MustCompile(`NoSuchBeanDefinitionException(?::\s+No qualifying bean of type '([A-Za-z0-9_.$]+)')?`)
	ambiguousRe  = regexp.MustCompile(`(?:NoUniqueBeanDefinitionException|expected single matching bean but found\s+\d+)`)
	circularRe   = regexp.MustCompile(`(?:BeanCurrentlyInCreationException|circular reference|Circular depend)`)

	// Surefire: FooTest.testBar:42 expected:<1> but was:<2>
	surefireRe = regexp.MustCompile(`^\s*\[?ERROR\]?\s*([A-Z][A-Za-z0-9_]*Tests?)\.(\w+)(?::\d+)?\s+(.*)`)
	// Gradle: com.example.FooTest > testBar FAILED
	gradleTestRe = regexp.MustCompile(`([A-Za-z0-9_.]+\.)?([A-Z][A-Za-z0-9_]*Tests?)\s+>\s+(\w+)\s+FAILED`)
)

// knownLibraryTypes maps library class names seen in compile errors to the
// artifact a missing dependency most likely corresponds to.
var knownLibraryTypes = map[string]string{
	"JpaRepository":      "org.springframework.boot:spring-boot-starter-data-jpa",
	"CrudRepository":     "org.springframework.boot:spring-boot-starter-data-jpa",
	"MongoRepository":    "org.springframework.boot:spring-boot-starter-data-mongodb",
	"RestTemplate":       "org.springframework.boot:spring-boot-starter-web",
	"WebClient":          "org.springframework.boot:spring-boot-starter-webflux",
	"KafkaTemplate":      "org.springframework.kafka:spring-kafka",
	"RedisTemplate":      "org.springframework.boot:spring-boot-starter-data-redis",
	"ObjectMapper":       "com.fasterxml.jackson.core:jackson-databind",
	"Logger":             "org.slf4j:slf4j-api",
	"MockMvc":            "org.springframework.boot:spring-boot-starter-test",
}

// Classify parses the build log into a plan. Only the last LogWindow lines
// are considered.
func Classify(log string) *Plan {
	lines := windowLines(log, LogWindow)
	plan := &Plan{}

	seenDeps := map[string]bool{}

	for i, line := range lines {
		if m := mavenCompileRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			e := BuildError{
				Kind:    KindCompilation,
				File:    m[1],
				Line:    lineNo,
				Column:  col,
				Message: strings.TrimSpace(m[4]),
			}
			e.Symbol = findSymbol(e.Message, lines, i)
			plan.Errors = append(plan.Errors, e)
			addInferredDependency(plan, e.Symbol, seenDeps)
			continue
		}
		if m := javacRe.FindStringSubmatch(line); m != nil {
			lineNo, _ := strconv.Atoi(m[2])
			e := BuildError{
				Kind:    KindCompilation,
				File:    m[1],
				Line:    lineNo,
				Message: strings.TrimSpace(m[3]),
			}
			e.Symbol = findSymbol(e.Message, lines, i)
			plan.Errors = append(plan.Errors, e)
			addInferredDependency(plan, e.Symbol, seenDeps)
			continue
		}
		if m := mavenArtifactRe.FindStringSubmatch(line); m != nil {
			addDependency(plan, m[1], false, line, seenDeps)
			continue
		}
		if m := gradleArtifactRe.FindStringSubmatch(line); m != nil {
			addDependency(plan, m[1], false, line, seenDeps)
			continue
		}
		if m := conflictRe.FindStringSubmatch(line); m != nil {
			addDependency(plan, m[1], true, line, seenDeps)
			continue
		}
		if ambiguousRe.MatchString(line) {
			plan.Errors = append(plan.Errors, BuildError{
				Kind:        KindFrameworkContext,
				ContextKind: ContextAmbiguousBean,
				Bean:        beanFromLine(line),
				Message:     strings.TrimSpace(line),
			})
			continue
		}
		if circularRe.MatchString(line) {
			plan.Errors = append(plan.Errors, BuildError{
				Kind:        KindFrameworkContext,
				ContextKind: ContextCircularDependency,
				Bean:        beanFromLine(line),
				Message:     strings.TrimSpace(line),
			})
			continue
		}
		if m := noSuchBeanRe.FindStringSubmatch(line); m != nil {
			e := BuildError{
				Kind:    KindFrameworkContext,
				Message: strings.TrimSpace(line),
			}
			if m[1] != "" {
				// A concrete project type with no qualifying bean almost
				// always means the component annotation is missing.
				e.ContextKind = ContextMissingAnnotation
				e.Bean = simpleName(m[1])
			} else {
				e.ContextKind = ContextNoSuchBean
				e.Bean = beanFromLine(line)
			}
			plan.Errors = append(plan.Errors, e)
			continue
		}
		if m := gradleTestRe.FindStringSubmatch(line); m != nil {
			plan.Errors = append(plan.Errors, BuildError{
				Kind:       KindTestFailure,
				TestClass:  m[2],
				TestMethod: m[3],
				Message:    strings.TrimSpace(line),
			})
			continue
		}
		if m := surefireRe.FindStringSubmatch(line); m != nil {
			plan.Errors = append(plan.Errors, BuildError{
				Kind:       KindTestFailure,
				TestClass:  m[1],
				TestMethod: m[2],
				Assertion:  strings.TrimSpace(m[3]),
				Message:    strings.TrimSpace(line),
			})
			continue
		}
	}

	if len(plan.Errors) == 0 {
		tail := lines
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		plan.Errors = append(plan.Errors, BuildError{Kind: KindUnknown, Message: "no recognized diagnostics"})
		plan.RawTail = strings.Join(tail, "\n")
	}
	return plan
}

func addDependency(plan *Plan, artifact string, conflict bool, line string, seen map[string]bool) {
	if seen[artifact] {
		return
	}
	seen[artifact] = true
	plan.Errors = append(plan.Errors, BuildError{
		Kind:     KindDependency,
		Artifact: artifact,
		Conflict: conflict,
		Message:  strings.TrimSpace(line),
	})
}

// addInferredDependency emits a dependency error when a compile error's
// missing symbol is a well-known library type.
func addInferredDependency(plan *Plan, symbol string, seen map[string]bool) {
	if symbol == "" {
		return
	}
	artifact, ok := knownLibraryTypes[simpleName(symbol)]
	if !ok || seen[artifact] {
		return
	}
	seen[artifact] = true
	plan.Errors = append(plan.Errors, BuildError{
		Kind:     KindDependency,
		Artifact: artifact,
		Message:  "inferred from missing symbol " + symbol,
	})
}

// findSymbol extracts the missing symbol either inline or from the
// "symbol:" line javac prints after a cannot-find-symbol diagnostic.
func findSymbol(message string, lines []string, idx int) string {
	if m := inlineSymbolRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if !strings.Contains(message, "cannot find symbol") {
		return ""
	}
	for j := idx + 1; j < len(lines) && j <= idx+3; j++ {
		if m := symbolRe.FindStringSubmatch(lines[j]); m != nil {
			return m[1]
		}
	}
	return ""
}

var quotedTypeRe = regexp.MustCompile(`'([A-Za-z0-9_.$]+)'`)

func beanFromLine(line string) string {
	if m := quotedTypeRe.FindStringSubmatch(line); m != nil {
		return simpleName(m[1])
	}
	return ""
}

func simpleName(fqn string) string {
	if i := strings.LastIndexAny(fqn, ".$"); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}

// windowLines splits the log and keeps the trailing n lines.
func windowLines(log string, n int) []string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
