// Package ranker orders candidate files for the patch generator. Scoring is
// deterministic and pure over its inputs: the error plan, the project
// context, and file contents supplied by the reader.
package ranker

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	"git.home.luguber.info/inful/fixbot/internal/classify"
	"git.home.luguber.info/inful/fixbot/internal/model"
)

// Reference Java profile weights.
const (
	weightSemantic = 0.30
	weightDepend   = 0.25
	weightArch     = 0.25
	weightHist     = 0.20

	// semSaturation caps how many distinct token matches count toward the
	// semantic score.
	semSaturation = 8

	// scoreThreshold discards candidates below this composite score.
	scoreThreshold = 0.05

	// topN caps how many candidates reach the patch generator.
	topN = 5

	// fallbackK is the semantic-only candidate count when nothing passes
	// the threshold.
	fallbackK = 3
)

// FileReader supplies file contents by path relative to the working tree.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// DirReader reads files from a directory root.
type DirReader string

func (d DirReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(string(d), path))
}

// History supplies the historical sub-score. The zero default keeps the
// term's weight unused until a fix-history store is wired in.
type History interface {
	// Score returns the normalized historical fix score in [0,1] for the
	// file under the dominant error kind.
	Score(path string, kind classify.ErrorKind) float64
}

// Ranker computes candidate lists.
type Ranker struct {
	reader  FileReader
	history History
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithHistory wires a fix-history provider into the historical dimension.
func WithHistory(h History) Option {
	return func(r *Ranker) { r.history = h }
}

// New creates a Ranker reading file contents through reader.
func New(reader FileReader, opts ...Option) *Ranker {
	r := &Ranker{reader: reader}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Result is the ranked candidate list with its confidence margin.
type Result struct {
	Candidates []model.CandidateFile
	Confidence float64
}

// Rank scores every file of the language profile and returns the ordered
// candidate list. The returned order is total: ties break on shorter path,
// then lexicographic.
func (r *Ranker) Rank(buildID string, plan *classify.Plan, pc *analyzer.ProjectContext) Result {
	tokens := errorTokens(plan)
	imports := buildImportGraph(r.reader, pc.SourceFiles)
	frameFiles := errorFrameFiles(plan, pc.SourceFiles)
	dominant := dominantKind(plan)

	type scored struct {
		c   model.CandidateFile
		sem float64
	}
	var all []scored

	for _, f := range pc.SourceFiles {
		if !matchesProfile(f) {
			continue
		}
		content, err := r.reader.ReadFile(f)
		if err != nil {
			continue
		}

		sem := semanticScore(string(content), tokens)
		dep := dependencyScore(f, frameFiles, imports)
		arch := archScore(f, pc, plan)
		hist := 0.0
		if r.history != nil {
			hist = clamp01(r.history.Score(f, dominant))
		}

		score := clamp01(weightSemantic*sem + weightDepend*dep + weightArch*arch + weightHist*hist)
		all = append(all, scored{
			c: model.CandidateFile{
				BuildID:  buildID,
				Path:     f,
				Score:    score,
				Semantic: sem,
				Depend:   dep,
				Arch:     arch,
				Hist:     hist,
				Reason:   fmt.Sprintf("sem=%.2f dep=%.2f arch=%.2f hist=%.2f", sem, dep, arch, hist),
			},
			sem: sem,
		})
	}

	// Total order: score desc, then shorter path, then lexicographic.
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].c, all[j].c
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Path) != len(b.Path) {
			return len(a.Path) < len(b.Path)
		}
		return a.Path < b.Path
	})

	var surviving []model.CandidateFile
	for _, s := range all {
		if s.c.Score >= scoreThreshold {
			surviving = append(surviving, s.c)
		}
	}

	if len(surviving) == 0 {
		// Semantic-only fallback: top-K by sem regardless of threshold.
		sort.Slice(all, func(i, j int) bool {
			if all[i].sem != all[j].sem {
				return all[i].sem > all[j].sem
			}
			if len(all[i].c.Path) != len(all[j].c.Path) {
				return len(all[i].c.Path) < len(all[j].c.Path)
			}
			return all[i].c.Path < all[j].c.Path
		})
		for i := 0; i < len(all) && i < fallbackK; i++ {
			surviving = append(surviving, all[i].c)
		}
		return Result{Candidates: surviving, Confidence: confidence(surviving, len(surviving))}
	}

	n := topN
	if len(surviving) < n {
		n = len(surviving)
	}
	conf := 0.0
	if len(surviving) > n {
		conf = surviving[n-1].Score - surviving[n].Score
	} else if n > 0 {
		conf = surviving[n-1].Score
	}
	return Result{Candidates: surviving[:n], Confidence: conf}
}

func confidence(cands []model.CandidateFile, n int) float64 {
	if n == 0 {
		return 0
	}
	return cands[n-1].Score
}

// matchesProfile keeps .java sources and build descriptors.
func matchesProfile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".java") ||
		base == "pom.xml" || base == "build.gradle" || base == "build.gradle.kts"
}

var (
	classTokenRe  = regexp.MustCompile(`\b([A-Z][A-Za-z0-9_]{2,})\b`)
	methodTokenRe = regexp.MustCompile(`\b([a-z][A-Za-z0-9_]+)\(`)
	dottedPathRe  = regexp.MustCompile(`\b([a-z][a-z0-9_]*(?:\.[a-z0-9_]+){2,})\b`)
)

// errorTokens extracts the match vocabulary from the plan: capitalized
// identifiers, method names suffixed with "(", and dotted package paths.
func errorTokens(plan *classify.Plan) []string {
	seen := map[string]bool{}
	var tokens []string
	add := func(tok string) {
		if tok != "" && !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	for _, e := range plan.Errors {
		for _, text := range []string{e.Message, e.Assertion} {
			for _, m := range classTokenRe.FindAllStringSubmatch(text, -1) {
				add(m[1])
			}
			for _, m := range methodTokenRe.FindAllStringSubmatch(text, -1) {
				add(m[1] + "(")
			}
			for _, m := range dottedPathRe.FindAllStringSubmatch(text, -1) {
				add(m[1])
			}
		}
		add(simpleClass(e.Symbol))
		add(e.Bean)
		add(e.TestClass)
		if e.TestMethod != "" {
			add(e.TestMethod + "(")
		}
	}
	return tokens
}

// semanticScore counts distinct token matches saturating at semSaturation.
func semanticScore(content string, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	matches := 0
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			matches++
		}
	}
	denom := len(tokens)
	if denom > semSaturation {
		denom = semSaturation
	}
	return clamp01(float64(matches) / float64(denom))
}

var importRe = regexp.MustCompile(`(?m)^import\s+(?:static\s+)?([A-Za-z0-9_.]+)\s*;`)

// buildImportGraph maps each source file to the set of project files it
// imports, resolved by matching the import's path suffix. Only the file head
// is parsed; no AST.
func buildImportGraph(reader FileReader, files []string) map[string][]string {
	// Index: path suffix like com/example/Foo.java -> relative path.
	byQualified := map[string]string{}
	for _, f := range files {
		if strings.HasSuffix(f, ".java") {
			byQualified[qualifiedSuffix(f)] = f
		}
	}

	graph := map[string][]string{}
	for _, f := range files {
		if !strings.HasSuffix(f, ".java") {
			continue
		}
		content, err := reader.ReadFile(f)
		if err != nil {
			continue
		}
		head := string(content)
		if len(head) > 4096 {
			head = head[:4096]
		}
		for _, m := range importRe.FindAllStringSubmatch(head, -1) {
			suffix := strings.ReplaceAll(m[1], ".", "/") + ".java"
			for qualified, target := range byQualified {
				if strings.HasSuffix(suffix, qualified) && target != f {
					graph[f] = append(graph[f], target)
				}
			}
		}
	}
	return graph
}

// qualifiedSuffix strips conventional source roots so imports resolve to
// paths: src/main/java/com/example/Foo.java -> com/example/Foo.java.
func qualifiedSuffix(path string) string {
	for _, root := range []string{"src/main/java/", "src/test/java/"} {
		if i := strings.Index(path, root); i >= 0 {
			return path[i+len(root):]
		}
	}
	return path
}

// errorFrameFiles resolves files named in errors (compile locations, test
// classes, bean types) to project paths.
func errorFrameFiles(plan *classify.Plan, files []string) map[string]bool {
	frames := map[string]bool{}
	match := func(name string) {
		if name == "" {
			return
		}
		for _, f := range files {
			if strings.HasSuffix(f, "/"+name) || f == name || strings.HasSuffix(f, "/"+name+".java") {
				frames[f] = true
			}
		}
	}
	for _, e := range plan.Errors {
		if e.File != "" {
			match(filepath.Base(e.File))
		}
		match(e.TestClass)
		match(e.Bean)
		if e.Kind == classify.KindDependency {
			// The artifact error manifests in the build descriptor.
			for _, f := range files {
				if isDescriptor(f) {
					frames[f] = true
				}
			}
		}
	}
	return frames
}

func isDescriptor(path string) bool {
	base := filepath.Base(path)
	return base == "pom.xml" || base == "build.gradle" || base == "build.gradle.kts"
}

// dependencyScore: 1.0 when f is directly imported by an error-frame file,
// 0.6 at import distance 2, else 0. Frame files themselves score 1.0.
func dependencyScore(f string, frames map[string]bool, graph map[string][]string) float64 {
	if frames[f] {
		return 1.0
	}
	for frame := range frames {
		for _, direct := range graph[frame] {
			if direct == f {
				return 1.0
			}
		}
	}
	for frame := range frames {
		for _, direct := range graph[frame] {
			for _, transitive := range graph[direct] {
				if transitive == f {
					return 0.6
				}
			}
		}
	}
	return 0.0
}

// archScore is table-driven by file role.
func archScore(f string, pc *analyzer.ProjectContext, plan *classify.Plan) float64 {
	if strings.Contains(f, "/generated/") {
		return 0.0
	}

	base := filepath.Base(f)
	if base == "pom.xml" || base == "build.gradle" || base == "build.gradle.kts" {
		if plan.HasKind(classify.KindDependency) {
			return 1.0
		}
		return 0.3
	}

	if isTestFile(f) {
		if plan.HasKind(classify.KindTestFailure) {
			return 0.9
		}
		return 0.3
	}

	// Role evidence comes from head annotations or conventional path
	// fragments. The fragment check matters when the annotation itself is
	// what the fix needs to add.
	anns := pc.Annotations[f]
	switch {
	case containsAny(anns, "Configuration", "SpringBootApplication") || pathHasFragment(f, "config"):
		return 0.9
	case containsAny(anns, "Service", "Repository", "Component") || pathHasFragment(f, "service", "repository"):
		return 0.8
	case containsAny(anns, "Controller", "RestController") || pathHasFragment(f, "controller", "web"):
		return 0.7
	default:
		return 0.3
	}
}

func pathHasFragment(f string, fragments ...string) bool {
	for _, frag := range fragments {
		if strings.Contains(f, "/"+frag+"/") {
			return true
		}
	}
	return false
}

func isTestFile(f string) bool {
	return strings.Contains(f, "src/test/") && strings.HasSuffix(filepath.Base(f), "Test.java")
}

func containsAny(haystack []string, needles ...string) bool {
	for _, n := range needles {
		for _, h := range haystack {
			if h == n {
				return true
			}
		}
	}
	return false
}

func dominantKind(plan *classify.Plan) classify.ErrorKind {
	if len(plan.Errors) == 0 {
		return classify.KindUnknown
	}
	return plan.Errors[0].Kind
}

func simpleClass(sym string) string {
	if i := strings.LastIndex(sym, "."); i >= 0 {
		return sym[i+1:]
	}
	return sym
}

func clamp01(v float64) float64 {
	return math.Min(1.0, math.Max(0.0, v))
}
