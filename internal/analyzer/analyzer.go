// Package analyzer inspects a cloned working tree and produces the
// ProjectContext consumed by the ranker and prompt builder: build tool,
// modules, framework version, and a lightweight annotation index.
package analyzer

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"git.home.luguber.info/inful/fixbot/internal/logfields"
)

// BuildTool identifies the project build system.
type BuildTool string

const (
	BuildToolMaven   BuildTool = "maven"
	BuildToolGradle  BuildTool = "gradle"
	BuildToolUnknown BuildTool = "unknown"
)

// ProjectContext summarizes one repository state for downstream stages.
type ProjectContext struct {
	Language         string              `json:"language"`
	BuildTool        BuildTool           `json:"build_tool"`
	Framework        string              `json:"framework,omitempty"`
	FrameworkVersion string              `json:"framework_version,omitempty"`
	Modules          []string            `json:"modules,omitempty"`
	SourceFiles      []string            `json:"source_files"`
	Annotations      map[string][]string `json:"annotations"` // file -> annotation names found in its head
}

// annotationHeadLines bounds how much of each file is scanned for
// annotations. Class-level annotations sit above the type declaration, so
// the file head is enough.
const annotationHeadLines = 60

var (
	annotationRe    = regexp.MustCompile(`@([A-Z][A-Za-z0-9]*)`)
	springBootVerRe = regexp.MustCompile(`<version>([^<]+)</version>`)
	springParentRe  = regexp.MustCompile(`spring-boot-starter-parent`)
	gradleSpringRe  = regexp.MustCompile(`org\.springframework\.boot['"]?\s+version\s+['"]([^'"]+)['"]`)
	moduleRe        = regexp.MustCompile(`<module>([^<]+)</module>`)
	gradleIncludeRe = regexp.MustCompile(`include\s*\(?['":]+([^'")]+)['"]?\)?`)
)

// Analyze builds a ProjectContext for the working tree rooted at dir.
func Analyze(dir string) (*ProjectContext, error) {
	pc := &ProjectContext{
		Language:    "java",
		BuildTool:   BuildToolUnknown,
		Annotations: map[string][]string{},
	}

	switch {
	case exists(filepath.Join(dir, "pom.xml")):
		pc.BuildTool = BuildToolMaven
		analyzeMavenDescriptor(dir, pc)
	case exists(filepath.Join(dir, "build.gradle")) || exists(filepath.Join(dir, "build.gradle.kts")):
		pc.BuildTool = BuildToolGradle
		analyzeGradleDescriptor(dir, pc)
	}

	if err := collectSources(dir, pc); err != nil {
		return nil, fmt.Errorf("enumerate sources: %w", err)
	}

	slog.Debug("Analyzed project",
		logfields.Path(dir),
		slog.String("build_tool", string(pc.BuildTool)),
		slog.String("framework", pc.Framework+" "+pc.FrameworkVersion),
		slog.Int("source_files", len(pc.SourceFiles)),
		slog.Int("modules", len(pc.Modules)))
	return pc, nil
}

func analyzeMavenDescriptor(dir string, pc *ProjectContext) {
	data, err := os.ReadFile(filepath.Join(dir, "pom.xml"))
	if err != nil {
		return
	}
	content := string(data)

	for _, m := range moduleRe.FindAllStringSubmatch(content, -1) {
		pc.Modules = append(pc.Modules, strings.TrimSpace(m[1]))
	}

	if springParentRe.MatchString(content) || strings.Contains(content, "spring-boot-starter") {
		pc.Framework = "spring-boot"
		// Version is taken from the parent block when present.
		if idx := strings.Index(content, "spring-boot-starter-parent"); idx >= 0 {
			if m := springBootVerRe.FindStringSubmatch(content[idx:]); m != nil {
				pc.FrameworkVersion = strings.TrimSpace(m[1])
			}
		}
	}
}

func analyzeGradleDescriptor(dir string, pc *ProjectContext) {
	for _, name := range []string{"build.gradle", "build.gradle.kts"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		content := string(data)
		if m := gradleSpringRe.FindStringSubmatch(content); m != nil {
			pc.Framework = "spring-boot"
			pc.FrameworkVersion = m[1]
		} else if strings.Contains(content, "org.springframework.boot") {
			pc.Framework = "spring-boot"
		}
	}
	for _, name := range []string{"settings.gradle", "settings.gradle.kts"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for _, m := range gradleIncludeRe.FindAllStringSubmatch(string(data), -1) {
			pc.Modules = append(pc.Modules, strings.TrimSpace(strings.Trim(m[1], `'" `)))
		}
	}
}

// collectSources walks conventional source roots and records .java files plus
// build descriptors, indexing head annotations as it goes. Paths are recorded
// relative to dir with forward slashes.
func collectSources(dir string, pc *ProjectContext) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "target" || name == "build" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		base := d.Name()
		switch {
		case strings.HasSuffix(base, ".java"):
			pc.SourceFiles = append(pc.SourceFiles, rel)
			if anns := headAnnotations(path); len(anns) > 0 {
				pc.Annotations[rel] = anns
			}
		case base == "pom.xml" || base == "build.gradle" || base == "build.gradle.kts":
			pc.SourceFiles = append(pc.SourceFiles, rel)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(pc.SourceFiles)
	return nil
}

// headAnnotations scans the head of a Java file for annotation names.
func headAnnotations(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	seen := map[string]bool{}
	var anns []string
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan() && i < annotationHeadLines; i++ {
		for _, m := range annotationRe.FindAllStringSubmatch(scanner.Text(), -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				anns = append(anns, m[1])
			}
		}
	}
	return anns
}

// HasAnnotation reports whether the given file carries the annotation.
func (pc *ProjectContext) HasAnnotation(file, annotation string) bool {
	for _, a := range pc.Annotations[file] {
		if a == annotation {
			return true
		}
	}
	return false
}

// Summary renders a one-paragraph context description for prompts and PR
// bodies.
func (pc *ProjectContext) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "language=%s build_tool=%s", pc.Language, pc.BuildTool)
	if pc.Framework != "" {
		fmt.Fprintf(&b, " framework=%s", pc.Framework)
		if pc.FrameworkVersion != "" {
			fmt.Fprintf(&b, "@%s", pc.FrameworkVersion)
		}
	}
	if len(pc.Modules) > 0 {
		fmt.Fprintf(&b, " modules=%s", strings.Join(pc.Modules, ","))
	}
	return b.String()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
