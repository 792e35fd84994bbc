package analyzer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const fixturePom = `<?xml version="1.0"?>
<project>
  <parent>
    <groupId>org.springframework.boot</groupId>
    <artifactId>spring-boot-starter-parent</artifactId>
    <version>3.2.1</version>
  </parent>
  <modules>
    <module>core</module>
    <module>web</module>
  </modules>
</project>`

func TestAnalyzeMavenSpringProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pom.xml", fixturePom)
	writeFile(t, dir, "src/main/java/com/example/Application.java",
		"package com.example;\n\n@SpringBootApplication\npublic class Application {}\n")
	writeFile(t, dir, "src/main/java/com/example/service/OrderService.java",
		"package com.example.service;\n\nimport com.example.repository.OrderRepository;\n\n@Service\npublic class OrderService {}\n")
	writeFile(t, dir, "target/generated/Junk.java", "class Junk {}")

	pc, err := Analyze(dir)
	require.NoError(t, err)

	assert.Equal(t, BuildToolMaven, pc.BuildTool)
	assert.Equal(t, "spring-boot", pc.Framework)
	assert.Equal(t, "3.2.1", pc.FrameworkVersion)
	assert.Equal(t, []string{"core", "web"}, pc.Modules)

	assert.Contains(t, pc.SourceFiles, "pom.xml")
	assert.Contains(t, pc.SourceFiles, "src/main/java/com/example/Application.java")
	assert.NotContains(t, pc.SourceFiles, "target/generated/Junk.java", "target dir skipped")

	assert.True(t, pc.HasAnnotation("src/main/java/com/example/Application.java", "SpringBootApplication"))
	assert.True(t, pc.HasAnnotation("src/main/java/com/example/service/OrderService.java", "Service"))
	assert.False(t, pc.HasAnnotation("src/main/java/com/example/service/OrderService.java", "Repository"))
}

func TestAnalyzeGradleProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build.gradle",
		"plugins {\n  id 'org.springframework.boot' version '3.1.5'\n}\n")
	writeFile(t, dir, "settings.gradle", "include ':app'\ninclude ':lib'\n")
	writeFile(t, dir, "app/src/main/java/App.java", "public class App {}\n")

	pc, err := Analyze(dir)
	require.NoError(t, err)

	assert.Equal(t, BuildToolGradle, pc.BuildTool)
	assert.Equal(t, "spring-boot", pc.Framework)
	assert.Equal(t, "3.1.5", pc.FrameworkVersion)
	assert.Len(t, pc.Modules, 2)
	assert.Contains(t, pc.SourceFiles, "build.gradle")
}

func TestAnalyzeUnknownProject(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "# nothing")

	pc, err := Analyze(dir)
	require.NoError(t, err)
	assert.Equal(t, BuildToolUnknown, pc.BuildTool)
	assert.Empty(t, pc.Framework)
	assert.Empty(t, pc.SourceFiles)
}

func TestSummary(t *testing.T) {
	pc := &ProjectContext{
		Language: "java", BuildTool: BuildToolMaven,
		Framework: "spring-boot", FrameworkVersion: "3.2.1",
		Modules: []string{"core"},
	}
	assert.Equal(t, "language=java build_tool=maven framework=spring-boot@3.2.1 modules=core", pc.Summary())
}
