package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/fixbot/internal/analyzer"
	"git.home.luguber.info/inful/fixbot/internal/classify"
)

func springBootProject() *analyzer.ProjectContext {
	return &analyzer.ProjectContext{
		Language:         "java",
		BuildTool:        analyzer.BuildToolMaven,
		Framework:        "spring-boot",
		FrameworkVersion: "3.2.1",
		Annotations: map[string][]string{
			"src/main/java/S.java": {"Service"},
		},
	}
}

func TestSystemNamesStack(t *testing.T) {
	msg := System(springBootProject())
	assert.Contains(t, msg, "expert java engineer")
	assert.Contains(t, msg, "spring-boot")
	assert.Contains(t, msg, "3.2.1")
	assert.Contains(t, msg, "smallest possible change")
}

func TestUserCarriesErrorContextAndContract(t *testing.T) {
	plan := classify.Classify("[ERROR] /src/main/java/S.java:[5,1] cannot find symbol: class JpaRepository")
	in := Input{
		Plan:        plan,
		Project:     springBootProject(),
		FilePath:    "src/main/java/S.java",
		FileContent: "public class S {}\n",
	}
	msg := User(in)

	assert.Contains(t, msg, "[compilation] cannot find symbol")
	assert.Contains(t, msg, "missing symbol: JpaRepository")
	assert.Contains(t, msg, "at /src/main/java/S.java:5")
	assert.Contains(t, msg, "framework=spring-boot@3.2.1")
	assert.Contains(t, msg, "Annotations on this file: @Service")
	assert.Contains(t, msg, "File src/main/java/S.java:")
	assert.Contains(t, msg, "public class S {}")
	assert.Contains(t, msg, "@@ -start,count +start,count @@")
	assert.Contains(t, msg, "nothing but the diff")
}

func TestUserIncludesValidationTail(t *testing.T) {
	in := Input{
		Plan:           &classify.Plan{Errors: []classify.BuildError{{Kind: classify.KindUnknown, Message: "boom"}}},
		Project:        springBootProject(),
		FilePath:       "pom.xml",
		FileContent:    "<project/>",
		ValidationTail: "[ERROR] still broken at line 3",
	}
	msg := User(in)
	assert.Contains(t, msg, "failed validation")
	assert.Contains(t, msg, "still broken at line 3")
}

func TestUserDeterministic(t *testing.T) {
	plan := classify.Classify("NoSuchBeanDefinitionException: No qualifying bean of type 'com.example.A'")
	in := Input{Plan: plan, Project: springBootProject(), FilePath: "A.java", FileContent: "class A {}"}
	assert.Equal(t, User(in), User(in))
}

func TestRegenerationHintNamesReason(t *testing.T) {
	hint := RegenerationHint("no hunk header found")
	assert.Contains(t, hint, "no hunk header found")
	assert.Contains(t, hint, "unified diff")
}
