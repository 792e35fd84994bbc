package classify

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMavenCompileError(t *testing.T) {
	log := `[INFO] Compiling 12 source files
[ERROR] /src/main/java/com/example/OrderService.java:[42,17] cannot find symbol
  symbol: class PaymentClient
[ERROR] BUILD FAILURE`

	plan := Classify(log)
	require.NotEmpty(t, plan.Errors)
	e := plan.Errors[0]
	assert.Equal(t, KindCompilation, e.Kind)
	assert.Equal(t, "/src/main/java/com/example/OrderService.java", e.File)
	assert.Equal(t, 42, e.Line)
	assert.Equal(t, 17, e.Column)
	assert.Equal(t, "PaymentClient", e.Symbol)
}

func TestClassifyJavacError(t *testing.T) {
	plan := Classify("OrderService.java:7: error: ';' expected")
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, KindCompilation, plan.Errors[0].Kind)
	assert.Equal(t, 7, plan.Errors[0].Line)
	assert.Empty(t, plan.Errors[0].Symbol)
}

func TestClassifyMissingDependencyInferred(t *testing.T) {
	// Scenario: missing JPA starter shows up as a compile error first.
	log := `[ERROR] /src/main/java/com/example/repository/UserRepository.java:[5,32] cannot find symbol: class JpaRepository`

	plan := Classify(log)
	require.True(t, plan.HasKind(KindCompilation))
	require.True(t, plan.HasKind(KindDependency), "library symbol should infer a dependency error")

	var dep BuildError
	for _, e := range plan.Errors {
		if e.Kind == KindDependency {
			dep = e
		}
	}
	assert.Equal(t, "org.springframework.boot:spring-boot-starter-data-jpa", dep.Artifact)
}

func TestClassifyMavenArtifactError(t *testing.T) {
	plan := Classify("[ERROR] Could not find artifact org.postgresql:postgresql:jar:42.7.1 in central")
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, KindDependency, plan.Errors[0].Kind)
	assert.Equal(t, "org.postgresql:postgresql:jar:42.7.1", plan.Errors[0].Artifact)
	assert.False(t, plan.Errors[0].Conflict)
}

func TestClassifyNoSuchBeanWithTypeIsMissingAnnotation(t *testing.T) {
	log := "org.springframework.beans.factory.NoSuchBeanDefinitionException: No qualifying bean of type 'com.example.repository.UserRepository'"

	plan := Classify(log)
	require.Len(t, plan.Errors, 1)
	e := plan.Errors[0]
	assert.Equal(t, KindFrameworkContext, e.Kind)
	assert.Equal(t, ContextMissingAnnotation, e.ContextKind)
	assert.Equal(t, "UserRepository", e.Bean)
}

func TestClassifyAmbiguousAndCircular(t *testing.T) {
	log := `NoUniqueBeanDefinitionException: expected single matching bean but found 2: 'fastPayer', 'slowPayer'
BeanCurrentlyInCreationException: Error creating bean with name 'orderService'`

	plan := Classify(log)
	require.Len(t, plan.Errors, 2)
	assert.Equal(t, ContextAmbiguousBean, plan.Errors[0].ContextKind)
	assert.Equal(t, ContextCircularDependency, plan.Errors[1].ContextKind)
	assert.Equal(t, "orderService", plan.Errors[1].Bean)
}

func TestClassifyTestFailures(t *testing.T) {
	log := `[ERROR] OrderServiceTest.testTotals:88 expected:<100> but was:<95>
com.example.CartTest > testEmptyCart FAILED`

	plan := Classify(log)
	require.Len(t, plan.Errors, 2)

	assert.Equal(t, KindTestFailure, plan.Errors[0].Kind)
	assert.Equal(t, "OrderServiceTest", plan.Errors[0].TestClass)
	assert.Equal(t, "testTotals", plan.Errors[0].TestMethod)
	assert.Equal(t, "expected:<100> but was:<95>", plan.Errors[0].Assertion)

	assert.Equal(t, "CartTest", plan.Errors[1].TestClass)
	assert.Equal(t, "testEmptyCart", plan.Errors[1].TestMethod)
}

func TestClassifyUnknown(t *testing.T) {
	plan := Classify("something exploded\nin a way nobody anticipated")
	require.Len(t, plan.Errors, 1)
	assert.Equal(t, KindUnknown, plan.Errors[0].Kind)
	assert.Contains(t, plan.RawTail, "nobody anticipated")
}

func TestClassifyDeterministic(t *testing.T) {
	log := `[ERROR] /a/B.java:[1,2] cannot find symbol
  symbol: class JpaRepository
NoSuchBeanDefinitionException: No qualifying bean of type 'com.example.X'`
	a := Classify(log)
	b := Classify(log)
	assert.Equal(t, a, b)
}

func TestLogWindowBoundary(t *testing.T) {
	// Exactly 300 lines: the error on line 1 is seen.
	lines := make([]string, 0, LogWindow+1)
	lines = append(lines, "[ERROR] /a/First.java:[1,1] first marker")
	for i := 1; i < LogWindow; i++ {
		lines = append(lines, fmt.Sprintf("noise %d", i))
	}
	plan := Classify(strings.Join(lines, "\n"))
	require.True(t, plan.HasKind(KindCompilation), "error within the 300-line window must be parsed")

	// 301 lines: the first line falls out of the window.
	lines = append([]string{"[ERROR] /a/Dropped.java:[1,1] dropped marker"}, lines...)
	plan = Classify(strings.Join(lines, "\n"))
	for _, e := range plan.Errors {
		assert.NotEqual(t, "/a/Dropped.java", e.File, "line 1 of 301 must be window-truncated")
	}
}

func TestSummary(t *testing.T) {
	plan := &Plan{Errors: []BuildError{
		{Kind: KindCompilation}, {Kind: KindCompilation}, {Kind: KindDependency},
	}}
	assert.Equal(t, "2 compilation, 1 dependency", plan.Summary())
	assert.Equal(t, "no errors recognized", (&Plan{}).Summary())
}
