package solvers

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// separated lowercases a camel-case class name and inserts sep at the
// word boundaries, producing the snake and kebab spellings users type.
func separated(name, sep string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(rune(name[i-1])) {
			b.WriteString(sep)
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func TestResolveAcceptsAllNameVariants(t *testing.T) {
	for _, canonical := range Classes() {
		variants := []string{
			canonical,
			strings.ToLower(canonical),
			strings.ToUpper(canonical),
			separated(canonical, "_"),
			separated(canonical, "-"),
		}
		for _, v := range variants {
			got, err := Resolve(v)
			require.NoError(t, err, "variant %q", v)
			assert.Equal(t, canonical, got, "variant %q", v)
		}
	}
}

func TestResolveAliases(t *testing.T) {
	for alias, canonical := range map[string]string{
		"stokes":          "StokesFlow",
		"linearadvection": "Advection",
		"emmodal":         "ElectromagneticModal",
		"emscattering":    "ElectromagneticScattering",
		"transientem":     "TransientMaxwell",
		"hyperelasticity": "Hyperelastic",
	} {
		got, err := Resolve(alias)
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, canonical, got)
	}
}

func TestResolveUnknownEnumeratesClasses(t *testing.T) {
	_, err := Resolve("Bogus")
	require.Error(t, err)
	assert.Equal(t, UnregisteredSolver, KindOf(err))
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "solver_class must be "), msg)
	for _, name := range Classes() {
		assert.Contains(t, msg, name)
	}
	assert.True(t, strings.HasSuffix(msg, ", or IncompressibleElasticity."), msg)
}

func TestClassesCoverFactories(t *testing.T) {
	assert.Len(t, Classes(), len(factories))
	for _, name := range Classes() {
		_, ok := factories[name]
		assert.True(t, ok, "class %q has no factory", name)
	}
}

func TestCreateReportsConfigErrorsNotResolution(t *testing.T) {
	_, _, err := Create("poisson", map[string]any{"coefficient": -1.0})
	require.Error(t, err)
	assert.Equal(t, InvalidArgument, KindOf(err))

	canonical, s, err := Create("POISSON", map[string]any{
		"bcs": []any{map[string]any{"type": "fixed", "attribute": 1.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Poisson", canonical)
	assert.NotNil(t, s)
}
