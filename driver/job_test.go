package driver

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/mfem-driver/solvers"
)

const triangleMesh = `MFEM mesh v1.0

dimension
2

elements
1
1 2 0 1 2

boundary
3
1 1 0 1
2 1 1 2
2 1 2 0

vertices
3
2
0 0
1 0
0 1
`

func poissonInput(meshObj map[string]any) map[string]any {
	return map[string]any{
		"solver_class": "Poisson",
		"mesh":         meshObj,
		"config": map[string]any{
			"source": 1.0,
			"bcs": []any{
				map[string]any{"type": "fixed", "attribute": 1},
				map[string]any{"type": "fixed", "attribute": 2},
			},
		},
	}
}

func inlineMesh(data string) map[string]any {
	return map[string]any{"type": "inline_mfem", "data": data}
}

func jobArgs(t *testing.T, input map[string]any) Args {
	t.Helper()
	dir := t.TempDir()
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("Failed to marshal input: %v", err)
	}
	inputPath := filepath.Join(dir, "job_input.json")
	if err := os.WriteFile(inputPath, raw, 0o644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}
	return Args{
		InputPath:   inputPath,
		ResultPath:  filepath.Join(dir, "out", "job_result.json"),
		SummaryPath: filepath.Join(dir, "out", "job_summary.json"),
		VTKPath:     filepath.Join(dir, "out", "solution.vtk"),
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func TestRunPoissonInlineMesh(t *testing.T) {
	args := jobArgs(t, poissonInput(inlineMesh(triangleMesh)))

	canonical, err := Run(args)
	require.NoError(t, err)
	assert.Equal(t, "Poisson", canonical)

	summary := readJSON(t, args.SummaryPath)
	assert.Equal(t, "ok", summary["status"])
	assert.Equal(t, "Poisson", summary["solver_class"])
	assert.Equal(t, float64(2), summary["dimension"])
	assert.Equal(t, "Poisson solve completed.", summary["summary"])

	result := readJSON(t, args.ResultPath)
	assert.Equal(t, args.SummaryPath, result["summary_file"])
	assert.Equal(t, args.VTKPath, result["vtk_file"])
	assert.Equal(t, summary["energy"], result["energy"])

	_, err = os.Stat(args.VTKPath)
	assert.NoError(t, err)

	staged := filepath.Join(filepath.Dir(args.InputPath), "inline.mesh")
	raw, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, triangleMesh, string(raw))
}

func TestRunBase64MatchesPlain(t *testing.T) {
	plainArgs := jobArgs(t, poissonInput(inlineMesh(triangleMesh)))
	_, err := Run(plainArgs)
	require.NoError(t, err)

	// wrap the encoding the way transport layers do, with line breaks
	// and padding left in place
	encoded := base64.StdEncoding.EncodeToString([]byte(triangleMesh))
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 60 {
		end := i + 60
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\n")
	}
	meshObj := inlineMesh(wrapped.String())
	meshObj["encoding"] = "base64"
	b64Args := jobArgs(t, poissonInput(meshObj))
	_, err = Run(b64Args)
	require.NoError(t, err)

	stagedPlain, err := os.ReadFile(filepath.Join(filepath.Dir(plainArgs.InputPath), "inline.mesh"))
	require.NoError(t, err)
	stagedB64, err := os.ReadFile(filepath.Join(filepath.Dir(b64Args.InputPath), "inline.mesh"))
	require.NoError(t, err)
	assert.Equal(t, stagedPlain, stagedB64)

	plainSummary, err := os.ReadFile(plainArgs.SummaryPath)
	require.NoError(t, err)
	b64Summary, err := os.ReadFile(b64Args.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, plainSummary, b64Summary)
}

func TestRunRejectsBogusMeshTypeWithoutOutputs(t *testing.T) {
	input := poissonInput(map[string]any{"type": "bogus", "data": triangleMesh})
	args := jobArgs(t, input)

	_, err := Run(args)
	require.Error(t, err)
	assert.EqualError(t, err, "mesh.type must be inline_mfem or file.")
	assert.Equal(t, solvers.InvalidArgument, solvers.KindOf(err))

	_, err = os.Stat(args.SummaryPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(args.ResultPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunInputValidationMessages(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(input map[string]any)
		message string
	}{
		{
			"missing solver_class",
			func(in map[string]any) { delete(in, "solver_class") },
			"input.solver_class is required.",
		},
		{
			"non-object mesh",
			func(in map[string]any) { in["mesh"] = "triangle" },
			"input.mesh must be an object.",
		},
		{
			"non-object config",
			func(in map[string]any) { in["config"] = []any{} },
			"input.config must be an object.",
		},
		{
			"file type without path",
			func(in map[string]any) { in["mesh"] = map[string]any{"type": "file"} },
			"mesh.path is required when mesh.type=file.",
		},
		{
			"inline type without data",
			func(in map[string]any) { in["mesh"] = map[string]any{"type": "inline_mfem"} },
			"mesh.data is required when mesh.type=inline_mfem.",
		},
		{
			"unsupported encoding",
			func(in map[string]any) {
				in["mesh"] = map[string]any{"type": "inline_mfem", "data": "x", "encoding": "hex"}
			},
			"mesh.encoding must be plain or base64.",
		},
		{
			"invalid base64 data",
			func(in map[string]any) {
				in["mesh"] = map[string]any{"type": "inline_mfem", "data": "@@@", "encoding": "base64"}
			},
			"Invalid base64 mesh data.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := poissonInput(inlineMesh(triangleMesh))
			tc.mutate(input)
			args := jobArgs(t, input)

			_, err := Run(args)
			require.Error(t, err)
			assert.EqualError(t, err, tc.message)
			assert.Equal(t, solvers.InvalidArgument, solvers.KindOf(err))

			_, err = os.Stat(args.SummaryPath)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestRunUnknownSolverClass(t *testing.T) {
	input := poissonInput(inlineMesh(triangleMesh))
	input["solver_class"] = "WarpDrive"
	args := jobArgs(t, input)

	_, err := Run(args)
	require.Error(t, err)
	assert.Equal(t, solvers.UnregisteredSolver, solvers.KindOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "solver_class must be "), err.Error())
}

func TestRunCaseInsensitiveClassNames(t *testing.T) {
	input := poissonInput(inlineMesh(triangleMesh))
	input["solver_class"] = "poisson"
	args := jobArgs(t, input)

	canonical, err := Run(args)
	require.NoError(t, err)
	assert.Equal(t, "Poisson", canonical)
}

func TestDecodeBase64Semantics(t *testing.T) {
	text := "hello mesh"
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	got, err := decodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, text, string(got))

	// whitespace and padding bytes are skipped anywhere in the stream
	noisy := " " + encoded[:4] + "\n" + encoded[4:] + "\t=="
	got, err = decodeBase64(noisy)
	require.NoError(t, err)
	assert.Equal(t, text, string(got))

	_, err = decodeBase64("abc!")
	require.Error(t, err)
	assert.EqualError(t, err, "Invalid base64 mesh data.")
}
