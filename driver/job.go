// Package driver orchestrates one solve job: it reads the job input
// JSON, stages the mesh, dispatches to the configured physics solver,
// and writes the summary and result documents.
package driver

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/solvers"
)

// Args are the four output-path flags plus the job logger. All paths
// come straight from the CLI; the input path also fixes the working
// directory for metadata artifacts and the staged inline mesh.
type Args struct {
	InputPath   string
	ResultPath  string
	SummaryPath string
	VTKPath     string
	Logger      *slog.Logger
}

// Run executes a job end to end and returns the canonical solver class
// name. On failure nothing has been written to the summary or result
// paths.
func Run(args Args) (string, error) {
	absInput, err := filepath.Abs(args.InputPath)
	if err != nil {
		return "", solvers.IOf(err, "Unable to resolve input path: %s", args.InputPath)
	}
	workingDir := filepath.Dir(absInput)

	raw, err := os.ReadFile(args.InputPath)
	if err != nil {
		return "", solvers.IOf(err, "Unable to open file for reading: %s", args.InputPath)
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return "", solvers.Invalidf("Unable to parse input JSON: %v", err)
	}

	name, _ := input["solver_class"].(string)
	if name == "" {
		return "", solvers.Invalidf("input.solver_class is required.")
	}
	canonical, err := solvers.Resolve(name)
	if err != nil {
		return "", err
	}
	meshObj, ok := input["mesh"].(map[string]any)
	if !ok {
		return "", solvers.Invalidf("input.mesh must be an object.")
	}
	cfgObj, ok := input["config"].(map[string]any)
	if !ok {
		return "", solvers.Invalidf("input.config must be an object.")
	}

	meshPath, err := prepareMeshFile(meshObj, workingDir)
	if err != nil {
		return "", err
	}
	m, err := mesh.ReadFile(meshPath)
	if err != nil {
		return "", solvers.IOf(err, "Unable to load mesh: %s", meshPath)
	}
	m.EnsureNodes()

	_, s, err := solvers.Create(canonical, cfgObj)
	if err != nil {
		return "", err
	}
	rc := &solvers.RunContext{
		WorkingDir: workingDir,
		VTKPath:    args.VTKPath,
		Logger:     args.Logger,
	}
	sum, err := s.Run(m, rc)
	if err != nil {
		return "", err
	}
	if err := writeOutputs(args, canonical, sum); err != nil {
		return "", err
	}
	return canonical, nil
}

// prepareMeshFile resolves the mesh descriptor to a readable path.
// Inline data is staged as <working_dir>/inline.mesh; file paths pass
// through untouched so relative paths keep resolving against the
// process working directory.
func prepareMeshFile(meshObj map[string]any, workingDir string) (string, error) {
	typ, _ := meshObj["type"].(string)
	switch strings.ToLower(typ) {
	case "file":
		path, _ := meshObj["path"].(string)
		if path == "" {
			return "", solvers.Invalidf("mesh.path is required when mesh.type=file.")
		}
		return path, nil
	case "inline_mfem":
		data, _ := meshObj["data"].(string)
		if data == "" {
			return "", solvers.Invalidf("mesh.data is required when mesh.type=inline_mfem.")
		}
		encoding := "plain"
		if v, ok := meshObj["encoding"]; ok {
			s, _ := v.(string)
			encoding = strings.ToLower(s)
		}
		var payload []byte
		switch encoding {
		case "plain":
			payload = []byte(data)
		case "base64":
			decoded, err := decodeBase64(data)
			if err != nil {
				return "", err
			}
			payload = decoded
		default:
			return "", solvers.Invalidf("mesh.encoding must be plain or base64.")
		}
		meshPath := filepath.Join(workingDir, "inline.mesh")
		if err := os.WriteFile(meshPath, payload, 0o644); err != nil {
			return "", solvers.IOf(err, "Unable to write inline mesh file.")
		}
		return meshPath, nil
	}
	return "", solvers.Invalidf("mesh.type must be inline_mfem or file.")
}

// decodeBase64 keeps the historical driver semantics: padding and
// whitespace bytes are skipped rather than validated, any other byte
// outside the alphabet fails the job.
func decodeBase64(input string) ([]byte, error) {
	var out []byte
	val, valb := 0, -8
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c == '=' || c == '\n' || c == '\r' || c == ' ' || c == '\t' {
			continue
		}
		d := base64Index(c)
		if d < 0 {
			return nil, solvers.Invalidf("Invalid base64 mesh data.")
		}
		val = val<<6 | d
		valb += 6
		if valb >= 0 {
			out = append(out, byte(val>>valb))
			valb -= 8
		}
	}
	return out, nil
}

func base64Index(c byte) int {
	switch {
	case c >= 'A' && c <= 'Z':
		return int(c - 'A')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 26
	case c >= '0' && c <= '9':
		return int(c-'0') + 52
	case c == '+':
		return 62
	case c == '/':
		return 63
	}
	return -1
}

func writeOutputs(args Args, canonical string, sum *solvers.Summary) error {
	summary := map[string]any{
		"status":       "ok",
		"solver_class": canonical,
		"energy":       sum.Energy,
		"iterations":   sum.Iterations,
		"error_norm":   sum.ErrorNorm,
		"dimension":    sum.Dimension,
		"summary":      canonical + " solve completed.",
	}
	for k, v := range sum.Extra {
		summary[k] = v
	}
	result := make(map[string]any, len(summary)+2)
	for k, v := range summary {
		result[k] = v
	}
	result["summary_file"] = args.SummaryPath
	result["vtk_file"] = args.VTKPath

	if err := writeJSON(args.SummaryPath, summary); err != nil {
		return err
	}
	return writeJSON(args.ResultPath, result)
}

func writeJSON(path string, payload map[string]any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return solvers.IOf(err, "Unable to open file for writing: %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return solvers.IOf(err, "Unable to open file for writing: %s", path)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return solvers.IOf(err, "Unable to open file for writing: %s", path)
	}
	return nil
}
