// Package solvers implements the physics classes the driver can run:
// configuration parsing, finite element assembly, linear and nonlinear
// solution, and solution export for each supported PDE family.
package solvers

import (
	"log/slog"

	"github.com/notargets/mfem-driver/mesh"
)

// RunContext carries the per-job environment a solver needs: the
// working directory for metadata artifacts, the VTK output path, and
// the job logger.
type RunContext struct {
	WorkingDir string
	VTKPath    string
	Logger     *slog.Logger
}

func (rc *RunContext) log() *slog.Logger {
	if rc == nil || rc.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return rc.Logger
}

// Summary is the numeric outcome every solver reports. Extra keys are
// merged into the summary and result JSON objects verbatim.
type Summary struct {
	Energy     float64
	Iterations int
	ErrorNorm  float64
	Dimension  int
	Extra      map[string]any
}

// Solver runs one configured physics solve on a loaded mesh.
type Solver interface {
	Run(m *mesh.Mesh, rc *RunContext) (*Summary, error)
}

// Factory parses and validates a raw config object into a solver.
// Factories return InvalidArgument on any configuration defect so that
// bad jobs fail before assembly starts.
type Factory func(cfg map[string]any) (Solver, error)
