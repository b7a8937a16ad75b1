package solvers

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type amrConfig struct {
	Coefficient *float64 `mapstructure:"coefficient"`
	SourceTerm  *float64 `mapstructure:"source_term"`
	AmrSettings any      `mapstructure:"amr_settings"`
	Bcs         any      `mapstructure:"bcs"`
}

type amrLaplaceSolver struct {
	coeff   float64
	source  float64
	maxIter int
	maxDofs int
	tol     float64
	bcs     []dpgBC
}

func newAMRLaplace(cfg map[string]any) (Solver, error) {
	var c amrConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &amrLaplaceSolver{}
	var err error
	if s.coeff, err = reqPos("coefficient", c.Coefficient); err != nil {
		return nil, err
	}
	if s.source, err = optNum("source_term", c.SourceTerm, 0); err != nil {
		return nil, err
	}

	settings, ok := c.AmrSettings.(map[string]any)
	if !ok {
		return nil, Invalidf("config.amr_settings is required and must be an object.")
	}
	maxIterF, isNum := toFloat(settings["max_iterations"])
	if !isNum || !finite(maxIterF) || maxIterF != math.Trunc(maxIterF) {
		return nil, Invalidf("config.amr_settings.max_iterations is required and must be an integer.")
	}
	maxDofsF, isNum := toFloat(settings["max_dofs"])
	if !isNum || !finite(maxDofsF) || maxDofsF != math.Trunc(maxDofsF) {
		return nil, Invalidf("config.amr_settings.max_dofs is required and must be an integer.")
	}
	tolF, isNum := toFloat(settings["error_tolerance"])
	if !isNum || !finite(tolF) {
		return nil, Invalidf("config.amr_settings.error_tolerance is required and must be numeric.")
	}
	s.maxIter = int(maxIterF)
	s.maxDofs = int(maxDofsF)
	s.tol = tolF
	if s.maxIter <= 0 {
		return nil, Invalidf("config.amr_settings.max_iterations must be > 0.")
	}
	if s.maxDofs <= 0 {
		return nil, Invalidf("config.amr_settings.max_dofs must be > 0.")
	}
	if s.tol <= 0 {
		return nil, Invalidf("config.amr_settings.error_tolerance must be > 0.")
	}

	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attrF, isNum := toFloat(entry["attribute"])
		if !isNum || !finite(attrF) || attrF != math.Trunc(attrF) {
			return nil, Invalidf("config.bcs[].attribute is required and must be an integer.")
		}
		attr := int(attrF)
		if attr <= 0 {
			return nil, Invalidf("config.bcs[].attribute must be > 0.")
		}
		typStr, ok := entry["type"].(string)
		if !ok {
			return nil, Invalidf("config.bcs[].type is required and must be a string.")
		}
		value, isNum := toFloat(entry["value"])
		if !isNum {
			return nil, Invalidf("config.bcs[].value is required and must be numeric.")
		}
		if strings.ToLower(typStr) != "fixed" {
			return nil, Invalidf("config.bcs[].type must be fixed.")
		}
		s.bcs = append(s.bcs, dpgBC{attr: attr, value: value})
	}
	if len(s.bcs) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}
	return s, nil
}

// zzEstimate recovers a patch-averaged flux at the mesh vertices and
// returns the per-element L2 distance between recovered and raw flux,
// the Zienkiewicz-Zhu indicator.
func zzEstimate(gf *fem.GridFunc, coeff float64) ([]float64, float64, error) {
	m := gf.Sp.Mesh
	topo, err := m.Topology()
	if err != nil {
		return nil, 0, err
	}

	centroidFlux := make([][3]float64, m.NE())
	measures := make([]float64, m.NE())
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 0)
		if err != nil {
			return nil, 0, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, 0, err
		}
		grads, err := gf.ElementGradients(i, rule, tr)
		if err != nil {
			return nil, 0, err
		}
		for d := 0; d < 3; d++ {
			centroidFlux[i][d] = coeff * grads[0][0][d]
		}
		measures[i] = floats.Sum(tr.W)
	}

	recovered := make([][3]float64, m.NV())
	for v, elems := range topo.VertElems {
		den := 0.0
		for _, ei := range elems {
			den += measures[ei]
			for d := 0; d < 3; d++ {
				recovered[v][d] += measures[ei] * centroidFlux[ei][d]
			}
		}
		if den > 0 {
			for d := 0; d < 3; d++ {
				recovered[v][d] /= den
			}
		}
	}

	eta := make([]float64, m.NE())
	totalSq := 0.0
	for i, el := range m.Elements {
		rule, err := fem.GeometryRule(el.Geom, 2)
		if err != nil {
			return nil, 0, err
		}
		tr, err := fem.ElementTrans(m, el, rule)
		if err != nil {
			return nil, 0, err
		}
		grads, err := gf.ElementGradients(i, rule, tr)
		if err != nil {
			return nil, 0, err
		}
		lin, err := fem.H1Elem(el.Geom, 1)
		if err != nil {
			return nil, 0, err
		}
		lam := make([]float64, lin.NDof)
		etaSq := 0.0
		for q := 0; q < rule.Len(); q++ {
			lin.Shape(rule.Points[q], lam)
			var diff [3]float64
			for k, gv := range el.Verts {
				for d := 0; d < 3; d++ {
					diff[d] += lam[k] * recovered[gv][d]
				}
			}
			for d := 0; d < 3; d++ {
				diff[d] -= coeff * grads[q][0][d]
			}
			etaSq += tr.W[q] * dot3(diff, diff)
		}
		eta[i] = math.Sqrt(math.Max(0, etaSq))
		totalSq += etaSq
	}
	return eta, math.Sqrt(math.Max(0, totalSq)), nil
}

func (s *amrLaplaceSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	if dim < 1 || dim > 3 {
		return nil, Invalidf("AMRLaplace supports mesh dimensions 1, 2, or 3.")
	}
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	fixed := map[int]float64{}
	for _, bc := range s.bcs {
		if bc.attr > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		fixed[bc.attr] = bc.value
	}
	essAttrs := map[int]bool{}
	for a := range fixed {
		essAttrs[a] = true
	}

	cur := m
	var lastSp *fem.Space
	var lastX []float64
	finalEnergy := 0.0
	finalResidual := 0.0
	finalTotalError := 0.0
	finalLinearIters := 0
	completed := 0
	stopReason := "max_iterations"

	project := func(sp *fem.Space, dst []float64) {
		for i, be := range sp.Mesh.Boundary {
			v, ok := fixed[be.Attr]
			if !ok {
				continue
			}
			dofs, _ := sp.BoundaryDofs(i)
			for _, d := range dofs {
				dst[d] = v
			}
		}
	}

	for it := 0; it < s.maxIter; it++ {
		sp, err := fem.NewH1Space(cur, 1, 1, fem.ByNodes)
		if err != nil {
			return nil, err
		}
		n := sp.NDof()
		if n >= s.maxDofs {
			stopReason = "max_dofs"
			break
		}

		x := make([]float64, n)
		project(sp, x)
		ess := sp.BoundaryScalarDofs(essAttrs)

		asm := fem.NewAssembler(sp)
		asm.AddDiffusion(fem.ConstCoeff(s.coeff))
		b := make([]float64, n)
		if math.Abs(s.source) > 0 {
			if err := fem.DomainLF(sp, fem.ConstCoeff(s.source), b); err != nil {
				return nil, err
			}
		}
		asm.EliminateEssential(ess, x, b, 1)
		A, err := asm.Matrix()
		if err != nil {
			return nil, err
		}

		for i := range x {
			x[i] = 0
		}
		st := linalg.PCG(A, b, x, linalg.NewGaussSeidelPrec(A), 1e-6, 0, 2000)

		r := make([]float64, n)
		linalg.Residual(A, x, b, r)
		for _, e := range ess {
			r[e] = 0
		}

		gf := &fem.GridFunc{Sp: sp, Data: x}
		eta, totalErr, err := zzEstimate(gf, s.coeff)
		if err != nil {
			return nil, err
		}

		finalEnergy = 0.5 * floats.Dot(x, b)
		finalLinearIters = st.Iterations
		finalResidual = floats.Norm(r, 2)
		finalTotalError = totalErr
		completed = it + 1
		lastSp, lastX = sp, x

		if !finite(finalResidual) {
			return nil, Algorithmf("AMRLaplace residual norm is non-finite.")
		}
		if !finite(finalTotalError) {
			return nil, Algorithmf("AMRLaplace estimator error is non-finite.")
		}
		rc.log().Debug("amr iteration",
			"iteration", completed, "dofs", n, "total_error", totalErr)

		if finalTotalError <= s.tol {
			stopReason = "error_tolerance"
			break
		}

		etaMax := 0.0
		for _, e := range eta {
			if e > etaMax {
				etaMax = e
			}
		}
		var marked []int
		for i, e := range eta {
			if e > 0.7*etaMax {
				marked = append(marked, i)
			}
		}
		if len(marked) == 0 {
			stopReason = "refiner_stop"
			break
		}
		cur, err = cur.RefineMarked(marked)
		if err != nil {
			return nil, err
		}
	}

	if lastSp == nil {
		sp, err := fem.NewH1Space(cur, 1, 1, fem.ByNodes)
		if err != nil {
			return nil, err
		}
		lastX = make([]float64, sp.NDof())
		project(sp, lastX)
		lastSp = sp
	}
	rc.log().Info("amr finished",
		"iterations", completed, "stop_reason", stopReason, "total_error", finalTotalError)

	gf := &fem.GridFunc{Sp: lastSp, Data: lastX}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, lastSp.Mesh, vtk.Scalar("solution", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	if err := writeArtifact(rc.WorkingDir, "amr_laplace.json", map[string]any{
		"solver_class":             "AMRLaplace",
		"solver_backend":           "pcg_gs",
		"dimension":                dim,
		"amr_iterations_completed": completed,
		"final_linear_iterations":  finalLinearIters,
		"final_residual_norm":      finalResidual,
		"final_total_error":        finalTotalError,
		"stop_reason":              stopReason,
	}); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     finalEnergy,
		Iterations: completed,
		ErrorNorm:  finalTotalError,
		Dimension:  dim,
	}, nil
}
