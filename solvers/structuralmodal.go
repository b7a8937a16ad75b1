package solvers

import (
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

// forceFallbackEnv switches StructuralModal onto the inverse-iteration
// path regardless of how the eigensolver behaves.
const forceFallbackEnv = "MFEM_DRIVER_STRUCTURAL_MODAL_FORCE_FALLBACK"

type structuralModalConfig struct {
	Density       *float64 `mapstructure:"density"`
	YoungsModulus *float64 `mapstructure:"youngs_modulus"`
	PoissonRatio  *float64 `mapstructure:"poisson_ratio"`
	NumModes      *float64 `mapstructure:"num_modes"`
	Bcs           any      `mapstructure:"bcs"`
}

type structuralModalSolver struct {
	density    float64
	young, nu  float64
	lambda, mu float64
	numModes   int
	bcAttrs    []int
}

func truthyEnv(v string) bool {
	s := strings.ToLower(strings.Join(strings.Fields(v), ""))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

func newStructuralModal(cfg map[string]any) (Solver, error) {
	var c structuralModalConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	density, err := reqNum("density", c.Density)
	if err != nil {
		return nil, err
	}
	young, err := reqNum("youngs_modulus", c.YoungsModulus)
	if err != nil {
		return nil, err
	}
	nu, err := reqNum("poisson_ratio", c.PoissonRatio)
	if err != nil {
		return nil, err
	}
	modes, err := reqInt("num_modes", c.NumModes)
	if err != nil {
		return nil, err
	}
	arr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	s := &structuralModalSolver{density: density, young: young, nu: nu, numModes: modes}
	if s.density <= 0 {
		return nil, Invalidf("config.density must be > 0.")
	}
	if s.young <= 0 {
		return nil, Invalidf("config.youngs_modulus must be > 0.")
	}
	if s.nu <= -1 || s.nu >= 0.5 {
		return nil, Invalidf("config.poisson_ratio must be in (-1, 0.5).")
	}
	s.lambda = s.young * s.nu / ((1 + s.nu) * (1 - 2*s.nu))
	s.mu = s.young / (2 * (1 + s.nu))
	if s.numModes <= 0 {
		return nil, Invalidf("config.num_modes must be > 0.")
	}
	if s.numModes > 64 {
		return nil, Invalidf("config.num_modes must be <= 64.")
	}
	entries, err := bcObjects("bcs", arr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		if bcType(entry) != "fixed" {
			return nil, Invalidf("config.bcs[].type must be fixed.")
		}
		s.bcAttrs = append(s.bcAttrs, attr)
	}
	return s, nil
}

// fallbackModes runs deterministic inverse iteration with M-inner
// orthogonalization against the modes already found. Each mode starts
// from a seeded random vector and converges on the Rayleigh quotient.
func fallbackModes(K, M *sparse.CSR, n, numModes int, prec linalg.Preconditioner) ([]float64, [][]float64, error) {
	rng := rand.New(rand.NewSource(75))
	var modes [][]float64
	var values []float64

	scratch := make([]float64, n)
	mInner := func(u, v []float64) float64 {
		linalg.MulVec(M, v, scratch)
		return floats.Dot(u, scratch)
	}
	orthogonalize := func(cand []float64) {
		for _, md := range modes {
			p := mInner(cand, md)
			if finite(p) {
				floats.AddScaled(cand, -p, md)
			}
		}
	}
	normalizeM := func(v []float64) error {
		ns := mInner(v, v)
		if !(ns > 0) || !finite(ns) {
			return Algorithmf("Inverse-iteration fallback produced a non-positive M-norm.")
		}
		floats.Scale(1/math.Sqrt(ns), v)
		return nil
	}

	rhs := make([]float64, n)
	next := make([]float64, n)
	kx := make([]float64, n)
	mx := make([]float64, n)
	for len(values) < numModes {
		mode := make([]float64, n)
		initialized := false
		for attempt := 0; attempt < 5; attempt++ {
			for i := range mode {
				mode[i] = rng.Float64()*2 - 1
			}
			orthogonalize(mode)
			if err := normalizeM(mode); err == nil {
				initialized = true
				break
			}
		}
		if !initialized {
			return nil, nil, Algorithmf("Inverse-iteration fallback could not initialize a valid mode vector.")
		}

		lambda := 0.0
		for iter := 0; iter < 250; iter++ {
			linalg.MulVec(M, mode, rhs)
			for i := range next {
				next[i] = 0
			}
			linalg.PCG(K, rhs, next, prec, 1e-10, 0, 500)
			orthogonalize(next)
			if err := normalizeM(next); err != nil {
				return nil, nil, err
			}
			linalg.MulVec(K, next, kx)
			linalg.MulVec(M, next, mx)
			den := floats.Dot(next, mx)
			num := floats.Dot(next, kx)
			if !(den > 0) || !finite(den) || !finite(num) {
				return nil, nil, Algorithmf("Inverse-iteration fallback produced an invalid Rayleigh quotient.")
			}
			lnew := num / den
			if !finite(lnew) || lnew <= 0 {
				return nil, nil, Algorithmf("Inverse-iteration fallback produced a non-positive eigenvalue estimate.")
			}
			converged := iter > 0 && math.Abs(lnew-lambda) <= 1e-8*math.Max(1, math.Abs(lambda))
			lambda = lnew
			copy(mode, next)
			if converged {
				break
			}
		}
		modes = append(modes, mode)
		values = append(values, lambda)
	}
	if len(modes) == 0 || len(values) == 0 {
		return nil, nil, Algorithmf("Inverse-iteration fallback did not produce any modes.")
	}
	return values, modes, nil
}

func (s *structuralModalSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	maxBdr := m.MaxBdrAttr()
	if maxBdr == 0 && len(s.bcAttrs) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	essAttrs := map[int]bool{}
	for _, a := range s.bcAttrs {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		essAttrs[a] = true
	}
	if maxBdr > 0 && len(essAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one fixed boundary condition.")
	}

	sp, err := fem.NewH1Space(m, 1, m.Dim, fem.ByVDim)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.VDofsFor(sp.BoundaryScalarDofs(essAttrs))

	asmK := fem.NewAssembler(sp)
	asmK.AddElasticity(fem.ConstCoeff(s.lambda), fem.ConstCoeff(s.mu))
	asmK.EliminateEssential(ess, nil, nil, 1)
	K, err := asmK.Matrix()
	if err != nil {
		return nil, err
	}
	asmM := fem.NewAssembler(sp)
	asmM.AddVectorMass(fem.ConstCoeff(s.density))
	// keep eliminated dofs positive so the mass stays definite
	asmM.EliminateEssential(ess, nil, nil, 1e-12)
	M, err := asmM.Matrix()
	if err != nil {
		return nil, err
	}
	prec := linalg.NewGaussSeidelPrec(K)
	rc.log().Debug("assembled modal system", "dofs", n, "essential", len(ess), "modes", s.numModes)

	if truthyEnv(os.Getenv(forceFallbackEnv)) {
		reason := "Forced fallback via " + forceFallbackEnv + "."
		rc.log().Warn("using inverse-iteration fallback", "reason", reason)
		values, modes, err := fallbackModes(K, M, n, s.numModes, prec)
		if err != nil {
			return nil, err
		}
		return s.finish(m, rc, sp, K, M, values, modes[0], map[string]any{
			"solver_backend":  "inverse_iteration_fallback",
			"fallback_reason": reason,
		})
	}

	res, err := linalg.LOBPCG(K, M, s.numModes, 75, 1e-8, 200, prec)
	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case len(res.Values) == 0:
		reason = "LOBPCG returned no eigenvalues."
	default:
		for _, ev := range res.Values {
			if !finite(ev) {
				reason = "LOBPCG returned non-finite eigenvalues."
				break
			}
		}
	}
	if reason != "" {
		rc.log().Warn("using inverse-iteration fallback", "reason", reason)
		values, modes, err := fallbackModes(K, M, n, s.numModes, prec)
		if err != nil {
			return nil, err
		}
		return s.finish(m, rc, sp, K, M, values, modes[0], map[string]any{
			"solver_backend":  "inverse_iteration_fallback",
			"fallback_reason": reason,
		})
	}
	rc.log().Info("eigensolve finished", "iterations", res.Iterations, "converged", res.Converged)
	return s.finish(m, rc, sp, K, M, res.Values, res.Vectors[0], nil)
}

// finish writes the mode field and artifact shared by both solve paths
// and assembles the summary from the lowest mode.
func (s *structuralModalSolver) finish(m *mesh.Mesh, rc *RunContext, sp *fem.Space, K, M *sparse.CSR,
	values, mode0 []float64, extra map[string]any) (*Summary, error) {
	gf := &fem.GridFunc{Sp: sp, Data: mode0}
	vals, err := gf.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m, vtk.Vector("mode_1", vals)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}

	freqs := make([]float64, len(values))
	for i, ev := range values {
		freqs[i] = math.Sqrt(math.Max(0, ev))
	}
	payload := map[string]any{
		"solver_class":              "StructuralModal",
		"density":                   s.density,
		"youngs_modulus":            s.young,
		"poisson_ratio":             s.nu,
		"eigenvalues":               values,
		"natural_frequencies_rad_s": freqs,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := writeArtifact(rc.WorkingDir, "structural_modes.json", payload); err != nil {
		return nil, err
	}

	n := len(mode0)
	r := make([]float64, n)
	mx := make([]float64, n)
	linalg.MulVec(K, mode0, r)
	linalg.MulVec(M, mode0, mx)
	floats.AddScaled(r, -values[0], mx)
	errNorm := floats.Norm(r, 2)
	if !finite(errNorm) {
		return nil, Algorithmf("Structural modal residual norm is non-finite.")
	}

	return &Summary{
		Energy:     values[0],
		Iterations: len(values),
		ErrorNorm:  errNorm,
		Dimension:  m.Dim,
	}, nil
}
