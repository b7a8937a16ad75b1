package solvers

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/mfem-driver/fem"
	"github.com/notargets/mfem-driver/linalg"
	"github.com/notargets/mfem-driver/mesh"
	"github.com/notargets/mfem-driver/vtk"
)

type scatteringConfig struct {
	Frequency     *float64 `mapstructure:"frequency"`
	Permittivity  *float64 `mapstructure:"permittivity"`
	Permeability  *float64 `mapstructure:"permeability"`
	PmlAttributes any      `mapstructure:"pml_attributes"`
	Bcs           any      `mapstructure:"bcs"`
	SourceCurrent any      `mapstructure:"source_current"`
}

// scatteringSolver solves the time-harmonic Maxwell system
// curl (1/mu) curl E - omega^2 eps E = -i omega J with an absorbing
// mass term i omega eps E on the PML attributes. The complex system
// A = Ar + i Ai is posed as the symmetric 2N real form
//
//	[ Ar -Ai ] [xr]   [ br]
//	[-Ai -Ar ] [xi] = [-bi]
//
// and solved with flexible GMRES under a block-diagonal preconditioner
// built from the definite part of the operator.
type scatteringSolver struct {
	frequency    float64
	omega        float64
	permittivity float64
	permeability float64

	pml []int
	pc  []int

	hasSource   bool
	sourceAttrs []int
	jReal       any
	jImag       any
}

func newElectromagneticScattering(cfg map[string]any) (Solver, error) {
	var c scatteringConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	s := &scatteringSolver{pml: []int{}}
	var err error
	if s.frequency, err = reqNum("frequency", c.Frequency); err != nil {
		return nil, err
	}
	if s.permittivity, err = reqNum("permittivity", c.Permittivity); err != nil {
		return nil, err
	}
	if s.permeability, err = reqNum("permeability", c.Permeability); err != nil {
		return nil, err
	}
	pmlArr, ok := c.PmlAttributes.([]any)
	if !ok {
		return nil, Invalidf("config.pml_attributes is required and must be an array.")
	}
	bcArr, err := reqArr("bcs", c.Bcs)
	if err != nil {
		return nil, err
	}
	if s.frequency <= 0 {
		return nil, Invalidf("config.frequency must be > 0.")
	}
	if s.permittivity <= 0 {
		return nil, Invalidf("config.permittivity must be > 0.")
	}
	if s.permeability <= 0 {
		return nil, Invalidf("config.permeability must be > 0.")
	}
	s.omega = 2 * math.Pi * s.frequency

	for _, v := range pmlArr {
		f, ok := toFloat(v)
		if !ok || !finite(f) || f != math.Trunc(f) {
			return nil, Invalidf("config.pml_attributes entries must be integers.")
		}
		if f <= 0 {
			return nil, Invalidf("config.pml_attributes entries must be > 0.")
		}
		s.pml = append(s.pml, int(f))
	}

	entries, err := bcObjects("bcs", bcArr)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		attr, err := bcAttr("bcs", entry)
		if err != nil {
			return nil, err
		}
		typ := bcType(entry)
		if typ != "perfect_conductor" && typ != "perfect-conductor" && typ != "perfectconductor" {
			return nil, Invalidf("config.bcs[].type must be perfect_conductor.")
		}
		s.pc = append(s.pc, attr)
	}

	s.hasSource = c.SourceCurrent != nil
	if s.hasSource {
		src, ok := c.SourceCurrent.(map[string]any)
		if !ok {
			return nil, Invalidf("config.source_current must be an object.")
		}
		attrsArr, ok := src["attributes"].([]any)
		if !ok {
			return nil, Invalidf("config.source_current.attributes is required and must be an array.")
		}
		if len(attrsArr) == 0 {
			return nil, Invalidf("config.source_current.attributes must not be empty.")
		}
		for _, v := range attrsArr {
			f, ok := toFloat(v)
			if !ok || !finite(f) || f != math.Trunc(f) {
				return nil, Invalidf("config.source_current.attributes entries must be integers.")
			}
			if f <= 0 {
				return nil, Invalidf("config.source_current.attributes entries must be > 0.")
			}
			s.sourceAttrs = append(s.sourceAttrs, int(f))
		}
		s.jReal = src["J_real"]
		s.jImag = src["J_imag"]
	}
	return s, nil
}

func (s *scatteringSolver) Run(m *mesh.Mesh, rc *RunContext) (*Summary, error) {
	dim := m.Dim
	maxElem := m.MaxElemAttr()
	maxBdr := m.MaxBdrAttr()

	if maxElem == 0 && len(s.pml) > 0 {
		return nil, Invalidf("Mesh has no element attributes but config.pml_attributes was provided.")
	}
	pmlSet := map[int]bool{}
	for _, a := range s.pml {
		if a > maxElem {
			return nil, Invalidf("config.pml_attributes entry exceeds mesh element attribute count.")
		}
		pmlSet[a] = true
	}

	if maxBdr == 0 && len(s.pc) > 0 {
		return nil, Invalidf("Mesh has no boundary attributes but config.bcs was provided.")
	}
	pcAttrs := map[int]bool{}
	for _, a := range s.pc {
		if a > maxBdr {
			return nil, Invalidf("config.bcs[].attribute exceeds mesh boundary attribute count.")
		}
		pcAttrs[a] = true
	}
	if maxBdr > 0 && len(pcAttrs) == 0 {
		return nil, Invalidf("config.bcs must include at least one perfect_conductor boundary condition.")
	}

	var jr, ji []float64
	if s.hasSource {
		if maxElem == 0 {
			return nil, Invalidf("Mesh has no element attributes but source_current.attributes was provided.")
		}
		for _, a := range s.sourceAttrs {
			if a > maxElem {
				return nil, Invalidf("config.source_current.attributes entry exceeds mesh element attribute count.")
			}
		}
		var err error
		if jr, err = flowComponents("J_real", s.jReal, dim, true); err != nil {
			return nil, err
		}
		if ji, err = flowComponents("J_imag", s.jImag, dim, false); err != nil {
			return nil, err
		}
	}

	sp, err := fem.NewNedelecSpace(m)
	if err != nil {
		return nil, err
	}
	n := sp.NDof()
	ess := sp.BoundaryScalarDofs(pcAttrs)
	hasPML := len(pmlSet) > 0

	pmlMass := map[int]float64{}
	for a := range pmlSet {
		pmlMass[a] = s.omega * s.permittivity
	}

	asmR := fem.NewAssembler(sp)
	asmR.AddCurlCurl(fem.ConstCoeff(1 / s.permeability))
	asmR.AddVectorFEMass(fem.ConstCoeff(-s.omega * s.omega * s.permittivity))
	Ar, err := asmR.Matrix()
	if err != nil {
		return nil, err
	}
	var Ai *sparse.CSR
	if hasPML {
		asmI := fem.NewAssembler(sp)
		asmI.AddVectorFEMass(fem.AttrCoeff(pmlMass, 0))
		if Ai, err = asmI.Matrix(); err != nil {
			return nil, err
		}
	}

	br := make([]float64, n)
	bi := make([]float64, n)
	if s.hasSource {
		srcSet := map[int]bool{}
		for _, a := range s.sourceAttrs {
			srcSet[a] = true
		}
		var re, im [3]float64
		for d := 0; d < dim; d++ {
			re[d] = s.omega * ji[d]
			im[d] = -s.omega * jr[d]
		}
		reCoeff := func(_ [3]float64, attr int) [3]float64 {
			if srcSet[attr] {
				return re
			}
			return [3]float64{}
		}
		imCoeff := func(_ [3]float64, attr int) [3]float64 {
			if srcSet[attr] {
				return im
			}
			return [3]float64{}
		}
		if err := fem.NDDomainLF(sp, reCoeff, br); err != nil {
			return nil, err
		}
		if err := fem.NDDomainLF(sp, imCoeff, bi); err != nil {
			return nil, err
		}
	}

	blocks := []linalg.Block{
		{M: Ar},
		{RowOff: n, ColOff: n, M: Ar, Scale: -1},
	}
	if hasPML {
		blocks = append(blocks,
			linalg.Block{ColOff: n, M: Ai, Scale: -1},
			linalg.Block{RowOff: n, M: Ai, Scale: -1},
		)
	}
	dok := linalg.Compose(2*n, 2*n, blocks...)
	essBoth := make([]int, 0, 2*len(ess))
	essBoth = append(essBoth, ess...)
	for _, d := range ess {
		essBoth = append(essBoth, n+d)
	}
	linalg.EliminateDOK(dok, essBoth, nil, nil, 1)
	S := dok.ToCSR()

	b := make([]float64, 2*n)
	copy(b[:n], br)
	for i := 0; i < n; i++ {
		b[n+i] = -bi[i]
	}
	for _, d := range essBoth {
		b[d] = 0
	}

	// definite proxy with +omega^2 eps mass so the inner PCG sweeps see
	// an SPD matrix
	asmP := fem.NewAssembler(sp)
	asmP.AddCurlCurl(fem.ConstCoeff(1 / s.permeability))
	asmP.AddVectorFEMass(fem.ConstCoeff(s.omega * s.omega * s.permittivity))
	if hasPML {
		asmP.AddVectorFEMass(fem.AttrCoeff(pmlMass, 0))
	}
	asmP.EliminateEssential(ess, nil, nil, 1)
	P, err := asmP.Matrix()
	if err != nil {
		return nil, err
	}
	inner := &linalg.InnerPCGPrec{A: P, Inner: linalg.NewGaussSeidelPrec(P), Iters: 8}
	prec := &linalg.BlockDiagPrec{Blocks: []linalg.DiagBlock{
		{Off: 0, N: n, P: inner},
		{Off: n, N: n, P: inner, Scale: -1},
	}}
	rc.log().Debug("assembled scattering system", "dofs", 2*n, "essential", len(ess), "pml", hasPML)

	x := make([]float64, 2*n)
	st := linalg.FGMRES(S, b, x, prec, 200, 1000, 1e-8, 0)

	r := make([]float64, 2*n)
	errNorm := linalg.Residual(S, x, b, r)
	if !finite(errNorm) {
		return nil, Algorithmf("ElectromagneticScattering residual norm is non-finite.")
	}
	rc.log().Info("solve finished", "iterations", st.Iterations, "residual", errNorm)

	gfRe := &fem.GridFunc{Sp: sp, Data: x[:n]}
	gfIm := &fem.GridFunc{Sp: sp, Data: x[n:]}
	valsRe, err := gfRe.CornerValues()
	if err != nil {
		return nil, err
	}
	valsIm, err := gfIm.CornerValues()
	if err != nil {
		return nil, err
	}
	if err := vtk.WriteFile(rc.VTKPath, m,
		vtk.Vector("electric_field_real", valsRe),
		vtk.Vector("electric_field_imag", valsIm)); err != nil {
		return nil, IOf(err, "Unable to write VTK output: %s", rc.VTKPath)
	}
	pvdPath := strings.TrimSuffix(rc.VTKPath, filepath.Ext(rc.VTKPath)) + ".pvd"
	if err := vtk.WritePVD(pvdPath, rc.VTKPath); err != nil {
		return nil, IOf(err, "Unable to write %s.", filepath.Base(pvdPath))
	}

	payload := map[string]any{
		"solver_class":      "ElectromagneticScattering",
		"solver_backend":    "fgmres_block_pcg",
		"frequency":         s.frequency,
		"angular_frequency": s.omega,
		"permittivity":      s.permittivity,
		"permeability":      s.permeability,
		"pml_attributes":    s.pml,
		"iterations":        st.Iterations,
		"residual_norm":     errNorm,
	}
	if s.hasSource {
		payload["source_attributes"] = s.sourceAttrs
	}
	if err := writeArtifact(rc.WorkingDir, "electromagnetic_scattering.json", payload); err != nil {
		return nil, err
	}

	return &Summary{
		Energy:     0.5 * floats.Dot(x, b),
		Iterations: st.Iterations,
		ErrorNorm:  errNorm,
		Dimension:  dim,
	}, nil
}
