package solvers

import "strings"

// classOrder fixes the enumeration order of the registration error
// message; it is part of the CLI contract.
var classOrder = []string{
	"LinearElasticity", "Poisson", "NavierStokes", "StokesFlow",
	"HeatTransfer", "JouleHeating", "Electrostatics", "Electromagnetics",
	"ElectromagneticModal", "ElectromagneticScattering", "Magnetostatics",
	"DarcyFlow", "AcousticWave", "Advection", "DPGLaplace", "AMRLaplace",
	"AnisotropicDiffusion", "SurfacePDE", "Eigenvalue", "FractionalPDE",
	"StructuralModal", "CompressibleEuler", "Elastodynamics",
	"TransientMaxwell", "Hyperelastic", "IncompressibleElasticity",
}

// factories maps canonical class names to their constructors. Nothing
// mutates this map after package initialization.
var factories = map[string]Factory{
	"Poisson":                   newPoisson,
	"HeatTransfer":              newHeatTransfer,
	"LinearElasticity":          newLinearElasticity,
	"Eigenvalue":                newEigenvalue,
	"Electrostatics":            newElectrostatics,
	"DarcyFlow":                 newDarcyFlow,
	"Advection":                 newAdvection,
	"AMRLaplace":                newAMRLaplace,
	"AnisotropicDiffusion":      newAnisotropicDiffusion,
	"SurfacePDE":                newSurfacePDE,
	"DPGLaplace":                newDPGLaplace,
	"FractionalPDE":             newFractionalPDE,
	"StokesFlow":                newStokesFlow,
	"NavierStokes":              newNavierStokes,
	"JouleHeating":              newJouleHeating,
	"AcousticWave":              newAcousticWave,
	"CompressibleEuler":         newCompressibleEuler,
	"Elastodynamics":            newElastodynamics,
	"ElectromagneticModal":      newElectromagneticModal,
	"StructuralModal":           newStructuralModal,
	"TransientMaxwell":          newTransientMaxwell,
	"Hyperelastic":              newHyperelastic,
	"IncompressibleElasticity":  newIncompressibleElasticity,
	"Electromagnetics":          newElectromagnetics,
	"Magnetostatics":            newMagnetostatics,
	"ElectromagneticScattering": newElectromagneticScattering,
}

// aliases map historical short names onto canonical classes. Ordinary
// case and separator variants resolve through normalization instead.
var aliases = map[string]string{
	"stokes":          "StokesFlow",
	"linearadvection": "Advection",
	"emmodal":         "ElectromagneticModal",
	"emscattering":    "ElectromagneticScattering",
	"transientem":     "TransientMaxwell",
	"hyperelasticity": "Hyperelastic",
}

var byNormalized = func() map[string]string {
	m := make(map[string]string, len(factories)+len(aliases))
	for name := range factories {
		m[normalizeClass(name)] = name
	}
	for alias, name := range aliases {
		m[alias] = name
	}
	return m
}()

func normalizeClass(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// Classes returns the canonical solver class names in registration
// order.
func Classes() []string {
	out := make([]string, len(classOrder))
	copy(out, classOrder)
	return out
}

// Resolve maps a user-supplied class name onto its canonical form. An
// unknown name fails with a message enumerating every class.
func Resolve(name string) (string, error) {
	if canonical, ok := byNormalized[normalizeClass(name)]; ok {
		return canonical, nil
	}
	return "", &Error{
		Kind: UnregisteredSolver,
		Message: "solver_class must be " + strings.Join(classOrder[:len(classOrder)-1], ", ") +
			", or " + classOrder[len(classOrder)-1] + ".",
	}
}

// Create resolves name and builds its solver from cfg, returning the
// canonical class alongside.
func Create(name string, cfg map[string]any) (string, Solver, error) {
	canonical, err := Resolve(name)
	if err != nil {
		return "", nil, err
	}
	s, err := factories[canonical](cfg)
	if err != nil {
		return "", nil, err
	}
	return canonical, s, nil
}
