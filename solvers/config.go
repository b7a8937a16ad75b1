package solvers

import (
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// decodeConfig maps the raw config object onto a typed struct. Field
// presence is modeled with pointer fields; range and shape checks live
// in the per-solver validation that follows decoding.
func decodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: out})
	if err != nil {
		return &Error{Kind: InvalidArgument, Message: "invalid config", Err: err}
	}
	if err := dec.Decode(cfg); err != nil {
		return &Error{Kind: InvalidArgument, Message: "invalid config", Err: err}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

// reqNum checks a required numeric field.
func reqNum(name string, p *float64) (float64, error) {
	if p == nil || !finite(*p) {
		return 0, Invalidf("config.%s is required and must be numeric.", name)
	}
	return *p, nil
}

// reqPos checks a required strictly positive field.
func reqPos(name string, p *float64) (float64, error) {
	v, err := reqNum(name, p)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, Invalidf("config.%s must be > 0.", name)
	}
	return v, nil
}

// optNum substitutes def when the field is absent.
func optNum(name string, p *float64, def float64) (float64, error) {
	if p == nil {
		return def, nil
	}
	if !finite(*p) {
		return 0, Invalidf("config.%s must be numeric when provided.", name)
	}
	return *p, nil
}

// optPos substitutes def when absent and insists on a positive value.
func optPos(name string, p *float64, def float64) (float64, error) {
	v, err := optNum(name, p, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, Invalidf("config.%s must be > 0.", name)
	}
	return v, nil
}

// reqInt validates an integer-valued field, tolerating the float64
// representation JSON decoding produces.
func reqInt(name string, p *float64) (int, error) {
	if p == nil || !finite(*p) || *p != math.Trunc(*p) {
		return 0, Invalidf("config.%s is required and must be an integer.", name)
	}
	return int(*p), nil
}

// optInt substitutes def when absent and insists on an integer value.
func optInt(name string, p *float64, def int) (int, error) {
	if p == nil {
		return def, nil
	}
	if !finite(*p) || *p != math.Trunc(*p) {
		return 0, Invalidf("config.%s must be an integer when provided.", name)
	}
	return int(*p), nil
}

// intOrDefault reads an optional integer field from a raw value,
// defaulting when absent. Unlike optInt the field may arrive with any
// JSON type.
func intOrDefault(name string, v any, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok || !finite(f) || f != math.Trunc(f) {
		return 0, Invalidf("config.%s must be an integer.", name)
	}
	return int(f), nil
}

// reqObj checks a required object-valued field.
func reqObj(name string, v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, Invalidf("config.%s is required and must be an object.", name)
	}
	return m, nil
}

// reqArr checks a required array-valued field.
func reqArr(name string, v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("config.%s must be an array.", name)
	}
	return arr, nil
}

// numArray coerces an array of numbers, labeling failures with the
// full field path.
func numArray(label string, v any) ([]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("%s must be an array.", label)
	}
	out := make([]float64, len(arr))
	for i, e := range arr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("%s entries must be numeric.", label)
		}
		out[i] = f
	}
	return out, nil
}

// bcObjects requires every entry of a bcs-style array to be an object.
func bcObjects(name string, arr []any) ([]map[string]any, error) {
	out := make([]map[string]any, len(arr))
	for i, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, Invalidf("config.%s entries must be objects.", name)
		}
		out[i] = m
	}
	return out, nil
}

// bcType reads the lowercased type tag of a boundary condition entry.
func bcType(entry map[string]any) string {
	s, _ := entry["type"].(string)
	return strings.ToLower(s)
}

// bcAttr validates the attribute tag of a boundary condition entry.
func bcAttr(key string, entry map[string]any) (int, error) {
	f, isNum := toFloat(entry["attribute"])
	if !isNum || !finite(f) || f != math.Trunc(f) {
		return 0, Invalidf("config.%s[].attribute is required and must be an integer.", key)
	}
	a := int(f)
	if a <= 0 {
		return 0, Invalidf("config.%s[].attribute must be > 0.", key)
	}
	return a, nil
}

// bcNumValue validates the scalar value of a boundary condition entry.
func bcNumValue(key string, entry map[string]any) (float64, error) {
	f, ok := toFloat(entry["value"])
	if !ok || !finite(f) {
		return 0, Invalidf("config.%s[].value is required and must be numeric.", key)
	}
	return f, nil
}

// vecComponents parses a vector-valued field, truncating surplus
// components to the mesh dimension.
func vecComponents(label string, v any, dim int, required bool) ([]float64, error) {
	if v == nil {
		if required {
			return nil, Invalidf("%s is required.", label)
		}
		return make([]float64, dim), nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("%s must be an array.", label)
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("%s entries must be numeric.", label)
		}
		out = append(out, f)
	}
	if len(out) < dim {
		return nil, Invalidf("%s must provide at least mesh-dimension components.", label)
	}
	return out[:dim], nil
}

// reqVec parses a required non-empty vector-valued field. Length is not
// checked against the mesh dimension here; callers fix it up with padVec.
func reqVec(label string, v any) ([]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("%s is required and must be an array.", label)
	}
	if len(arr) == 0 {
		return nil, Invalidf("%s must not be empty.", label)
	}
	out := make([]float64, len(arr))
	for i, e := range arr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("%s entries must be numeric.", label)
		}
		out[i] = f
	}
	return out, nil
}

// padVec clamps parsed components to dim entries, zero filling short
// vectors.
func padVec(vals []float64, dim int) []float64 {
	out := make([]float64, dim)
	copy(out, vals)
	return out
}

// flowComponents mirrors vecComponents but reports bad entries with
// component wording, which the flow configs use.
func flowComponents(label string, v any, dim int, required bool) ([]float64, error) {
	if v == nil {
		if required {
			return nil, Invalidf("%s is required.", label)
		}
		return make([]float64, dim), nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("%s must be an array.", label)
	}
	out := make([]float64, 0, len(arr))
	for _, e := range arr {
		f, ok := toFloat(e)
		if !ok || !finite(f) {
			return nil, Invalidf("%s components must be numeric.", label)
		}
		out = append(out, f)
	}
	if len(out) < dim {
		return nil, Invalidf("%s must provide at least mesh-dimension components.", label)
	}
	return out[:dim], nil
}

// sdimComponents parses an optional space-dimension sized vector. The
// length check precedes the entry checks and only the first sdim
// entries need to be numeric.
func sdimComponents(label string, v any, sdim int) ([]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, Invalidf("%s must be an array when provided.", label)
	}
	if len(arr) < sdim {
		return nil, Invalidf("%s must provide at least mesh-space-dimension components.", label)
	}
	out := make([]float64, sdim)
	for i := 0; i < sdim; i++ {
		f, ok := toFloat(arr[i])
		if !ok || !finite(f) {
			return nil, Invalidf("%s entries must be numeric.", label)
		}
		out[i] = f
	}
	return out, nil
}

// analysisOpts carries the optional shared linear solver controls.
type analysisOpts struct {
	MaxIter *float64 `mapstructure:"max_iter"`
	RelTol  *float64 `mapstructure:"rel_tol"`
}

// solveOpts is the resolved form, with flags recording whether the
// value was supplied explicitly.
type solveOpts struct {
	MaxIter    int
	RelTol     float64
	MaxIterSet bool
	RelTolSet  bool
}

func (a *analysisOpts) resolve() (solveOpts, error) {
	out := solveOpts{MaxIter: 1000, RelTol: 1e-12}
	if a == nil {
		return out, nil
	}
	if a.MaxIter != nil {
		n, err := optInt("analysis_opts.max_iter", a.MaxIter, 0)
		if err != nil {
			return out, err
		}
		if n <= 0 {
			return out, Invalidf("config.analysis_opts.max_iter must be > 0.")
		}
		out.MaxIter, out.MaxIterSet = n, true
	}
	if a.RelTol != nil {
		if !finite(*a.RelTol) || *a.RelTol <= 0 {
			return out, Invalidf("config.analysis_opts.rel_tol must be > 0.")
		}
		out.RelTol, out.RelTolSet = *a.RelTol, true
	}
	return out, nil
}

// fixedAttributes gathers boundary attributes marked fixed, combining
// the legacy fixed_attributes array with type=fixed entries from bcs
// and boundary_conditions. Malformed entries drop silently, preserving
// the historical input tolerance.
func fixedAttributes(cfg map[string]any) []int {
	var attrs []int
	if arr, ok := cfg["fixed_attributes"].([]any); ok {
		for _, v := range arr {
			f, ok := toFloat(v)
			if !ok || !finite(f) || f != math.Trunc(f) {
				continue
			}
			if a := int(f); a > 0 {
				attrs = append(attrs, a)
			}
		}
	}
	for _, key := range []string{"bcs", "boundary_conditions"} {
		arr, ok := cfg[key].([]any)
		if !ok {
			continue
		}
		for _, e := range arr {
			entry, ok := e.(map[string]any)
			if !ok || bcType(entry) != "fixed" {
				continue
			}
			f, ok := toFloat(entry["attribute"])
			if !ok || !finite(f) || f != math.Trunc(f) {
				continue
			}
			if a := int(f); a > 0 {
				attrs = append(attrs, a)
			}
		}
	}
	return attrs
}

// fixedMarkers converts fixed attributes into the attribute set the
// assembly helpers take, dropping anything outside [1, max].
func fixedMarkers(cfg map[string]any, max int) map[int]bool {
	out := map[int]bool{}
	for _, a := range fixedAttributes(cfg) {
		if a >= 1 && a <= max {
			out[a] = true
		}
	}
	return out
}

// attrSet clamps a list of 1-based attributes into a marker set.
func attrSet(attrs []int, max int) map[int]bool {
	out := map[int]bool{}
	for _, a := range attrs {
		if a >= 1 && a <= max {
			out[a] = true
		}
	}
	return out
}

// addLoadComponents accumulates numeric entries of values into load,
// truncating to the load length and skipping non-numbers.
func addLoadComponents(values any, load []float64) {
	arr, ok := values.([]any)
	if !ok {
		return
	}
	n := len(load)
	if len(arr) < n {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		if f, ok := toFloat(arr[i]); ok && finite(f) {
			load[i] += f
		}
	}
}

// loadVector sums the dim component body load from the load and
// body_force arrays plus any type=load boundary condition values.
func loadVector(cfg map[string]any, dim int) []float64 {
	load := make([]float64, dim)
	addLoadComponents(cfg["load"], load)
	addLoadComponents(cfg["body_force"], load)
	for _, key := range []string{"bcs", "boundary_conditions"} {
		arr, ok := cfg[key].([]any)
		if !ok {
			continue
		}
		for _, e := range arr {
			entry, ok := e.(map[string]any)
			if !ok || bcType(entry) != "load" {
				continue
			}
			addLoadComponents(entry["value"], load)
		}
	}
	return load
}
