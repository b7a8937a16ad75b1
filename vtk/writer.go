// Package vtk writes solution fields in the legacy ASCII VTK format,
// plus minimal ParaView collection files for time series consumers.
package vtk

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/notargets/mfem-driver/mesh"
)

// Field is a solution field sampled at the corners of every element.
// Values is indexed element, corner, component. Vector fields are
// written with three components, missing ones padded with zero.
type Field struct {
	Name   string
	Vector bool
	Values [][][]float64
}

// Scalar wraps per-corner samples as a named scalar field.
func Scalar(name string, values [][][]float64) Field {
	return Field{Name: name, Values: values}
}

// Vector wraps per-corner samples as a named vector field.
func Vector(name string, values [][][]float64) Field {
	return Field{Name: name, Vector: true, Values: values}
}

var cellTypes = map[mesh.Geometry]int{
	mesh.Point:    1,
	mesh.Segment:  3,
	mesh.Triangle: 5,
	mesh.Quad:     9,
	mesh.Tet:      10,
	mesh.Hex:      12,
	mesh.Prism:    13,
	mesh.Pyramid:  14,
}

// WriteFile writes the mesh and fields to path.
func WriteFile(path string, m *mesh.Mesh, fields ...Field) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := Write(w, m, fields...); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write emits the legacy ASCII dataset: header, points duplicated per
// element corner, connectivity and cell types, then one POINT_DATA
// block carrying every field. Duplicating corner points keeps fields
// free to jump across element boundaries, which discontinuous spaces
// need.
func Write(w io.Writer, m *mesh.Mesh, fields ...Field) error {
	np := 0
	ints := 0
	for _, el := range m.Elements {
		np += len(el.Verts)
		ints += 1 + len(el.Verts)
	}
	for _, fld := range fields {
		if len(fld.Values) != len(m.Elements) {
			return fmt.Errorf("field %q covers %d of %d elements",
				fld.Name, len(fld.Values), len(m.Elements))
		}
	}

	fmt.Fprintf(w, "# vtk DataFile Version 3.0\n")
	fmt.Fprintf(w, "Generated by mfem-driver\n")
	fmt.Fprintf(w, "ASCII\n")
	fmt.Fprintf(w, "DATASET UNSTRUCTURED_GRID\n")

	fmt.Fprintf(w, "POINTS %d double\n", np)
	for _, el := range m.Elements {
		for _, v := range el.Verts {
			x := m.Verts[v]
			fmt.Fprintf(w, "%g %g %g\n", x[0], x[1], x[2])
		}
	}

	fmt.Fprintf(w, "CELLS %d %d\n", len(m.Elements), ints)
	base := 0
	for _, el := range m.Elements {
		fmt.Fprintf(w, "%d", len(el.Verts))
		for k := range el.Verts {
			fmt.Fprintf(w, " %d", base+k)
		}
		fmt.Fprintln(w)
		base += len(el.Verts)
	}

	fmt.Fprintf(w, "CELL_TYPES %d\n", len(m.Elements))
	for _, el := range m.Elements {
		ct, ok := cellTypes[el.Geom]
		if !ok {
			return fmt.Errorf("no cell type for geometry %s", el.Geom)
		}
		fmt.Fprintf(w, "%d\n", ct)
	}

	if len(fields) == 0 {
		return nil
	}
	fmt.Fprintf(w, "POINT_DATA %d\n", np)
	for _, fld := range fields {
		if err := writeField(w, m, fld); err != nil {
			return err
		}
	}
	return nil
}

func writeField(w io.Writer, m *mesh.Mesh, fld Field) error {
	if fld.Vector {
		fmt.Fprintf(w, "VECTORS %s double\n", fld.Name)
	} else {
		fmt.Fprintf(w, "SCALARS %s double 1\n", fld.Name)
		fmt.Fprintf(w, "LOOKUP_TABLE default\n")
	}
	for i, el := range m.Elements {
		if len(fld.Values[i]) != len(el.Verts) {
			return fmt.Errorf("field %q element %d has %d corner samples, want %d",
				fld.Name, i, len(fld.Values[i]), len(el.Verts))
		}
		for _, cv := range fld.Values[i] {
			if fld.Vector {
				var out [3]float64
				for d := 0; d < 3 && d < len(cv); d++ {
					out[d] = cv[d]
				}
				fmt.Fprintf(w, "%g %g %g\n", out[0], out[1], out[2])
				continue
			}
			v := 0.0
			if len(cv) > 0 {
				v = cv[0]
			}
			fmt.Fprintf(w, "%g\n", v)
		}
	}
	return nil
}
