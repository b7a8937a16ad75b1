package vtk

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/mfem-driver/mesh"
)

func twoTriangleMesh() *mesh.Mesh {
	return &mesh.Mesh{
		Dim: 2, SpaceDim: 2,
		Verts: [][3]float64{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Elements: []mesh.Element{
			{Attr: 1, Geom: mesh.Triangle, Verts: []int{0, 1, 2}},
			{Attr: 1, Geom: mesh.Triangle, Verts: []int{0, 2, 3}},
		},
	}
}

func TestWriteHeaderAndConnectivity(t *testing.T) {
	m := twoTriangleMesh()
	sol := [][][]float64{
		{{1}, {2}, {3}},
		{{1}, {3}, {4}},
	}
	vel := [][][]float64{
		{{1, 0.5}, {0, 0}, {0, 0}},
		{{0, 0}, {0, 0}, {2, -1}},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m, Scalar("solution", sol), Vector("velocity", vel)))
	lines := strings.Split(buf.String(), "\n")

	assert.Equal(t, "# vtk DataFile Version 3.0", lines[0])
	assert.Equal(t, "Generated by mfem-driver", lines[1])
	assert.Equal(t, "ASCII", lines[2])
	assert.Equal(t, "DATASET UNSTRUCTURED_GRID", lines[3])

	// points duplicated per element corner
	assert.Equal(t, "POINTS 6 double", lines[4])
	assert.Equal(t, "0 0 0", lines[5])
	assert.Equal(t, "1 0 0", lines[6])
	assert.Equal(t, "1 1 0", lines[7])
	assert.Equal(t, "0 0 0", lines[8])
	assert.Equal(t, "1 1 0", lines[9])
	assert.Equal(t, "0 1 0", lines[10])

	assert.Equal(t, "CELLS 2 8", lines[11])
	assert.Equal(t, "3 0 1 2", lines[12])
	assert.Equal(t, "3 3 4 5", lines[13])
	assert.Equal(t, "CELL_TYPES 2", lines[14])
	assert.Equal(t, "5", lines[15])
	assert.Equal(t, "5", lines[16])

	assert.Equal(t, "POINT_DATA 6", lines[17])
	assert.Equal(t, "SCALARS solution double 1", lines[18])
	assert.Equal(t, "LOOKUP_TABLE default", lines[19])
	assert.Equal(t, "1", lines[20])
	assert.Equal(t, "2", lines[21])
	assert.Equal(t, "3", lines[22])
	assert.Equal(t, "1", lines[23])
	assert.Equal(t, "3", lines[24])
	assert.Equal(t, "4", lines[25])

	// two component samples are zero padded to three
	assert.Equal(t, "VECTORS velocity double", lines[26])
	assert.Equal(t, "1 0.5 0", lines[27])
	assert.Equal(t, "2 -1 0", lines[32])
}

func TestWriteCellTypeCodes(t *testing.T) {
	cases := []struct {
		geom mesh.Geometry
		want int
	}{
		{mesh.Point, 1}, {mesh.Segment, 3}, {mesh.Triangle, 5},
		{mesh.Quad, 9}, {mesh.Tet, 10}, {mesh.Hex, 12},
		{mesh.Prism, 13}, {mesh.Pyramid, 14},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, cellTypes[c.geom], c.geom.String())
	}
}

func TestWriteRejectsShortField(t *testing.T) {
	m := twoTriangleMesh()
	var buf bytes.Buffer
	err := Write(&buf, m, Scalar("solution", [][][]float64{{{1}, {2}, {3}}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "covers 1 of 2 elements")

	err = Write(&buf, m, Scalar("solution", [][][]float64{
		{{1}, {2}, {3}},
		{{1}, {2}},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corner samples")
}

func TestWriteFileAndPVD(t *testing.T) {
	dir := t.TempDir()
	vtkPath := filepath.Join(dir, "out.vtk")
	m := twoTriangleMesh()
	sol := [][][]float64{
		{{0}, {0}, {0}},
		{{0}, {0}, {0}},
	}
	require.NoError(t, WriteFile(vtkPath, m, Scalar("solution", sol)))

	data, err := os.ReadFile(vtkPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# vtk DataFile Version 3.0\n"))

	pvdPath := filepath.Join(dir, "out.pvd")
	require.NoError(t, WritePVD(pvdPath, vtkPath))
	pvd, err := os.ReadFile(pvdPath)
	require.NoError(t, err)
	assert.Contains(t, string(pvd), `<DataSet timestep="0" group="" part="0" file="out.vtk"/>`)
	assert.Contains(t, string(pvd), `type="Collection"`)
}
