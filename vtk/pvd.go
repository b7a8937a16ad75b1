package vtk

import (
	"fmt"
	"os"
	"path/filepath"
)

// WritePVD writes a one entry ParaView collection referencing vtkPath
// at timestep zero. The reference is the bare file name so that the
// collection works when both files live in the same directory.
func WritePVD(path, vtkPath string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "<?xml version=\"1.0\"?>\n")
	fmt.Fprintf(f, "<VTKFile type=\"Collection\" version=\"0.1\" byte_order=\"LittleEndian\">\n")
	fmt.Fprintf(f, "  <Collection>\n")
	fmt.Fprintf(f, "    <DataSet timestep=\"0\" group=\"\" part=\"0\" file=\"%s\"/>\n",
		filepath.Base(vtkPath))
	fmt.Fprintf(f, "  </Collection>\n")
	fmt.Fprintf(f, "</VTKFile>\n")
	return f.Close()
}
