package mesh

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// The reader handles the MFEM v1.0 ASCII format: a header line followed by
// keyword sections. Blank lines and lines starting with '#' are skipped.
//
//	MFEM mesh v1.0
//	dimension
//	2
//	elements
//	<count>
//	<attr> <geom> <v0> <v1> ...
//	boundary
//	<count>
//	<attr> <geom> <v0> ...
//	vertices
//	<count>
//	<space dim>
//	<x> <y> ...

const formatHeader = "MFEM mesh v1.0"

// ReadFile loads a mesh from a file on disk.
func ReadFile(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read parses a mesh from r.
func Read(r io.Reader) (*Mesh, error) {
	lr := &lineReader{sc: bufio.NewScanner(r)}
	lr.sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	header, ok := lr.next()
	if !ok || header != formatHeader {
		return nil, fmt.Errorf("line %d: missing %q header", lr.line, formatHeader)
	}

	m := &Mesh{}
	seen := map[string]bool{}
	for {
		section, ok := lr.next()
		if !ok {
			break
		}
		if seen[section] {
			return nil, fmt.Errorf("line %d: duplicate section %q", lr.line, section)
		}
		seen[section] = true
		var err error
		switch section {
		case "dimension":
			m.Dim, err = lr.nextInt()
		case "elements":
			m.Elements, err = lr.readElements()
		case "boundary":
			m.Boundary, err = lr.readElements()
		case "vertices":
			err = lr.readVertices(m)
		default:
			err = fmt.Errorf("line %d: unknown section %q", lr.line, section)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, want := range []string{"dimension", "elements", "vertices"} {
		if !seen[want] {
			return nil, fmt.Errorf("missing %q section", want)
		}
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.EnsureNodes()
	return m, nil
}

type lineReader struct {
	sc   *bufio.Scanner
	line int
}

// next returns the next non-blank, non-comment line, trimmed.
func (lr *lineReader) next() (string, bool) {
	for lr.sc.Scan() {
		lr.line++
		s := strings.TrimSpace(lr.sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		return s, true
	}
	return "", false
}

func (lr *lineReader) nextInt() (int, error) {
	s, ok := lr.next()
	if !ok {
		return 0, fmt.Errorf("line %d: unexpected end of input", lr.line)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("line %d: expected integer, got %q", lr.line, s)
	}
	return n, nil
}

func (lr *lineReader) readElements() ([]Element, error) {
	count, err := lr.nextInt()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("line %d: negative element count %d", lr.line, count)
	}
	els := make([]Element, 0, count)
	for i := 0; i < count; i++ {
		s, ok := lr.next()
		if !ok {
			return nil, fmt.Errorf("line %d: expected %d element rows, got %d", lr.line, count, i)
		}
		fields := strings.Fields(s)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: element row needs attribute, geometry and vertices", lr.line)
		}
		attr, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad attribute %q", lr.line, fields[0])
		}
		code, err := strconv.Atoi(fields[1])
		if err != nil || code < 0 || code > int(Pyramid) {
			return nil, fmt.Errorf("line %d: bad geometry code %q", lr.line, fields[1])
		}
		geom := Geometry(code)
		want := geom.NumVerts()
		if len(fields)-2 != want {
			return nil, fmt.Errorf("line %d: geometry %s needs %d vertices, got %d",
				lr.line, geom, want, len(fields)-2)
		}
		verts := make([]int, want)
		for j := 0; j < want; j++ {
			verts[j], err = strconv.Atoi(fields[j+2])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad vertex index %q", lr.line, fields[j+2])
			}
		}
		els = append(els, Element{Attr: attr, Geom: geom, Verts: verts})
	}
	return els, nil
}

func (lr *lineReader) readVertices(m *Mesh) error {
	count, err := lr.nextInt()
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("line %d: negative vertex count %d", lr.line, count)
	}
	sdim, err := lr.nextInt()
	if err != nil {
		return err
	}
	if sdim < 1 || sdim > 3 {
		return fmt.Errorf("line %d: space dimension %d out of range", lr.line, sdim)
	}
	m.SpaceDim = sdim
	m.Verts = make([][3]float64, count)
	for i := 0; i < count; i++ {
		s, ok := lr.next()
		if !ok {
			return fmt.Errorf("line %d: expected %d vertex rows, got %d", lr.line, count, i)
		}
		fields := strings.Fields(s)
		if len(fields) != sdim {
			return fmt.Errorf("line %d: vertex row needs %d coordinates, got %d", lr.line, sdim, len(fields))
		}
		for d := 0; d < sdim; d++ {
			m.Verts[i][d], err = strconv.ParseFloat(fields[d], 64)
			if err != nil {
				return fmt.Errorf("line %d: bad coordinate %q", lr.line, fields[d])
			}
		}
	}
	return nil
}
