// Package heatmap renders matrices as PNG heatmaps. Entry (i, j) is drawn
// as the cell in row i, column j, scaled by Options.Cell pixels.
package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrEmptyMatrix = errors.New("heatmap: empty matrix")

// Viridis stops, low to high.
var palette = []color.RGBA{
	{R: 68, G: 1, B: 84, A: 255},
	{R: 59, G: 82, B: 139, A: 255},
	{R: 33, G: 145, B: 140, A: 255},
	{R: 94, G: 201, B: 98, A: 255},
	{R: 253, G: 231, B: 37, A: 255},
}

var missing = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Options controls rendering.
type Options struct {
	// Cell is the side of one matrix entry in pixels; zero means 32.
	Cell int
	// Min and Max fix the colour range. When both are zero the range is
	// taken from the finite entries of the matrix, so an explicit [0, 0]
	// range cannot be requested.
	Min, Max float64
}

// Render draws m into an RGBA image. With opts.Min and opts.Max both zero
// the colour range is the min and max of the finite entries of m.
func Render(m mat.Matrix, opts Options) (*image.RGBA, error) {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, ErrEmptyMatrix
	}
	cell := opts.Cell
	if cell <= 0 {
		cell = 32
	}
	lo, hi := opts.Min, opts.Max
	if lo == 0 && hi == 0 {
		lo, hi = bounds(m)
	}

	img := image.NewRGBA(image.Rect(0, 0, c*cell, r*cell))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			col := Color(m.At(i, j), lo, hi)
			for y := i * cell; y < (i+1)*cell; y++ {
				for x := j * cell; x < (j+1)*cell; x++ {
					img.SetRGBA(x, y, col)
				}
			}
		}
	}
	return img, nil
}

// Color maps v onto the palette over [lo, hi]. Values outside the range are
// clamped; NaN renders grey.
func Color(v, lo, hi float64) color.RGBA {
	if math.IsNaN(v) {
		return missing
	}
	t := 0.0
	if hi > lo {
		t = (v - lo) / (hi - lo)
	}
	t = math.Max(0, math.Min(1, t))
	pos := t * float64(len(palette)-1)
	k := int(pos)
	if k >= len(palette)-1 {
		return palette[len(palette)-1]
	}
	f := pos - float64(k)
	a, b := palette[k], palette[k+1]
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + f*(float64(y)-float64(x))))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// Encode renders m and writes it as PNG.
func Encode(w io.Writer, m mat.Matrix, opts Options) error {
	img, err := Render(m, opts)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// WriteFile renders m to a PNG file at path.
func WriteFile(path string, m mat.Matrix, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("heatmap: create %s: %w", path, err)
	}
	if err := Encode(f, m, opts); err != nil {
		f.Close()
		return fmt.Errorf("heatmap: encode %s: %w", path, err)
	}
	return f.Close()
}

// Surfaces is the set of matrices written by WriteAll.
type Surfaces struct {
	Predicted *mat.Dense
	Actual    *mat.Dense
	AbsError  *mat.Dense
	Variance  *mat.Dense
}

// WriteAll writes predicted.png, actual.png and abs_error.png (plus
// variance.png when present) into dir and returns the paths written.
// Predicted and actual share one colour range so they are comparable.
func WriteAll(dir string, s Surfaces, cell int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}
	plo, phi := bounds(s.Predicted)
	alo, ahi := bounds(s.Actual)
	shared := Options{Cell: cell, Min: math.Min(plo, alo), Max: math.Max(phi, ahi)}

	type job struct {
		name string
		m    *mat.Dense
		opts Options
	}
	jobs := []job{
		{"predicted.png", s.Predicted, shared},
		{"actual.png", s.Actual, shared},
		{"abs_error.png", s.AbsError, Options{Cell: cell}},
	}
	if s.Variance != nil {
		jobs = append(jobs, job{"variance.png", s.Variance, Options{Cell: cell}})
	}

	var paths []string
	for _, j := range jobs {
		path := filepath.Join(dir, j.name)
		if err := WriteFile(path, j.m, j.opts); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func bounds(m mat.Matrix) (lo, hi float64) {
	if m == nil {
		return 0, 0
	}
	r, c := m.Dims()
	vals := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); !math.IsNaN(v) && !math.IsInf(v, 0) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	return floats.Min(vals), floats.Max(vals)
}
