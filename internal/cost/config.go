package cost

import (
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const (
	DefaultIntermediateSection = "intermediateCost"
	DefaultFinalSection        = "finalCost"
)

// TermConfig is one section of a cost file. Weights may be given either as
// full matrices (Q, R) or as diagonals (Q_diag, R_diag).
type TermConfig struct {
	Name    string      `yaml:"name"`
	Kind    string      `yaml:"kind"`
	Scaling float64     `yaml:"scaling"`
	Q       [][]float64 `yaml:"Q"`
	QDiag   []float64   `yaml:"Q_diag"`
	R       [][]float64 `yaml:"R"`
	RDiag   []float64   `yaml:"R_diag"`
	P       [][]float64 `yaml:"P"`
	XDes    []float64   `yaml:"x_des"`
	UDes    []float64   `yaml:"u_des"`
}

func readSections(path string) (map[string]TermConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sections map[string]TermConfig
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse cost file %s: %w", path, err)
	}
	return sections, nil
}

func LoadTerm(path, section string) (*TermQuadratic, error) {
	sections, err := readSections(path)
	if err != nil {
		return nil, err
	}
	cfg, ok := sections[section]
	if !ok {
		return nil, fmt.Errorf("cost file %s: no section %q", path, section)
	}
	if cfg.Name == "" {
		cfg.Name = section
	}
	return cfg.Build()
}

// LoadFunction reads an intermediate and a final term from the named
// sections of a YAML file. Empty section names select the defaults.
func LoadFunction(path, intermediate, final string) (*Function, error) {
	if intermediate == "" {
		intermediate = DefaultIntermediateSection
	}
	if final == "" {
		final = DefaultFinalSection
	}
	inter, err := LoadTerm(path, intermediate)
	if err != nil {
		return nil, err
	}
	fin, err := LoadTerm(path, final)
	if err != nil {
		return nil, err
	}

	n, m := inter.Dims()
	fn := NewFunction(n, m)
	if err := fn.AddIntermediateTerm(inter); err != nil {
		return nil, err
	}
	if err := fn.AddFinalTerm(fin); err != nil {
		return nil, err
	}
	return fn, nil
}

// Build turns the section into a quadratic term, applying Scaling to all
// weights.
func (c TermConfig) Build() (*TermQuadratic, error) {
	if c.Kind != "" && c.Kind != "quadratic" {
		return nil, fmt.Errorf("cost term %q: unknown kind %q", c.Name, c.Kind)
	}
	scale := c.Scaling
	if scale == 0 {
		scale = 1
	}

	q, err := symmetric(c.Name, "Q", c.Q, c.QDiag, scale)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("cost term %q: Q is required", c.Name)
	}
	r, err := symmetric(c.Name, "R", c.R, c.RDiag, scale)
	if err != nil {
		return nil, err
	}

	term := NewTermQuadratic(c.Name, q, r)
	if len(c.P) > 0 {
		p, err := dense(c.P)
		if err != nil {
			return nil, fmt.Errorf("cost term %q: P: %w", c.Name, err)
		}
		p.Scale(scale, p)
		term.P = p
	}
	if c.XDes != nil {
		term.XDes = append(term.XDes[:0], c.XDes...)
	}
	if c.UDes != nil {
		term.UDes = append(term.UDes[:0], c.UDes...)
	}
	if err := term.Validate(); err != nil {
		return nil, err
	}
	return term, nil
}

func symmetric(term, name string, rows [][]float64, diag []float64, scale float64) (*mat.SymDense, error) {
	switch {
	case len(rows) > 0 && len(diag) > 0:
		return nil, fmt.Errorf("cost term %q: both %s and %s_diag given", term, name, name)
	case len(diag) > 0:
		s := mat.NewSymDense(len(diag), nil)
		for i, v := range diag {
			s.SetSym(i, i, scale*v)
		}
		return s, nil
	case len(rows) > 0:
		d, err := dense(rows)
		if err != nil {
			return nil, fmt.Errorf("cost term %q: %s: %w", term, name, err)
		}
		r, c := d.Dims()
		if r != c {
			return nil, fmt.Errorf("cost term %q: %s is %dx%d, want square", term, name, r, c)
		}
		s := mat.NewSymDense(r, nil)
		for i := 0; i < r; i++ {
			for j := i; j < r; j++ {
				if d.At(i, j) != d.At(j, i) {
					return nil, fmt.Errorf("cost term %q: %s is not symmetric", term, name)
				}
				s.SetSym(i, j, scale*d.At(i, j))
			}
		}
		return s, nil
	}
	return nil, nil
}

func dense(rows [][]float64) (*mat.Dense, error) {
	cols := len(rows[0])
	if cols == 0 {
		return nil, errors.New("empty row")
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d entries, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}
