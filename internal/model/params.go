package model

import (
	"fmt"
	"math"
	"sort"
)

// Parameter names used by the GP.
const (
	MeanConstant = "mean.constant"
	Outputscale  = "kernel.outputscale"
	Noise        = "likelihood.noise"
)

// Lengthscale names the kernel length-scale of input dimension d.
func Lengthscale(d int) string {
	return fmt.Sprintf("kernel.lengthscale.%d", d)
}

// Constraint maps an unconstrained raw value onto the feasible set of a parameter.
type Constraint interface {
	Transform(raw float64) float64
	Inverse(value float64) (float64, error)
}

// Unconstrained leaves values untouched.
type Unconstrained struct{}

func (Unconstrained) Transform(raw float64) float64 { return raw }

func (Unconstrained) Inverse(value float64) (float64, error) { return value, nil }

// Positive maps raw values through softplus.
type Positive struct{}

func (Positive) Transform(raw float64) float64 { return softplus(raw) }

func (Positive) Inverse(value float64) (float64, error) {
	if !(value > 0) {
		return 0, fmt.Errorf("model: %g is not positive", value)
	}
	return invSoftplus(value), nil
}

// GreaterThan maps raw values onto (lower, ∞) through a shifted softplus.
type GreaterThan float64

func (c GreaterThan) Transform(raw float64) float64 { return float64(c) + softplus(raw) }

func (c GreaterThan) Inverse(value float64) (float64, error) {
	if !(value > float64(c)) {
		return 0, fmt.Errorf("model: %g is not greater than %g", value, float64(c))
	}
	return invSoftplus(value - float64(c)), nil
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func invSoftplus(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}

// Param declares one learnable hyperparameter.
type Param struct {
	Name       string
	Constraint Constraint
}

// Params is the learnable state of a model: raw (unconstrained) values plus
// accumulated gradients with respect to them. It is passed explicitly and is
// exclusively owned by whoever is updating it.
type Params struct {
	specs []Param
	index map[string]int
	raw   []float64
	grad  []float64
}

// NewParams declares the given parameters with raw value zero.
func NewParams(specs ...Param) *Params {
	p := &Params{
		specs: append([]Param(nil), specs...),
		index: make(map[string]int, len(specs)),
		raw:   make([]float64, len(specs)),
		grad:  make([]float64, len(specs)),
	}
	for i, s := range p.specs {
		if s.Constraint == nil {
			p.specs[i].Constraint = Unconstrained{}
		}
		p.index[s.Name] = i
	}
	return p
}

func (p *Params) Len() int {
	return len(p.specs)
}

func (p *Params) Names() []string {
	out := make([]string, len(p.specs))
	for i, s := range p.specs {
		out[i] = s.Name
	}
	return out
}

func (p *Params) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Value returns the constrained value of a parameter. Unknown names panic.
func (p *Params) Value(name string) float64 {
	i := p.mustIndex(name)
	return p.specs[i].Constraint.Transform(p.raw[i])
}

// Set assigns a constrained value.
func (p *Params) Set(name string, value float64) error {
	i, ok := p.index[name]
	if !ok {
		return fmt.Errorf("model: unknown parameter %q", name)
	}
	raw, err := p.specs[i].Constraint.Inverse(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	p.raw[i] = raw
	return nil
}

// Raw returns a copy of the raw parameter vector in declaration order.
func (p *Params) Raw() []float64 {
	return append([]float64(nil), p.raw...)
}

// WithRaw returns a copy of p holding the given raw vector and zero gradients.
func (p *Params) WithRaw(raw []float64) *Params {
	if len(raw) != len(p.raw) {
		panic(fmt.Sprintf("model: raw vector has %d entries, want %d", len(raw), len(p.raw)))
	}
	out := p.Clone()
	copy(out.raw, raw)
	out.ZeroGrad()
	return out
}

func (p *Params) Clone() *Params {
	return &Params{
		specs: p.specs,
		index: p.index,
		raw:   append([]float64(nil), p.raw...),
		grad:  append([]float64(nil), p.grad...),
	}
}

func (p *Params) ZeroGrad() {
	for i := range p.grad {
		p.grad[i] = 0
	}
}

// AccumulateGrad adds g to the stored gradients.
func (p *Params) AccumulateGrad(g []float64) {
	if len(g) != len(p.grad) {
		panic(fmt.Sprintf("model: gradient has %d entries, want %d", len(g), len(p.grad)))
	}
	for i, v := range g {
		p.grad[i] += v
	}
}

func (p *Params) Grad() []float64 {
	return append([]float64(nil), p.grad...)
}

// Map returns the constrained values keyed by name.
func (p *Params) Map() map[string]float64 {
	out := make(map[string]float64, len(p.specs))
	for i, s := range p.specs {
		out[s.Name] = s.Constraint.Transform(p.raw[i])
	}
	return out
}

// String formats the constrained values in name order.
func (p *Params) String() string {
	m := p.Map()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	s := ""
	for i, name := range names {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%.4f", name, m[name])
	}
	return s
}

func (p *Params) mustIndex(name string) int {
	i, ok := p.index[name]
	if !ok {
		panic(fmt.Sprintf("model: unknown parameter %q", name))
	}
	return i
}
