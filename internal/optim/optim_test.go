package optim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"kissgp/internal/model"
)

func quadratic(p *model.Params) (float64, error) {
	a, b := p.Value("a"), p.Value("b")
	return (a-3)*(a-3) + 2*(b+1)*(b+1) + a*b, nil
}

func twoParams() *model.Params {
	return model.NewParams(model.Param{Name: "a"}, model.Param{Name: "b"})
}

func TestGradientMatchesAnalytic(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		p := twoParams()
		require.NoError(t, p.Set("a", 0.5))
		require.NoError(t, p.Set("b", -2))
		require.NoError(t, Gradient(quadratic, p, GradientSettings{Concurrent: concurrent}))
		g := p.Grad()
		require.InDelta(t, 2*(0.5-3)+(-2), g[0], 1e-6)
		require.InDelta(t, 4*(-2+1)+0.5, g[1], 1e-6)
	}
}

func TestGradientAccumulates(t *testing.T) {
	p := twoParams()
	require.NoError(t, Gradient(quadratic, p, GradientSettings{}))
	first := p.Grad()
	require.NoError(t, Gradient(quadratic, p, GradientSettings{}))
	require.InDelta(t, 2*first[0], p.Grad()[0], 1e-9)
	p.ZeroGrad()
	require.Equal(t, []float64{0, 0}, p.Grad())
}

func TestGradientSurfacesObjectiveError(t *testing.T) {
	boom := errors.New("boom")
	p := twoParams()
	err := Gradient(func(*model.Params) (float64, error) { return 0, boom }, p, GradientSettings{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []float64{0, 0}, p.Grad())

	err = Gradient(func(q *model.Params) (float64, error) {
		return math.Inf(1) * q.Value("a"), nil
	}, p, GradientSettings{})
	require.ErrorIs(t, err, ErrNonFiniteGradient)
}

func TestAdamStepIsPure(t *testing.T) {
	p := twoParams()
	p.AccumulateGrad([]float64{1, -2})
	adam := NewAdam(0.1)

	next, state := adam.Step(p, AdamState{})
	require.Equal(t, 1, state.Step)
	// The first bias-corrected step moves each coordinate by lr against the gradient sign.
	require.InDelta(t, -0.1, next.Value("a"), 1e-6)
	require.InDelta(t, 0.1, next.Value("b"), 1e-6)
	require.Equal(t, []float64{0, 0}, p.Raw())
	require.Equal(t, []float64{0, 0}, next.Grad())

	again, _ := adam.Step(p, AdamState{})
	require.Equal(t, next.Raw(), again.Raw())
}

func TestAdamMinimisesQuadratic(t *testing.T) {
	p := twoParams()
	adam := NewAdam(0.1)
	var state AdamState
	start, _ := quadratic(p)
	for i := 0; i < 500; i++ {
		p.ZeroGrad()
		require.NoError(t, Gradient(quadratic, p, GradientSettings{}))
		p, state = adam.Step(p, state)
	}
	end, _ := quadratic(p)
	require.Less(t, end, start)
	// The quadratic is minimised at a = 4, b = -2.
	require.InDelta(t, 4, p.Value("a"), 0.1)
	require.InDelta(t, -2, p.Value("b"), 0.1)
}
