package optim

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

func makeParam(t *testing.T, data []float64, shape tensor.Shape) *nn.Parameter {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, cpu.New())
	if err != nil {
		t.Fatal(err)
	}
	return nn.NewParameter("p", x)
}

func makeGrad(t *testing.T, data []float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(shape, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	copy(raw.Float64(), data)
	return raw
}

func TestSGD_Step(t *testing.T) {
	p := makeParam(t, []float64{1, 2, 3}, tensor.Shape{3})
	opt := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{
		p.Raw(): makeGrad(t, []float64{1, -1, 0.5}, tensor.Shape{3}),
	}
	opt.Step(grads)

	assert.InDeltaSlice(t, []float64{0.9, 2.1, 2.95}, p.Tensor().Data(), 1e-12)
}

func TestSGD_Momentum(t *testing.T) {
	p := makeParam(t, []float64{0}, tensor.Shape{1})
	opt := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1, Momentum: 0.9})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{
		p.Raw(): makeGrad(t, []float64{1}, tensor.Shape{1}),
	}

	// First step: v = 1, p = -0.1. Second: v = 1.9, p = -0.29.
	opt.Step(grads)
	assert.InDelta(t, -0.1, p.Tensor().Data()[0], 1e-12)
	opt.Step(grads)
	assert.InDelta(t, -0.29, p.Tensor().Data()[0], 1e-12)
}

func TestSGD_SkipsMissingGradient(t *testing.T) {
	p := makeParam(t, []float64{1}, tensor.Shape{1})
	opt := NewSGD([]*nn.Parameter{p}, SGDConfig{LR: 0.1})

	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{})
	assert.Equal(t, 1.0, p.Tensor().Data()[0])
}

func TestAdam_FirstStep(t *testing.T) {
	p := makeParam(t, []float64{1}, tensor.Shape{1})
	opt := NewAdam([]*nn.Parameter{p}, AdamConfig{LR: 0.001})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{
		p.Raw(): makeGrad(t, []float64{0.5}, tensor.Shape{1}),
	}
	opt.Step(grads)

	// On the first step the bias-corrected update direction is
	// g/(|g| + eps), so the parameter moves by almost exactly lr.
	want := 1.0 - 0.001*(0.5/(0.5+1e-8))
	assert.InDelta(t, want, p.Tensor().Data()[0], 1e-12)
}

func TestAdam_Defaults(t *testing.T) {
	opt := NewAdam(nil, AdamConfig{})
	assert.Equal(t, 0.001, opt.GetLR())
	assert.Equal(t, 0.9, opt.beta1)
	assert.Equal(t, 0.999, opt.beta2)
	assert.Equal(t, 1e-8, opt.eps)
}

func TestAdam_ConvergesOnQuadratic(t *testing.T) {
	// Minimize f(x) = (x - 3)² from x = 0.
	p := makeParam(t, []float64{0}, tensor.Shape{1})
	opt := NewAdam([]*nn.Parameter{p}, AdamConfig{LR: 0.1})

	for i := 0; i < 500; i++ {
		x := p.Tensor().Data()[0]
		g := 2 * (x - 3)
		opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{
			p.Raw(): makeGrad(t, []float64{g}, tensor.Shape{1}),
		})
	}

	if math.Abs(p.Tensor().Data()[0]-3) > 0.01 {
		t.Errorf("Adam did not converge: x = %g, want 3", p.Tensor().Data()[0])
	}
}

func TestAdam_SharedParameterAcrossReplicas(t *testing.T) {
	// Two module handles sharing one raw tensor see a single update.
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))
	layer := nn.NewLinear(2, 2, rng, backend)
	replica := layer.Replicate(cpu.New()).(*nn.Linear)

	opt := NewSGD(layer.Parameters(), SGDConfig{LR: 1})
	w := layer.Parameters()[0]
	before := append([]float64{}, w.Tensor().Data()...)

	g := make([]float64, len(before))
	for i := range g {
		g[i] = 1
	}
	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{
		w.Raw(): makeGrad(t, g, w.Tensor().Shape()),
	})

	replW := replica.Parameters()[0]
	for i := range before {
		assert.InDelta(t, before[i]-1, replW.Tensor().Data()[i], 1e-12)
	}
}
