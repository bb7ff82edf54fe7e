package sample

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

func TestReparameterize_MomentStatistics(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))

	const draws = 20000
	meanVal, logVarVal := 1.5, -0.4

	mean, _ := tensor.FromSlice([]float64{meanVal, meanVal}, tensor.Shape{1, 2}, backend)
	logVar, _ := tensor.FromSlice([]float64{logVarVal, logVarVal}, tensor.Shape{1, 2}, backend)

	var sum, sumSq float64
	for i := 0; i < draws; i++ {
		z := Reparameterize(mean, logVar, Noise(1, 2, rng, backend))
		v := z.At(0, 0)
		sum += v
		sumSq += v * v
	}

	empMean := sum / draws
	empVar := sumSq/draws - empMean*empMean
	assert.InDelta(t, meanVal, empMean, 0.02)
	assert.InDelta(t, math.Exp(logVarVal), empVar, 0.05)
}

func TestReparameterize_DeterministicUnderSeed(t *testing.T) {
	backend := cpu.New()

	mean, _ := tensor.FromSlice([]float64{0, 0, 0}, tensor.Shape{1, 3}, backend)
	logVar, _ := tensor.FromSlice([]float64{0.3, -0.3, 0}, tensor.Shape{1, 3}, backend)

	a := Reparameterize(mean, logVar, Noise(1, 3, rand.New(rand.NewSource(7)), backend))
	b := Reparameterize(mean, logVar, Noise(1, 3, rand.New(rand.NewSource(7)), backend))
	assert.Equal(t, a.Data(), b.Data())
}

func TestReparameterizeFull_MatchesFactor(t *testing.T) {
	backend := cpu.New()

	// L = [[2,0],[1,3]], eps = [1,1]: L·eps = [2,4], z = mean + [2,4].
	mean, _ := tensor.FromSlice([]float64{1, -1}, tensor.Shape{1, 2}, backend)
	chol, _ := tensor.FromSlice([]float64{2, 0, 1, 3}, tensor.Shape{1, 4}, backend)
	eps, _ := tensor.FromSlice([]float64{1, 1}, tensor.Shape{1, 2}, backend)

	z := ReparameterizeFull(mean, chol, eps)
	assert.InDelta(t, 3, z.At(0, 0), 1e-12)
	assert.InDelta(t, 3, z.At(0, 1), 1e-12)
}

func TestReparameterizeFull_CovarianceStatistics(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(2))

	// Covariance LLᵀ for L = [[1,0],[0.8,0.6]] has off-diagonal 0.8.
	mean, _ := tensor.FromSlice([]float64{0, 0}, tensor.Shape{1, 2}, backend)
	chol, _ := tensor.FromSlice([]float64{1, 0, 0.8, 0.6}, tensor.Shape{1, 4}, backend)

	const draws = 20000
	var sum00, sum01 float64
	for i := 0; i < draws; i++ {
		z := ReparameterizeFull(mean, chol, Noise(1, 2, rng, backend))
		sum00 += z.At(0, 0) * z.At(0, 0)
		sum01 += z.At(0, 0) * z.At(0, 1)
	}
	assert.InDelta(t, 1.0, sum00/draws, 0.05)
	assert.InDelta(t, 0.8, sum01/draws, 0.05)
}

func TestIAFPosterior_ModeContract(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(3))

	chain, err := nn.NewIAFChain(2, 2, 8, "relu", rng, backend)
	require.NoError(t, err)
	post := NewIAFPosterior(chain)

	mean, _ := tensor.FromSlice([]float64{0, 0}, tensor.Shape{1, 2}, backend)
	logVar, _ := tensor.FromSlice([]float64{0, 0}, tensor.Shape{1, 2}, backend)
	eps := Noise(1, 2, rng, backend)

	_, _, err = post.Evaluate(mean, logVar, eps, true, true)
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, _, err = post.Evaluate(mean, logVar, eps, false, false)
	assert.ErrorIs(t, err, ErrInvalidMode)

	z, density, err := post.Evaluate(mean, logVar, eps, true, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2}, z.Shape())
	assert.Nil(t, density)

	z, density, err = post.Evaluate(mean, logVar, eps, false, true)
	require.NoError(t, err)
	require.NotNil(t, density)
	assert.Equal(t, tensor.Shape{1, 1}, density.Shape())
	assert.Equal(t, tensor.Shape{1, 2}, z.Shape())
}

func TestIAFPosterior_InferExceedsBaseDensity(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(4))

	chain, err := nn.NewIAFChain(3, 2, 8, "tanh", rng, backend)
	require.NoError(t, err)
	post := NewIAFPosterior(chain)

	mean, _ := tensor.FromSlice([]float64{0, 0, 0}, tensor.Shape{1, 3}, backend)
	logVar, _ := tensor.FromSlice([]float64{0, 0, 0}, tensor.Shape{1, 3}, backend)
	eps := Noise(1, 3, rng, backend)

	_, density, err := post.Evaluate(mean, logVar, eps, false, true)
	require.NoError(t, err)

	// Sigmoid gates contract volume, so the flow density at the draw is
	// above the base Gaussian density.
	base := gaussianLogDensity(mean, logVar, eps)
	assert.Greater(t, density.At(0, 0), base.At(0, 0))
}

func TestGaussianLogDensity_StandardNormalAtOrigin(t *testing.T) {
	backend := cpu.New()

	mean, _ := tensor.FromSlice([]float64{0}, tensor.Shape{1, 1}, backend)
	logVar, _ := tensor.FromSlice([]float64{0}, tensor.Shape{1, 1}, backend)
	eps, _ := tensor.FromSlice([]float64{0}, tensor.Shape{1, 1}, backend)

	got := gaussianLogDensity(mean, logVar, eps).At(0, 0)
	want := -0.5 * math.Log(2*math.Pi)
	assert.InDelta(t, want, got, 1e-12)
}
