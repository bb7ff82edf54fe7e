package train

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/HwanGoh/uq-vae/config"
	"github.com/HwanGoh/uq-vae/forward"
	"github.com/HwanGoh/uq-vae/internal/autodiff"
	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/optim"
	"github.com/HwanGoh/uq-vae/internal/tensor"
	"github.com/HwanGoh/uq-vae/loss"
	"github.com/HwanGoh/uq-vae/metrics"
	"github.com/HwanGoh/uq-vae/sample"
)

func TestBatchSequence_FixedOrderWithoutShuffle(t *testing.T) {
	backend := cpu.New()
	inputs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	latents := []float64{10, 20, 30, 40, 50}
	seq, err := NewBatchSequence(inputs, latents, 5, 2, 1, 2, false, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, seq.NumBatches())
	seq.StartEpoch()

	first := seq.Batch(0, backend)
	assert.Equal(t, []float64{1, 2, 3, 4}, first.Input.Data())
	assert.Equal(t, []float64{10, 20}, first.Latent.Data())

	// The last batch carries the remainder.
	last := seq.Batch(2, backend)
	assert.Equal(t, 1, last.Rows())
	assert.Equal(t, []float64{9, 10}, last.Input.Data())
}

func TestBatchSequence_ShuffleCoversAllRows(t *testing.T) {
	backend := cpu.New()
	n := 7
	inputs := make([]float64, n)
	latents := make([]float64, n)
	for i := 0; i < n; i++ {
		inputs[i] = float64(i)
		latents[i] = float64(100 + i)
	}
	seq, err := NewBatchSequence(inputs, latents, n, 1, 1, 3, true, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	for epoch := 0; epoch < 2; epoch++ {
		seq.StartEpoch()
		seen := map[float64]float64{}
		for i := 0; i < seq.NumBatches(); i++ {
			pair := seq.Batch(i, backend)
			for r := 0; r < pair.Rows(); r++ {
				seen[pair.Input.At(r, 0)] = pair.Latent.At(r, 0)
			}
		}
		require.Len(t, seen, n)
		for i := 0; i < n; i++ {
			// Rows stay aligned with their latent partners under shuffling.
			assert.Equal(t, float64(100+i), seen[float64(i)])
		}
	}
}

func TestBatchSequence_Validation(t *testing.T) {
	_, err := NewBatchSequence([]float64{1}, []float64{1}, 2, 1, 1, 1, false, nil)
	assert.Error(t, err)
	_, err = NewBatchSequence([]float64{1, 2}, []float64{1, 2}, 2, 1, 1, 0, false, nil)
	assert.Error(t, err)
	_, err = NewBatchSequence([]float64{1, 2}, []float64{1, 2}, 2, 1, 1, 1, true, nil)
	assert.Error(t, err)
}

func TestShardRows(t *testing.T) {
	total := 0
	for r := 0; r < 3; r++ {
		total += shardRows(7, 3, r)
	}
	assert.Equal(t, 7, total)
	assert.Equal(t, 3, shardRows(7, 3, 0))
	assert.Equal(t, 2, shardRows(7, 3, 2))
	assert.Equal(t, 0, shardRows(1, 3, 2))
}

// stubObjective drives the trainer state machine with a scripted gradient
// schedule: each training evaluation k yields loss factors[k]·Σw, whose
// gradient magnitude is exactly factors[k] per weight entry.
type stubObjective struct {
	backend *autodiff.Backend
	net     *nn.Linear
	factors []float64
	call    int
}

func newStubObjective(factors []float64) *stubObjective {
	backend := autodiff.New(cpu.New())
	return &stubObjective{
		backend: backend,
		net:     nn.NewLinear(2, 1, rand.New(rand.NewSource(3)), backend),
		factors: factors,
	}
}

func (s *stubObjective) Losses(pair BatchPair, training bool, totalExamples int) (*LossTerms, error) {
	k := s.factors[s.call%len(s.factors)]
	if training {
		s.call++
	}
	total := s.net.Parameters()[0].Tensor().MulScalar(k).Sum()
	perExample, err := tensor.FromSlice([]float64{total.Item()}, tensor.Shape{1, 1}, s.backend)
	if err != nil {
		return nil, err
	}
	return &LossTerms{
		Total:      total,
		PerExample: map[string]*tensor.Tensor{"loss": perExample},
		Errors:     map[string]*tensor.Tensor{},
	}, nil
}

func (s *stubObjective) Posterior(*tensor.Tensor) PosteriorEstimate {
	return PosteriorEstimate{}
}

func (s *stubObjective) Network() nn.Module { return s.net }

func (s *stubObjective) Parameters() []*nn.Parameter { return s.net.Parameters() }

func (s *stubObjective) Backend() *autodiff.Backend { return s.backend }

func (s *stubObjective) Replicate(int64) (Objective, error) {
	return nil, nil
}

func stubDataset(t *testing.T) *Dataset {
	t.Helper()
	seq, err := NewBatchSequence([]float64{1, 2}, []float64{1}, 1, 2, 1, 1, false, nil)
	require.NoError(t, err)
	return &Dataset{Train: seq}
}

func stubConfig(epochs, interval int, nanGuard bool) (*config.Hyperparameters, *config.Options) {
	h := &config.Hyperparameters{NumEpochs: epochs, BatchSize: 1}
	o := &config.Options{CheckpointInterval: interval, NaNGuard: nanGuard}
	return h, o
}

func TestSingle_ConvergesOnGradientNorm(t *testing.T) {
	// Gradient magnitudes 1, 1, 1, 1e-8: the relative norm crosses the
	// tolerance at epoch 3 of 10.
	obj := newStubObjective([]float64{1, 1, 1, 1e-8})
	h, o := stubConfig(10, 5, false)
	artifact, err := NewArtifact(t.TempDir())
	require.NoError(t, err)

	trainer, err := NewSingle(obj, optim.NewSGD(obj.Parameters(), optim.SGDConfig{LR: 0.1}),
		stubDataset(t), nil, artifact, h, o, nil)
	require.NoError(t, err)

	require.NoError(t, trainer.Run())
	assert.Equal(t, StateConverged, trainer.State())
	assert.Equal(t, 4, obj.call)

	// Terminal states checkpoint unconditionally.
	_, err = os.Stat(artifact.WeightsPath())
	assert.NoError(t, err)
}

func TestSingle_LossDecreasesOnIdentityForwardModel(t *testing.T) {
	// Noiseless data through the identity forward map: observations equal
	// parameters exactly. Small-step descent on the deterministic
	// full-linear objective must not increase the training loss.
	obj, _ := fullLinearFixture(t, 13)

	n := 4
	values := []float64{0.2, -0.1, 0.4, 0.3, -0.5, 0.1, 0.6, -0.2}
	seq, err := NewBatchSequence(values, values, n, 2, 2, n, false, nil)
	require.NoError(t, err)
	data := &Dataset{Train: seq}

	met := metrics.New(nil)
	h := &config.Hyperparameters{NumEpochs: 5, BatchSize: n}
	o := &config.Options{CheckpointInterval: 0, NaNGuard: true}
	trainer, err := NewSingle(obj, optim.NewSGD(obj.Parameters(), optim.SGDConfig{LR: 1e-4}),
		data, met, nil, h, o, nil)
	require.NoError(t, err)

	require.NoError(t, trainer.Run())
	history := met.History("loss_train")
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		if history[i] > history[i-1]+1e-9 {
			t.Errorf("epoch %d loss %.12f exceeds epoch %d loss %.12f", i, history[i], i-1, history[i-1])
		}
	}
}

func TestSingle_StopsAtMaxEpochs(t *testing.T) {
	obj := newStubObjective([]float64{1})
	h, o := stubConfig(3, 0, false)

	trainer, err := NewSingle(obj, optim.NewSGD(obj.Parameters(), optim.SGDConfig{LR: 0.1}),
		stubDataset(t), nil, nil, h, o, nil)
	require.NoError(t, err)

	require.NoError(t, trainer.Run())
	assert.Equal(t, StateMaxEpochs, trainer.State())
	assert.Equal(t, 3, obj.call)
}

func TestSingle_NaNGuardPreservesLastCheckpoint(t *testing.T) {
	obj := newStubObjective([]float64{1, math.NaN()})
	h, o := stubConfig(5, 1, true)
	artifact, err := NewArtifact(t.TempDir())
	require.NoError(t, err)

	trainer, err := NewSingle(obj, optim.NewSGD(obj.Parameters(), optim.SGDConfig{LR: 0.1}),
		stubDataset(t), nil, artifact, h, o, nil)
	require.NoError(t, err)

	err = trainer.Run()
	assert.ErrorIs(t, err, ErrNumericalDivergence)
	assert.Equal(t, StateDiverged, trainer.State())

	// The epoch-0 checkpoint survives the abort.
	fresh := nn.NewLinear(2, 1, rand.New(rand.NewSource(9)), cpu.New())
	assert.NoError(t, nn.LoadWeights(artifact.WeightsPath(), fresh))
}

func diagonalFixture(t *testing.T, seed int64) (*DiagonalModelAware, *nn.VAE, *autodiff.Backend) {
	t.Helper()
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(seed))
	vae, err := nn.NewVAE(3, 2, []int{4}, "tanh", rng, backend)
	require.NoError(t, err)
	prior, err := loss.IsotropicPrior(2, 0, 1, backend)
	require.NoError(t, err)
	noise, err := tensor.FromSlice([]float64{1, 1, 1}, tensor.Shape{1, 3}, backend)
	require.NoError(t, err)
	obj, err := NewDiagonalModelAware(vae, noise, prior, 1, false, backend, rng)
	require.NoError(t, err)
	return obj, vae, backend
}

func TestDiagonalObjective_LossTermShapes(t *testing.T) {
	obj, _, backend := diagonalFixture(t, 11)

	input, err := tensor.FromSlice([]float64{
		0.1, 0.2, 0.3,
		0.4, 0.5, 0.6,
		0.7, 0.8, 0.9,
		1.0, 1.1, 1.2,
	}, tensor.Shape{4, 3}, backend)
	require.NoError(t, err)
	latent, err := tensor.FromSlice([]float64{
		0.1, 0.2,
		0.3, 0.4,
		0.5, 0.6,
		0.7, 0.8,
	}, tensor.Shape{4, 2}, backend)
	require.NoError(t, err)

	terms, err := obj.Losses(BatchPair{Input: input, Latent: latent}, true, 4)
	require.NoError(t, err)

	assert.Equal(t, 1, terms.Total.NumElements())
	assert.False(t, math.IsNaN(terms.Total.Item()))
	for _, name := range []string{"loss", "loss_vae", "loss_encoder", "loss_posterior"} {
		require.Contains(t, terms.PerExample, name)
		assert.Equal(t, tensor.Shape{4, 1}, terms.PerExample[name].Shape())
	}
	for _, name := range []string{
		"relative_error_input_vae",
		"relative_error_latent_posterior",
		"relative_error_input_decoder",
	} {
		require.Contains(t, terms.Errors, name)
		assert.Equal(t, tensor.Shape{4, 1}, terms.Errors[name].Shape())
	}
}

func TestSingle_TrainsDiagonalObjective(t *testing.T) {
	obj, vae, _ := diagonalFixture(t, 11)

	n := 6
	rng := rand.New(rand.NewSource(2))
	inputs := make([]float64, n*3)
	latents := make([]float64, n*2)
	for i := range inputs {
		inputs[i] = rng.NormFloat64()
	}
	for i := range latents {
		latents[i] = rng.NormFloat64()
	}
	seq, err := NewBatchSequence(inputs, latents, n, 3, 2, 3, true, rng)
	require.NoError(t, err)
	data := &Dataset{Train: seq, Val: seq, Test: seq}

	met := metrics.New(nil)
	artifact, err := NewArtifact(t.TempDir())
	require.NoError(t, err)

	h := &config.Hyperparameters{NumEpochs: 3, BatchSize: 3}
	o := &config.Options{CheckpointInterval: 2, NaNGuard: true}
	trainer, err := NewSingle(obj, optim.NewAdam(obj.Parameters(), optim.AdamConfig{LR: 0.01}),
		data, met, artifact, h, o, nil)
	require.NoError(t, err)

	require.NoError(t, trainer.Run())
	assert.Equal(t, StateMaxEpochs, trainer.State())
	assert.Len(t, met.History("loss_train"), 3)
	assert.Len(t, met.History("relative_error_latent_posterior"), 3)

	// Checkpoint round-trip reproduces predictions bit-exactly.
	freshBackend := autodiff.New(cpu.New())
	fresh, err := nn.NewVAE(3, 2, []int{4}, "tanh", rand.New(rand.NewSource(99)), freshBackend)
	require.NoError(t, err)
	require.NoError(t, nn.LoadWeights(artifact.WeightsPath(), fresh))

	z, err := tensor.FromSlice([]float64{0.3, -0.7}, tensor.Shape{1, 2}, freshBackend)
	require.NoError(t, err)
	want := vae.Decode(z.WithBackend(obj.Backend())).Data()
	got := fresh.Decode(z).Data()
	assert.Equal(t, want, got)
}

func fullLinearFixture(t *testing.T, seed int64) (*FullLinearModelAugmented, *autodiff.Backend) {
	t.Helper()
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(seed))
	vae, err := nn.NewVAEFull(2, 2, []int{4}, "tanh", rng, backend)
	require.NoError(t, err)

	prior, err := loss.IsotropicPrior(2, 0, 1, backend)
	require.NoError(t, err)
	eye := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	operators, err := loss.NewOperators(eye, eye, []float64{1, 1}, prior, backend)
	require.NoError(t, err)
	model, err := forward.NewFEMLinear(eye, []float64{0, 0}, eye, nil, backend)
	require.NoError(t, err)

	obj, err := NewFullLinearModelAugmented(vae, model, operators, 1, false, backend)
	require.NoError(t, err)
	return obj, backend
}

func TestFullLinearObjective_EvalSkipsLikelihood(t *testing.T) {
	obj, backend := fullLinearFixture(t, 5)

	input, err := tensor.FromSlice([]float64{0.2, -0.1, 0.4, 0.3}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	latent, err := tensor.FromSlice([]float64{0.1, 0.1, -0.2, 0.5}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	pair := BatchPair{Input: input, Latent: latent}

	trained, err := obj.Losses(pair, true, 2)
	require.NoError(t, err)
	assert.Contains(t, trained.PerExample, "loss_vae")

	evaluated, err := obj.Losses(pair, false, 2)
	require.NoError(t, err)
	assert.NotContains(t, evaluated.PerExample, "loss_vae")

	// Shared terms agree: the objective is deterministic.
	assert.InDelta(t,
		trained.PerExample["loss_encoder"].At(0, 0),
		evaluated.PerExample["loss_encoder"].At(0, 0), 1e-12)
}

func TestDistributed_MatchesSingleDevice(t *testing.T) {
	n := 4
	inputs := []float64{0.2, -0.1, 0.4, 0.3, -0.5, 0.1, 0.6, -0.2}
	latents := []float64{0.1, 0.1, -0.2, 0.5, 0.3, -0.4, 0.0, 0.2}

	run := func(replicas int) []float64 {
		obj, _ := fullLinearFixture(t, 7)
		seq, err := NewBatchSequence(inputs, latents, n, 2, 2, 4, false, nil)
		require.NoError(t, err)
		data := &Dataset{Train: seq}

		h := &config.Hyperparameters{NumEpochs: 2, BatchSize: 4}
		opt := optim.NewSGD(obj.Parameters(), optim.SGDConfig{LR: 0.05})

		if replicas == 1 {
			o := &config.Options{CheckpointInterval: 0}
			trainer, err := NewSingle(obj, opt, data, nil, nil, h, o, nil)
			require.NoError(t, err)
			require.NoError(t, trainer.Run())
		} else {
			o := &config.Options{CheckpointInterval: 0, NumReplicas: replicas, Distributed: true}
			met := metrics.New(nil)
			trainer, err := NewDistributed(obj, opt, data, met, nil, h, o, nil)
			require.NoError(t, err)
			require.NoError(t, trainer.Run())

			// The bookkeeping is per epoch: after the run the counter
			// covers only the last epoch's single batch, and the average
			// agrees with that epoch's aggregator mean over the four
			// examples rather than a whole-run mean.
			assert.Equal(t, 1, trainer.batchCounter)
			history := met.History("loss_train")
			require.Len(t, history, 2)
			assert.NotEqual(t, history[0], history[1])
			assert.InDelta(t, history[1]*float64(n), trainer.LossAverage(), 1e-9)
		}

		var weights []float64
		for _, p := range obj.Parameters() {
			weights = append(weights, p.Tensor().Data()...)
		}
		return weights
	}

	single := run(1)
	sharded := run(2)
	require.Len(t, sharded, len(single))
	for i := range single {
		assert.InDelta(t, single[i], sharded[i], 1e-9)
	}
}

func TestIAFObjective_LossTerms(t *testing.T) {
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(21))
	vae, err := nn.NewVAE(3, 2, []int{4}, "tanh", rng, backend)
	require.NoError(t, err)
	chain, err := nn.NewIAFChain(2, 2, 4, "relu", rng, backend)
	require.NoError(t, err)
	prior, err := loss.IsotropicPrior(2, 0, 1, backend)
	require.NoError(t, err)
	noise, err := tensor.FromSlice([]float64{1, 1, 1}, tensor.Shape{1, 3}, backend)
	require.NoError(t, err)

	obj, err := NewIAFModelAware(vae, sample.NewIAFPosterior(chain), noise, prior, false, backend, rng)
	require.NoError(t, err)

	input, err := tensor.FromSlice([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, tensor.Shape{2, 3}, backend)
	require.NoError(t, err)
	latent, err := tensor.FromSlice([]float64{0.1, -0.2, 0.3, 0.4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)

	terms, err := obj.Losses(BatchPair{Input: input, Latent: latent}, true, 2)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(terms.Total.Item()))
	for _, name := range []string{"loss", "loss_vae", "loss_encoder", "loss_prior", "loss_posterior"} {
		require.Contains(t, terms.PerExample, name)
		assert.Equal(t, tensor.Shape{2, 1}, terms.PerExample[name].Shape())
	}

	// Flow parameters train alongside the base network.
	assert.Greater(t, len(obj.Parameters()), len(vae.Parameters()))
}

func TestArtifact_CheckpointWritesRunDirectory(t *testing.T) {
	root := t.TempDir()
	artifact, err := NewArtifact(root)
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.RunID())

	net := nn.NewLinear(2, 2, rand.New(rand.NewSource(1)), cpu.New())
	met := metrics.New(nil)
	met.RecordScalar("loss_train", 1)
	met.SnapshotToHistory()

	h := &config.Hyperparameters{NumEpochs: 1, BatchSize: 1}
	o := &config.Options{CheckpointInterval: 1}
	require.NoError(t, artifact.Checkpoint(net, met, h, o))

	for _, name := range []string{"weights.json", "metrics.csv", "hyperp.yaml", "options.yaml"} {
		_, err := os.Stat(filepath.Join(artifact.Dir(), name))
		assert.NoError(t, err, name)
	}
}
