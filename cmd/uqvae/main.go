// Package main provides the uq-vae training CLI: single-device or
// replicated training of an uncertainty-quantified VAE on synthetic
// inverse-problem data, with optional hyperparameter sweeps.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

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
	"github.com/HwanGoh/uq-vae/sched"
	"github.com/HwanGoh/uq-vae/train"
)

func main() {
	hyperpPath := flag.String("hyperp", "", "Hyperparameters YAML (built-in defaults when empty)")
	optionsPath := flag.String("options", "", "Options YAML (built-in defaults when empty)")
	gridPath := flag.String("grid", "", "Hyperparameter grid YAML; runs the full sweep")
	outDir := flag.String("out", "trained_nns", "Run artifact root directory")
	dataDim := flag.Int("data-dim", 20, "Observable dimension of the synthetic dataset")
	latentDim := flag.Int("latent-dim", 10, "Parameter dimension of the synthetic dataset")
	workers := flag.Int("workers", 1, "Sweep worker count")
	telemetryAddr := flag.String("telemetry", "", "Prometheus listen address (empty disables)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	hyperp := defaultHyperparameters()
	if *hyperpPath != "" {
		hyperp, err = config.LoadHyperparameters(*hyperpPath)
		fatalOn(logger, "loading hyperparameters", err)
	}
	opts := defaultOptions()
	if *optionsPath != "" {
		opts, err = config.LoadOptions(*optionsPath)
		fatalOn(logger, "loading options", err)
	}

	var telemetry metrics.Telemetry
	if *telemetryAddr != "" {
		registry := prometheus.NewRegistry()
		telemetry, err = metrics.NewPrometheusTelemetry(registry)
		fatalOn(logger, "registering telemetry", err)
		go func() {
			handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
			if err := http.ListenAndServe(*telemetryAddr, handler); err != nil {
				logger.Warn("telemetry server stopped", zap.Error(err))
			}
		}()
		logger.Info("telemetry listening", zap.String("addr", *telemetryAddr))
	}

	runOne := func(h *config.Hyperparameters) error {
		return runScenario(h, opts, *outDir, *dataDim, *latentDim, telemetry, logger)
	}

	if *gridPath == "" {
		fatalOn(logger, "training", runOne(hyperp))
		return
	}

	grid, err := loadGrid(*gridPath)
	fatalOn(logger, "loading grid", err)
	scenarios := sched.Combinations(grid)
	logger.Info("sweep expanded", zap.Int("scenarios", len(scenarios)))

	pool, err := sched.NewPool(scenarios, *workers, logger)
	fatalOn(logger, "building pool", err)
	for i := 0; i < *workers; i++ {
		w := pool.Worker(fmt.Sprintf("worker-%d", i), func(s sched.Scenario) error {
			h := *hyperp
			if err := config.ApplyScenario(&h, s); err != nil {
				return err
			}
			return runOne(&h)
		})
		go w.Run()
	}
	fatalOn(logger, "sweep", pool.Run())
}

// runScenario trains one configuration end to end on synthetic data.
func runScenario(hyperp *config.Hyperparameters, opts *config.Options, outDir string, dataDim, latentDim int, telemetry metrics.Telemetry, logger *zap.Logger) error {
	if err := hyperp.Validate(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(opts.RandomSeed))

	prior, err := loss.IsotropicPrior(latentDim, 0, 1, backend)
	if err != nil {
		return err
	}

	objective, obsDim, err := buildObjective(hyperp, opts, dataDim, latentDim, prior, backend, rng)
	if err != nil {
		return err
	}

	data, err := syntheticDataset(hyperp, obsDim, latentDim, rng)
	if err != nil {
		return err
	}

	artifact, err := train.NewArtifact(outDir)
	if err != nil {
		return err
	}
	logger.Info("run starting",
		zap.String("run_id", artifact.RunID()),
		zap.String("posterior_family", string(opts.PosteriorFamily)),
		zap.String("model_mode", string(opts.ModelMode)),
		zap.Bool("distributed", opts.Distributed))

	met := metrics.New(telemetry)
	optimizer := optim.NewAdam(objective.Parameters(), optim.AdamConfig{LR: hyperp.LearningRate})

	if opts.Distributed {
		trainer, err := train.NewDistributed(objective, optimizer, data, met, artifact, hyperp, opts, logger)
		if err != nil {
			return err
		}
		return trainer.Run()
	}
	trainer, err := train.NewSingle(objective, optimizer, data, met, artifact, hyperp, opts, logger)
	if err != nil {
		return err
	}
	return trainer.Run()
}

// buildObjective assembles the network and loss for the configured
// posterior family. It returns the observable dimension the dataset must
// provide.
func buildObjective(hyperp *config.Hyperparameters, opts *config.Options, dataDim, latentDim int, prior *loss.PriorTerms, backend *autodiff.Backend, rng *rand.Rand) (train.Objective, int, error) {
	noise := make([]float64, dataDim)
	for i := range noise {
		noise[i] = 1
	}

	switch opts.PosteriorFamily {
	case config.PosteriorDiagonal:
		vae, err := nn.NewVAE(dataDim, latentDim, hyperp.HiddenWidths(), hyperp.Activation, rng, backend)
		if err != nil {
			return nil, 0, err
		}
		noiseT, err := tensorFromRow(noise, backend)
		if err != nil {
			return nil, 0, err
		}
		obj, err := train.NewDiagonalModelAware(vae, noiseT, prior, hyperp.PenaltyWeight(), opts.InvertLossSign, backend, rng)
		return obj, dataDim, err

	case config.PosteriorFull:
		vae, err := nn.NewVAEFull(dataDim, latentDim, hyperp.HiddenWidths(), hyperp.Activation, rng, backend)
		if err != nil {
			return nil, 0, err
		}
		// Synthetic affine forward problem: random stiffness acting on
		// the parameter, observed at every node.
		mass := randomOperator(dataDim, latentDim, rng)
		solution := identityOperator(dataDim)
		model, err := forward.NewFEMLinear(mass, make([]float64, dataDim), solution, nil, backend)
		if err != nil {
			return nil, 0, err
		}
		operators, err := loss.NewOperators(mass, identityOperator(dataDim), noise, prior, backend)
		if err != nil {
			return nil, 0, err
		}
		obj, err := train.NewFullLinearModelAugmented(vae, model, operators, hyperp.PenaltyWeight(), opts.InvertLossSign, backend)
		return obj, dataDim, err

	case config.PosteriorIAF:
		vae, err := nn.NewVAE(dataDim, latentDim, hyperp.HiddenWidths(), hyperp.Activation, rng, backend)
		if err != nil {
			return nil, 0, err
		}
		chain, err := nn.NewIAFChain(latentDim, hyperp.NumIAFTransforms, hyperp.NumNodesIAF, hyperp.ActivationIAF, rng, backend)
		if err != nil {
			return nil, 0, err
		}
		noiseT, err := tensorFromRow(noise, backend)
		if err != nil {
			return nil, 0, err
		}
		obj, err := train.NewIAFModelAware(vae, sample.NewIAFPosterior(chain), noiseT, prior, opts.InvertLossSign, backend, rng)
		return obj, dataDim, err
	}
	return nil, 0, fmt.Errorf("unsupported posterior family %q", opts.PosteriorFamily)
}

// syntheticDataset draws standard-normal parameters and observes them
// through a fixed random affine map with additive noise, split
// 80/10/10.
func syntheticDataset(hyperp *config.Hyperparameters, obsDim, latentDim int, rng *rand.Rand) (*train.Dataset, error) {
	n := hyperp.NumDataTrain
	if n <= 0 {
		n = 500
	}
	nVal, nTest := n/8, n/8
	total := n + nVal + nTest

	operator := randomOperator(obsDim, latentDim, rng)
	latents := make([]float64, total*latentDim)
	inputs := make([]float64, total*obsDim)
	for r := 0; r < total; r++ {
		for j := 0; j < latentDim; j++ {
			latents[r*latentDim+j] = rng.NormFloat64()
		}
		for i := 0; i < obsDim; i++ {
			v := 0.05 * rng.NormFloat64()
			for j := 0; j < latentDim; j++ {
				v += operator.At(i, j) * latents[r*latentDim+j]
			}
			inputs[r*obsDim+i] = v
		}
	}

	cut1 := n * obsDim
	cut2 := (n + nVal) * obsDim
	lcut1 := n * latentDim
	lcut2 := (n + nVal) * latentDim

	trainSeq, err := train.NewBatchSequence(inputs[:cut1], latents[:lcut1], n, obsDim, latentDim, hyperp.BatchSize, true, rng)
	if err != nil {
		return nil, err
	}
	valSeq, err := train.NewBatchSequence(inputs[cut1:cut2], latents[lcut1:lcut2], nVal, obsDim, latentDim, hyperp.BatchSize, false, nil)
	if err != nil {
		return nil, err
	}
	testSeq, err := train.NewBatchSequence(inputs[cut2:], latents[lcut2:], nTest, obsDim, latentDim, hyperp.BatchSize, false, nil)
	if err != nil {
		return nil, err
	}
	return &train.Dataset{Train: trainSeq, Val: valSeq, Test: testSeq}, nil
}

func randomOperator(rows, cols int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() / float64(cols)
	}
	return mat.NewDense(rows, cols, data)
}

func identityOperator(d int) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func tensorFromRow(row []float64, backend *autodiff.Backend) (*tensor.Tensor, error) {
	return tensor.FromSlice(row, tensor.Shape{1, len(row)}, backend)
}

func defaultHyperparameters() *config.Hyperparameters {
	return &config.Hyperparameters{
		NumHiddenLayers:  3,
		NumHiddenNodes:   100,
		Activation:       "relu",
		PenaltyJS:        0.5,
		BatchSize:        100,
		NumEpochs:        100,
		NumDataTrain:     500,
		LearningRate:     0.001,
		NumIAFTransforms: 2,
		NumNodesIAF:      100,
		ActivationIAF:    "relu",
	}
}

func defaultOptions() *config.Options {
	return &config.Options{
		ObservationType:    "full",
		ModelMode:          config.ModelAware,
		PosteriorFamily:    config.PosteriorDiagonal,
		Device:             "cpu",
		RandomSeed:         4,
		CheckpointInterval: 100,
		NaNGuard:           true,
	}
}

func loadGrid(path string) (map[string][]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading grid: %w", err)
	}
	grid := map[string][]any{}
	if err := yaml.Unmarshal(raw, &grid); err != nil {
		return nil, fmt.Errorf("parsing grid: %w", err)
	}
	return grid, nil
}

func fatalOn(logger *zap.Logger, what string, err error) {
	if err != nil {
		logger.Error(what, zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
