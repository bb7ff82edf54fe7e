package train

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/HwanGoh/uq-vae/config"
	"github.com/HwanGoh/uq-vae/internal/autodiff"
	"github.com/HwanGoh/uq-vae/internal/optim"
	"github.com/HwanGoh/uq-vae/internal/tensor"
	"github.com/HwanGoh/uq-vae/metrics"
)

// ErrNumericalDivergence reports a non-finite training loss. The run stops
// immediately; the last good checkpoint is left untouched.
var ErrNumericalDivergence = errors.New("train: loss diverged to NaN or Inf")

// gradientNormTolerance terminates training once the summed gradient norm
// falls below this fraction of its epoch-0 baseline.
const gradientNormTolerance = 1e-6

// State is the trainer's lifecycle phase.
type State string

const (
	StateInitializing State = "initializing"
	StateTraining     State = "training"
	StateConverged    State = "converged"
	StateMaxEpochs    State = "max_epochs_reached"
	StateDiverged     State = "diverged"
)

// Single drives the single-device training loop: per epoch one pass over
// the training batches with gradient steps, then validation and test
// evaluations, metric logging, and a checkpoint decision.
type Single struct {
	objective Objective
	optimizer optim.Optimizer
	data      *Dataset
	metrics   *metrics.Metrics
	artifact  *Artifact
	hyperp    *config.Hyperparameters
	opts      *config.Options
	logger    *zap.Logger

	state            State
	baselineGradNorm float64
}

// NewSingle assembles a trainer. The logger may be nil.
func NewSingle(objective Objective, optimizer optim.Optimizer, data *Dataset, met *metrics.Metrics, artifact *Artifact, hyperp *config.Hyperparameters, opts *config.Options, logger *zap.Logger) (*Single, error) {
	if objective == nil || optimizer == nil || data == nil || data.Train == nil {
		return nil, fmt.Errorf("trainer: objective, optimizer and training data are all required")
	}
	if met == nil {
		met = metrics.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Single{
		objective: objective,
		optimizer: optimizer,
		data:      data,
		metrics:   met,
		artifact:  artifact,
		hyperp:    hyperp,
		opts:      opts,
		logger:    logger,
		state:     StateInitializing,
	}, nil
}

// State returns the trainer's current phase.
func (s *Single) State() State { return s.state }

// Run trains for up to the configured number of epochs, stopping early
// once the relative gradient norm converges. Both terminal states write a
// final checkpoint.
func (s *Single) Run() error {
	s.state = StateTraining
	backend := s.objective.Backend()

	for epoch := 0; epoch < s.hyperp.NumEpochs; epoch++ {
		epochStart := time.Now()

		lastGrads, err := s.trainEpoch(epoch, backend)
		if err != nil {
			s.state = StateDiverged
			return err
		}
		s.evalEpoch(s.data.Val, "val", false)
		s.evalEpoch(s.data.Test, "test", true)

		gradNorm := s.gradientNormSum(lastGrads)
		if epoch == 0 {
			s.baselineGradNorm = gradNorm
		}
		relative := 1.0
		if s.baselineGradNorm > 0 {
			relative = gradNorm / s.baselineGradNorm
		}
		s.metrics.RelativeGradientNorm = relative

		s.metrics.EmitTelemetry(epoch)
		s.emitHistograms(epoch, lastGrads)
		s.metrics.SnapshotToHistory()
		s.logger.Info("epoch complete",
			zap.Int("epoch", epoch),
			zap.Duration("elapsed", time.Since(epochStart)),
			zap.Float64("loss_train", s.metrics.Mean("loss_train")),
			zap.Float64("loss_val", s.metrics.Mean("loss_val")),
			zap.Float64("loss_test", s.metrics.Mean("loss_test")),
			zap.Float64("relative_gradient_norm", relative))
		s.metrics.ResetAll()

		if s.opts.CheckpointInterval > 0 && epoch%s.opts.CheckpointInterval == 0 {
			if err := s.checkpoint(); err != nil {
				return err
			}
		}

		if epoch > 0 && relative < gradientNormTolerance {
			s.state = StateConverged
			s.logger.Info("gradient norm converged", zap.Int("epoch", epoch),
				zap.Float64("relative_gradient_norm", relative))
			return s.checkpoint()
		}
	}

	s.state = StateMaxEpochs
	return s.checkpoint()
}

// trainEpoch runs one pass over the training batches and returns the
// gradients of the last batch, the source of the convergence signal.
func (s *Single) trainEpoch(epoch int, backend *autodiff.Backend) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	s.data.Train.StartEpoch()
	var lastGrads map[*tensor.RawTensor]*tensor.RawTensor

	for i := 0; i < s.data.Train.NumBatches(); i++ {
		batchStart := time.Now()
		pair := s.data.Train.Batch(i, backend)

		backend.Tape().Clear()
		backend.Tape().StartRecording()
		terms, err := s.objective.Losses(pair, true, pair.Rows())
		backend.Tape().StopRecording()
		if err != nil {
			return nil, err
		}

		total := terms.Total.Item()
		if s.opts.NaNGuard && (math.IsNaN(total) || math.IsInf(total, 0)) {
			s.logger.Error("non-finite training loss",
				zap.Int("epoch", epoch), zap.Int("batch", i), zap.Float64("loss", total))
			return nil, ErrNumericalDivergence
		}

		lastGrads = autodiff.Gradients(terms.Total, backend)
		s.optimizer.Step(lastGrads)
		s.recordTerms(terms, "train", false)

		if i == 0 {
			s.logger.Debug("batch timing",
				zap.Int("epoch", epoch),
				zap.Duration("time_per_batch", time.Since(batchStart)))
		}
	}
	return lastGrads, nil
}

// evalEpoch evaluates the objective over a sequence without recording
// gradients. Relative errors are folded only for the test split.
func (s *Single) evalEpoch(seq *BatchSequence, split string, withErrors bool) {
	if seq == nil {
		return
	}
	backend := s.objective.Backend()
	seq.StartEpoch()
	for i := 0; i < seq.NumBatches(); i++ {
		pair := seq.Batch(i, backend)
		terms, err := s.objective.Losses(pair, false, pair.Rows())
		if err != nil {
			s.logger.Warn("evaluation failed", zap.String("split", split), zap.Error(err))
			return
		}
		s.recordTerms(terms, split, withErrors)
	}
}

// recordTerms folds one evaluation into the aggregator under split-suffixed
// names: "loss" becomes "loss_train", "loss_vae" becomes "loss_train_vae".
func (s *Single) recordTerms(terms *LossTerms, split string, withErrors bool) {
	for name, values := range terms.PerExample {
		s.metrics.Record(splitMetricName(name, split), values)
	}
	if withErrors {
		for name, values := range terms.Errors {
			s.metrics.Record(name, values)
		}
	}
}

func (s *Single) gradientNormSum(grads map[*tensor.RawTensor]*tensor.RawTensor) float64 {
	sum := 0.0
	for _, p := range s.objective.Parameters() {
		g, ok := grads[p.Raw()]
		if !ok {
			continue
		}
		sq := 0.0
		for _, v := range g.Float64() {
			sq += v * v
		}
		sum += math.Sqrt(sq)
	}
	return sum
}

func (s *Single) emitHistograms(epoch int, grads map[*tensor.RawTensor]*tensor.RawTensor) {
	var weights, gradVals []float64
	for _, p := range s.objective.Parameters() {
		weights = append(weights, p.Tensor().Data()...)
		if g, ok := grads[p.Raw()]; ok {
			gradVals = append(gradVals, g.Float64()...)
		}
	}
	s.metrics.EmitHistogram("weights", weights, epoch)
	s.metrics.EmitHistogram("gradients", gradVals, epoch)
}

func (s *Single) checkpoint() error {
	if s.artifact == nil {
		return nil
	}
	return s.artifact.Checkpoint(s.objective.Network(), s.metrics, s.hyperp, s.opts)
}

func splitMetricName(name, split string) string {
	if name == "loss" {
		return "loss_" + split
	}
	const prefix = "loss_"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return "loss_" + split + "_" + name[len(prefix):]
	}
	return name + "_" + split
}
