package train

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HwanGoh/uq-vae/config"
	"github.com/HwanGoh/uq-vae/internal/autodiff"
	"github.com/HwanGoh/uq-vae/internal/optim"
	"github.com/HwanGoh/uq-vae/internal/tensor"
	"github.com/HwanGoh/uq-vae/metrics"
)

// Distributed drives the same epoch state machine as Single with each
// global batch sharded across in-process replicas. Every replica owns a
// backend and tape but shares parameter storage with the primary, so the
// reduced gradient maps key off the same tensors and a single optimizer
// step is visible everywhere.
type Distributed struct {
	replicas  []Objective // replicas[0] is the primary
	optimizer optim.Optimizer
	data      *Dataset
	metrics   *metrics.Metrics
	artifact  *Artifact
	hyperp    *config.Hyperparameters
	opts      *config.Options
	logger    *zap.Logger

	state            State
	baselineGradNorm float64

	// Loss accounting kept alongside the aggregator, zeroed at the start
	// of every epoch like the aggregator itself.
	totalLossTrain float64
	batchCounter   int
}

// NewDistributed replicates the objective across opts.NumReplicas
// evaluation contexts. The objective itself serves as the first replica.
func NewDistributed(objective Objective, optimizer optim.Optimizer, data *Dataset, met *metrics.Metrics, artifact *Artifact, hyperp *config.Hyperparameters, opts *config.Options, logger *zap.Logger) (*Distributed, error) {
	if objective == nil || optimizer == nil || data == nil || data.Train == nil {
		return nil, fmt.Errorf("trainer: objective, optimizer and training data are all required")
	}
	if opts.NumReplicas < 1 {
		return nil, fmt.Errorf("trainer: need at least one replica, got %d", opts.NumReplicas)
	}
	if met == nil {
		met = metrics.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	replicas := make([]Objective, opts.NumReplicas)
	replicas[0] = objective
	for i := 1; i < opts.NumReplicas; i++ {
		replica, err := objective.Replicate(opts.RandomSeed + int64(i))
		if err != nil {
			return nil, fmt.Errorf("trainer: replica %d: %w", i, err)
		}
		replicas[i] = replica
	}
	return &Distributed{
		replicas:  replicas,
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
func (d *Distributed) State() State { return d.state }

// LossAverage returns the mean of the current epoch's global-batch
// training losses, the same quantity the aggregator reports for the
// epoch up to its per-example scaling.
func (d *Distributed) LossAverage() float64 {
	if d.batchCounter == 0 {
		return 0
	}
	return d.totalLossTrain / float64(d.batchCounter)
}

// Run trains for up to the configured number of epochs, with the same
// termination and checkpoint behavior as Single.Run.
func (d *Distributed) Run() error {
	d.state = StateTraining
	d.logger.Info("replicas in sync", zap.Int("count", len(d.replicas)))

	for epoch := 0; epoch < d.hyperp.NumEpochs; epoch++ {
		epochStart := time.Now()

		lastGrads, err := d.trainEpoch(epoch)
		if err != nil {
			d.state = StateDiverged
			return err
		}
		d.evalEpoch(d.data.Val, "val", false)
		d.evalEpoch(d.data.Test, "test", true)

		gradNorm := d.gradientNormSum(lastGrads)
		if epoch == 0 {
			d.baselineGradNorm = gradNorm
		}
		relative := 1.0
		if d.baselineGradNorm > 0 {
			relative = gradNorm / d.baselineGradNorm
		}
		d.metrics.RelativeGradientNorm = relative

		d.metrics.EmitTelemetry(epoch)
		d.metrics.SnapshotToHistory()
		d.logger.Info("epoch complete",
			zap.Int("epoch", epoch),
			zap.Duration("elapsed", time.Since(epochStart)),
			zap.Float64("loss_train", d.metrics.Mean("loss_train")),
			zap.Float64("loss_train_running", d.LossAverage()),
			zap.Float64("relative_gradient_norm", relative))
		d.metrics.ResetAll()

		if d.opts.CheckpointInterval > 0 && epoch%d.opts.CheckpointInterval == 0 {
			if err := d.checkpoint(); err != nil {
				return err
			}
		}

		if epoch > 0 && relative < gradientNormTolerance {
			d.state = StateConverged
			return d.checkpoint()
		}
	}

	d.state = StateMaxEpochs
	return d.checkpoint()
}

type replicaResult struct {
	terms *LossTerms
	grads map[*tensor.RawTensor]*tensor.RawTensor
	err   error
}

func (d *Distributed) trainEpoch(epoch int) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	d.data.Train.StartEpoch()
	d.totalLossTrain = 0
	d.batchCounter = 0
	primary := d.replicas[0]
	var lastGrads map[*tensor.RawTensor]*tensor.RawTensor

	for i := 0; i < d.data.Train.NumBatches(); i++ {
		pair := d.data.Train.Batch(i, primary.Backend())
		globalRows := pair.Rows()

		results := make([]replicaResult, len(d.replicas))
		var wg sync.WaitGroup
		start := 0
		for r, replica := range d.replicas {
			rows := shardRows(globalRows, len(d.replicas), r)
			if rows == 0 {
				continue
			}
			localPair := shard(pair, start, start+rows, replica.Backend())
			start += rows

			wg.Add(1)
			go func(r int, replica Objective, localPair BatchPair) {
				defer wg.Done()
				tape := replica.Backend().Tape()
				tape.Clear()
				tape.StartRecording()
				terms, err := replica.Losses(localPair, true, globalRows)
				tape.StopRecording()
				if err != nil {
					results[r] = replicaResult{err: err}
					return
				}
				grads := autodiff.Gradients(terms.Total, replica.Backend())
				results[r] = replicaResult{terms: terms, grads: grads}
			}(r, replica, localPair)
		}
		wg.Wait()

		grads, total, err := d.reduce(results, globalRows)
		if err != nil {
			return nil, err
		}
		if d.opts.NaNGuard && (math.IsNaN(total) || math.IsInf(total, 0)) {
			d.logger.Error("non-finite training loss",
				zap.Int("epoch", epoch), zap.Int("batch", i), zap.Float64("loss", total))
			return nil, ErrNumericalDivergence
		}

		d.optimizer.Step(grads)
		d.totalLossTrain += total
		d.batchCounter++
		lastGrads = grads
	}
	return lastGrads, nil
}

// reduce sums replica gradients over the shared parameter storage and
// folds replica loss sums into the aggregator with their true example
// counts, so means match a whole-batch evaluation.
func (d *Distributed) reduce(results []replicaResult, globalRows int) (map[*tensor.RawTensor]*tensor.RawTensor, float64, error) {
	backend := d.replicas[0].Backend().Inner()

	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	total := 0.0
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, res := range results {
		if res.err != nil {
			return nil, 0, res.err
		}
		if res.terms == nil {
			continue
		}
		total += res.terms.Total.Item()

		for _, p := range d.replicas[0].Parameters() {
			g, ok := res.grads[p.Raw()]
			if !ok {
				continue
			}
			if acc, ok := grads[p.Raw()]; ok {
				grads[p.Raw()] = backend.Add(acc, g)
			} else {
				grads[p.Raw()] = g
			}
		}

		for name, values := range res.terms.PerExample {
			key := splitMetricName(name, "train")
			for _, v := range values.Data() {
				sums[key] += v
			}
			counts[key] += values.Shape()[0]
		}
	}
	for name, sum := range sums {
		d.metrics.RecordSum(name, sum, counts[name])
	}
	return grads, total, nil
}

// evalEpoch evaluates on the primary replica only; evaluation carries no
// gradients, so there is nothing to shard.
func (d *Distributed) evalEpoch(seq *BatchSequence, split string, withErrors bool) {
	if seq == nil {
		return
	}
	primary := d.replicas[0]
	seq.StartEpoch()
	for i := 0; i < seq.NumBatches(); i++ {
		pair := seq.Batch(i, primary.Backend())
		terms, err := primary.Losses(pair, false, pair.Rows())
		if err != nil {
			d.logger.Warn("evaluation failed", zap.String("split", split), zap.Error(err))
			return
		}
		for name, values := range terms.PerExample {
			d.metrics.Record(splitMetricName(name, split), values)
		}
		if withErrors {
			for name, values := range terms.Errors {
				d.metrics.Record(name, values)
			}
		}
	}
}

func (d *Distributed) gradientNormSum(grads map[*tensor.RawTensor]*tensor.RawTensor) float64 {
	sum := 0.0
	for _, p := range d.replicas[0].Parameters() {
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

func (d *Distributed) checkpoint() error {
	if d.artifact == nil {
		return nil
	}
	return d.artifact.Checkpoint(d.replicas[0].Network(), d.metrics, d.hyperp, d.opts)
}

// shardRows returns replica r's share of a batch of n rows split across
// count replicas, contiguous with the remainder spread over the leading
// replicas.
func shardRows(n, count, r int) int {
	base := n / count
	if r < n%count {
		return base + 1
	}
	return base
}
