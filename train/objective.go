package train

import (
	"fmt"
	"math/rand"

	"github.com/HwanGoh/uq-vae/forward"
	"github.com/HwanGoh/uq-vae/internal/autodiff"
	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/tensor"
	"github.com/HwanGoh/uq-vae/loss"
	"github.com/HwanGoh/uq-vae/sample"
)

// PosteriorEstimate is the encoder's posterior parameterization for one
// input batch. LogVar is set for the diagonal and IAF families, LogStd
// and CovChol (flattened [batch, d·d]) for the full family.
type PosteriorEstimate struct {
	Mean    *tensor.Tensor
	LogVar  *tensor.Tensor
	LogStd  *tensor.Tensor
	CovChol *tensor.Tensor
}

// LossTerms is the result of one objective evaluation. Total is the scalar
// the optimizer differentiates; PerExample holds the named [batch, 1]
// components folded into running means; Errors holds the relative-error
// diagnostics.
type LossTerms struct {
	Total      *tensor.Tensor
	PerExample map[string]*tensor.Tensor
	Errors     map[string]*tensor.Tensor
}

// Objective evaluates the composite loss of one posterior family. Losses
// must run every tensor op on the objective's backend so a recording tape
// sees the whole graph.
//
// totalExamples is the denominator of the batch reduction. The single-
// device trainer passes the local batch size; the distributed trainer
// passes the global batch size so that summing replica totals yields the
// global mean.
type Objective interface {
	Losses(pair BatchPair, training bool, totalExamples int) (*LossTerms, error)

	// Posterior returns the encoder's posterior parameterization for an
	// input batch, for inspection and downstream inference.
	Posterior(input *tensor.Tensor) PosteriorEstimate

	// Network returns the trained module, the target of checkpoints.
	Network() nn.Module

	// Parameters returns every trainable parameter, including any not
	// reachable through Network.
	Parameters() []*nn.Parameter

	// Backend returns the recording backend the objective computes on.
	Backend() *autodiff.Backend

	// Replicate binds a copy of the objective to a fresh backend with its
	// own tape and noise stream. Parameters share storage with the
	// original, so one optimizer step is visible to every replica.
	Replicate(seed int64) (Objective, error)
}

// DiagonalModelAware trains the diagonal-Gaussian posterior jointly with a
// learned parameter-to-observable map: the decoder applied to a
// reparameterized draw plays the likelihood.
type DiagonalModelAware struct {
	backend       *autodiff.Backend
	vae           *nn.VAE
	noiseDiag     *tensor.Tensor // [1, inputDim]
	prior         *loss.PriorTerms
	penaltyWeight float64
	sign          float64
	rng           *rand.Rand
}

// NewDiagonalModelAware wires the objective. noiseDiag is the diagonal of
// the noise regularization matrix, penaltyWeight is (1−p)/p for the
// Jensen-Shannon penalty p, and invertSign flips the optimization
// direction.
func NewDiagonalModelAware(vae *nn.VAE, noiseDiag *tensor.Tensor, prior *loss.PriorTerms, penaltyWeight float64, invertSign bool, backend *autodiff.Backend, rng *rand.Rand) (*DiagonalModelAware, error) {
	if vae == nil || noiseDiag == nil || prior == nil {
		return nil, fmt.Errorf("diagonal objective: network, noise and prior are all required")
	}
	if got := noiseDiag.Shape()[1]; got != vae.DataDim() {
		return nil, fmt.Errorf("diagonal objective: noise diagonal has %d entries, network input has %d", got, vae.DataDim())
	}
	if prior.Dim != vae.LatentDim() {
		return nil, fmt.Errorf("diagonal objective: prior dimension %d does not match latent dimension %d", prior.Dim, vae.LatentDim())
	}
	return &DiagonalModelAware{
		backend:       backend,
		vae:           vae,
		noiseDiag:     noiseDiag,
		prior:         prior,
		penaltyWeight: penaltyWeight,
		sign:          lossSign(invertSign),
		rng:           rng,
	}, nil
}

func (o *DiagonalModelAware) Losses(pair BatchPair, training bool, totalExamples int) (*LossTerms, error) {
	mean, logVar := o.vae.Encode(pair.Input)
	eps := sample.Noise(pair.Rows(), o.vae.LatentDim(), o.rng, o.backend)
	draw := sample.Reparameterize(mean, logVar, eps)
	likelihood := o.vae.Decode(draw)

	vaeTerm := loss.DiagonalWeightedPenalizedDifference(pair.Input, likelihood, o.noiseDiag, 1)
	kldTerm := loss.KLD(mean, logVar, o.prior, 1)
	posteriorTerm := logVar.SumDim(1, true).MulScalar(o.penaltyWeight).
		Add(loss.DiagonalWeightedPenalizedDifference(
			pair.Latent, mean, logVar.MulScalar(-0.5).Exp(), o.penaltyWeight))

	perExample := vaeTerm.Add(kldTerm).Add(posteriorTerm)
	total := perExample.Sum().MulScalar(o.sign / float64(totalExamples))

	return &LossTerms{
		Total: total,
		PerExample: map[string]*tensor.Tensor{
			"loss":           perExample,
			"loss_vae":       vaeTerm,
			"loss_encoder":   kldTerm,
			"loss_posterior": posteriorTerm,
		},
		Errors: map[string]*tensor.Tensor{
			"relative_error_input_vae":        loss.RelativeError(pair.Input, likelihood),
			"relative_error_latent_posterior": loss.RelativeError(pair.Latent, mean),
			"relative_error_input_decoder":    loss.RelativeError(pair.Input, o.vae.Decode(pair.Latent)),
		},
	}, nil
}

func (o *DiagonalModelAware) Posterior(input *tensor.Tensor) PosteriorEstimate {
	mean, logVar := o.vae.Encode(input)
	return PosteriorEstimate{Mean: mean, LogVar: logVar}
}

func (o *DiagonalModelAware) Network() nn.Module { return o.vae }

func (o *DiagonalModelAware) Parameters() []*nn.Parameter { return o.vae.Parameters() }

func (o *DiagonalModelAware) Backend() *autodiff.Backend { return o.backend }

func (o *DiagonalModelAware) Replicate(seed int64) (Objective, error) {
	b := autodiff.New(cpu.New())
	replica, ok := o.vae.Replicate(b).(*nn.VAE)
	if !ok {
		return nil, fmt.Errorf("diagonal objective: replicate returned unexpected module type")
	}
	return &DiagonalModelAware{
		backend:       b,
		vae:           replica,
		noiseDiag:     o.noiseDiag.WithBackend(b),
		prior:         o.prior.WithBackend(b),
		penaltyWeight: o.penaltyWeight,
		sign:          o.sign,
		rng:           rand.New(rand.NewSource(seed)),
	}, nil
}

// FullLinearModelAugmented trains the full-covariance posterior against a
// known affine forward model: the solve enters the likelihood through the
// posterior mean, and the covariance factor through a trace term.
//
// Validation and test evaluations skip the likelihood term; the solve is
// only exercised where gradients are needed.
type FullLinearModelAugmented struct {
	backend       *autodiff.Backend
	vae           *nn.VAEFull
	model         forward.Model
	operators     *loss.Operators
	penaltyWeight float64
	sign          float64
}

// NewFullLinearModelAugmented wires the objective around the assembled
// loss operators and the forward solve.
func NewFullLinearModelAugmented(vae *nn.VAEFull, model forward.Model, operators *loss.Operators, penaltyWeight float64, invertSign bool, backend *autodiff.Backend) (*FullLinearModelAugmented, error) {
	if vae == nil || model == nil || operators == nil {
		return nil, fmt.Errorf("full-linear objective: network, forward model and operators are all required")
	}
	if got := operators.Likelihood.Shape()[0]; got != vae.LatentDim() {
		return nil, fmt.Errorf("full-linear objective: likelihood operator is %d×%d, latent dimension is %d", got, got, vae.LatentDim())
	}
	return &FullLinearModelAugmented{
		backend:       backend,
		vae:           vae,
		model:         model,
		operators:     operators,
		penaltyWeight: penaltyWeight,
		sign:          lossSign(invertSign),
	}, nil
}

func (o *FullLinearModelAugmented) Losses(pair BatchPair, training bool, totalExamples int) (*LossTerms, error) {
	mean, logStd, covChol := o.vae.Encode(pair.Input)

	kldTerm := loss.KLDFull(mean, logStd, covChol, o.operators.Prior, 1)
	posteriorTerm := logStd.SumDim(1, true).MulScalar(2*o.penaltyWeight).
		Add(loss.WeightedPostCovFullPenalizedDifference(pair.Latent, mean, covChol, o.penaltyWeight))

	perExample := kldTerm.Add(posteriorTerm)
	named := map[string]*tensor.Tensor{
		"loss_encoder":   kldTerm,
		"loss_posterior": posteriorTerm,
	}
	if training {
		vaeTerm := loss.TraceLikelihood(covChol, o.operators.Likelihood, 1).
			Add(loss.WeightedPenalizedDifference(
				pair.Input, o.model.Solve(mean), o.operators.NoiseMatrix, 1))
		perExample = perExample.Add(vaeTerm)
		named["loss_vae"] = vaeTerm
	}
	named["loss"] = perExample

	// Summed, not averaged: the affine solve keeps per-example magnitudes
	// commensurate across batch sizes.
	total := perExample.Sum().MulScalar(o.sign)

	return &LossTerms{
		Total:      total,
		PerExample: named,
		Errors: map[string]*tensor.Tensor{
			"relative_error_latent_posterior": loss.RelativeError(pair.Latent, mean),
		},
	}, nil
}

func (o *FullLinearModelAugmented) Posterior(input *tensor.Tensor) PosteriorEstimate {
	mean, logStd, covChol := o.vae.Encode(input)
	return PosteriorEstimate{Mean: mean, LogStd: logStd, CovChol: covChol}
}

func (o *FullLinearModelAugmented) Network() nn.Module { return o.vae }

func (o *FullLinearModelAugmented) Parameters() []*nn.Parameter { return o.vae.Parameters() }

func (o *FullLinearModelAugmented) Backend() *autodiff.Backend { return o.backend }

func (o *FullLinearModelAugmented) Replicate(seed int64) (Objective, error) {
	b := autodiff.New(cpu.New())
	replica, ok := o.vae.Replicate(b).(*nn.VAEFull)
	if !ok {
		return nil, fmt.Errorf("full-linear objective: replicate returned unexpected module type")
	}
	return &FullLinearModelAugmented{
		backend:       b,
		vae:           replica,
		model:         o.model,
		operators:     o.operators,
		penaltyWeight: o.penaltyWeight,
		sign:          o.sign,
	}, nil
}

// IAFModelAware trains a flow-transformed posterior jointly with a learned
// parameter-to-observable map. The flow is evaluated in sample mode for
// the likelihood, prior and posterior-draw terms, and in infer mode for
// the log-density term, each on an independent noise draw.
type IAFModelAware struct {
	backend   *autodiff.Backend
	vae       *nn.VAE
	posterior *sample.IAFPosterior
	noiseDiag *tensor.Tensor
	prior     *loss.PriorTerms
	sign      float64
	rng       *rand.Rand
}

// NewIAFModelAware wires the objective around the base network and flow
// chain.
func NewIAFModelAware(vae *nn.VAE, posterior *sample.IAFPosterior, noiseDiag *tensor.Tensor, prior *loss.PriorTerms, invertSign bool, backend *autodiff.Backend, rng *rand.Rand) (*IAFModelAware, error) {
	if vae == nil || posterior == nil || noiseDiag == nil || prior == nil {
		return nil, fmt.Errorf("iaf objective: network, flow, noise and prior are all required")
	}
	if posterior.Chain().LatentDim() != vae.LatentDim() {
		return nil, fmt.Errorf("iaf objective: flow dimension %d does not match latent dimension %d", posterior.Chain().LatentDim(), vae.LatentDim())
	}
	return &IAFModelAware{
		backend:   backend,
		vae:       vae,
		posterior: posterior,
		noiseDiag: noiseDiag,
		prior:     prior,
		sign:      lossSign(invertSign),
		rng:       rng,
	}, nil
}

func (o *IAFModelAware) Losses(pair BatchPair, training bool, totalExamples int) (*LossTerms, error) {
	rows := pair.Rows()
	d := o.vae.LatentDim()
	mean, logVar := o.vae.Encode(pair.Input)

	likelihoodDraw, _, err := o.posterior.Evaluate(mean, logVar, sample.Noise(rows, d, o.rng, o.backend), true, false)
	if err != nil {
		return nil, err
	}
	likelihood := o.vae.Decode(likelihoodDraw)

	posteriorDraw, _, err := o.posterior.Evaluate(mean, logVar, sample.Noise(rows, d, o.rng, o.backend), true, false)
	if err != nil {
		return nil, err
	}
	_, logDensity, err := o.posterior.Evaluate(mean, logVar, sample.Noise(rows, d, o.rng, o.backend), false, true)
	if err != nil {
		return nil, err
	}

	vaeTerm := loss.DiagonalWeightedPenalizedDifference(pair.Input, likelihood, o.noiseDiag, 1)
	priorTerm := loss.DiagonalWeightedPenalizedDifference(
		o.prior.Mean, posteriorDraw, o.prior.CholCovInvDiag, 1)
	postDrawTerm := loss.PenalizedDifference(pair.Latent, posteriorDraw, 1)

	perExample := vaeTerm.Add(logDensity).Add(priorTerm).Add(postDrawTerm)
	total := perExample.Sum().MulScalar(o.sign / float64(totalExamples))

	return &LossTerms{
		Total: total,
		PerExample: map[string]*tensor.Tensor{
			"loss":           perExample,
			"loss_vae":       vaeTerm,
			"loss_encoder":   logDensity,
			"loss_prior":     priorTerm,
			"loss_posterior": postDrawTerm,
		},
		Errors: map[string]*tensor.Tensor{
			"relative_error_input_vae":        loss.RelativeError(pair.Input, likelihood),
			"relative_error_latent_posterior": loss.RelativeError(pair.Latent, posteriorDraw),
		},
	}, nil
}

func (o *IAFModelAware) Posterior(input *tensor.Tensor) PosteriorEstimate {
	mean, logVar := o.vae.Encode(input)
	return PosteriorEstimate{Mean: mean, LogVar: logVar}
}

func (o *IAFModelAware) Network() nn.Module { return o.vae }

// Parameters returns the base network parameters followed by the flow
// chain's, trained together.
func (o *IAFModelAware) Parameters() []*nn.Parameter {
	params := o.vae.Parameters()
	return append(params[:len(params):len(params)], o.posterior.Chain().Parameters()...)
}

func (o *IAFModelAware) Backend() *autodiff.Backend { return o.backend }

func (o *IAFModelAware) Replicate(seed int64) (Objective, error) {
	b := autodiff.New(cpu.New())
	vaeReplica, ok := o.vae.Replicate(b).(*nn.VAE)
	if !ok {
		return nil, fmt.Errorf("iaf objective: replicate returned unexpected module type")
	}
	chainReplica, ok := o.posterior.Chain().Replicate(b).(*nn.IAFChain)
	if !ok {
		return nil, fmt.Errorf("iaf objective: replicate returned unexpected flow type")
	}
	return &IAFModelAware{
		backend:   b,
		vae:       vaeReplica,
		posterior: sample.NewIAFPosterior(chainReplica),
		noiseDiag: o.noiseDiag.WithBackend(b),
		prior:     o.prior.WithBackend(b),
		sign:      o.sign,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

func lossSign(invert bool) float64 {
	if invert {
		return -1
	}
	return 1
}
