// Package loss implements the composite loss functionals of the training
// engine.
//
// Every functional is pure and batch-preserving: inputs are 2-D tensors
// [batch, dim] and the result is the per-example value [batch, 1], reduced
// by the caller. All functionals are differentiable end-to-end through the
// autodiff backend.
package loss

import (
	"math"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// relativeErrorFloor guards the relative-error denominator against
// near-zero target norms.
const relativeErrorFloor = 1e-12

// PenalizedDifference computes coeff·‖target − pred‖² per example.
func PenalizedDifference(target, pred *tensor.Tensor, coeff float64) *tensor.Tensor {
	diff := target.Sub(pred)
	return diff.Mul(diff).SumDim(1, true).MulScalar(coeff)
}

// DiagonalWeightedPenalizedDifference computes
// coeff·‖diag(weights)·(target − pred)‖² per example. The weight vector has
// shape [1, dim] or [batch, dim] and broadcasts over the batch.
func DiagonalWeightedPenalizedDifference(target, pred, diagWeights *tensor.Tensor, coeff float64) *tensor.Tensor {
	weighted := target.Sub(pred).Mul(diagWeights)
	return weighted.Mul(weighted).SumDim(1, true).MulScalar(coeff)
}

// WeightedPenalizedDifference computes the quadratic form
// coeff·(target − pred)ᵀ·W·(target − pred) per example for a fixed weight
// matrix W [dim, dim].
func WeightedPenalizedDifference(target, pred, weight *tensor.Tensor, coeff float64) *tensor.Tensor {
	diff := target.Sub(pred)
	return diff.MatMul(weight).Mul(diff).SumDim(1, true).MulScalar(coeff)
}

// TraceLikelihood computes coeff·tr(Lᵀ·M·L) per example for a stacked
// covariance Cholesky factor [batch, d*d] and the likelihood operator M
// [d, d]. This is the blockwise application of I ⊗ M to the stacked factor:
// it accounts for posterior-covariance propagation through a linear forward
// map.
func TraceLikelihood(covChol, likelihoodOp *tensor.Tensor, coeff float64) *tensor.Tensor {
	return covChol.TraceQuad(likelihoodOp).MulScalar(coeff)
}

// WeightedPostCovFullPenalizedDifference computes
// coeff·(‖target − mean‖² + tr(LᵀL)) per example: the mean quadratic form
// plus the covariance trace correction of E‖target − z‖² under
// z ~ N(mean, LLᵀ). Used when the posterior carries a full covariance.
func WeightedPostCovFullPenalizedDifference(target, mean, covChol *tensor.Tensor, coeff float64) *tensor.Tensor {
	meanTerm := PenalizedDifference(target, mean, 1)

	d := squareDim(covChol)
	eye := identity(d, target.Backend())
	traceTerm := covChol.TraceQuad(eye)

	return meanTerm.Add(traceTerm).MulScalar(coeff)
}

// KLD computes the closed-form KL divergence per example between the
// diagonal Gaussian posterior N(mean, diag(exp(logVar))) and the Gaussian
// prior, scaled by coeff:
//
//	½·( tr(Σp⁻¹·Σq) + (μ−μp)ᵀ·Σp⁻¹·(μ−μp) − d + log|Σp| − log|Σq| )
//
// When posterior and prior coincide the result is exactly zero.
func KLD(mean, logVar *tensor.Tensor, prior *PriorTerms, coeff float64) *tensor.Tensor {
	traceTerm := logVar.Exp().Mul(prior.CovInvDiag).SumDim(1, true)
	quadTerm := quadForm(mean, prior)
	logDetPost := logVar.SumDim(1, true)

	kl := traceTerm.Add(quadTerm).Sub(logDetPost).AddScalar(prior.LogDetCov - float64(prior.Dim))
	return kl.MulScalar(0.5 * coeff)
}

// KLDFull computes the closed-form KL divergence per example between the
// full-covariance Gaussian posterior N(mean, LLᵀ) and the Gaussian prior,
// scaled by coeff. logStd is the log of the factor diagonal, so
// log|Σq| = 2·Σ logStd; the trace term tr(Σp⁻¹·LLᵀ) is the blockwise
// application of I ⊗ Σp⁻¹ to the stacked factor.
func KLDFull(mean, logStd, covChol *tensor.Tensor, prior *PriorTerms, coeff float64) *tensor.Tensor {
	traceTerm := covChol.TraceQuad(prior.CovInv)
	quadTerm := quadForm(mean, prior)
	logDetPost := logStd.SumDim(1, true).MulScalar(2)

	kl := traceTerm.Add(quadTerm).Sub(logDetPost).AddScalar(prior.LogDetCov - float64(prior.Dim))
	return kl.MulScalar(0.5 * coeff)
}

// RelativeError computes ‖target − pred‖ / ‖target‖ per example, with the
// denominator floored to stay away from zero.
func RelativeError(target, pred *tensor.Tensor) *tensor.Tensor {
	diff := target.Sub(pred)
	num := diff.Mul(diff).SumDim(1, true).Sqrt()
	den := target.Mul(target).SumDim(1, true).Sqrt().AddScalar(relativeErrorFloor)
	return num.Div(den)
}

// quadForm computes (mean − μp)ᵀ·Σp⁻¹·(mean − μp) per example.
func quadForm(mean *tensor.Tensor, prior *PriorTerms) *tensor.Tensor {
	diff := mean.Sub(prior.Mean)
	return diff.MatMul(prior.CovInv).Mul(diff).SumDim(1, true)
}

// squareDim recovers d from a stacked factor [batch, d*d].
func squareDim(covChol *tensor.Tensor) int {
	return int(math.Round(math.Sqrt(float64(covChol.Shape()[1]))))
}

// identity builds a d×d identity tensor on the given backend.
func identity(d int, b tensor.Backend) *tensor.Tensor {
	eye := tensor.Zeros(tensor.Shape{d, d}, b)
	for i := 0; i < d; i++ {
		eye.Set(1, i, i)
	}
	return eye
}
