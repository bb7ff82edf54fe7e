package loss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Operators bundles the linear operators consumed by the loss functionals:
// the likelihood matrix standing in for I ⊗ likelihood in the trace term,
// the noise regularization weights for the data-misfit terms, and the prior
// terms standing in for I ⊗ prior_cov_inv in the full KL. Constructed once
// per run and treated as immutable.
type Operators struct {
	// Likelihood is (H·F)ᵀ·diag(noise)·(H·F), the propagation of the
	// posterior covariance through the measured linear forward map.
	// [latentDim, latentDim].
	Likelihood *tensor.Tensor
	// NoiseDiag is the per-observation noise regularization weights
	// [1, obsDim], used as diagonal weights in the misfit terms.
	NoiseDiag *tensor.Tensor
	// NoiseMatrix is diag(NoiseDiag) [obsDim, obsDim], used as the weight
	// matrix in the quadratic-form misfit of the linear-model case.
	NoiseMatrix *tensor.Tensor
	Prior       *PriorTerms
}

// NewOperators assembles the run's linear operators.
//
//   - forward: the forward (solution) matrix F [solDim, latentDim]
//   - measurement: the observation selector H [obsDim, solDim]
//   - noiseDiag: inverse noise variances, length obsDim
//   - prior: precomputed prior terms
func NewOperators(forward, measurement *mat.Dense, noiseDiag []float64, prior *PriorTerms, backend tensor.Backend) (*Operators, error) {
	solRows, latentDim := forward.Dims()
	obsDim, hCols := measurement.Dims()
	if hCols != solRows {
		return nil, fmt.Errorf("operators: measurement columns %d do not match forward rows %d", hCols, solRows)
	}
	if len(noiseDiag) != obsDim {
		return nil, fmt.Errorf("operators: noise diagonal length %d does not match observation dimension %d", len(noiseDiag), obsDim)
	}
	if prior.Dim != latentDim {
		return nil, fmt.Errorf("operators: prior dimension %d does not match latent dimension %d", prior.Dim, latentDim)
	}

	// HF, then (HF)ᵀ·diag(noise)·(HF).
	var hf mat.Dense
	hf.Mul(measurement, forward)

	weighted := mat.NewDense(obsDim, latentDim, nil)
	for i := 0; i < obsDim; i++ {
		for j := 0; j < latentDim; j++ {
			weighted.Set(i, j, noiseDiag[i]*hf.At(i, j))
		}
	}
	var likelihood mat.Dense
	likelihood.Mul(hf.T(), weighted)

	likelihoodT := tensor.Zeros(tensor.Shape{latentDim, latentDim}, backend)
	for i := 0; i < latentDim; i++ {
		for j := 0; j < latentDim; j++ {
			likelihoodT.Set(likelihood.At(i, j), i, j)
		}
	}

	noiseDiagT, err := tensor.FromSlice(append([]float64{}, noiseDiag...), tensor.Shape{1, obsDim}, backend)
	if err != nil {
		return nil, fmt.Errorf("operators: %w", err)
	}
	noiseMatrixT := tensor.Zeros(tensor.Shape{obsDim, obsDim}, backend)
	for i := 0; i < obsDim; i++ {
		noiseMatrixT.Set(noiseDiag[i], i, i)
	}

	return &Operators{
		Likelihood:  likelihoodT,
		NoiseDiag:   noiseDiagT,
		NoiseMatrix: noiseMatrixT,
		Prior:       prior,
	}, nil
}
