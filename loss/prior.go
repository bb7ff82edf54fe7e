package loss

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// PriorTerms holds the prior-model quantities consumed by the KL
// functionals, precomputed once per run from the prior mean and covariance
// and immutable afterwards.
type PriorTerms struct {
	Dim        int
	Mean       *tensor.Tensor // [1, d]
	Cov        *tensor.Tensor // [d, d]
	CovInv     *tensor.Tensor // [d, d]
	CovInvDiag *tensor.Tensor // [1, d], diagonal of CovInv
	CholCov    *tensor.Tensor // [d, d], lower Cholesky factor of Cov
	// CholCovInvDiag is the diagonal of CholCov⁻¹ [1, d], the whitening
	// weights of the IAF prior-draw term.
	CholCovInvDiag *tensor.Tensor
	LogDetCov      float64
}

// NewPriorTerms factorizes the prior covariance and assembles the derived
// quantities. The covariance must be symmetric positive definite.
func NewPriorTerms(mean []float64, cov *mat.SymDense, backend tensor.Backend) (*PriorTerms, error) {
	d := cov.SymmetricDim()
	if len(mean) != d {
		return nil, fmt.Errorf("prior: mean dimension %d does not match covariance dimension %d", len(mean), d)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("prior: covariance is not positive definite")
	}

	var covInv mat.SymDense
	if err := chol.InverseTo(&covInv); err != nil {
		return nil, fmt.Errorf("prior: covariance inverse: %w", err)
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	meanT, err := tensor.FromSlice(append([]float64{}, mean...), tensor.Shape{1, d}, backend)
	if err != nil {
		return nil, fmt.Errorf("prior: %w", err)
	}

	covT := tensor.Zeros(tensor.Shape{d, d}, backend)
	covInvT := tensor.Zeros(tensor.Shape{d, d}, backend)
	covInvDiagT := tensor.Zeros(tensor.Shape{1, d}, backend)
	cholT := tensor.Zeros(tensor.Shape{d, d}, backend)
	cholInvDiagT := tensor.Zeros(tensor.Shape{1, d}, backend)
	for i := 0; i < d; i++ {
		covInvDiagT.Set(covInv.At(i, i), 0, i)
		cholInvDiagT.Set(1/lower.At(i, i), 0, i)
		for j := 0; j < d; j++ {
			covT.Set(cov.At(i, j), i, j)
			covInvT.Set(covInv.At(i, j), i, j)
			cholT.Set(lower.At(i, j), i, j)
		}
	}

	return &PriorTerms{
		Dim:            d,
		Mean:           meanT,
		Cov:            covT,
		CovInv:         covInvT,
		CovInvDiag:     covInvDiagT,
		CholCov:        cholT,
		CholCovInvDiag: cholInvDiagT,
		LogDetCov:      chol.LogDet(),
	}, nil
}

// WithBackend rebinds every prior tensor to the given backend, sharing
// storage. Used when replicating an objective onto a backend with its own
// tape.
func (p *PriorTerms) WithBackend(b tensor.Backend) *PriorTerms {
	return &PriorTerms{
		Dim:            p.Dim,
		Mean:           p.Mean.WithBackend(b),
		Cov:            p.Cov.WithBackend(b),
		CovInv:         p.CovInv.WithBackend(b),
		CovInvDiag:     p.CovInvDiag.WithBackend(b),
		CholCov:        p.CholCov.WithBackend(b),
		CholCovInvDiag: p.CholCovInvDiag.WithBackend(b),
		LogDetCov:      p.LogDetCov,
	}
}

// IsotropicPrior builds prior terms for N(mean·1, variance·I). Convenience
// constructor for synthetic problems and tests.
func IsotropicPrior(d int, mean, variance float64, backend tensor.Backend) (*PriorTerms, error) {
	if variance <= 0 {
		return nil, fmt.Errorf("prior: variance must be positive, got %g", variance)
	}
	meanVec := make([]float64, d)
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		meanVec[i] = mean
		cov.SetSym(i, i, variance)
	}
	return NewPriorTerms(meanVec, cov, backend)
}
