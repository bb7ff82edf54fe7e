// Package forward adapts the parameter-to-observable maps behind one
// uniform contract: Solve takes a parameter batch [N, latentDim] and
// returns predicted observations [N, obsDim], row i of the output aligned
// with row i of the input.
//
// Implementations: the literal affine FEM solve, an injected nonlinear
// solver, and the VAE decoder itself (model-aware mode).
package forward

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Model is the uniform forward-model contract. Solve must be deterministic
// given the parameters and preserve batch row order.
type Model interface {
	Solve(parameters *tensor.Tensor) *tensor.Tensor
}

// FEMLinear is the literal affine FEM solve. Per parameter row p the
// predicted state is (pᵀ·Mᵀ + fᵀ)·Fᵀ — the transpose of F·(M·p + f) for
// mass matrix M, load vector f and solution matrix F — optionally gathered
// at fixed observation indices. The whole map is differentiable, so the
// model-augmented loss can backpropagate through it.
type FEMLinear struct {
	massT      *tensor.Tensor // Mᵀ [latentDim, rhsDim]
	load       *tensor.Tensor // fᵀ [1, rhsDim]
	solT       *tensor.Tensor // Fᵀ [rhsDim, solDim]
	obsIndices []int          // nil means observe the full state
	latentDim  int
}

// NewFEMLinear assembles the solve from the dense FEM operators.
//
//   - mass: M [rhsDim, latentDim]
//   - load: f, length rhsDim
//   - solution: F [solDim, rhsDim]
//   - obsIndices: observation points into the solution, or nil for all
func NewFEMLinear(mass *mat.Dense, load []float64, solution *mat.Dense, obsIndices []int, backend tensor.Backend) (*FEMLinear, error) {
	rhsDim, latentDim := mass.Dims()
	solDim, fCols := solution.Dims()
	if fCols != rhsDim {
		return nil, fmt.Errorf("fem linear: solution columns %d do not match mass rows %d", fCols, rhsDim)
	}
	if len(load) != rhsDim {
		return nil, fmt.Errorf("fem linear: load length %d does not match mass rows %d", len(load), rhsDim)
	}
	for _, idx := range obsIndices {
		if idx < 0 || idx >= solDim {
			return nil, fmt.Errorf("fem linear: observation index %d out of range [0, %d)", idx, solDim)
		}
	}

	massT := tensor.Zeros(tensor.Shape{latentDim, rhsDim}, backend)
	for i := 0; i < rhsDim; i++ {
		for j := 0; j < latentDim; j++ {
			massT.Set(mass.At(i, j), j, i)
		}
	}
	loadT, err := tensor.FromSlice(append([]float64{}, load...), tensor.Shape{1, rhsDim}, backend)
	if err != nil {
		return nil, fmt.Errorf("fem linear: %w", err)
	}
	solT := tensor.Zeros(tensor.Shape{rhsDim, solDim}, backend)
	for i := 0; i < solDim; i++ {
		for j := 0; j < rhsDim; j++ {
			solT.Set(solution.At(i, j), j, i)
		}
	}

	return &FEMLinear{
		massT:      massT,
		load:       loadT,
		solT:       solT,
		obsIndices: append([]int{}, obsIndices...),
		latentDim:  latentDim,
	}, nil
}

// Solve computes the affine solve row by row, concatenating results in
// input order, then gathers the observation indices if configured.
func (f *FEMLinear) Solve(parameters *tensor.Tensor) *tensor.Tensor {
	shape := parameters.Shape()
	if len(shape) != 2 || shape[1] != f.latentDim {
		panic(fmt.Sprintf("fem linear: expected [batch, %d] parameters, got %v", f.latentDim, shape))
	}
	batch := shape[0]

	paramsT := parameters.T()
	rows := make([]*tensor.Tensor, batch)
	for i := 0; i < batch; i++ {
		p := paramsT.GatherCols([]int{i}).T() // row i, [1, latentDim]
		rows[i] = p.MatMul(f.massT).Add(f.load).MatMul(f.solT)
	}
	result := tensor.Cat(rows, 0)

	if len(f.obsIndices) > 0 {
		result = result.GatherCols(f.obsIndices)
	}
	return result
}

// SolverFunc is an external numerical solver mapping a parameter batch to
// predicted observations.
type SolverFunc func(parameters *tensor.Tensor) *tensor.Tensor

// Nonlinear delegates the solve to an injected solver, covering the
// exponential and polynomial discrete variants.
type Nonlinear struct {
	solve SolverFunc
}

// NewNonlinear wraps an external solver in the Model contract.
func NewNonlinear(solve SolverFunc) *Nonlinear {
	return &Nonlinear{solve: solve}
}

// Solve delegates to the injected solver.
func (n *Nonlinear) Solve(parameters *tensor.Tensor) *tensor.Tensor {
	return n.solve(parameters)
}

// Decoder is the sub-network contract consumed by DecoderModel.
type Decoder interface {
	Decode(z *tensor.Tensor) *tensor.Tensor
}

// DecoderModel uses the VAE decoder as the forward map (model-aware mode).
type DecoderModel struct {
	decoder Decoder
}

// NewDecoderModel wraps a decoder in the Model contract.
func NewDecoderModel(decoder Decoder) *DecoderModel {
	return &DecoderModel{decoder: decoder}
}

// Solve decodes the parameter batch.
func (d *DecoderModel) Solve(parameters *tensor.Tensor) *tensor.Tensor {
	return d.decoder.Decode(parameters)
}
