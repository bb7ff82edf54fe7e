package tensor

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu.Backend: pure Go reference implementation
//   - autodiff.Backend: decorator that wraps any Backend and records
//     operations on a gradient tape for reverse-mode differentiation
type Backend interface {
	// Element-wise binary operations (with broadcasting)
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Matrix operations
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor) *RawTensor

	// Scalar operations (element-wise with scalar)
	MulScalar(x *RawTensor, scalar float64) *RawTensor
	AddScalar(x *RawTensor, scalar float64) *RawTensor

	// Math operations (element-wise)
	Exp(x *RawTensor) *RawTensor
	Log(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor

	// Activation functions
	ReLU(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor

	// Reduction operations
	Sum(x *RawTensor) *RawTensor                           // total sum, result [1]
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor // sum along dimension

	// Manipulation operations
	Cat(tensors []*RawTensor, dim int) *RawTensor // concatenate along dimension 0

	// Indexing operations
	GatherCols(x *RawTensor, indices []int) *RawTensor // select columns of a 2-D tensor

	// Covariance operations. A stacked Cholesky factor is a [batch, d*d]
	// tensor whose rows are row-major d×d lower-triangular matrices.
	//
	// TraceQuad computes per-example tr(Lᵀ·M·L) for a stacked factor and a
	// fixed d×d matrix M; result is [batch, 1]. Applying a Kronecker operator
	// I ⊗ M to a stacked factor reduces to exactly this blockwise form.
	TraceQuad(chol, m *RawTensor) *RawTensor
	// CholVecMul computes per-example L·v for a stacked factor [batch, d*d]
	// and a batch of vectors [batch, d]; result is [batch, d].
	CholVecMul(chol, v *RawTensor) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
