package tensor

// Add performs element-wise addition with broadcasting.
func (t *Tensor) Add(other *Tensor) *Tensor {
	return New(t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor) Sub(other *Tensor) *Tensor {
	return New(t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor) Mul(other *Tensor) *Tensor {
	return New(t.backend.Mul(t.raw, other.raw), t.backend)
}

// Div performs element-wise division with broadcasting.
func (t *Tensor) Div(other *Tensor) *Tensor {
	return New(t.backend.Div(t.raw, other.raw), t.backend)
}

// MatMul performs matrix multiplication: (M, K) @ (K, N) → (M, N).
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	return New(t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data but different shape.
// The new shape must have the same number of elements.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	return New(t.backend.Reshape(t.raw, Shape(newShape)), t.backend)
}

// T returns the 2-D transpose (swaps rows and columns).
// Panics if the tensor is not 2-D.
func (t *Tensor) T() *Tensor {
	if len(t.Shape()) != 2 {
		panic("T() only works for 2D tensors")
	}
	return New(t.backend.Transpose(t.raw), t.backend)
}

// MulScalar multiplies every element by a scalar.
func (t *Tensor) MulScalar(s float64) *Tensor {
	return New(t.backend.MulScalar(t.raw, s), t.backend)
}

// AddScalar adds a scalar to every element.
func (t *Tensor) AddScalar(s float64) *Tensor {
	return New(t.backend.AddScalar(t.raw, s), t.backend)
}

// Exp computes the element-wise exponential.
func (t *Tensor) Exp() *Tensor {
	return New(t.backend.Exp(t.raw), t.backend)
}

// Log computes the element-wise natural logarithm.
func (t *Tensor) Log() *Tensor {
	return New(t.backend.Log(t.raw), t.backend)
}

// Sqrt computes the element-wise square root.
func (t *Tensor) Sqrt() *Tensor {
	return New(t.backend.Sqrt(t.raw), t.backend)
}

// ReLU applies the rectified linear unit activation.
func (t *Tensor) ReLU() *Tensor {
	return New(t.backend.ReLU(t.raw), t.backend)
}

// Sigmoid applies the sigmoid activation.
func (t *Tensor) Sigmoid() *Tensor {
	return New(t.backend.Sigmoid(t.raw), t.backend)
}

// Tanh applies the hyperbolic tangent activation.
func (t *Tensor) Tanh() *Tensor {
	return New(t.backend.Tanh(t.raw), t.backend)
}

// Sum reduces the tensor to its total sum, shape [1].
func (t *Tensor) Sum() *Tensor {
	return New(t.backend.Sum(t.raw), t.backend)
}

// SumDim sums along a dimension.
func (t *Tensor) SumDim(dim int, keepDim bool) *Tensor {
	return New(t.backend.SumDim(t.raw, dim, keepDim), t.backend)
}

// GatherCols selects columns of a 2-D tensor in the given order.
func (t *Tensor) GatherCols(indices []int) *Tensor {
	return New(t.backend.GatherCols(t.raw, indices), t.backend)
}

// TraceQuad computes per-example tr(Lᵀ·M·L) where the receiver is a stacked
// Cholesky factor [batch, d*d] and m is a fixed d×d matrix; result [batch, 1].
func (t *Tensor) TraceQuad(m *Tensor) *Tensor {
	return New(t.backend.TraceQuad(t.raw, m.raw), t.backend)
}

// CholVecMul computes per-example L·v where the receiver is a stacked
// Cholesky factor [batch, d*d] and v is [batch, d]; result [batch, d].
func (t *Tensor) CholVecMul(v *Tensor) *Tensor {
	return New(t.backend.CholVecMul(t.raw, v.raw), t.backend)
}

// Cat concatenates tensors along dimension 0.
// All tensors must share a backend and trailing dimensions.
func Cat(tensors []*Tensor, dim int) *Tensor {
	raws := make([]*RawTensor, len(tensors))
	for i, t := range tensors {
		raws[i] = t.raw
	}
	b := tensors[0].backend
	return New(b.Cat(raws, dim), b)
}
