package ops

import "github.com/HwanGoh/uq-vae/internal/tensor"

// unaryOp is the common state for single-input operations.
type unaryOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensor.
func (op *unaryOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the output tensor.
func (op *unaryOp) Output() *tensor.RawTensor { return op.output }

// MulScalarOp represents y = s * x. Backward: grad_x = s * g.
type MulScalarOp struct {
	unaryOp
	scalar float64
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(input, output *tensor.RawTensor, scalar float64) *MulScalarOp {
	return &MulScalarOp{unaryOp: unaryOp{input: input, output: output}, scalar: scalar}
}

// Backward computes grad_x = s * g.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// AddScalarOp represents y = x + s. Backward: grad_x = g.
type AddScalarOp struct {
	unaryOp
}

// NewAddScalarOp creates a new AddScalarOp.
func NewAddScalarOp(input, output *tensor.RawTensor) *AddScalarOp {
	return &AddScalarOp{unaryOp{input: input, output: output}}
}

// Backward passes the gradient through unchanged.
func (op *AddScalarOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// ExpOp represents y = exp(x). Backward: grad_x = g * y.
type ExpOp struct {
	unaryOp
}

// NewExpOp creates a new ExpOp.
func NewExpOp(input, output *tensor.RawTensor) *ExpOp {
	return &ExpOp{unaryOp{input: input, output: output}}
}

// Backward computes grad_x = g * exp(x), reusing the forward output.
func (op *ExpOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(outputGrad, op.output)}
}

// LogOp represents y = log(x). Backward: grad_x = g / x.
type LogOp struct {
	unaryOp
}

// NewLogOp creates a new LogOp.
func NewLogOp(input, output *tensor.RawTensor) *LogOp {
	return &LogOp{unaryOp{input: input, output: output}}
}

// Backward computes grad_x = g / x.
func (op *LogOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, op.input)}
}

// SqrtOp represents y = sqrt(x). Backward: grad_x = g / (2y).
type SqrtOp struct {
	unaryOp
}

// NewSqrtOp creates a new SqrtOp.
func NewSqrtOp(input, output *tensor.RawTensor) *SqrtOp {
	return &SqrtOp{unaryOp{input: input, output: output}}
}

// Backward computes grad_x = g / (2 * sqrt(x)).
func (op *SqrtOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Div(outputGrad, backend.MulScalar(op.output, 2))}
}

// ReLUOp represents y = max(0, x).
// Backward: grad_x = g where x > 0, else 0.
type ReLUOp struct {
	unaryOp
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{unaryOp{input: input, output: output}}
}

// Backward masks the gradient by the activation pattern.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := zerosLike(op.input, backend)
	src, g, dst := op.input.Float64(), outputGrad.Float64(), grad.Float64()
	for i, v := range src {
		if v > 0 {
			dst[i] = g[i]
		}
	}
	return []*tensor.RawTensor{grad}
}

// SigmoidOp represents y = σ(x). Backward: grad_x = g * y * (1-y).
type SigmoidOp struct {
	unaryOp
}

// NewSigmoidOp creates a new SigmoidOp.
func NewSigmoidOp(input, output *tensor.RawTensor) *SigmoidOp {
	return &SigmoidOp{unaryOp{input: input, output: output}}
}

// Backward computes grad_x = g * σ(x) * (1 - σ(x)).
func (op *SigmoidOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	oneMinus := backend.MulScalar(backend.AddScalar(op.output, -1), -1)
	return []*tensor.RawTensor{backend.Mul(outputGrad, backend.Mul(op.output, oneMinus))}
}

// TanhOp represents y = tanh(x). Backward: grad_x = g * (1 - y²).
type TanhOp struct {
	unaryOp
}

// NewTanhOp creates a new TanhOp.
func NewTanhOp(input, output *tensor.RawTensor) *TanhOp {
	return &TanhOp{unaryOp{input: input, output: output}}
}

// Backward computes grad_x = g * (1 - tanh²(x)).
func (op *TanhOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	sq := backend.Mul(op.output, op.output)
	oneMinus := backend.MulScalar(backend.AddScalar(sq, -1), -1)
	return []*tensor.RawTensor{backend.Mul(outputGrad, oneMinus)}
}
