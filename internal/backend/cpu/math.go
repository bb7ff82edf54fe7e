package cpu

import (
	"fmt"
	"math"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// unaryOp applies fn element-wise into a fresh tensor.
func (cpu *Backend) unaryOp(name string, x *tensor.RawTensor, fn func(v float64) float64) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	src, dst := x.Float64(), result.Float64()
	for i, v := range src {
		dst[i] = fn(v)
	}
	return result
}

// MulScalar multiplies every element by a scalar.
func (cpu *Backend) MulScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unaryOp("mulscalar", x, func(v float64) float64 { return v * scalar })
}

// AddScalar adds a scalar to every element.
func (cpu *Backend) AddScalar(x *tensor.RawTensor, scalar float64) *tensor.RawTensor {
	return cpu.unaryOp("addscalar", x, func(v float64) float64 { return v + scalar })
}

// Exp computes the element-wise exponential.
func (cpu *Backend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("exp", x, math.Exp)
}

// Log computes the element-wise natural logarithm.
func (cpu *Backend) Log(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("log", x, math.Log)
}

// Sqrt computes the element-wise square root.
func (cpu *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sqrt", x, math.Sqrt)
}

// ReLU applies max(0, x) element-wise.
func (cpu *Backend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("relu", x, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Sigmoid applies σ(x) = 1 / (1 + exp(-x)) element-wise.
func (cpu *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sigmoid", x, func(v float64) float64 {
		return 1.0 / (1.0 + math.Exp(-v))
	})
}

// Tanh applies the hyperbolic tangent element-wise.
func (cpu *Backend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("tanh", x, math.Tanh)
}
