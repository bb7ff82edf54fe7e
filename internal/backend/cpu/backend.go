// Package cpu implements the pure-Go CPU backend.
package cpu

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// Backend implements tensor operations on CPU.
type Backend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *Backend {
	return &Backend{device: tensor.CPU}
}

// Name returns the backend name.
func (cpu *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *Backend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("add", a, b, func(x, y float64) float64 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("sub", a, b, func(x, y float64) float64 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("mul", a, b, func(x, y float64) float64 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binaryOp("div", a, b, func(x, y float64) float64 { return x / y })
}

// binaryOp applies fn element-wise, broadcasting b against a where needed.
func (cpu *Backend) binaryOp(name string, a, b *tensor.RawTensor, fn func(x, y float64) float64) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	out := result.Float64()
	if !needsBroadcast {
		aData, bData := a.Float64(), b.Float64()
		for i := range out {
			out[i] = fn(aData[i], bData[i])
		}
		return result
	}
	broadcastApply(result, a, b, fn)
	return result
}

// broadcastApply walks the output index space and maps each position back to
// the (possibly size-1) source dimensions.
func broadcastApply(out, a, b *tensor.RawTensor, fn func(x, y float64) float64) {
	outShape := out.Shape()
	outData := out.Float64()
	aData, bData := a.Float64(), b.Float64()
	aShape, bShape := a.Shape(), b.Shape()
	aStride, bStride := a.Strides(), b.Strides()

	idx := make([]int, len(outShape))
	for flat := range outData {
		aOff, bOff := 0, 0
		for d, i := range idx {
			// Align trailing dimensions
			if ad := d - (len(outShape) - len(aShape)); ad >= 0 {
				if aShape[ad] != 1 {
					aOff += i * aStride[ad]
				}
			}
			if bd := d - (len(outShape) - len(bShape)); bd >= 0 {
				if bShape[bd] != 1 {
					bOff += i * bStride[bd]
				}
			}
		}
		outData[flat] = fn(aData[aOff], bData[bOff])

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
}
