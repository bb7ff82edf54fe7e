package ops

import (
	"fmt"

	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// reduceBroadcast reduces a gradient back to the shape of a broadcasted
// input by summing over the broadcast dimensions.
//
// If the gradient already matches targetShape it is returned unchanged.
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}

	result, err := tensor.NewRaw(targetShape, backend.Device())
	if err != nil {
		panic(fmt.Sprintf("reduceBroadcast: %v", err))
	}

	src, dst := grad.Float64(), result.Float64()
	offset := len(gradShape) - len(targetShape)

	idx := make([]int, len(gradShape))
	for flat := range src {
		// Map the gradient position onto the target, collapsing broadcast dims.
		tOff := 0
		tStride := 1
		for d := len(targetShape) - 1; d >= 0; d-- {
			gd := d + offset
			i := idx[gd]
			if targetShape[d] != 1 {
				tOff += i * tStride
			}
			tStride *= targetShape[d]
		}
		dst[tOff] += src[flat]

		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < gradShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return result
}

// zerosLike allocates a zero gradient with the same shape as t.
func zerosLike(t *tensor.RawTensor, backend tensor.Backend) *tensor.RawTensor {
	z, err := tensor.NewRaw(t.Shape(), backend.Device())
	if err != nil {
		panic(fmt.Sprintf("zerosLike: %v", err))
	}
	return z
}
