package tensor

import "fmt"

// Shape is a tensor's dimension list. Most shapes in this module are
// [batch, features] matrices; a zero-length shape is a scalar.
type Shape []int

// NumElements returns the element count described by the shape. A scalar
// counts as one element.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate rejects shapes with non-positive dimensions. Empty dimensions
// are never meaningful here: a batch with zero rows or features has no
// loss to evaluate.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("shape %v: dimension %d is %d, want positive", s, i, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes list the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// ComputeStrides returns the row-major strides of the shape: the step in
// the flat buffer that advances each dimension by one.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

// dim reads the i-th dimension counted from the right, treating missing
// leading dimensions as 1. This is how broadcasting aligns shapes of
// different rank.
func (s Shape) dim(i int) int {
	if i >= len(s) {
		return 1
	}
	return s[len(s)-1-i]
}

// BroadcastShapes resolves the output shape of an element-wise operation
// on a and b under the usual broadcasting rules: dimensions align from
// the right, and at each position they must be equal or one of them must
// be 1 (a size-1 dimension stretches to match its partner).
//
// The bool reports whether either operand actually needs stretching; when
// it is false both operands already have the output shape and their flat
// buffers align element for element.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	rank := max(len(a), len(b))
	out := make(Shape, rank)

	for i := 0; i < rank; i++ {
		ad, bd := a.dim(i), b.dim(i)
		switch {
		case ad == bd, bd == 1:
			out[rank-1-i] = ad
		case ad == 1:
			out[rank-1-i] = bd
		default:
			return nil, false, fmt.Errorf("cannot broadcast %v with %v: size %d vs %d at dimension %d from the right",
				a, b, ad, bd, i)
		}
	}

	return out, !out.Equal(a) || !out.Equal(b), nil
}
