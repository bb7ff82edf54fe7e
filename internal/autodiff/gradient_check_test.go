package autodiff_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/HwanGoh/uq-vae/internal/autodiff"
	"github.com/HwanGoh/uq-vae/internal/backend/cpu"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// checkGradients compares the autodiff gradient of a scalar-valued function
// against central finite differences at every element of every input.
//
// f receives tensors bound to an autodiff backend and must return a scalar.
func checkGradients(t *testing.T, name string, inputs []*tensor.Tensor, f func([]*tensor.Tensor) *tensor.Tensor, tol float64) {
	t.Helper()

	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	bound := make([]*tensor.Tensor, len(inputs))
	for i, in := range inputs {
		bound[i] = in.WithBackend(backend)
	}

	tape.Clear()
	tape.StartRecording()
	loss := f(bound)
	tape.StopRecording()

	grads := autodiff.Gradients(loss, backend)

	eps := 1e-6
	for i, in := range inputs {
		grad := grads[in.Raw()]
		if grad == nil {
			t.Errorf("%s: no gradient for input %d", name, i)
			continue
		}
		gradData := grad.Float64()
		data := in.Data()
		for j := range data {
			orig := data[j]

			data[j] = orig + eps
			plus := f(bound).Item()
			data[j] = orig - eps
			minus := f(bound).Item()
			data[j] = orig

			numerical := (plus - minus) / (2 * eps)
			if math.Abs(gradData[j]-numerical) > tol {
				t.Errorf("%s: input %d element %d: autodiff grad = %g, numerical grad = %g",
					name, i, j, gradData[j], numerical)
			}
		}
	}
}

func randomTensor(rng *rand.Rand, shape tensor.Shape, b tensor.Backend) *tensor.Tensor {
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	x, err := tensor.FromSlice(data, shape, b)
	if err != nil {
		panic(err)
	}
	return x
}

func TestGradientCheck_Arithmetic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := cpu.New()

	a := randomTensor(rng, tensor.Shape{3, 4}, b)
	c := randomTensor(rng, tensor.Shape{3, 4}, b)

	checkGradients(t, "add", []*tensor.Tensor{a, c}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Add(in[1]).Sum()
	}, 1e-6)

	checkGradients(t, "mul", []*tensor.Tensor{a, c}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Mul(in[1]).Sum()
	}, 1e-5)

	// Keep the divisor away from zero.
	div := randomTensor(rng, tensor.Shape{3, 4}, b)
	for i, v := range div.Data() {
		div.Data()[i] = v + 3.0
	}
	checkGradients(t, "div", []*tensor.Tensor{a, div}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Div(in[1]).Sum()
	}, 1e-5)
}

func TestGradientCheck_Broadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	b := cpu.New()

	a := randomTensor(rng, tensor.Shape{3, 4}, b)
	row := randomTensor(rng, tensor.Shape{1, 4}, b)

	checkGradients(t, "broadcast add", []*tensor.Tensor{a, row}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Add(in[1]).Sum()
	}, 1e-6)

	checkGradients(t, "broadcast mul", []*tensor.Tensor{a, row}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Mul(in[1]).Sum()
	}, 1e-5)
}

func TestGradientCheck_MatMul(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	b := cpu.New()

	a := randomTensor(rng, tensor.Shape{3, 5}, b)
	w := randomTensor(rng, tensor.Shape{5, 2}, b)

	checkGradients(t, "matmul", []*tensor.Tensor{a, w}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].MatMul(in[1]).Sum()
	}, 1e-4)
}

func TestGradientCheck_Unary(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	b := cpu.New()

	x := randomTensor(rng, tensor.Shape{2, 3}, b)

	checkGradients(t, "exp", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Exp().Sum()
	}, 1e-4)

	checkGradients(t, "sigmoid", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Sigmoid().Sum()
	}, 1e-5)

	checkGradients(t, "tanh", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Tanh().Sum()
	}, 1e-5)

	// Positive inputs for log and sqrt.
	pos := randomTensor(rng, tensor.Shape{2, 3}, b)
	for i, v := range pos.Data() {
		pos.Data()[i] = math.Abs(v) + 1.0
	}
	checkGradients(t, "log", []*tensor.Tensor{pos}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Log().Sum()
	}, 1e-5)
	checkGradients(t, "sqrt", []*tensor.Tensor{pos}, func(in []*tensor.Tensor) *tensor.Tensor {
		return in[0].Sqrt().Sum()
	}, 1e-5)
}

func TestGradientCheck_Reductions(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := cpu.New()

	x := randomTensor(rng, tensor.Shape{3, 4}, b)

	checkGradients(t, "sumdim0", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		// Weight the column sums so the gradient is not uniform.
		w, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{1, 4}, in[0].Backend())
		return in[0].SumDim(0, true).Mul(w).Sum()
	}, 1e-5)

	checkGradients(t, "sumdim1", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		w, _ := tensor.FromSlice([]float64{1, -2, 3}, tensor.Shape{3, 1}, in[0].Backend())
		return in[0].SumDim(1, true).Mul(w).Sum()
	}, 1e-5)
}

func TestGradientCheck_GatherCols(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	b := cpu.New()

	x := randomTensor(rng, tensor.Shape{2, 5}, b)

	// Index 3 appears twice; its gradient must accumulate.
	checkGradients(t, "gathercols", []*tensor.Tensor{x}, func(in []*tensor.Tensor) *tensor.Tensor {
		w, _ := tensor.FromSlice([]float64{1, 2, 3, 4}, tensor.Shape{1, 4}, in[0].Backend())
		return in[0].GatherCols([]int{0, 3, 3, 1}).Mul(w).Sum()
	}, 1e-5)
}

func TestGradientCheck_TraceQuad(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	b := cpu.New()

	d := 3
	batch := 2

	// Stacked lower-triangular factors with positive diagonals.
	cholData := make([]float64, batch*d*d)
	for n := 0; n < batch; n++ {
		for i := 0; i < d; i++ {
			for j := 0; j <= i; j++ {
				v := rng.NormFloat64()
				if i == j {
					v = math.Abs(v) + 0.5
				}
				cholData[n*d*d+i*d+j] = v
			}
		}
	}
	chol, _ := tensor.FromSlice(cholData, tensor.Shape{batch, d * d}, b)

	mData := make([]float64, d*d)
	for i := range mData {
		mData[i] = rng.NormFloat64()
	}
	m, _ := tensor.FromSlice(mData, tensor.Shape{d, d}, b)

	checkGradients(t, "tracequad", []*tensor.Tensor{chol}, func(in []*tensor.Tensor) *tensor.Tensor {
		mm := m.WithBackend(in[0].Backend())
		return in[0].TraceQuad(mm).Sum()
	}, 1e-4)
}

func TestGradientCheck_CholVecMul(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	b := cpu.New()

	d := 3
	batch := 2

	chol := randomTensor(rng, tensor.Shape{batch, d * d}, b)
	v := randomTensor(rng, tensor.Shape{batch, d}, b)

	checkGradients(t, "cholvecmul", []*tensor.Tensor{chol, v}, func(in []*tensor.Tensor) *tensor.Tensor {
		w, _ := tensor.FromSlice([]float64{1, 2, 3}, tensor.Shape{1, d}, in[0].Backend())
		return in[0].CholVecMul(in[1]).Mul(w).Sum()
	}, 1e-4)
}

func TestGradientCheck_Composite(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	b := cpu.New()

	x := randomTensor(rng, tensor.Shape{4, 3}, b)
	w := randomTensor(rng, tensor.Shape{3, 3}, b)

	// A miniature encoder pass: tanh(x·W) split into two heads.
	checkGradients(t, "composite", []*tensor.Tensor{x, w}, func(in []*tensor.Tensor) *tensor.Tensor {
		h := in[0].MatMul(in[1]).Tanh()
		mean := h.GatherCols([]int{0, 1})
		logvar := h.GatherCols([]int{2})
		return mean.Mul(mean).Sum().Add(logvar.Exp().Sum())
	}, 1e-4)
}

func TestTape_NoGradientWithoutRecording(t *testing.T) {
	backend := autodiff.New(cpu.New())

	x, _ := tensor.FromSlice([]float64{2}, tensor.Shape{1}, backend)
	y := x.Mul(x)

	grads := backend.Tape().Backward(y.Raw(), y.Raw(), backend.Inner())
	if len(grads) != 0 {
		t.Errorf("expected empty gradient map without recording, got %d entries", len(grads))
	}
}

func TestTape_ClearPreservesRecordingState(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	tape.StartRecording()
	x, _ := tensor.FromSlice([]float64{2}, tensor.Shape{1}, backend)
	x.Mul(x)
	if tape.Len() != 1 {
		t.Fatalf("expected 1 recorded op, got %d", tape.Len())
	}

	tape.Clear()
	if tape.Len() != 0 {
		t.Errorf("expected empty tape after Clear, got %d ops", tape.Len())
	}
	if !tape.IsRecording() {
		t.Errorf("Clear must preserve recording state")
	}
}

func TestGradientAccumulation_SharedInput(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()
	tape.StartRecording()

	x, _ := tensor.FromSlice([]float64{3}, tensor.Shape{1}, backend)
	y := x.Mul(x).Add(x) // y = x² + x, dy/dx = 2x + 1 = 7

	grads := autodiff.Gradients(y, backend)
	got := grads[x.Raw()].Float64()[0]
	if math.Abs(got-7.0) > 1e-12 {
		t.Errorf("dy/dx = %g, want 7", got)
	}
}
