package autodiff

import (
	"github.com/HwanGoh/uq-vae/internal/autodiff/ops"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode differentiation.
type GradientTape struct {
	operations []ops.Operation // recorded operations, in execution order
	recording  bool
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 64),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording reports whether the tape is currently recording.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record appends an operation to the tape. No-op while not recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Len returns the number of recorded operations.
func (t *GradientTape) Len() int {
	return len(t.operations)
}

// Clear removes all recorded operations. Recording state is preserved.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// Backward computes gradients for every tensor that the given output depends
// on by walking the tape in reverse.
//
// The walk seeds the output with outputGrad, applies each operation's
// backward rule in reverse execution order, and accumulates gradients when
// the same tensor feeds multiple operations. Returns a map from RawTensor to
// its accumulated gradient; tensors with no gradient flow are absent.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if len(t.operations) == 0 {
		return grads
	}

	// Gradient ops must not themselves end up on the tape.
	wasRecording := t.recording
	t.recording = false
	defer func() { t.recording = wasRecording }()

	grads[output] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		outGrad, ok := grads[op.Output()]
		if !ok {
			continue // no gradient flows through this operation
		}
		inputGrads := op.Backward(outGrad, backend)
		inputs := op.Inputs()
		for j, grad := range inputGrads {
			if grad == nil {
				continue
			}
			if existing, ok := grads[inputs[j]]; ok {
				grads[inputs[j]] = backend.Add(existing, grad)
			} else {
				grads[inputs[j]] = grad
			}
		}
	}

	return grads
}
