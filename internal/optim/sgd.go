package optim

import (
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule:
//
//	velocity = momentum * velocity + gradient
//	param    = param - lr * velocity
//
// With momentum 0 this reduces to plain gradient descent.
type SGD struct {
	params   []*nn.Parameter
	lr       float64
	momentum float64
	velocity map[*nn.Parameter][]float64
}

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float64 // learning rate (default 0.01)
	Momentum float64 // momentum factor (default 0)
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:   params,
		lr:       config.LR,
		momentum: config.Momentum,
		velocity: make(map[*nn.Parameter][]float64),
	}
}

// Step applies the SGD update to all parameters with gradients.
func (s *SGD) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		data := param.Tensor().Data()
		g := grad.Float64()

		if s.momentum == 0 {
			for i := range data {
				data[i] -= s.lr * g[i]
			}
			continue
		}

		vel, ok := s.velocity[param]
		if !ok {
			vel = make([]float64, len(data))
			s.velocity[param] = vel
		}
		for i := range data {
			vel[i] = s.momentum*vel[i] + g[i]
			data[i] -= s.lr * vel[i]
		}
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float64 {
	return s.lr
}
