package sched

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrainFunc runs one scenario to completion.
type TrainFunc func(scenario Scenario) error

type msgKind int

const (
	msgRegister msgKind = iota
	msgDone
)

// message is the worker-to-coordinator envelope. Assignments and exits
// travel the other way on the worker's private channel; closing that
// channel is the exit signal.
type message struct {
	kind   msgKind
	worker *Worker
	err    error
}

// Pool coordinates a fixed number of workers over a scenario list. Each
// worker holds at most one in-flight scenario; at most one worker is
// active per host, and redundant registrations from an already-claimed
// host are turned away immediately.
type Pool struct {
	scenarios  []Scenario
	numWorkers int
	inbox      chan message
	logger     *zap.Logger
}

// NewPool creates a coordinator expecting numWorkers registrations.
func NewPool(scenarios []Scenario, numWorkers int, logger *zap.Logger) (*Pool, error) {
	if numWorkers < 1 {
		return nil, fmt.Errorf("sched: need at least one worker, got %d", numWorkers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		scenarios:  scenarios,
		numWorkers: numWorkers,
		inbox:      make(chan message),
		logger:     logger,
	}, nil
}

// Worker binds a new worker to the pool. Call Run on it from its own
// goroutine.
func (p *Pool) Worker(host string, train TrainFunc) *Worker {
	return &Worker{
		id:     uuid.NewString(),
		host:   host,
		train:  train,
		inbox:  p.inbox,
		assign: make(chan Scenario),
	}
}

// Run blocks until every expected worker has registered, then hands out
// scenarios one at a time until the list is exhausted, and finally
// releases the workers. Scenario failures do not stop the remaining
// scenarios; all errors are returned joined.
func (p *Pool) Run() error {
	byHost := make(map[string]*Worker)
	var active, idle []*Worker

	for registered := 0; registered < p.numWorkers; registered++ {
		msg := <-p.inbox
		if msg.kind != msgRegister {
			return fmt.Errorf("sched: worker %s reported done before registration", msg.worker.id)
		}
		w := msg.worker
		if _, claimed := byHost[w.host]; claimed {
			p.logger.Info("redundant worker released",
				zap.String("worker", w.id), zap.String("host", w.host))
			close(w.assign)
			continue
		}
		byHost[w.host] = w
		active = append(active, w)
		idle = append(idle, w)
		p.logger.Info("worker registered",
			zap.String("worker", w.id), zap.String("host", w.host))
	}
	if len(active) == 0 {
		return fmt.Errorf("sched: no distinct hosts among %d workers", p.numWorkers)
	}

	var errs []error
	next, inFlight := 0, 0
	for next < len(p.scenarios) || inFlight > 0 {
		for len(idle) > 0 && next < len(p.scenarios) {
			w := idle[len(idle)-1]
			idle = idle[:len(idle)-1]
			p.logger.Info("scenario assigned",
				zap.Int("scenario", next), zap.String("worker", w.id))
			w.assign <- p.scenarios[next]
			next++
			inFlight++
		}
		if inFlight == 0 {
			break
		}

		msg := <-p.inbox
		if msg.kind != msgDone {
			errs = append(errs, fmt.Errorf("sched: unexpected registration from %s mid-run", msg.worker.id))
			continue
		}
		inFlight--
		idle = append(idle, msg.worker)
		if msg.err != nil {
			errs = append(errs, msg.err)
			p.logger.Warn("scenario failed", zap.String("worker", msg.worker.id), zap.Error(msg.err))
		}
	}

	for _, w := range active {
		close(w.assign)
	}
	return errors.Join(errs...)
}

// Worker executes assigned scenarios one at a time.
type Worker struct {
	id     string
	host   string
	train  TrainFunc
	inbox  chan message
	assign chan Scenario
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }

// Run registers with the coordinator, then blocks on assignment or exit.
// It returns when the coordinator closes the assignment channel.
func (w *Worker) Run() {
	w.inbox <- message{kind: msgRegister, worker: w}
	for scenario := range w.assign {
		err := w.train(scenario)
		w.inbox <- message{kind: msgDone, worker: w, err: err}
	}
}
