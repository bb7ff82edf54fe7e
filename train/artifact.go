package train

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/HwanGoh/uq-vae/config"
	"github.com/HwanGoh/uq-vae/internal/nn"
	"github.com/HwanGoh/uq-vae/metrics"
)

// Artifact is the on-disk record of one training run: network weights,
// accumulated metric history and the exact configuration that produced
// them, all under one run directory.
type Artifact struct {
	runID string
	dir   string
}

// NewArtifact creates the run directory under root, named by a fresh run
// identifier.
func NewArtifact(root string) (*Artifact, error) {
	runID := uuid.NewString()
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: creating run directory: %w", err)
	}
	return &Artifact{runID: runID, dir: dir}, nil
}

// RunID returns the run identifier.
func (a *Artifact) RunID() string { return a.runID }

// Dir returns the run directory.
func (a *Artifact) Dir() string { return a.dir }

// WeightsPath returns the weight file location inside the run directory.
func (a *Artifact) WeightsPath() string {
	return filepath.Join(a.dir, "weights.json")
}

// Checkpoint overwrites the run's weights, metric history and
// configuration dumps. Any failure is returned so the caller can abort:
// a run whose checkpoints cannot be written is not worth continuing.
func (a *Artifact) Checkpoint(m nn.Module, met *metrics.Metrics, hyperp *config.Hyperparameters, opts *config.Options) error {
	if err := nn.SaveWeights(a.WeightsPath(), m); err != nil {
		return fmt.Errorf("artifact: saving weights: %w", err)
	}
	if err := met.FlushToStorage(filepath.Join(a.dir, "metrics.csv")); err != nil {
		return fmt.Errorf("artifact: flushing metrics: %w", err)
	}
	if err := config.DumpYAML(filepath.Join(a.dir, "hyperp.yaml"), hyperp); err != nil {
		return fmt.Errorf("artifact: dumping hyperparameters: %w", err)
	}
	if err := config.DumpYAML(filepath.Join(a.dir, "options.yaml"), opts); err != nil {
		return fmt.Errorf("artifact: dumping options: %w", err)
	}
	return nil
}
