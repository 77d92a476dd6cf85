package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/propsignal/geo-audit/internal/model"
	"github.com/propsignal/geo-audit/internal/store"
)

// batchSurfaces is the fixed pair of runs every batch consists of.
var batchSurfaces = []model.Surface{model.SurfaceOpenAI, model.SurfaceClaude}

// BatchRunner creates and executes the openai and claude runs of a batch.
// The two runs are independent state machines and execute concurrently;
// queries inside each run stay sequential.
type BatchRunner struct {
	store store.Store
	orch  *Orchestrator
}

// NewBatchRunner builds a BatchRunner over the orchestrator.
func NewBatchRunner(st store.Store, orch *Orchestrator) *BatchRunner {
	return &BatchRunner{store: st, orch: orch}
}

// BatchResult reports what a batch execution produced.
type BatchResult struct {
	BatchID string                   `json:"batch_id"`
	RunIDs  map[model.Surface]string `json:"run_ids"`
}

// Create registers one queued run per surface under a fresh batch id
// without executing anything.
func (b *BatchRunner) Create(ctx context.Context, propertyID string) (*BatchResult, error) {
	batchID := uuid.NewString()
	result := &BatchResult{BatchID: batchID, RunIDs: make(map[model.Surface]string, len(batchSurfaces))}

	for _, surface := range batchSurfaces {
		run, err := b.store.CreateRun(ctx, propertyID, surface, batchID)
		if err != nil {
			return nil, eris.Wrapf(err, "create %s run", surface)
		}
		result.RunIDs[surface] = run.ID
	}
	return result, nil
}

// ExecuteBatch drives every non-terminal run of an existing batch to a
// terminal state. A single failed run does not abort the other; the first
// error is reported after both finish.
func (b *BatchRunner) ExecuteBatch(ctx context.Context, batchID string) error {
	runs, err := b.store.ListRuns(ctx, store.RunFilter{BatchID: batchID})
	if err != nil {
		return eris.Wrap(err, "list batch runs")
	}
	if len(runs) == 0 {
		return eris.Errorf("batch %s has no runs", batchID)
	}

	zap.L().Info("batch started",
		zap.String("batch_id", batchID),
		zap.Int("runs", len(runs)),
	)

	// Deliberately no shared cancellation: one failed run must not abort
	// its sibling.
	var g errgroup.Group
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		runID := run.ID
		g.Go(func() error {
			return b.orch.ExecuteRun(ctx, runID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("batch completed", zap.String("batch_id", batchID))
	return nil
}

// Execute creates a fresh batch for the property and drives both runs to a
// terminal state.
func (b *BatchRunner) Execute(ctx context.Context, propertyID string) (*BatchResult, error) {
	result, err := b.Create(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return result, b.ExecuteBatch(ctx, result.BatchID)
}
