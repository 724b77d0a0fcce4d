package reports

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, run *PipelineRun) error
	Get(ctx context.Context, id RunID) (*PipelineRun, error)
	Latest(ctx context.Context, limit int) ([]*PipelineRun, error)
}
