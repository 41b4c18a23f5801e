package backfill

import (
	"context"

	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/github"
	"github.com/clintrovert/praxis/pkg/types"
)

// taskOrder is the fixed order in which history categories are synced for
// each repository. Filtering by target tasks never reorders it.
var taskOrder = []types.TaskType{
	types.TaskPull,
	types.TaskBranch,
	types.TaskCommit,
	types.TaskBuild,
	types.TaskDeployment,
}

// ProcessInput carries everything a processor needs for one bounded page.
type ProcessInput struct {
	Logger       *zap.Logger
	Client       *github.Client
	Subscription *types.Subscription
	JiraHost     string
	Repository   types.Repository
	Cursor       string
	PageSize     int
	Message      *types.BackfillMessage
}

// Processor fetches and transforms one page of one category. Errors it
// returns are classified by the engine into rate-limited, not-found, or
// unknown.
type Processor interface {
	Process(ctx context.Context, in ProcessInput) (*types.TaskResult, error)
}

// Catalog maps task types to their processors.
type Catalog struct {
	processors map[types.TaskType]Processor
}

// NewCatalog creates a catalog from an explicit processor set. Every task
// type the selector can emit must be present.
func NewCatalog(processors map[types.TaskType]Processor) *Catalog {
	return &Catalog{processors: processors}
}

// Processor looks up the processor for a task type.
func (c *Catalog) Processor(t types.TaskType) (Processor, bool) {
	p, ok := c.processors[t]
	return p, ok
}

// TargetTasks returns the fixed category order intersected with the filter,
// preserving the fixed order. An empty filter selects every category.
func TargetTasks(filter []types.TaskType) []types.TaskType {
	if len(filter) == 0 {
		out := make([]types.TaskType, len(taskOrder))
		copy(out, taskOrder)
		return out
	}
	wanted := make(map[types.TaskType]bool, len(filter))
	for _, t := range filter {
		wanted[t] = true
	}
	var out []types.TaskType
	for _, t := range taskOrder {
		if wanted[t] {
			out = append(out, t)
		}
	}
	return out
}
