package pipeline

import (
	"context"
	"errors"

	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/pkg/types"
)

// ErrNoPipeline indicates that no registered pipeline supports the input.
var ErrNoPipeline = errors.New("no pipeline supports this input")

// Result is what every pipeline hands back: the normalized record as saved
// plus the store's save outcome. When Saved.Deduped is true the caller must
// not enqueue processing work.
type Result struct {
	Record *types.ContentRecord
	Saved  *contentstore.SaveResult
}

// Pipeline is one ingestion strategy.
type Pipeline interface {
	// Name identifies the pipeline in logs and cost attribution.
	Name() string

	// Supports reports whether this pipeline can handle the input.
	Supports(in Input) bool

	// Process validates the input, produces a normalized content record, and
	// saves it through the content store before returning.
	Process(ctx context.Context, in Input) (*Result, error)
}

// Registry dispatches inputs to pipelines. Registration order matters: the
// first pipeline whose Supports returns true wins.
type Registry struct {
	pipelines []Pipeline
}

func NewRegistry(pipelines ...Pipeline) *Registry {
	return &Registry{pipelines: pipelines}
}

func (r *Registry) Register(p Pipeline) {
	r.pipelines = append(r.pipelines, p)
}

// ForInput returns the first registered pipeline that supports in.
func (r *Registry) ForInput(in Input) (Pipeline, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	for _, p := range r.pipelines {
		if p.Supports(in) {
			return p, nil
		}
	}
	return nil, ErrNoPipeline
}

// Process dispatches in to its pipeline and runs it.
func (r *Registry) Process(ctx context.Context, in Input) (*Result, error) {
	p, err := r.ForInput(in)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, in)
}
