// Package guard protects main pipelines from structural mutation through
// interactive callers. Main pipelines are canonical, system-defined
// sequences; only the bootstrap workflow, which runs before any guarded
// API exists, may shape them.
package guard

import "github.com/mobilize-crm/pipeline-service/internal/core/domain"

// PipelineGuard is a pure authorization predicate. It is evaluated by the
// calling layer before a structural call reaches the registry or the
// engine; those components do not re-check it.
type PipelineGuard struct{}

// New creates a PipelineGuard.
func New() *PipelineGuard {
	return &PipelineGuard{}
}

// CanModify reports whether the pipeline's structure may be modified.
// False for every main pipeline, regardless of caller identity or role.
func (g *PipelineGuard) CanModify(p *domain.Pipeline) bool {
	return p != nil && !p.IsMainPipeline
}

// CanDelete reports whether the pipeline may be deleted. False for every
// main pipeline, regardless of caller identity or role.
func (g *PipelineGuard) CanDelete(p *domain.Pipeline) bool {
	return p != nil && !p.IsMainPipeline
}

// Check returns nil when the pipeline is modifiable, or the typed
// immutable-pipeline error for the calling layer to surface.
func (g *PipelineGuard) Check(p *domain.Pipeline) error {
	if g.CanModify(p) {
		return nil
	}
	name := ""
	if p != nil {
		name = p.Name
	}
	return domain.ErrImmutablePipeline(name)
}
