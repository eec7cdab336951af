// Package pipeline contains the generation pipeline core: the fixed stage
// list, the stage executor with its retry policy, the orchestrator state
// machine, and the worker pool that drives claimed jobs.
package pipeline

import (
	"context"

	"comicforge/internal/cache"
	"comicforge/internal/domain"
	"comicforge/internal/providers/imagen"
	"comicforge/internal/providers/reasoning"

	"github.com/rs/zerolog"
)

// Reasoner is the text-reasoning port.
type Reasoner interface {
	Generate(ctx context.Context, prompt string, cons reasoning.Constraints) (string, error)
}

// Renderer is the image-synthesis port.
type Renderer interface {
	Render(ctx context.Context, visualPrompt string, style imagen.StyleParams) (imagen.ImageHandle, error)
}

// PageStore persists rendered panel images and returns their storage keys.
type PageStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Deps bundles the external collaborators a stage may use. Stages declare
// which ports they require; Deps carries them all so the stage list stays a
// plain value.
type Deps struct {
	Reasoner Reasoner
	Renderer Renderer
	Content  domain.ContentRepository
	Cache    *cache.ResultCache
	Pages    PageStore
	Logger   zerolog.Logger
}
