package cache

import (
	"context"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// TemplateCache holds templates looked up during scheduling and dispatch.
// A miss is (nil, nil).
type TemplateCache interface {
	Get(ctx context.Context, id string) (*model.Template, error)
	Set(ctx context.Context, t *model.Template) error
	Delete(ctx context.Context, id string) error
}

// NoOpCache is used when Redis is not configured or unreachable.
type NoOpCache struct{}

func (NoOpCache) Get(ctx context.Context, id string) (*model.Template, error) { return nil, nil }
func (NoOpCache) Set(ctx context.Context, t *model.Template) error            { return nil }
func (NoOpCache) Delete(ctx context.Context, id string) error                 { return nil }
