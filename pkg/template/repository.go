package template

import "context"

// Repository is the persistence surface for templates and instances.
// PutTemplate and PutInstance are upserts keyed by id; the factory owns all
// lifecycle validation before anything reaches the store.
type Repository interface {
	PutTemplate(ctx context.Context, tmpl Template) error
	GetTemplate(ctx context.Context, id string) (Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)

	PutInstance(ctx context.Context, inst Instance) error
	GetInstance(ctx context.Context, id string) (Instance, error)
}
