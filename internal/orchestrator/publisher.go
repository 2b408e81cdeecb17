package orchestrator

import (
	"context"
	"errors"

	"github.com/mpataki/flowwatch/internal/models"
)

// MultiPublisher sends every event to each publisher in turn. One failing
// publisher does not stop the others.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, ev models.ExecutionEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
