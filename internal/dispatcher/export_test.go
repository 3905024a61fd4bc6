package dispatcher

import (
	"context"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// WrapApply replaces the function applying events of kind with wrap(current).
// Call it before the dispatcher handles events.
func (d *Dispatcher) WrapApply(kind models.Kind, wrap func(next func(context.Context, models.Envelope) string) func(context.Context, models.Envelope) string) {
	d.apply[kind] = wrap(d.apply[kind])
}
