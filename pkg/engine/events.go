package engine

import (
	"context"

	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
)

type EventKind string

const (
	EventStepStarted  EventKind = "step_started"
	EventStepFinished EventKind = "step_finished"
)

// Event reports step progress to an optional caller-supplied channel.
type Event struct {
	Kind     EventKind
	RunID    model.RunID
	Workflow string
	Step     string
	Status   model.StepStatus
}

// emit never blocks step execution: when the caller's channel is full
// the event is dropped.
func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		logging.From(ctx).Debug("progress event dropped",
			"kind", ev.Kind, "step", ev.Step)
	}
}
