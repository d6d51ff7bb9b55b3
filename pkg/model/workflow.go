package model

import (
	"github.com/m-mizutani/goerr/v2"
)

// WorkflowDescriptor is an ordered composition of agents with declared
// output-to-input data dependencies. Outputs maps a producing step's
// name to the placeholder names it satisfies in later steps.
type WorkflowDescriptor struct {
	Name        string
	Description string
	Steps       []*AgentDescriptor
	Outputs     map[string][]string
	Keywords    []string
	Category    Category
}

// Validate checks structural integrity: every placeholder referenced by
// a step's arguments must be satisfied by an earlier step's Outputs entry.
func (w *WorkflowDescriptor) Validate() error {
	if w.Name == "" {
		return goerr.New("workflow name is empty")
	}
	if len(w.Steps) == 0 {
		return goerr.New("workflow has no steps", goerr.V("name", w.Name))
	}

	stepIdx := make(map[string]int, len(w.Steps))
	for i, step := range w.Steps {
		if step == nil {
			return goerr.New("workflow references unknown agent", goerr.V("workflow", w.Name), goerr.V("position", i))
		}
		if err := step.Validate(); err != nil {
			return goerr.Wrap(err, "invalid workflow step", goerr.V("workflow", w.Name))
		}
		if _, ok := stepIdx[step.Name]; ok {
			return goerr.New("duplicate step in workflow", goerr.V("workflow", w.Name), goerr.V("step", step.Name))
		}
		stepIdx[step.Name] = i
	}

	for producer := range w.Outputs {
		if _, ok := stepIdx[producer]; !ok {
			return goerr.New("output mapping references unknown step",
				goerr.V("workflow", w.Name), goerr.V("step", producer))
		}
	}

	// Placeholder name -> index of the earliest producing step
	producedAt := map[string]int{}
	for producer, names := range w.Outputs {
		idx := stepIdx[producer]
		for _, name := range names {
			if prev, ok := producedAt[name]; !ok || idx < prev {
				producedAt[name] = idx
			}
		}
	}

	for i, step := range w.Steps {
		for _, ph := range step.Placeholders() {
			src, ok := producedAt[ph]
			if !ok {
				return goerr.New("placeholder has no producer",
					goerr.V("workflow", w.Name), goerr.V("step", step.Name), goerr.V("placeholder", ph))
			}
			if src >= i {
				return goerr.New("placeholder produced by a later step",
					goerr.V("workflow", w.Name), goerr.V("step", step.Name), goerr.V("placeholder", ph))
			}
		}
	}

	return nil
}

// Dependencies returns, for the step at position i, the positions of
// earlier steps whose outputs satisfy one of its placeholders.
func (w *WorkflowDescriptor) Dependencies(i int) []int {
	stepIdx := make(map[string]int, len(w.Steps))
	for n, step := range w.Steps {
		stepIdx[step.Name] = n
	}

	wanted := map[string]bool{}
	for _, ph := range w.Steps[i].Placeholders() {
		wanted[ph] = true
	}

	var deps []int
	for producer, names := range w.Outputs {
		idx := stepIdx[producer]
		if idx >= i {
			continue
		}
		for _, name := range names {
			if wanted[name] {
				deps = append(deps, idx)
				break
			}
		}
	}
	return deps
}

// DescriptiveText returns the text used to embed this workflow for
// semantic ranking.
func (w *WorkflowDescriptor) DescriptiveText() string {
	text := w.Name + ": " + w.Description
	for _, kw := range w.Keywords {
		text += " " + kw
	}
	for _, step := range w.Steps {
		text += " " + step.Name
	}
	return text
}
